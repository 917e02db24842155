// Package ratelimit は外部APIへの呼び出し間隔を制御するリミッターを提供する。
// MyAnimeList APIアダプタとAI解決処理はそれぞれ独立したインスタンスを持つ。
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter は次の呼び出しが許可されるまで待機するインターフェース。
type Limiter interface {
	Wait(ctx context.Context) error
}

// Spacer は呼び出しの間に最小間隔を空けるLimiter実装。
type Spacer struct {
	limiter *rate.Limiter
}

var _ Limiter = (*Spacer)(nil)

// NewSpacer は呼び出しの最小間隔をintervalとするSpacerを生成する。
// intervalが0以下の場合は間隔を空けない。
func NewSpacer(interval time.Duration) *Spacer {
	if interval <= 0 {
		return &Spacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Spacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait は前回の呼び出しから最小間隔が経過するまで待機する。
// コンテキストがキャンセルされた場合はエラーを返す。
func (s *Spacer) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

type unlimited struct{}

func (unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

// Unlimited は待機しないLimiterを返す。テストで使用する。
func Unlimited() Limiter {
	return unlimited{}
}
