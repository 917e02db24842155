package source

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ResponseClass はHTTPステータスコードに基づく応答の分類。
type ResponseClass int

const (
	// ResponseOK は成功（2xx）。
	ResponseOK ResponseClass = iota
	// ResponseNotFound は対象が存在しない（404/410）。
	ResponseNotFound
	// ResponseDenied はアクセスが拒否された（401/403）。
	ResponseDenied
	// ResponseTransient は時間をおけば成功し得る（429/5xx）。
	ResponseTransient
	// ResponseFailed はその他の失敗。
	ResponseFailed
)

const (
	// initialRetryDelay は再試行の初回遅延。
	initialRetryDelay = 500 * time.Millisecond
	// MaxRetryDelay は再試行遅延の上限。Retry-Afterもこの値で切り詰める。
	MaxRetryDelay = 10 * time.Second
)

// ClassifyHTTPStatus はHTTPステータスコードを応答の分類に変換する。
func ClassifyHTTPStatus(statusCode int) ResponseClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ResponseOK
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return ResponseNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ResponseDenied
	case statusCode == http.StatusTooManyRequests:
		return ResponseTransient
	case statusCode >= 500:
		return ResponseTransient
	default:
		return ResponseFailed
	}
}

// RetryDelay は再試行回数（0始まり）に基づいて指数バックオフ遅延を計算する。
// Retry-Afterヘッダ（秒数）があればそちらを優先する。いずれもMaxRetryDelayが上限。
func RetryDelay(attempt int, header http.Header) time.Duration {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if d > MaxRetryDelay {
				return MaxRetryDelay
			}
			return d
		}
	}

	delay := initialRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	return delay
}

// Sleep はdだけ待機する。待機中にctxが終了した場合はctx.Err()を返す。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
