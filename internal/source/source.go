// Package source は外部の読書記録ソースから取り込み候補を取得するアダプタの共通定義を提供する。
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ted-sama/trackr/internal/model"
)

// Adapter は1つの外部ソースから取り込み候補を取得する。
// ソース全体の失敗は *model.SourceError として返す。
type Adapter interface {
	Name() model.DataSource
	Fetch(ctx context.Context, identifier string) ([]model.RawCandidate, error)
}

// UserAgent は外部ソースへのリクエストに付与するUser-Agent。
const UserAgent = "Trackr/1.0 (+library import)"

// DefaultMaxBodySize はレスポンスボディの既定の最大サイズ（10MB）。
const DefaultMaxBodySize int64 = 10 << 20

// ErrBodyTooLarge はレスポンスボディが上限を超えた場合のエラー。
var ErrBodyTooLarge = errors.New("レスポンスボディが上限サイズを超えています")

// ReadLimited はrから最大maxBytesまで読み込む。上限を超えた場合はErrBodyTooLargeを返す。
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// ValidateUsername は公開ユーザー名として受け付け可能かを検証する。
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("ユーザー名が空です")
	}
	if len(username) > 64 {
		return errors.New("ユーザー名が長すぎます")
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return fmt.Errorf("ユーザー名に使用できない文字が含まれています: %q", r)
		}
	}
	return nil
}
