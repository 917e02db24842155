// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, source, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeParseFailed        = "PARSE_FAILED"
	ErrCodeWrongExportType    = "WRONG_EXPORT_TYPE"
	ErrCodeNoEntries          = "NO_ENTRIES"
	ErrCodeSourceUserNotFound = "SOURCE_USER_NOT_FOUND"
	ErrCodeListPrivate        = "LIST_PRIVATE"
	ErrCodeProviderError      = "PROVIDER_ERROR"
	ErrCodeBlobNotFound       = "BLOB_NOT_FOUND"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeSourceDisabled     = "SOURCE_DISABLED"
)

// SourceErrorKind はソースアダプタ単位の失敗の種類。
type SourceErrorKind string

const (
	SourceParseFailure    SourceErrorKind = "parse_failure"
	SourceWrongExportType SourceErrorKind = "wrong_export_type"
	SourceNoEntries       SourceErrorKind = "no_entries"
	SourceUserNotFound    SourceErrorKind = "user_not_found"
	SourceListPrivate     SourceErrorKind = "list_private"
	SourceProviderError   SourceErrorKind = "provider_error"
	SourceBlobNotFound    SourceErrorKind = "blob_not_found"
)

// SourceError はソース全体の取得に失敗したことを表す。
// このエラーが返った場合、候補は1件も処理されない。
type SourceError struct {
	Kind       SourceErrorKind
	Source     DataSource
	StatusCode int
	Err        error
}

// NewSourceError はSourceErrorを生成する。
func NewSourceError(source DataSource, kind SourceErrorKind, err error) *SourceError {
	return &SourceError{Kind: kind, Source: source, Err: err}
}

// NewProviderError は上流が想定外のステータスを返した場合のSourceErrorを生成する。
func NewProviderError(source DataSource, statusCode int) *SourceError {
	return &SourceError{
		Kind:       SourceProviderError,
		Source:     source,
		StatusCode: statusCode,
		Err:        fmt.Errorf("unexpected status code: %d", statusCode),
	}
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Kind)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// APIError はSourceErrorをクライアント向けのエラーとHTTPステータスに変換する。
func (e *SourceError) APIError() (int, *APIError) {
	switch e.Kind {
	case SourceParseFailure:
		return http.StatusBadRequest, &APIError{
			Code:     ErrCodeParseFailed,
			Message:  "取り込みデータの解析に失敗しました。",
			Category: "source",
			Action:   "エクスポートしたファイルが破損していないか確認してください。",
		}
	case SourceWrongExportType:
		return http.StatusUnprocessableEntity, &APIError{
			Code:     ErrCodeWrongExportType,
			Message:  "マンガリストのエクスポートではありません。",
			Category: "source",
			Action:   "MyAnimeListでマンガリストをエクスポートし直してください。",
		}
	case SourceNoEntries:
		return http.StatusUnprocessableEntity, &APIError{
			Code:     ErrCodeNoEntries,
			Message:  "取り込み対象のエントリがありません。",
			Category: "source",
			Action:   "リストに作品が登録されているか確認してください。",
		}
	case SourceUserNotFound:
		return http.StatusNotFound, &APIError{
			Code:     ErrCodeSourceUserNotFound,
			Message:  fmt.Sprintf("%s のユーザーが見つかりません。", e.Source),
			Category: "source",
			Action:   "ユーザー名を確認してください。",
		}
	case SourceListPrivate:
		return http.StatusForbidden, &APIError{
			Code:     ErrCodeListPrivate,
			Message:  "リストが非公開に設定されています。",
			Category: "source",
			Action:   "リストを公開に設定してから再度お試しください。",
		}
	case SourceBlobNotFound:
		return http.StatusBadGateway, &APIError{
			Code:     ErrCodeBlobNotFound,
			Message:  "プロフィールページからコレクションデータを取得できませんでした。",
			Category: "source",
			Action:   "しばらく待ってから再度お試しください。",
		}
	default:
		return http.StatusBadGateway, &APIError{
			Code:     ErrCodeProviderError,
			Message:  fmt.Sprintf("%s からの取得に失敗しました（ステータス %d）。", e.Source, e.StatusCode),
			Category: "source",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnauthorizedError はユーザーを識別できない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ユーザーを識別できません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSourceDisabledError は設定により無効化された取り込み元が指定された場合のエラーを生成する。
func NewSourceDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeSourceDisabled,
		Message:  "この取り込み元は現在利用できません。",
		Category: "source",
		Action:   "別の取り込み方法をお試しください。",
	}
}

// NewPayloadTooLargeError はアップロードが上限サイズを超えた場合のエラーを生成する。
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  fmt.Sprintf("ファイルが大きすぎます（上限 %d MiB）。", limit>>20),
		Category: "validation",
		Action:   "ファイルサイズを確認してください。",
	}
}
