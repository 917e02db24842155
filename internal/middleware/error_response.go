package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ted-sama/trackr/internal/model"
)

// sourceRetryAfterSeconds は取り込み元がレート制限で応答した場合に案内する待機秒数。
const sourceRetryAfterSeconds = 60

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 取り込み元に起因するエラーではSourceに取り込み元の名前が入る。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Source   string `json:"source,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, newErrorBody(apiErr))
}

// WriteSourceError は取り込み元単位の失敗を、種類に応じたHTTPステータスで書き込む。
// 取り込み元が429を返していた場合はRetry-Afterを付ける。
func WriteSourceError(w http.ResponseWriter, srcErr *model.SourceError) {
	status, apiErr := srcErr.APIError()
	if srcErr.Kind == model.SourceProviderError && srcErr.StatusCode == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(sourceRetryAfterSeconds))
	}
	body := newErrorBody(apiErr)
	body.Source = string(srcErr.Source)
	writeErrorBody(w, status, body)
}

// WriteSourceDisabled は無効化された取り込み元へのリクエストに501を返す。
func WriteSourceDisabled(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusNotImplemented, model.NewSourceDisabledError())
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

func newErrorBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

func writeErrorBody(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
