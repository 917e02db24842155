// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ted-sama/trackr/internal/middleware"
	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/source"
)

// DefaultMaxUploadSize はMALエクスポートとして受け付ける最大サイズ（10MiB）。
const DefaultMaxUploadSize int64 = 10 << 20

// ImportService はインポートハンドラーが必要とするサービスインターフェース。
type ImportService interface {
	Fetch(ctx context.Context, userID string, adapter source.Adapter, identifier string) (*model.FetchResult, error)
	Confirm(ctx context.Context, userID string, entries []model.PendingImportEntry) model.ConfirmResult
}

// ImportSources は取り込み元ごとのソースアダプタ。
type ImportSources struct {
	MALExport   source.Adapter
	MALAPI      source.Adapter
	Mangacollec source.Adapter
}

// ImportHandler は取り込みフェッチと確定のHTTPハンドラー。
type ImportHandler struct {
	service       ImportService
	sources       ImportSources
	validate      *validator.Validate
	logger        *slog.Logger
	maxUploadSize int64
}

// NewImportHandler はImportHandlerを生成する。maxUploadSizeが0以下の場合は既定値を使う。
func NewImportHandler(service ImportService, sources ImportSources, logger *slog.Logger, maxUploadSize int64) *ImportHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &ImportHandler{
		service:       service,
		sources:       sources,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        logger,
		maxUploadSize: maxUploadSize,
	}
}

// confirmRequest は取り込み確定リクエストのボディ。
// 各エントリの検証はサービス側でエントリ単位に行う。
type confirmRequest struct {
	Entries []model.PendingImportEntry `json:"entries" validate:"required,min=1,max=5000"`
}

// usernameRule は経路パラメータの事前検証。文字種の検証は各アダプタが行う。
const usernameRule = "required,max=64"

var gzipMagic = []byte{0x1f, 0x8b}

// ImportMALExport はアップロードされたMALのXMLエクスポートから取り込み候補を作る。
// gzip圧縮されたエクスポート（.xml.gz）もそのまま受け付ける。
// POST /api/imports/mal/export
func (h *ImportHandler) ImportMALExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewPayloadTooLargeError(h.maxUploadSize))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ファイルを読み込めません"))
		return
	}

	if bytes.HasPrefix(body, gzipMagic) {
		body, err = gunzip(body, h.maxUploadSize)
		if errors.Is(err, source.ErrBodyTooLarge) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewPayloadTooLargeError(h.maxUploadSize))
			return
		}
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("gzipを展開できません"))
			return
		}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ファイルが空です"))
		return
	}

	h.fetch(w, r, userID, h.sources.MALExport, string(body))
}

// ImportMALUser はMyAnimeList APIから公開マンガリストを取り込む。
// POST /api/imports/mal/users/{username}
func (h *ImportHandler) ImportMALUser(w http.ResponseWriter, r *http.Request) {
	h.importByUsername(w, r, h.sources.MALAPI)
}

// ImportMangacollecUser はMangacollecの公開コレクションを取り込む。
// POST /api/imports/mangacollec/users/{username}
func (h *ImportHandler) ImportMangacollecUser(w http.ResponseWriter, r *http.Request) {
	h.importByUsername(w, r, h.sources.Mangacollec)
}

func (h *ImportHandler) importByUsername(w http.ResponseWriter, r *http.Request, adapter source.Adapter) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	username := chi.URLParam(r, "username")
	if err := h.validate.Var(username, usernameRule); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ユーザー名の形式が正しくありません"))
		return
	}

	h.fetch(w, r, userID, adapter, username)
}

func (h *ImportHandler) fetch(w http.ResponseWriter, r *http.Request, userID string, adapter source.Adapter, identifier string) {
	if adapter == nil {
		middleware.WriteSourceDisabled(w)
		return
	}

	result, err := h.service.Fetch(r.Context(), userID, adapter, identifier)
	if err != nil {
		h.handleFetchError(w, r, adapter, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ImportHandler) handleFetchError(w http.ResponseWriter, r *http.Request, adapter source.Adapter, err error) {
	var srcErr *model.SourceError
	if errors.As(err, &srcErr) {
		h.logger.Warn("取り込み元の取得に失敗しました",
			slog.String("source", string(adapter.Name())),
			slog.String("kind", string(srcErr.Kind)),
			slog.String("error", err.Error()),
		)
		middleware.WriteSourceError(w, srcErr)
		return
	}

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// クライアントが切断済みのため応答は届かない
		return
	}

	h.logger.Error("取り込みに失敗しました",
		slog.String("source", string(adapter.Name())),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// Confirm は選択された保留エントリから読書記録を作成する。
// POST /api/imports/confirm
func (h *ImportHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadSize)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("entries は1件以上5000件以下で指定してください"))
		return
	}

	writeJSON(w, http.StatusOK, h.service.Confirm(r.Context(), userID, req.Entries))
}

func (h *ImportHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// gunzip はgzipを展開する。展開後のサイズもlimitで制限する。
func gunzip(data []byte, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return source.ReadLimited(zr, limit)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
