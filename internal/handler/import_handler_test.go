package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ted-sama/trackr/internal/middleware"
	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/source"
)

const exportXML = `<?xml version="1.0"?><myanimelist><myinfo><user_export_type>2</user_export_type></myinfo></myanimelist>`

func newTestRouter(svc ImportService, opts ...func(*RouterDeps)) http.Handler {
	deps := &RouterDeps{
		Logger:            discardLogger(),
		HealthChecker:     &mockHealthChecker{},
		CORSAllowedOrigin: "http://localhost:3000",
		ImportService:     svc,
		Sources:           testSources(),
	}
	for _, opt := range opts {
		opt(deps)
	}
	return NewRouter(deps)
}

func doRequest(h http.Handler, method, path string, body []byte, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスの解析に失敗: %v", err)
	}
	return body
}

func TestImportMALExport_PassesDocumentToService(t *testing.T) {
	svc := &mockImportService{}
	w := doRequest(newTestRouter(svc), http.MethodPost, "/api/imports/mal/export", []byte(exportXML), "user-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if svc.lastAdapter != malExportAdapter {
		t.Error("MALエクスポート用のアダプタが使われるべき")
	}
	if svc.lastIdentifier != exportXML || svc.lastUserID != "user-1" {
		t.Errorf("identifier/userID = %q/%q", svc.lastIdentifier, svc.lastUserID)
	}

	var result model.FetchResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if result.Source != model.DataSourceMAL || result.PendingEntries == nil {
		t.Errorf("FetchResult = %+v", result)
	}
}

func TestImportMALExport_AcceptsGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(exportXML))
	zw.Close()

	svc := &mockImportService{}
	w := doRequest(newTestRouter(svc), http.MethodPost, "/api/imports/mal/export", buf.Bytes(), "user-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if svc.lastIdentifier != exportXML {
		t.Errorf("gzipは展開して渡されるべき, got %q", svc.lastIdentifier)
	}
}

func TestImportMALExport_TooLarge(t *testing.T) {
	svc := &mockImportService{}
	router := newTestRouter(svc, func(d *RouterDeps) { d.MaxUploadSize = 64 })

	w := doRequest(router, http.MethodPost, "/api/imports/mal/export", []byte(strings.Repeat("x", 65)), "user-1")

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodePayloadTooLarge {
		t.Errorf("code = %q", body.Code)
	}
	if svc.lastAdapter != nil {
		t.Error("上限超過時にサービスを呼ばないべき")
	}
}

func TestImportMALExport_GzipBombIsRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(bytes.Repeat([]byte("a"), 4096))
	zw.Close()

	router := newTestRouter(&mockImportService{}, func(d *RouterDeps) { d.MaxUploadSize = 1024 })
	w := doRequest(router, http.MethodPost, "/api/imports/mal/export", buf.Bytes(), "user-1")

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("展開後のサイズも制限されるべき, status = %d", w.Code)
	}
}

func TestImportMALExport_EmptyBody(t *testing.T) {
	w := doRequest(newTestRouter(&mockImportService{}), http.MethodPost, "/api/imports/mal/export", []byte("  \n"), "user-1")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q", body.Code)
	}
}

func TestImport_SourceErrorMapping(t *testing.T) {
	tests := []struct {
		kind       model.SourceErrorKind
		wantStatus int
		wantCode   string
	}{
		{model.SourceParseFailure, http.StatusBadRequest, model.ErrCodeParseFailed},
		{model.SourceWrongExportType, http.StatusUnprocessableEntity, model.ErrCodeWrongExportType},
		{model.SourceNoEntries, http.StatusUnprocessableEntity, model.ErrCodeNoEntries},
		{model.SourceUserNotFound, http.StatusNotFound, model.ErrCodeSourceUserNotFound},
		{model.SourceListPrivate, http.StatusForbidden, model.ErrCodeListPrivate},
		{model.SourceProviderError, http.StatusBadGateway, model.ErrCodeProviderError},
		{model.SourceBlobNotFound, http.StatusBadGateway, model.ErrCodeBlobNotFound},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &mockImportService{
				fetchFn: func(_ context.Context, _ string, a source.Adapter, _ string) (*model.FetchResult, error) {
					return nil, model.NewSourceError(a.Name(), tt.kind, errors.New("upstream"))
				},
			}
			w := doRequest(newTestRouter(svc), http.MethodPost, "/api/imports/mal/users/alice", nil, "user-1")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w)
			if body.Code != tt.wantCode || body.Category != "source" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestImport_UnexpectedErrorIs500(t *testing.T) {
	svc := &mockImportService{
		fetchFn: func(context.Context, string, source.Adapter, string) (*model.FetchResult, error) {
			return nil, errors.New("catalog unavailable")
		},
	}
	w := doRequest(newTestRouter(svc), http.MethodPost, "/api/imports/mangacollec/users/bob", nil, "user-1")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeError(t, w); body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestImportByUsername_SelectsAdapter(t *testing.T) {
	tests := []struct {
		path        string
		wantAdapter source.Adapter
		wantName    string
	}{
		{"/api/imports/mal/users/alice", malAPIAdapter, "alice"},
		{"/api/imports/mangacollec/users/bob_42", mangacollecAdapter, "bob_42"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			svc := &mockImportService{}
			w := doRequest(newTestRouter(svc), http.MethodPost, tt.path, nil, "user-1")

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if svc.lastAdapter != tt.wantAdapter {
				t.Error("経路に対応するアダプタが使われるべき")
			}
			if svc.lastIdentifier != tt.wantName {
				t.Errorf("identifier = %q, want %q", svc.lastIdentifier, tt.wantName)
			}
		})
	}
}

func TestImportByUsername_TooLong(t *testing.T) {
	svc := &mockImportService{}
	w := doRequest(newTestRouter(svc), http.MethodPost, "/api/imports/mal/users/"+strings.Repeat("a", 65), nil, "user-1")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if svc.lastAdapter != nil {
		t.Error("不正なユーザー名でサービスを呼ばないべき")
	}
}

func TestImport_DisabledSource(t *testing.T) {
	router := newTestRouter(&mockImportService{}, func(d *RouterDeps) { d.Sources.MALAPI = nil })
	w := doRequest(router, http.MethodPost, "/api/imports/mal/users/alice", nil, "user-1")

	if w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", w.Code)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeSourceDisabled {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeSourceDisabled)
	}
}

func TestConfirm_ReturnsResult(t *testing.T) {
	svc := &mockImportService{
		confirmFn: func(_ context.Context, _ string, entries []model.PendingImportEntry) model.ConfirmResult {
			return model.ConfirmResult{Imported: 1, Skipped: len(entries) - 1, Errors: []string{}}
		},
	}
	body := []byte(`{"entries":[
		{"catalogEntryId":"a","status":"reading","rating":4.5},
		{"catalogEntryId":"a","status":"reading"}
	]}`)

	w := doRequest(newTestRouter(svc), http.MethodPost, "/api/imports/confirm", body, "user-7")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	var got model.ConfirmResult
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if got.Imported != 1 || got.Skipped != 1 || got.Errors == nil {
		t.Errorf("ConfirmResult = %+v", got)
	}
	if svc.lastUserID != "user-7" {
		t.Errorf("userID = %q", svc.lastUserID)
	}
}

func TestConfirm_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"不正なJSON", `{"entries":`},
		{"entriesなし", `{}`},
		{"空のentries", `{"entries":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockImportService{
				confirmFn: func(context.Context, string, []model.PendingImportEntry) model.ConfirmResult {
					t.Error("不正なリクエストでサービスを呼ばないべき")
					return model.ConfirmResult{}
				},
			}
			w := doRequest(newTestRouter(svc), http.MethodPost, "/api/imports/confirm", []byte(tt.body), "user-1")

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}
