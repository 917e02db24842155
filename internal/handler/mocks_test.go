package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/source"
)

// stubAdapter はハンドラーがどのアダプタを選んだかを識別するためのスタブ。
type stubAdapter struct {
	name model.DataSource
}

func (s *stubAdapter) Name() model.DataSource { return s.name }

func (s *stubAdapter) Fetch(context.Context, string) ([]model.RawCandidate, error) {
	return nil, errors.New("stubAdapter.Fetch should not be called")
}

// mockImportService はImportServiceのモック実装。
type mockImportService struct {
	fetchFn   func(ctx context.Context, userID string, adapter source.Adapter, identifier string) (*model.FetchResult, error)
	confirmFn func(ctx context.Context, userID string, entries []model.PendingImportEntry) model.ConfirmResult

	lastUserID     string
	lastAdapter    source.Adapter
	lastIdentifier string
}

func (m *mockImportService) Fetch(ctx context.Context, userID string, adapter source.Adapter, identifier string) (*model.FetchResult, error) {
	m.lastUserID, m.lastAdapter, m.lastIdentifier = userID, adapter, identifier
	if m.fetchFn != nil {
		return m.fetchFn(ctx, userID, adapter, identifier)
	}
	return &model.FetchResult{
		Source:         adapter.Name(),
		PendingEntries: []model.PendingImportEntry{},
		NotFound:       []model.CandidateOutcome{},
		Skipped:        []model.CandidateOutcome{},
		AlreadyExists:  []model.CandidateOutcome{},
		Errors:         []model.CandidateOutcome{},
	}, nil
}

func (m *mockImportService) Confirm(ctx context.Context, userID string, entries []model.PendingImportEntry) model.ConfirmResult {
	m.lastUserID = userID
	if m.confirmFn != nil {
		return m.confirmFn(ctx, userID, entries)
	}
	return model.ConfirmResult{Imported: len(entries), Errors: []string{}}
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

var (
	malExportAdapter   = &stubAdapter{name: model.DataSourceMAL}
	malAPIAdapter      = &stubAdapter{name: model.DataSourceMAL}
	mangacollecAdapter = &stubAdapter{name: model.DataSourceMangacollec}
)

func testSources() ImportSources {
	return ImportSources{
		MALExport:   malExportAdapter,
		MALAPI:      malAPIAdapter,
		Mangacollec: mangacollecAdapter,
	}
}
