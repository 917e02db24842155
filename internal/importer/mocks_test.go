package importer

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/security"
)

// mockAdapter はsource.Adapterのモック実装。
type mockAdapter struct {
	name    model.DataSource
	fetchFn func(ctx context.Context, identifier string) ([]model.RawCandidate, error)
}

func (m *mockAdapter) Name() model.DataSource {
	return m.name
}

func (m *mockAdapter) Fetch(ctx context.Context, identifier string) ([]model.RawCandidate, error) {
	return m.fetchFn(ctx, identifier)
}

func staticAdapter(candidates ...model.RawCandidate) *mockAdapter {
	return &mockAdapter{
		name: model.DataSourceMAL,
		fetchFn: func(context.Context, string) ([]model.RawCandidate, error) {
			return candidates, nil
		},
	}
}

// mockCatalogRepo はrepository.CatalogRepositoryのモック実装。
type mockCatalogRepo struct {
	entries   []model.CatalogEntry
	loadErr   error
	loadCalls int
	findFn    func(ctx context.Context, externalID string, source model.DataSource) (*model.CatalogEntry, error)
}

func (m *mockCatalogRepo) FindByExternalID(ctx context.Context, externalID string, source model.DataSource) (*model.CatalogEntry, error) {
	if m.findFn != nil {
		return m.findFn(ctx, externalID, source)
	}
	return nil, nil
}

func (m *mockCatalogRepo) LoadAllForMatching(_ context.Context, _ model.CatalogFilter) ([]model.CatalogEntry, error) {
	m.loadCalls++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.entries, nil
}

// memoryTrackingRepo はrepository.TrackingRepositoryのインメモリ実装。
// existsFn / createFn を設定すると既定の挙動を上書きする。
type memoryTrackingRepo struct {
	mu       sync.Mutex
	records  map[string]*model.TrackingRecord
	existsFn func(ctx context.Context, userID, catalogEntryID string) (bool, error)
	createFn func(ctx context.Context, record *model.TrackingRecord) (bool, error)
}

func newMemoryTrackingRepo() *memoryTrackingRepo {
	return &memoryTrackingRepo{records: make(map[string]*model.TrackingRecord)}
}

func trackingKey(userID, catalogEntryID string) string {
	return userID + "/" + catalogEntryID
}

func (m *memoryTrackingRepo) Exists(ctx context.Context, userID, catalogEntryID string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, userID, catalogEntryID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[trackingKey(userID, catalogEntryID)]
	return ok, nil
}

func (m *memoryTrackingRepo) Create(ctx context.Context, record *model.TrackingRecord) (bool, error) {
	if m.createFn != nil {
		return m.createFn(ctx, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := trackingKey(record.UserID, record.CatalogEntryID)
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = record
	return true, nil
}

func (m *memoryTrackingRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memoryTrackingRepo) seed(userID, catalogEntryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[trackingKey(userID, catalogEntryID)] = &model.TrackingRecord{UserID: userID, CatalogEntryID: catalogEntryID}
}

// mockResolver はTitleResolverのモック実装。
type mockResolver struct {
	resolveFn func(ctx context.Context, titles []string) map[string]model.TitleTranslation
	calls     [][]string
}

func (m *mockResolver) ResolveBatch(ctx context.Context, titles []string) map[string]model.TitleTranslation {
	m.calls = append(m.calls, titles)
	if m.resolveFn == nil {
		return map[string]model.TitleTranslation{}
	}
	return m.resolveFn(ctx, titles)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestService(catalog *mockCatalogRepo, tracking *memoryTrackingRepo, opts ...Option) *Service {
	return NewService(catalog, tracking, security.NewContentSanitizer(), discardLogger(), opts...)
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func intPtr(i int) *int { return &i }
