// Package importer は外部ソースからの読書記録の取り込みを扱う。
// フェッチでは候補をカタログと照合してバケットに振り分け、
// 確認ではユーザーが選んだエントリから読書記録を作成する。
package importer

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ted-sama/trackr/internal/matching"
	"github.com/ted-sama/trackr/internal/metrics"
	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/repository"
	"github.com/ted-sama/trackr/internal/security"
)

// TitleResolver は照合できなかったタイトルの書き換え候補を返すインターフェース。
// 書き換えられなかったタイトルは結果のマップに含まれない。
type TitleResolver interface {
	ResolveBatch(ctx context.Context, titles []string) map[string]model.TitleTranslation
}

// Service は取り込みのサービス層。フェッチと確認は互いに状態を共有しない。
type Service struct {
	catalog   repository.CatalogRepository
	tracking  repository.TrackingRepository
	resolver  TitleResolver
	sanitizer security.ContentSanitizerService
	metrics   metrics.MetricsCollector
	scorer    matching.Scorer
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithResolver は生成AIによるタイトル解決を有効にする。未指定の場合、照合できなかった候補はそのまま未検出となる。
func WithResolver(r TitleResolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithMetrics はメトリクスの記録先を指定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithScorer は照合に使うScorerを指定する。
func WithScorer(sc matching.Scorer) Option {
	return func(s *Service) {
		s.scorer = sc
	}
}

// WithClock は読書記録の作成日時に使う時計を差し替える。テストで使用する。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	catalog repository.CatalogRepository,
	tracking repository.TrackingRepository,
	sanitizer security.ContentSanitizerService,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		catalog:   catalog,
		tracking:  tracking,
		sanitizer: sanitizer,
		metrics:   nopMetrics{},
		scorer:    matching.NewScorer(matching.DefaultThresholds()),
		validate:  newValidator(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newValidator は確認エントリの検証に使うvalidatorを生成する。
// half_step は評価が0.5刻みであることを検証する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("half_step", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float() * 2
		return f == math.Trunc(f)
	}); err != nil {
		panic(err)
	}
	return v
}

type nopMetrics struct{}

func (nopMetrics) RecordCandidates(string, string, int)      {}
func (nopMetrics) RecordFetch(string, string)                {}
func (nopMetrics) RecordSourceLatency(string, time.Duration) {}
func (nopMetrics) RecordImported(int)                        {}
func (nopMetrics) ObserveResolution(string)                  {}
func (nopMetrics) ObserveResolutionRetry()                   {}
