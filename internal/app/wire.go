package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ted-sama/trackr/internal/config"
	"github.com/ted-sama/trackr/internal/handler"
	"github.com/ted-sama/trackr/internal/importer"
	"github.com/ted-sama/trackr/internal/llm"
	"github.com/ted-sama/trackr/internal/matching"
	"github.com/ted-sama/trackr/internal/metrics"
	"github.com/ted-sama/trackr/internal/ratelimit"
	"github.com/ted-sama/trackr/internal/repository"
	"github.com/ted-sama/trackr/internal/resolver"
	"github.com/ted-sama/trackr/internal/security"
	"github.com/ted-sama/trackr/internal/source/malapi"
	"github.com/ted-sama/trackr/internal/source/malxml"
	"github.com/ted-sama/trackr/internal/source/mangacollec"
)

// importComponents はHTTP層へ渡す取り込み関連の依存関係。
type importComponents struct {
	Service *importer.Service
	Sources handler.ImportSources

	closers []io.Closer
}

// Close は生成AIクライアントなどの外部リソースを解放する。
func (c *importComponents) Close() error {
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildImporter は設定に従ってソースアダプタ・タイトル解決・取り込みサービスを組み立てる。
func buildImporter(ctx context.Context, cfg *config.Config, db *sql.DB, collector *metrics.Collector, log *slog.Logger) (*importComponents, error) {
	guard := security.NewOutboundGuard(cfg.OutboundAllowPrivate)
	for name, u := range map[string]string{
		"MAL_API_BASE_URL":     cfg.MALAPIBaseURL,
		"MANGACOLLEC_BASE_URL": cfg.MangacollecBaseURL,
	} {
		if err := guard.ValidateBaseURL(u); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	httpClient := guard.NewSafeClient(cfg.SourceTimeout)

	components := &importComponents{
		Sources: buildSources(cfg, httpClient, log),
	}

	gen, closer, err := newGenerator(ctx, cfg, guard)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		components.closers = append(components.closers, closer)
	}

	thresholds := matching.DefaultThresholds()
	if cfg.MatchingConfigPath != "" {
		thresholds, err = matching.LoadThresholds(cfg.MatchingConfigPath)
		if err != nil {
			components.Close()
			return nil, fmt.Errorf("failed to load matching thresholds: %w", err)
		}
		log.Info("matching thresholds loaded", slog.String("path", cfg.MatchingConfigPath))
	}

	opts := []importer.Option{
		importer.WithMetrics(collector),
		importer.WithScorer(matching.NewScorer(thresholds)),
	}
	if gen != nil {
		opts = append(opts, importer.WithResolver(newResolver(cfg, gen, collector, log)))
	} else {
		log.Warn("LLM_PROVIDER is none; unmatched titles will not be resolved")
	}

	components.Service = importer.NewService(
		repository.NewPostgresCatalogRepo(db),
		repository.NewPostgresTrackingRepo(db),
		security.NewContentSanitizer(),
		log,
		opts...,
	)
	return components, nil
}

func buildSources(cfg *config.Config, httpClient *http.Client, log *slog.Logger) handler.ImportSources {
	sources := handler.ImportSources{
		MALExport: malxml.NewAdapter(log),
		Mangacollec: mangacollec.NewAdapter(httpClient, log, mangacollec.Config{
			BaseURL:     cfg.MangacollecBaseURL,
			MaxBodySize: cfg.SourceMaxSize,
		}),
	}

	if cfg.MALClientID == "" {
		log.Warn("MAL_CLIENT_ID is not set; MyAnimeList API import is disabled")
		return sources
	}
	// MAL APIアダプタ専用のリミッター。AI解決とは共有しない
	sources.MALAPI = malapi.NewAdapter(httpClient, ratelimit.NewSpacer(cfg.MALAPIInterval), log, malapi.Config{
		BaseURL:     cfg.MALAPIBaseURL,
		ClientID:    cfg.MALClientID,
		MaxPages:    cfg.MALMaxPages,
		MaxRetries:  cfg.MALMaxRetries,
		MaxBodySize: cfg.SourceMaxSize,
	})
	return sources
}

// newGenerator はLLM_PROVIDERに対応する生成AIクライアントを返す。
// "none"の場合はnilを返す。
func newGenerator(ctx context.Context, cfg *config.Config, guard security.OutboundGuardService) (llm.Generator, io.Closer, error) {
	provider, err := llm.ParseProvider(cfg.LLMProvider)
	if err != nil {
		return nil, nil, err
	}

	switch provider {
	case llm.ProviderGemini:
		g, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	case llm.ProviderOpenAI:
		if err := guard.ValidateBaseURL(cfg.OpenAIBaseURL); err != nil {
			return nil, nil, fmt.Errorf("invalid OPENAI_BASE_URL: %w", err)
		}
		// 1回の呼び出しはResolverのCallTimeoutで打ち切られるため、クライアント側も同じ長さにする
		o, err := llm.NewOpenAI(guard.NewSafeClient(cfg.ResolverCallTimeout), cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, nil, err
		}
		return o, nil, nil
	default:
		return nil, nil, nil
	}
}

func newResolver(cfg *config.Config, gen llm.Generator, collector *metrics.Collector, log *slog.Logger) *resolver.Resolver {
	rcfg := resolver.DefaultConfig()
	rcfg.Concurrency = cfg.ResolverConcurrency
	rcfg.MaxAttempts = cfg.ResolverMaxAttempts
	rcfg.CallTimeout = cfg.ResolverCallTimeout
	rcfg.SearchGrounding = cfg.LLMSearchGrounding

	// ウィンドウ開始の間隔を制御するリミッター。MAL APIアダプタとは独立
	return resolver.New(gen, ratelimit.NewSpacer(cfg.ResolverWindowDelay), log, rcfg, resolver.WithObserver(collector))
}
