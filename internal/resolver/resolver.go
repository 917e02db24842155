// Package resolver は照合できなかったタイトルを生成AIで書き換え、再照合の候補を得る。
// 失敗はすべて「書き換えなし」として扱い、呼び出し元にエラーは返さない。
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ted-sama/trackr/internal/llm"
	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/ratelimit"
)

// 解決結果の分類（メトリクスのラベル）。
const (
	OutcomeResolved    = "resolved"
	OutcomeExhausted   = "exhausted"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeCancelled   = "cancelled"
)

// Config はResolverの設定。
type Config struct {
	// Concurrency は1ウィンドウで同時に処理するタイトル数。
	Concurrency int
	// MaxAttempts は1タイトルあたりの最大呼び出し回数。
	MaxAttempts int
	// InitialBackoff は再試行前の初回待機時間。以降2倍ずつ増える。
	InitialBackoff time.Duration
	// MaxBackoff は再試行前の待機時間の上限。
	MaxBackoff time.Duration
	// CallTimeout は1回の呼び出しの制限時間。
	CallTimeout time.Duration
	// SearchGrounding は検索による裏付けを要求するかどうか。
	SearchGrounding bool
	// BreakerFailures は回路を開くまでの連続失敗回数。
	BreakerFailures uint32
	// BreakerTimeout は回路が開いてから半開状態に移るまでの時間。
	BreakerTimeout time.Duration
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		MaxAttempts:     3,
		InitialBackoff:  time.Second,
		MaxBackoff:      8 * time.Second,
		CallTimeout:     30 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  time.Minute,
	}
}

// Observer は解決処理の結果を受け取るインターフェース。メトリクス収集に使う。
type Observer interface {
	ObserveResolution(outcome string)
	ObserveResolutionRetry()
}

type nopObserver struct{}

func (nopObserver) ObserveResolution(string) {}
func (nopObserver) ObserveResolutionRetry()  {}

// Resolver は生成AIによるタイトル書き換えをバッチで実行する。
// ウィンドウごとにLimiterで待機し、ウィンドウ内はConcurrency件を並行に処理する。
type Resolver struct {
	gen      llm.Generator
	limiter  ratelimit.Limiter
	breaker  *gobreaker.CircuitBreaker[string]
	logger   *slog.Logger
	cfg      Config
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option はResolverの設定を変更する。
type Option func(*Resolver)

// WithObserver は結果の通知先を指定する。
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

// WithSleep は再試行前の待機処理を差し替える。テストで使用する。
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Resolver) {
		r.sleep = fn
	}
}

// New はResolverを生成する。limiterはウィンドウ間の間隔を制御し、他の処理と共有しないこと。
func New(gen llm.Generator, limiter ratelimit.Limiter, logger *slog.Logger, cfg Config, opts ...Option) *Resolver {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	r := &Resolver{
		gen:      gen,
		limiter:  limiter,
		logger:   logger,
		cfg:      cfg,
		observer: nopObserver{},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "title-resolver",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return r
}

// ResolveBatch は複数のタイトルを書き換え、タイトルごとの結果を返す。
// 書き換えに失敗したタイトルは結果のマップに含まれない。同じタイトルは1回だけ問い合わせる。
func (r *Resolver) ResolveBatch(ctx context.Context, titles []string) map[string]model.TitleTranslation {
	unique := dedupe(titles)
	results := make(map[string]model.TitleTranslation, len(unique))
	if len(unique) == 0 {
		return results
	}

	var mu sync.Mutex
	for start := 0; start < len(unique); start += r.cfg.Concurrency {
		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.Warn("タイトル解決を中断しました",
				slog.String("error", err.Error()),
				slog.Int("remaining", len(unique)-start),
			)
			for range unique[start:] {
				r.observer.ObserveResolution(OutcomeCancelled)
			}
			break
		}

		end := min(start+r.cfg.Concurrency, len(unique))
		var wg sync.WaitGroup
		for _, title := range unique[start:end] {
			wg.Add(1)
			go func(title string) {
				defer wg.Done()
				tr, ok := r.resolveOne(ctx, title)
				if !ok {
					return
				}
				mu.Lock()
				results[title] = tr
				mu.Unlock()
			}(title)
		}
		wg.Wait()
	}

	return results
}

// resolveOne は1タイトルを指数バックオフ付きで問い合わせる。
func (r *Resolver) resolveOne(ctx context.Context, title string) (tr model.TitleTranslation, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("タイトル解決中にパニックが発生しました",
				slog.String("title", title),
				slog.Any("panic", rec),
			)
			r.observer.ObserveResolution(OutcomeExhausted)
			tr, ok = model.TitleTranslation{}, false
		}
	}()

	prompt := buildPrompt(title)
	opts := llm.Options{SearchGrounding: r.cfg.SearchGrounding}

	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			r.observer.ObserveResolutionRetry()
			if err := r.sleep(ctx, r.backoff(attempt-1)); err != nil {
				r.observer.ObserveResolution(OutcomeCancelled)
				return model.TitleTranslation{}, false
			}
		}

		reply, err := r.breaker.Execute(func() (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
			defer cancel()
			return r.gen.Generate(callCtx, prompt, opts)
		})
		if err == nil {
			d := decodeTranslation(reply)
			r.observer.ObserveResolution(OutcomeResolved)
			return model.TitleTranslation{
				SourceTitle:      title,
				Romanized:        strings.TrimSpace(d.Romaji),
				English:          strings.TrimSpace(d.English),
				Native:           strings.TrimSpace(d.Native),
				FlaggedSensitive: d.Sensitive,
			}, true
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.logger.Warn("サーキットブレーカーが開いているためタイトル解決をスキップします",
				slog.String("title", title),
			)
			r.observer.ObserveResolution(OutcomeCircuitOpen)
			return model.TitleTranslation{}, false
		}
		if ctx.Err() != nil {
			r.observer.ObserveResolution(OutcomeCancelled)
			return model.TitleTranslation{}, false
		}

		lastErr = err
		r.logger.Warn("生成AIの呼び出しに失敗しました",
			slog.String("title", title),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	r.logger.Error("タイトル解決の再試行回数を使い切りました",
		slog.String("title", title),
		slog.Int("attempts", r.cfg.MaxAttempts),
		slog.String("error", errString(lastErr)),
	)
	r.observer.ObserveResolution(OutcomeExhausted)
	return model.TitleTranslation{}, false
}

// backoff は再試行回数に応じた待機時間を返す。初回InitialBackoff、2倍ずつ増加、上限MaxBackoff。
func (r *Resolver) backoff(retry int) time.Duration {
	delay := r.cfg.InitialBackoff
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay > r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return delay
}

func buildPrompt(title string) string {
	return fmt.Sprintf(`You identify manga and light novel titles.
Given the title below (it may be a translation in any language), return the title of the original work.
Respond with a single JSON object and nothing else:
{"romaji": "<official romanized Japanese/Korean/Chinese title or empty>", "english": "<official English title or empty>", "native": "<title in the original script or empty>", "sensitive": <true if the work is pornographic, otherwise false>}

Title: %q`, title)
}

func dedupe(titles []string) []string {
	seen := make(map[string]struct{}, len(titles))
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
