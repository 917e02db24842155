// Package malapi はMyAnimeList API v2から公開マンガリストを取得するソースアダプタを提供する。
package malapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/ratelimit"
	"github.com/ted-sama/trackr/internal/source"
)

const (
	// DefaultBaseURL はMyAnimeList API v2のベースURL。
	DefaultBaseURL = "https://api.myanimelist.net/v2"
	// pageLimit は1ページあたりの取得件数（APIの上限）。
	pageLimit = 100
	// defaultMaxPages はページ送りの上限。
	defaultMaxPages = 50
	// scoreScale はMyAnimeListの評価の上限。
	scoreScale = 10
	// errNotPermitted は非公開リストに対してAPIが返すエラー値。
	errNotPermitted = "not_permitted"
)

// Config はAdapterの設定。
type Config struct {
	BaseURL  string
	ClientID string
	MaxPages int
	// MaxRetries は429/5xx応答に対してページ取得を再試行する回数。0なら再試行しない。
	MaxRetries  int
	MaxBodySize int64
}

// Adapter はMyAnimeList API v2のマンガリストを取得するソースアダプタ。
// すべてのリクエストの前にLimiterで待機し、ページ間の最小間隔を守る。
type Adapter struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	logger     *slog.Logger
	cfg        Config
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ source.Adapter = (*Adapter)(nil)

// NewAdapter はAdapterを生成する。
func NewAdapter(httpClient *http.Client, limiter ratelimit.Limiter, logger *slog.Logger, cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = source.DefaultMaxBodySize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Adapter{
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		cfg:        cfg,
		sleep:      source.Sleep,
	}
}

// Name はソース名を返す。
func (a *Adapter) Name() model.DataSource {
	return model.DataSourceMAL
}

type listResponse struct {
	Data   []listItem `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
	Error string `json:"error"`
}

type listItem struct {
	Node struct {
		ID                int    `json:"id"`
		Title             string `json:"title"`
		AlternativeTitles struct {
			Synonyms []string `json:"synonyms"`
			En       string   `json:"en"`
			Ja       string   `json:"ja"`
		} `json:"alternative_titles"`
	} `json:"node"`
	ListStatus struct {
		Status          string `json:"status"`
		Score           int    `json:"score"`
		NumVolumesRead  int    `json:"num_volumes_read"`
		NumChaptersRead int    `json:"num_chapters_read"`
		StartDate       string `json:"start_date"`
		FinishDate      string `json:"finish_date"`
		Comments        string `json:"comments"`
	} `json:"list_status"`
}

// Fetch は指定ユーザーのマンガリストを全ページ取得し、API上の順序で候補を返す。
func (a *Adapter) Fetch(ctx context.Context, username string) ([]model.RawCandidate, error) {
	if err := source.ValidateUsername(username); err != nil {
		return nil, model.NewSourceError(model.DataSourceMAL, model.SourceUserNotFound, err)
	}

	next := a.firstPageURL(username)
	var candidates []model.RawCandidate

	for page := 0; next != ""; page++ {
		if page >= a.cfg.MaxPages {
			a.logger.Warn("ページ数の上限に達したため取得を打ち切りました",
				slog.String("username", username),
				slog.Int("max_pages", a.cfg.MaxPages),
				slog.Int("entries", len(candidates)),
			)
			break
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := a.fetchPageWithRetry(ctx, next)
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Data {
			candidates = append(candidates, toCandidate(item))
		}

		next, err = a.validateNext(resp.Paging.Next)
		if err != nil {
			return nil, model.NewSourceError(model.DataSourceMAL, model.SourceParseFailure, err)
		}
	}

	if len(candidates) == 0 {
		return nil, model.NewSourceError(model.DataSourceMAL, model.SourceNoEntries,
			errors.New("マンガリストが空です"))
	}

	a.logger.Info("MyAnimeListのマンガリストを取得しました",
		slog.String("username", username),
		slog.Int("entries", len(candidates)),
	)

	return candidates, nil
}

func (a *Adapter) firstPageURL(username string) string {
	q := url.Values{}
	q.Set("fields", "list_status,alternative_titles")
	q.Set("limit", fmt.Sprintf("%d", pageLimit))
	q.Set("nsfw", "true")
	return fmt.Sprintf("%s/users/%s/mangalist?%s", a.cfg.BaseURL, url.PathEscape(username), q.Encode())
}

// validateNext はページ送りURLがベースURLと同じホストを指していることを確認する。
func (a *Adapter) validateNext(next string) (string, error) {
	if next == "" {
		return "", nil
	}
	nextURL, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("ページ送りURLのパースに失敗しました: %w", err)
	}
	base, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("ベースURLのパースに失敗しました: %w", err)
	}
	if nextURL.Scheme != base.Scheme || nextURL.Host != base.Host {
		return "", fmt.Errorf("ページ送りURLのホストが不正です: %s", nextURL.Host)
	}
	return next, nil
}

// fetchPageWithRetry は一時的な失敗（429/5xx）に対して、遅延とリミッターの待機を挟んで
// MaxRetries回までページ取得を再試行する。
func (a *Adapter) fetchPageWithRetry(ctx context.Context, pageURL string) (*listResponse, error) {
	for attempt := 0; ; attempt++ {
		page, retry, err := a.fetchPage(ctx, pageURL)
		if err == nil || retry == nil || attempt >= a.cfg.MaxRetries {
			return page, err
		}

		delay := source.RetryDelay(attempt, retry)
		a.logger.Warn("MyAnimeList APIの一時的なエラーのため再試行します",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", a.cfg.MaxRetries),
			slog.Duration("delay", delay),
		)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, err
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// fetchPage は1ページを取得する。一時的な失敗の場合は応答ヘッダを併せて返す。
func (a *Adapter) fetchPage(ctx context.Context, pageURL string) (*listResponse, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("X-MAL-CLIENT-ID", a.cfg.ClientID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", source.UserAgent)

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		a.logger.Error("MyAnimeList APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, nil, model.NewSourceError(model.DataSourceMAL, model.SourceProviderError, err)
	}
	defer resp.Body.Close()

	body, err := source.ReadLimited(resp.Body, a.cfg.MaxBodySize)
	if err != nil {
		return nil, nil, model.NewSourceError(model.DataSourceMAL, model.SourceProviderError, err)
	}

	a.logger.Debug("MyAnimeList APIのレスポンスを受信しました",
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	var parsed listResponse
	jsonErr := json.Unmarshal(body, &parsed)

	class := source.ClassifyHTTPStatus(resp.StatusCode)
	switch {
	case class == source.ResponseNotFound:
		return nil, nil, model.NewSourceError(model.DataSourceMAL, model.SourceUserNotFound,
			errors.New("ユーザーが存在しません"))
	case resp.StatusCode == http.StatusForbidden || (jsonErr == nil && parsed.Error == errNotPermitted):
		return nil, nil, model.NewSourceError(model.DataSourceMAL, model.SourceListPrivate,
			errors.New("リストが非公開です"))
	case class != source.ResponseOK:
		a.logger.Error("MyAnimeList APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("error", parsed.Error),
		)
		var retry http.Header
		if class == source.ResponseTransient {
			retry = resp.Header.Clone()
			if retry == nil {
				retry = http.Header{}
			}
		}
		return nil, retry, model.NewProviderError(model.DataSourceMAL, resp.StatusCode)
	}

	if jsonErr != nil {
		return nil, nil, model.NewSourceError(model.DataSourceMAL, model.SourceParseFailure,
			fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", jsonErr))
	}

	return &parsed, nil, nil
}

func toCandidate(item listItem) model.RawCandidate {
	id := fmt.Sprintf("%d", item.Node.ID)
	ls := item.ListStatus

	c := model.RawCandidate{
		SourceTitle: strings.TrimSpace(item.Node.Title),
		ExternalID:  &id,
		DataSource:  model.DataSourceMAL,
		RawStatus:   ls.Status,
		Status:      source.MapMALStatus(ls.Status),
		ScoreScale:  scoreScale,
		StartDate:   source.ParseMALDate(ls.StartDate),
		FinishDate:  source.ParseMALDate(ls.FinishDate),
		Notes:       strings.TrimSpace(ls.Comments),
	}

	alts := item.Node.AlternativeTitles
	for _, t := range append([]string{alts.En, alts.Ja}, alts.Synonyms...) {
		if t = strings.TrimSpace(t); t != "" {
			c.AlternativeTitles = append(c.AlternativeTitles, t)
		}
	}

	if ls.NumChaptersRead > 0 {
		n := ls.NumChaptersRead
		c.Progress.Chapters = &n
	}
	if ls.NumVolumesRead > 0 {
		n := ls.NumVolumesRead
		c.Progress.Volumes = &n
	}
	if ls.Score > 0 {
		s := float64(ls.Score)
		c.Score = &s
	}

	return c
}
