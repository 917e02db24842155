// Package mangacollec はMangacollecの公開コレクションページをスクレイピングするソースアダプタを提供する。
package mangacollec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/source"
)

// DefaultBaseURL はMangacollecのベースURL。
const DefaultBaseURL = "https://www.mangacollec.com"

const (
	rawStatusOwned    = "owned"
	rawStatusDegraded = "listed"
)

// Config はAdapterの設定。
type Config struct {
	BaseURL     string
	MaxBodySize int64
}

// Adapter はMangacollecのプロフィールページに埋め込まれたJSONからコレクションを読み取る。
type Adapter struct {
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config
}

var _ source.Adapter = (*Adapter)(nil)

// NewAdapter はAdapterを生成する。
func NewAdapter(httpClient *http.Client, logger *slog.Logger, cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = source.DefaultMaxBodySize
	}
	return &Adapter{httpClient: httpClient, logger: logger, cfg: cfg}
}

// Name はソース名を返す。
func (a *Adapter) Name() model.DataSource {
	return model.DataSourceMangacollec
}

type nextData struct {
	Props struct {
		PageProps struct {
			InitialState collectionState `json:"initialState"`
		} `json:"pageProps"`
	} `json:"props"`
}

type collectionState struct {
	Series      []series            `json:"series"`
	Editions    []edition           `json:"editions"`
	Volumes     []volume            `json:"volumes"`
	Possessions map[string][]string `json:"possessions"`
}

type series struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	AdultContent bool   `json:"adult_content"`
}

type edition struct {
	ID           string `json:"id"`
	SeriesID     string `json:"series_id"`
	VolumesCount int    `json:"volumes_count"`
	NotFinished  bool   `json:"not_finished"`
}

type volume struct {
	ID        string `json:"id"`
	EditionID string `json:"edition_id"`
	Number    int    `json:"number"`
}

// Fetch は指定ユーザーのコレクションページを取得し、シリーズ単位の候補を返す。
// 成人向けシリーズは照合前に必ず除外する。
func (a *Adapter) Fetch(ctx context.Context, username string) ([]model.RawCandidate, error) {
	if err := source.ValidateUsername(username); err != nil {
		return nil, model.NewSourceError(model.DataSourceMangacollec, model.SourceUserNotFound, err)
	}

	body, err := a.fetchProfile(ctx, username)
	if err != nil {
		return nil, err
	}

	blob, err := extractNextData(body)
	if err != nil {
		return nil, err
	}

	var data nextData
	if err := json.Unmarshal([]byte(blob), &data); err != nil {
		return nil, model.NewSourceError(model.DataSourceMangacollec, model.SourceParseFailure,
			fmt.Errorf("埋め込みJSONのパースに失敗しました: %w", err))
	}

	candidates := a.buildCandidates(username, data.Props.PageProps.InitialState)
	if len(candidates) == 0 {
		return nil, model.NewSourceError(model.DataSourceMangacollec, model.SourceNoEntries,
			errors.New("コレクションが空です"))
	}

	a.logger.Info("Mangacollecのコレクションを取得しました",
		slog.String("username", username),
		slog.Int("entries", len(candidates)),
	)

	return candidates, nil
}

func (a *Adapter) fetchProfile(ctx context.Context, username string) ([]byte, error) {
	pageURL := fmt.Sprintf("%s/user/%s/collection", a.cfg.BaseURL, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", source.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Error("Mangacollecへのリクエストに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewSourceError(model.DataSourceMangacollec, model.SourceProviderError, err)
	}
	defer resp.Body.Close()

	switch source.ClassifyHTTPStatus(resp.StatusCode) {
	case source.ResponseOK:
	case source.ResponseNotFound:
		return nil, model.NewSourceError(model.DataSourceMangacollec, model.SourceUserNotFound,
			errors.New("ユーザーが存在しません"))
	case source.ResponseDenied:
		return nil, model.NewSourceError(model.DataSourceMangacollec, model.SourceListPrivate,
			errors.New("コレクションが非公開です"))
	default:
		a.logger.Error("Mangacollecがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewProviderError(model.DataSourceMangacollec, resp.StatusCode)
	}

	body, err := source.ReadLimited(resp.Body, a.cfg.MaxBodySize)
	if err != nil {
		return nil, model.NewSourceError(model.DataSourceMangacollec, model.SourceProviderError, err)
	}
	return body, nil
}

// extractNextData はページ内の<script id="__NEXT_DATA__">の中身を取り出す。
func extractNextData(body []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", model.NewSourceError(model.DataSourceMangacollec, model.SourceParseFailure,
			fmt.Errorf("HTMLのパースに失敗しました: %w", err))
	}

	doc := goquery.NewDocumentFromNode(root)
	blob := strings.TrimSpace(doc.Find(`script#__NEXT_DATA__`).First().Text())
	if blob == "" {
		return "", model.NewSourceError(model.DataSourceMangacollec, model.SourceBlobNotFound,
			errors.New("ページに埋め込みデータが見つかりません"))
	}
	return blob, nil
}

// buildCandidates は所持巻の一覧からシリーズ単位の候補を組み立てる。
// 対象ユーザーの所持情報が無い場合はページ上の全シリーズを対象とする。
func (a *Adapter) buildCandidates(username string, state collectionState) []model.RawCandidate {
	seriesByID := make(map[string]series, len(state.Series))
	for _, s := range state.Series {
		seriesByID[s.ID] = s
	}
	editionByID := make(map[string]edition, len(state.Editions))
	for _, e := range state.Editions {
		editionByID[e.ID] = e
	}
	volumeByID := make(map[string]volume, len(state.Volumes))
	for _, v := range state.Volumes {
		volumeByID[v.ID] = v
	}

	owned, ok := lookupPossessions(state.Possessions, username)
	if !ok {
		a.logger.Warn("ユーザーの所持情報が見つからないため、ページ上の全シリーズを対象にします",
			slog.String("username", username),
			slog.Int("series", len(state.Series)),
		)
		return degradedCandidates(state.Series)
	}

	var order []string
	ownedPerEdition := make(map[string]int)
	seen := make(map[string]struct{})
	for _, volID := range owned {
		if _, dup := seen[volID]; dup {
			continue
		}
		seen[volID] = struct{}{}

		v, ok := volumeByID[volID]
		if !ok {
			continue
		}
		e, ok := editionByID[v.EditionID]
		if !ok {
			continue
		}
		if _, known := seriesByID[e.SeriesID]; !known {
			continue
		}
		if !slices.Contains(order, e.SeriesID) {
			order = append(order, e.SeriesID)
		}
		ownedPerEdition[e.ID]++
	}

	candidates := make([]model.RawCandidate, 0, len(order))
	for _, seriesID := range order {
		s := seriesByID[seriesID]
		if s.AdultContent {
			continue
		}

		maxOwned := 0
		completed := false
		for _, e := range state.Editions {
			if e.SeriesID != seriesID {
				continue
			}
			n := ownedPerEdition[e.ID]
			maxOwned = max(maxOwned, n)
			if !e.NotFinished && e.VolumesCount > 0 && n >= e.VolumesCount {
				completed = true
			}
		}

		status := model.StatusReading
		if completed {
			status = model.StatusCompleted
		}
		id := s.ID
		c := model.RawCandidate{
			SourceTitle: strings.TrimSpace(s.Title),
			ExternalID:  &id,
			DataSource:  model.DataSourceMangacollec,
			RawStatus:   rawStatusOwned,
			Status:      status,
		}
		if maxOwned > 0 {
			c.Progress.Volumes = &maxOwned
		}
		candidates = append(candidates, c)
	}

	return candidates
}

func degradedCandidates(all []series) []model.RawCandidate {
	candidates := make([]model.RawCandidate, 0, len(all))
	for _, s := range all {
		if s.AdultContent {
			continue
		}
		id := s.ID
		candidates = append(candidates, model.RawCandidate{
			SourceTitle: strings.TrimSpace(s.Title),
			ExternalID:  &id,
			DataSource:  model.DataSourceMangacollec,
			RawStatus:   rawStatusDegraded,
			Status:      model.StatusReading,
		})
	}
	return candidates
}

// lookupPossessions はユーザー名を大文字小文字を区別せずに照合する。
func lookupPossessions(possessions map[string][]string, username string) ([]string, bool) {
	if v, ok := possessions[username]; ok {
		return v, true
	}
	for name, v := range possessions {
		if strings.EqualFold(name, username) {
			return v, true
		}
	}
	return nil, false
}
