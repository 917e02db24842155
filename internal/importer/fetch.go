package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/ted-sama/trackr/internal/matching"
	"github.com/ted-sama/trackr/internal/model"
	"github.com/ted-sama/trackr/internal/source"
)

// 保留以外のバケットに入った理由。
const (
	ReasonUnmappedStatus = "unmapped_status"
	ReasonDuplicate      = "duplicate"
	ReasonSensitive      = "sensitive"
	ReasonNoMatch        = "no_match"
	ReasonAlreadyTracked = "already_tracked"
)

// メトリクスのバケット名。
const (
	bucketPending       = "pending"
	bucketNotFound      = "not_found"
	bucketSkipped       = "skipped"
	bucketAlreadyExists = "already_exists"
	bucketErrors        = "errors"
)

// ratingScale は内部の評価スケールの上限。
const ratingScale = 5.0

type indexed[T any] struct {
	idx int
	v   T
}

// match は照合できた候補。振り分けは両方の照合段階が終わってからソース順に行う。
type match struct {
	c   *model.RawCandidate
	res *matching.Result
}

// fetchRun は1回のフェッチの作業状態。
type fetchRun struct {
	userID  string
	matcher *matching.Matcher

	// claimed は既にこの実行内で保留または登録済みとなったカタログエントリID。
	claimed map[string]struct{}
	matched []indexed[match]

	pending       []indexed[model.PendingImportEntry]
	notFound      []indexed[model.CandidateOutcome]
	skipped       []indexed[model.CandidateOutcome]
	alreadyExists []indexed[model.CandidateOutcome]
	errs          []indexed[model.CandidateOutcome]
}

// Fetch はソースから候補を取得し、カタログと照合して各バケットに振り分ける。
// ソース単位の失敗は*model.SourceErrorとしてそのまま返す。
// 候補単位の失敗はErrorsバケットに記録し、他の候補の処理は続ける。
func (s *Service) Fetch(ctx context.Context, userID string, adapter source.Adapter, identifier string) (*model.FetchResult, error) {
	src := adapter.Name()

	start := time.Now()
	candidates, err := adapter.Fetch(ctx, identifier)
	s.metrics.RecordSourceLatency(string(src), time.Since(start))
	if err != nil {
		var se *model.SourceError
		if errors.As(err, &se) {
			s.metrics.RecordFetch(string(src), string(se.Kind))
			s.logger.Warn("取り込み元からの取得に失敗しました",
				slog.String("source", string(src)),
				slog.String("kind", string(se.Kind)),
				slog.String("error", se.Error()),
			)
			return nil, se
		}
		s.metrics.RecordFetch(string(src), "error")
		return nil, fmt.Errorf("取り込み元からの取得に失敗しました: %w", err)
	}

	entries, err := s.catalog.LoadAllForMatching(ctx, model.CatalogFilter{})
	if err != nil {
		s.metrics.RecordFetch(string(src), "error")
		return nil, fmt.Errorf("カタログの読み込みに失敗しました: %w", err)
	}

	run := &fetchRun{
		userID:  userID,
		matcher: matching.NewMatcher(entries, matching.WithScorer(s.scorer), matching.WithExternalLookup(s.catalog)),
		claimed: make(map[string]struct{}),
	}

	var misses []int
	for i := range candidates {
		if s.classifyDirect(ctx, run, i, &candidates[i]) {
			misses = append(misses, i)
		}
	}

	if len(misses) > 0 {
		s.resolveMisses(ctx, run, candidates, misses)
	}

	// AIで解決した候補もソース順で先着となるよう、照合結果をまとめて振り分ける
	sort.SliceStable(run.matched, func(a, b int) bool { return run.matched[a].idx < run.matched[b].idx })
	for _, m := range run.matched {
		s.place(ctx, run, m.idx, m.v.c, m.v.res)
	}

	result := run.result(src)
	s.recordResult(src, result)

	s.logger.Info("取り込み候補の照合が完了しました",
		slog.String("source", string(src)),
		slog.String("user_id", userID),
		slog.Int("total", result.Stats.Total),
		slog.Int("pending", result.Stats.Pending),
		slog.Int("not_found", result.Stats.NotFound),
		slog.Int("skipped", result.Stats.Skipped),
		slog.Int("already_exists", result.Stats.AlreadyExists),
		slog.Int("errors", result.Stats.Errors),
	)

	return result, nil
}

// classifyDirect は外部IDとタイトルで候補を照合する。
// 照合できずAIによる解決に回すべき場合にtrueを返す。
func (s *Service) classifyDirect(ctx context.Context, run *fetchRun, i int, c *model.RawCandidate) (miss bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("候補の照合中にパニックが発生しました",
				slog.String("source_title", c.SourceTitle),
				slog.Any("panic", rec),
			)
			run.errs = append(run.errs, indexed[model.CandidateOutcome]{i, outcome(c, "", fmt.Sprintf("panic: %v", rec))})
			miss = false
		}
	}()

	if !c.Status.IsValid() {
		run.skipped = append(run.skipped, indexed[model.CandidateOutcome]{i, outcome(c, "", ReasonUnmappedStatus)})
		return false
	}

	res, err := run.matcher.Match(ctx, matching.Query{
		Title:      c.SourceTitle,
		ExternalID: c.ExternalID,
		DataSource: c.DataSource,
	})
	if err != nil {
		run.errs = append(run.errs, indexed[model.CandidateOutcome]{i, outcome(c, "", err.Error())})
		return false
	}

	if res == nil {
		for _, alt := range c.AlternativeTitles {
			if res = run.matcher.MatchTitle(alt); res != nil {
				break
			}
		}
	}
	if res == nil {
		return true
	}

	run.matched = append(run.matched, indexed[match]{i, match{c: c, res: res}})
	return false
}

// resolveMisses は照合できなかった候補のタイトルをまとめて書き換え、再照合する。
func (s *Service) resolveMisses(ctx context.Context, run *fetchRun, candidates []model.RawCandidate, misses []int) {
	var translations map[string]model.TitleTranslation
	if s.resolver != nil {
		titles := make([]string, 0, len(misses))
		for _, i := range misses {
			titles = append(titles, candidates[i].SourceTitle)
		}
		translations = s.resolver.ResolveBatch(ctx, titles)
	}

	for _, i := range misses {
		s.classifyTranslated(ctx, run, i, &candidates[i], translations)
	}
}

func (s *Service) classifyTranslated(ctx context.Context, run *fetchRun, i int, c *model.RawCandidate, translations map[string]model.TitleTranslation) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("書き換え候補の照合中にパニックが発生しました",
				slog.String("source_title", c.SourceTitle),
				slog.Any("panic", rec),
			)
			run.errs = append(run.errs, indexed[model.CandidateOutcome]{i, outcome(c, "", fmt.Sprintf("panic: %v", rec))})
		}
	}()

	tr, ok := translations[c.SourceTitle]
	if !ok {
		run.notFound = append(run.notFound, indexed[model.CandidateOutcome]{i, outcome(c, "", ReasonNoMatch)})
		return
	}
	if tr.FlaggedSensitive {
		run.skipped = append(run.skipped, indexed[model.CandidateOutcome]{i, outcome(c, "", ReasonSensitive)})
		return
	}

	for _, title := range tr.Candidates() {
		if res := run.matcher.MatchTitle(title); res != nil {
			res.Method = model.MatchAITranslation
			run.matched = append(run.matched, indexed[match]{i, match{c: c, res: res}})
			return
		}
	}

	run.notFound = append(run.notFound, indexed[model.CandidateOutcome]{i, outcome(c, "", ReasonNoMatch)})
}

// place は照合できた候補を、重複・登録済み・保留・エラーのいずれかに振り分ける。
// エントリを確保するのは保留または登録済みになった場合だけで、確認に失敗した候補は
// 後続の同じエントリの候補を妨げない。
func (s *Service) place(ctx context.Context, run *fetchRun, i int, c *model.RawCandidate, res *matching.Result) {
	entryID := res.Entry.ID
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("照合済み候補の振り分け中にパニックが発生しました",
				slog.String("source_title", c.SourceTitle),
				slog.Any("panic", rec),
			)
			run.errs = append(run.errs, indexed[model.CandidateOutcome]{i, outcome(c, entryID, fmt.Sprintf("panic: %v", rec))})
		}
	}()

	if _, dup := run.claimed[entryID]; dup {
		run.skipped = append(run.skipped, indexed[model.CandidateOutcome]{i, outcome(c, entryID, ReasonDuplicate)})
		return
	}

	exists, err := s.tracking.Exists(ctx, run.userID, entryID)
	if err != nil {
		run.errs = append(run.errs, indexed[model.CandidateOutcome]{i, outcome(c, entryID, fmt.Sprintf("読書記録の確認に失敗しました: %v", err))})
		return
	}
	run.claimed[entryID] = struct{}{}
	if exists {
		run.alreadyExists = append(run.alreadyExists, indexed[model.CandidateOutcome]{i, outcome(c, entryID, ReasonAlreadyTracked)})
		return
	}

	run.pending = append(run.pending, indexed[model.PendingImportEntry]{i, s.pendingEntry(c, res)})
}

func (s *Service) pendingEntry(c *model.RawCandidate, res *matching.Result) model.PendingImportEntry {
	notes := c.Notes
	if s.sanitizer != nil {
		notes = s.sanitizer.PlainText(notes)
	}
	return model.PendingImportEntry{
		CatalogEntryID: res.Entry.ID,
		CatalogTitle:   res.Entry.Title,
		CoverImage:     res.Entry.CoverImage,
		SourceTitle:    c.SourceTitle,
		MatchMethod:    res.Method,
		Status:         c.Status,
		Progress:       c.Progress,
		Rating:         RescaleRating(c.Score, c.ScoreScale),
		StartDate:      c.StartDate,
		FinishDate:     c.FinishDate,
		Notes:          notes,
	}
}

// RescaleRating はソース固有スケールの評価を内部スケール（0〜5、0.5刻み）に変換する。
// 評価が無い、または0以下の場合はnilを返す。
func RescaleRating(score *float64, scale float64) *float64 {
	if score == nil || *score <= 0 || scale <= 0 {
		return nil
	}
	v := math.Round(*score/scale*ratingScale*2) / 2
	v = math.Min(v, ratingScale)
	if v <= 0 {
		return nil
	}
	return &v
}

func outcome(c *model.RawCandidate, catalogEntryID, reason string) model.CandidateOutcome {
	return model.CandidateOutcome{
		SourceTitle:    c.SourceTitle,
		ExternalID:     c.ExternalID,
		CatalogEntryID: catalogEntryID,
		Reason:         reason,
	}
}

// result は各バケットをソース順に並べ直してFetchResultを組み立てる。
func (r *fetchRun) result(src model.DataSource) *model.FetchResult {
	res := &model.FetchResult{
		Source:         src,
		PendingEntries: values(r.pending),
		NotFound:       values(r.notFound),
		Skipped:        values(r.skipped),
		AlreadyExists:  values(r.alreadyExists),
		Errors:         values(r.errs),
	}
	res.Stats = model.FetchStats{
		Pending:       len(res.PendingEntries),
		NotFound:      len(res.NotFound),
		Skipped:       len(res.Skipped),
		AlreadyExists: len(res.AlreadyExists),
		Errors:        len(res.Errors),
	}
	res.Stats.Total = res.Stats.Pending + res.Stats.NotFound + res.Stats.Skipped + res.Stats.AlreadyExists + res.Stats.Errors
	return res
}

// values はソース順に並べた値を返す。空の場合もnilではなく空スライスを返す。
func values[T any](items []indexed[T]) []T {
	sort.SliceStable(items, func(a, b int) bool { return items[a].idx < items[b].idx })
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = it.v
	}
	return out
}

func (s *Service) recordResult(src model.DataSource, res *model.FetchResult) {
	name := string(src)
	s.metrics.RecordFetch(name, "ok")
	s.metrics.RecordCandidates(name, bucketPending, res.Stats.Pending)
	s.metrics.RecordCandidates(name, bucketNotFound, res.Stats.NotFound)
	s.metrics.RecordCandidates(name, bucketSkipped, res.Stats.Skipped)
	s.metrics.RecordCandidates(name, bucketAlreadyExists, res.Stats.AlreadyExists)
	s.metrics.RecordCandidates(name, bucketErrors, res.Stats.Errors)
}
