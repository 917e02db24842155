package matching

import (
	"context"
	"fmt"

	"github.com/ted-sama/trackr/internal/model"
)

// ExternalLookup はワーキングセットに無い外部IDをカタログから直接引くためのインターフェース。
// 該当が無い場合は (nil, nil) を返す。
type ExternalLookup interface {
	FindByExternalID(ctx context.Context, externalID string, source model.DataSource) (*model.CatalogEntry, error)
}

// Query は照合対象の1件分の入力。
type Query struct {
	Title      string
	ExternalID *string
	DataSource model.DataSource
}

// Result は照合結果。
type Result struct {
	Entry  model.CatalogEntry
	Method model.MatchMethod
	Score  float64
}

type externalKey struct {
	source model.DataSource
	id     string
}

type indexedEntry struct {
	entry        model.CatalogEntry
	primary      string
	alternatives []string
}

// Matcher は1回の取り込み実行の間だけ使うカタログ照合器。
// 構築後は不変のため、複数のgoroutineから同時に参照してよい。
type Matcher struct {
	entries    []indexedEntry
	byExternal map[externalKey]int
	scorer     Scorer
	lookup     ExternalLookup
}

// Option はMatcherの設定を変更する。
type Option func(*Matcher)

// WithScorer は類似度計算に使うScorerを指定する。
func WithScorer(s Scorer) Option {
	return func(m *Matcher) {
		m.scorer = s
	}
}

// WithExternalLookup はインデックスに無い外部IDの問い合わせ先を指定する。
func WithExternalLookup(l ExternalLookup) Option {
	return func(m *Matcher) {
		m.lookup = l
	}
}

// NewMatcher はワーキングセットからMatcherを構築する。
// タイトルの正規化と外部IDのインデックス作成はここで1回だけ行う。
func NewMatcher(entries []model.CatalogEntry, opts ...Option) *Matcher {
	m := &Matcher{
		entries:    make([]indexedEntry, 0, len(entries)),
		byExternal: make(map[externalKey]int),
		scorer:     NewScorer(DefaultThresholds()),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, e := range entries {
		ie := indexedEntry{
			entry:   e,
			primary: Normalize(e.Title),
		}
		for _, alt := range e.AlternativeTitles {
			if n := Normalize(alt); n != "" {
				ie.alternatives = append(ie.alternatives, n)
			}
		}
		m.entries = append(m.entries, ie)

		if e.ExternalID != nil && *e.ExternalID != "" {
			key := externalKey{source: e.DataSource, id: *e.ExternalID}
			if _, exists := m.byExternal[key]; !exists {
				m.byExternal[key] = len(m.entries) - 1
			}
		}
	}

	return m
}

// Len はワーキングセットの件数を返す。
func (m *Matcher) Len() int {
	return len(m.entries)
}

// Match はクエリに対応するカタログエントリを探す。
// 外部ID、完全一致（主タイトル→別名）、ファジー一致（主タイトル→別名）の順に試し、
// しきい値に届かない場合は推測せずnilを返す。
// エラーは外部IDの問い合わせに失敗した場合のみ返る。
func (m *Matcher) Match(ctx context.Context, q Query) (*Result, error) {
	if q.ExternalID != nil && *q.ExternalID != "" {
		key := externalKey{source: q.DataSource, id: *q.ExternalID}
		if idx, ok := m.byExternal[key]; ok {
			return &Result{Entry: m.entries[idx].entry, Method: model.MatchExternalID, Score: 1.0}, nil
		}
		if m.lookup != nil {
			entry, err := m.lookup.FindByExternalID(ctx, *q.ExternalID, q.DataSource)
			if err != nil {
				return nil, fmt.Errorf("外部IDによるカタログ検索に失敗しました: %w", err)
			}
			if entry != nil {
				return &Result{Entry: *entry, Method: model.MatchExternalID, Score: 1.0}, nil
			}
		}
	}

	return m.MatchTitle(q.Title), nil
}

// MatchTitle はタイトルのみで照合する。AIによる書き換え候補の照合にも使う。
func (m *Matcher) MatchTitle(title string) *Result {
	norm := Normalize(title)
	if norm == "" {
		return nil
	}

	for i := range m.entries {
		if m.entries[i].primary == norm {
			return &Result{Entry: m.entries[i].entry, Method: model.MatchExact, Score: 1.0}
		}
	}
	for i := range m.entries {
		for _, alt := range m.entries[i].alternatives {
			if alt == norm {
				return &Result{Entry: m.entries[i].entry, Method: model.MatchExactAlternative, Score: 1.0}
			}
		}
	}

	th := m.scorer.Thresholds()

	bestIdx, bestScore := -1, 0.0
	for i := range m.entries {
		// 同点の場合は先に見つかったエントリを残す
		if s := m.scorer.scoreNormalized(norm, m.entries[i].primary); s > bestScore {
			bestIdx, bestScore = i, s
		}
	}
	if bestIdx >= 0 && bestScore >= th.PrimaryThreshold {
		return &Result{Entry: m.entries[bestIdx].entry, Method: model.MatchFuzzyPrimary, Score: bestScore}
	}

	bestIdx, bestScore = -1, 0.0
	for i := range m.entries {
		for _, alt := range m.entries[i].alternatives {
			if s := m.scorer.scoreNormalized(norm, alt); s > bestScore {
				bestIdx, bestScore = i, s
			}
		}
	}
	if bestIdx >= 0 && bestScore >= th.AlternativeThreshold {
		return &Result{Entry: m.entries[bestIdx].entry, Method: model.MatchFuzzyAlternative, Score: bestScore}
	}

	return nil
}
