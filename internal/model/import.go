package model

import (
	"strings"
	"time"
)

// ReadingStatus はユーザーの読書状況を表す。
type ReadingStatus string

const (
	StatusReading    ReadingStatus = "reading"
	StatusCompleted  ReadingStatus = "completed"
	StatusOnHold     ReadingStatus = "on_hold"
	StatusDropped    ReadingStatus = "dropped"
	StatusPlanToRead ReadingStatus = "plan_to_read"
)

// IsValid は内部ステータスとして有効な値かどうかを返す。
func (s ReadingStatus) IsValid() bool {
	switch s {
	case StatusReading, StatusCompleted, StatusOnHold, StatusDropped, StatusPlanToRead:
		return true
	}
	return false
}

// Progress は読書の進捗を表す。ソースによって章数・巻数のどちらか、または両方が入る。
type Progress struct {
	Chapters *int `json:"chapters,omitempty" validate:"omitempty,gte=0"`
	Volumes  *int `json:"volumes,omitempty" validate:"omitempty,gte=0"`
}

// RawCandidate はソースアダプタが返す、カタログ照合前の1件分の取り込み候補。
// Statusが空の場合、ソース側のステータスを内部ステータスへ変換できなかったことを示す。
type RawCandidate struct {
	SourceTitle string
	// AlternativeTitles はソース側が提供する別名（英題・原題など）。
	AlternativeTitles []string
	ExternalID        *string
	DataSource        DataSource
	RawStatus         string
	Status            ReadingStatus
	Progress          Progress
	// Score はソース固有のスケールでの評価。ScoreScaleがその上限。
	Score      *float64
	ScoreScale float64
	StartDate  *time.Time
	FinishDate *time.Time
	Notes      string
}

// MatchMethod はカタログエントリがどの経路で特定されたかを表す。
type MatchMethod string

const (
	MatchExternalID       MatchMethod = "external_id"
	MatchExact            MatchMethod = "exact"
	MatchExactAlternative MatchMethod = "exact_alternative"
	MatchFuzzyPrimary     MatchMethod = "fuzzy_primary"
	MatchFuzzyAlternative MatchMethod = "fuzzy_alternative"
	MatchAITranslation    MatchMethod = "ai_translation"
)

// PendingImportEntry はユーザーの確認待ちとなっている取り込みエントリ。
// クライアントが保持し、確認時にそのまま送り返される。
type PendingImportEntry struct {
	CatalogEntryID string        `json:"catalogEntryId" validate:"required"`
	CatalogTitle   string        `json:"catalogTitle"`
	CoverImage     *string       `json:"coverImage,omitempty"`
	SourceTitle    string        `json:"sourceTitle"`
	MatchMethod    MatchMethod   `json:"matchMethod"`
	Status         ReadingStatus `json:"status" validate:"required,oneof=reading completed on_hold dropped plan_to_read"`
	Progress       Progress      `json:"progress"`
	// Rating は内部スケール（0〜5、0.5刻み）での評価。
	Rating     *float64   `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5,half_step"`
	StartDate  *time.Time `json:"startDate,omitempty"`
	FinishDate *time.Time `json:"finishDate,omitempty"`
	Notes      string     `json:"notes,omitempty" validate:"max=10000"`
}

// CandidateOutcome は保留以外のバケットに入った候補の詳細。
type CandidateOutcome struct {
	SourceTitle    string  `json:"sourceTitle"`
	ExternalID     *string `json:"externalId,omitempty"`
	CatalogEntryID string  `json:"catalogEntryId,omitempty"`
	Reason         string  `json:"reason"`
}

// FetchStats は取り込み結果の件数集計。
type FetchStats struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	NotFound      int `json:"notFound"`
	Skipped       int `json:"skipped"`
	AlreadyExists int `json:"alreadyExists"`
	Errors        int `json:"errors"`
}

// FetchResult は取り込みフェッチの結果。
// すべての候補はちょうど1つのバケットに入り、各バケット内はソース順に並ぶ。
type FetchResult struct {
	Source         DataSource           `json:"source"`
	PendingEntries []PendingImportEntry `json:"pendingEntries"`
	NotFound       []CandidateOutcome   `json:"notFound"`
	Skipped        []CandidateOutcome   `json:"skipped"`
	AlreadyExists  []CandidateOutcome   `json:"alreadyExists"`
	Errors         []CandidateOutcome   `json:"errors"`
	Stats          FetchStats           `json:"stats"`
}

// TrackingRecord はユーザーと作品の組ごとに高々1件存在する読書記録。
type TrackingRecord struct {
	ID             string
	UserID         string
	CatalogEntryID string
	Status         ReadingStatus
	Progress       Progress
	Rating         *float64
	StartDate      *time.Time
	FinishDate     *time.Time
	Notes          string
	CreatedAt      time.Time
}

// ConfirmResult は取り込み確認の結果。
type ConfirmResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// TitleTranslation はAIによるタイトルの書き換え結果。
type TitleTranslation struct {
	SourceTitle      string
	Romanized        string
	English          string
	Native           string
	FlaggedSensitive bool
}

// Candidates は空でない書き換え候補を、ローマ字・英語・原語の優先順で重複なく返す。
func (t TitleTranslation) Candidates() []string {
	var out []string
	seen := make(map[string]struct{}, 3)
	for _, c := range []string{t.Romanized, t.English, t.Native} {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
