package matching

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Thresholds は類似度計算とファジー照合のしきい値。
// 値は経験的に決めたもので、MATCHING_CONFIG_PATHのYAMLで上書きできる。
type Thresholds struct {
	// MinSubstringLength は部分一致を認める短い側の最小文字数。
	MinSubstringLength int `yaml:"min_substring_length"`
	// MinSubstringRatio は部分一致を認める長さの比（短い側/長い側）の下限。
	MinSubstringRatio float64 `yaml:"min_substring_ratio"`
	// SubstringScore は部分一致時のスコア。
	SubstringScore float64 `yaml:"substring_score"`
	// MinSharedTokens はトークン重複スコアを与えるのに必要な共通トークン数。
	MinSharedTokens int `yaml:"min_shared_tokens"`
	// PrimaryThreshold は主タイトルに対するファジー照合の採用下限。
	PrimaryThreshold float64 `yaml:"primary_threshold"`
	// AlternativeThreshold は別名タイトルに対するファジー照合の採用下限。
	AlternativeThreshold float64 `yaml:"alternative_threshold"`
}

// DefaultThresholds はデフォルトのしきい値を返す。
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSubstringLength:   8,
		MinSubstringRatio:    0.75,
		SubstringScore:       0.9,
		MinSharedTokens:      2,
		PrimaryThreshold:     0.95,
		AlternativeThreshold: 0.90,
	}
}

// Validate はしきい値が取りうる範囲に収まっているかを検証する。
func (t Thresholds) Validate() error {
	if t.MinSubstringLength < 1 {
		return fmt.Errorf("min_substring_length は1以上である必要があります: %d", t.MinSubstringLength)
	}
	if t.MinSharedTokens < 1 {
		return fmt.Errorf("min_shared_tokens は1以上である必要があります: %d", t.MinSharedTokens)
	}
	for name, v := range map[string]float64{
		"min_substring_ratio":   t.MinSubstringRatio,
		"substring_score":       t.SubstringScore,
		"primary_threshold":     t.PrimaryThreshold,
		"alternative_threshold": t.AlternativeThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s は0より大きく1以下である必要があります: %v", name, v)
		}
	}
	return nil
}

// LoadThresholds はYAMLファイルからしきい値を読み込む。
// ファイルに記載のない項目はデフォルト値のまま残る。pathが空の場合はデフォルト値を返す。
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("しきい値ファイルの読み込みに失敗しました: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("しきい値ファイルのパースに失敗しました: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// stopWords はトークン比較から除外する短い機能語（仏・英・ローマ字表記の日本語助詞）。
// 2文字以下の語のみが対象となる。
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "of": {}, "in": {}, "on": {}, "at": {}, "to": {},
	"le": {}, "la": {}, "l": {}, "de": {}, "du": {}, "d": {}, "un": {}, "et": {}, "en": {}, "au": {},
	"no": {}, "ga": {}, "wa": {}, "wo": {}, "ni": {}, "e": {}, "mo": {}, "na": {},
}

// Scorer はしきい値を保持してタイトル間の類似度を計算する。
type Scorer struct {
	th Thresholds
}

// NewScorer は指定したしきい値でScorerを生成する。
func NewScorer(th Thresholds) Scorer {
	return Scorer{th: th}
}

// Thresholds はScorerが使用しているしきい値を返す。
func (s Scorer) Thresholds() Thresholds {
	return s.th
}

// Score は2つのタイトルの類似度を[0,1]で返す。Score(a,b) == Score(b,a)。
func Score(a, b string) float64 {
	return NewScorer(DefaultThresholds()).Score(a, b)
}

// Score は2つのタイトルを正規化したうえで類似度を返す。
func (s Scorer) Score(a, b string) float64 {
	return s.scoreNormalized(Normalize(a), Normalize(b))
}

// scoreNormalized は正規化済みのタイトル同士の類似度を返す。
// 完全一致、部分一致、トークン重複の順に評価し、最初に成立した規則を採用する。
func (s Scorer) scoreNormalized(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}

	shorter, longer := a, b
	if utf8.RuneCountInString(shorter) > utf8.RuneCountInString(longer) {
		shorter, longer = longer, shorter
	}
	shortLen := utf8.RuneCountInString(shorter)
	longLen := utf8.RuneCountInString(longer)
	if shortLen >= s.th.MinSubstringLength &&
		float64(shortLen)/float64(longLen) >= s.th.MinSubstringRatio &&
		strings.Contains(longer, shorter) {
		return s.th.SubstringScore
	}

	return s.tokenOverlap(a, b)
}

func (s Scorer) tokenOverlap(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	if shared < s.th.MinSharedTokens {
		return 0
	}

	return float64(shared) / float64(max(len(ta), len(tb)))
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 2 {
			if _, stop := stopWords[f]; stop {
				continue
			}
		}
		set[f] = struct{}{}
	}
	return set
}
