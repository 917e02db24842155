// Package matching はタイトルの正規化・類似度計算・カタログ照合を提供する。
package matching

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// latinMarks はラテン文字のアクセント記号（Combining Diacritical Marks）。
// 仮名の濁点・半濁点は別ブロックのため除去対象に含めない。
var latinMarks = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0300, Hi: 0x036f, Stride: 1},
	},
}

// volumeMarker は巻数表記（"tome 3"、"vol 12"、"volume 1"、"t3"）に一致する。
var volumeMarker = regexp.MustCompile(`\b(?:tome|volume|vol|t)\s?\d+\b`)

// Normalize はタイトルを比較用の正規形に変換する。
// 小文字化、アクセント除去、"&"の"and"への展開、記号の空白化、巻数表記の除去を行う。
// 同じ入力には常に同じ出力を返し、Normalize(Normalize(x)) == Normalize(x) が成り立つ。
func Normalize(title string) string {
	if title == "" {
		return ""
	}

	s := strings.ToLower(title)
	s = stripAccents(s)
	s = strings.ReplaceAll(s, "&", " and ")
	s = collapseNonAlnum(s)

	// 除去によって新たな巻数表記が隣接することがあるため、不動点まで繰り返す
	for {
		next := collapseNonAlnum(volumeMarker.ReplaceAllString(s, " "))
		if next == s {
			break
		}
		s = next
	}

	return s
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(latinMarks)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// collapseNonAlnum は文字・数字・結合記号以外の連続を1つの空白にまとめ、前後の空白を除く。
func collapseNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}
