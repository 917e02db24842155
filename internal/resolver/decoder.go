package resolver

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedBlock はMarkdownのコードブロック（```json ... ```）に一致する。
var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// emptyObject はどの方法でもJSONを取り出せなかった場合の値。
var emptyObject = json.RawMessage(`{}`)

// ExtractJSON は生成AIの応答からJSON値を取り出す。
// 応答全体、コードブロック、最初の括弧から対応する閉じ括弧までの範囲の順に試し、
// いずれも失敗した場合は空オブジェクトを返す。
func ExtractJSON(reply string) json.RawMessage {
	trimmed := strings.TrimSpace(reply)

	if isJSONContainer(trimmed) {
		return json.RawMessage(trimmed)
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(trimmed, -1) {
		if body := strings.TrimSpace(m[1]); isJSONContainer(body) {
			return json.RawMessage(body)
		}
	}

	if body, ok := sliceBalanced(trimmed); ok && json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}

	return emptyObject
}

func isJSONContainer(s string) bool {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return false
	}
	return json.Valid([]byte(s))
}

// sliceBalanced は最初の '{' または '[' から、対応する閉じ括弧までを切り出す。
// 文字列リテラル内の括弧とエスケープは無視する。
func sliceBalanced(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// translationReply は生成AIに要求する応答の形。
type translationReply struct {
	Romaji    string `json:"romaji"`
	English   string `json:"english"`
	Native    string `json:"native"`
	Sensitive bool   `json:"sensitive"`
}

// decodeTranslation は応答を書き換え候補に変換する。配列が返った場合は先頭の要素を使う。
func decodeTranslation(reply string) translationReply {
	raw := ExtractJSON(reply)

	var out translationReply
	if len(raw) > 0 && raw[0] == '[' {
		var list []translationReply
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			out = list[0]
		}
		return out
	}

	_ = json.Unmarshal(raw, &out)
	return out
}
