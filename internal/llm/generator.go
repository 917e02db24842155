// Package llm はタイトル解決に使う生成AIプロバイダとの通信を提供する。
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Options は1回の生成呼び出しのオプション。
type Options struct {
	// SearchGrounding はWeb検索による裏付けを要求するかどうか。
	SearchGrounding bool
	// Temperature は生成のランダム性。
	Temperature float64
}

// Generator はプロンプトからテキストを生成するプロバイダのインターフェース。
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// ErrEmptyResponse はプロバイダが空の応答を返した場合のエラー。
var ErrEmptyResponse = errors.New("生成AIの応答が空です")

// Provider は設定で選択できるプロバイダの種類。
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
	ProviderNone   Provider = "none"
)

// ParseProvider は設定値をProviderに変換する。
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderGemini, ProviderOpenAI, ProviderNone:
		return p, nil
	case "":
		return ProviderNone, nil
	default:
		return "", fmt.Errorf("未対応の生成AIプロバイダです: %s", s)
	}
}

// groundingHint は検索による裏付けを要求する場合にプロンプトへ付与する指示。
const groundingHint = "Before answering, verify the official published titles using web search results where available.\n\n"

func withGrounding(prompt string, opts Options) string {
	if opts.SearchGrounding {
		return groundingHint + prompt
	}
	return prompt
}
