package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel はGEMINI_MODEL未設定時に使うモデル名。
const DefaultGeminiModel = "gemini-1.5-flash"

// Gemini はGoogle Geminiを使うGenerator実装。
type Gemini struct {
	client *genai.Client
	model  string
}

var _ Generator = (*Gemini)(nil)

// NewGemini はGeminiクライアントを生成する。Closeで解放すること。
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY が設定されていません")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("Geminiクライアントの生成に失敗しました: %w", err)
	}

	return &Gemini{client: client, model: model}, nil
}

// Generate はプロンプトに対する応答テキストを返す。
func (g *Gemini) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(float32(opts.Temperature))
	m.ResponseMIMEType = "application/json"

	resp, err := m.GenerateContent(ctx, genai.Text(withGrounding(prompt, opts)))
	if err != nil {
		return "", fmt.Errorf("Geminiの生成呼び出しに失敗しました: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("Geminiの応答形式が想定外です")
	}
	return b.String(), nil
}

// Close はクライアントを解放する。
func (g *Gemini) Close() error {
	return g.client.Close()
}
