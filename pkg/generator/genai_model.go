package generator

import (
	"context"
	"fmt"
	"sync"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// genAIModel は genai.Client を GeminiModel として扱うためのアダプタです。
type genAIModel struct {
	client *genai.Client
}

// NewGenAIModel は genai SDK のクライアントを GeminiModel に変換します。
func NewGenAIModel(client *genai.Client) GeminiModel {
	return &genAIModel{client: client}
}

func (m *genAIModel) GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	if opts.AspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: opts.AspectRatio}
	}
	if opts.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.SystemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := m.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, err
	}
	return &gemini.Response{RawResponse: resp}, nil
}

// NewGenAIModelFactory は API キーごとに genai.Client を作成してキャッシュするファクトリを返します。
func NewGenAIModelFactory() GeminiModelFactory {
	var mu sync.Mutex
	clients := make(map[string]GeminiModel)

	return func(ctx context.Context, apiKey string) (GeminiModel, error) {
		mu.Lock()
		defer mu.Unlock()
		if m, ok := clients[apiKey]; ok {
			return m, nil
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("genai クライアントの初期化に失敗しました: %w", err)
		}
		m := NewGenAIModel(client)
		clients[apiKey] = m
		return m, nil
	}
}
