package generator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// DefaultGeminiModel は GeminiRequest.Model が空のときに使うモデルです。
const DefaultGeminiModel = "gemini-2.5-flash-image"

// GeminiModelFactory は API キーから GeminiModel を作成します。
type GeminiModelFactory func(ctx context.Context, apiKey string) (GeminiModel, error)

// GeminiBackend は Gemini の画像生成を担当します。
type GeminiBackend struct {
	newModel     GeminiModelFactory
	defaultModel string
}

// NewGeminiBackend は GeminiBackend を初期化するのだ。
func NewGeminiBackend(factory GeminiModelFactory, defaultModel string) (*GeminiBackend, error) {
	if factory == nil {
		return nil, fmt.Errorf("factory (GeminiModelFactory) is required")
	}
	if defaultModel == "" {
		defaultModel = DefaultGeminiModel
	}
	return &GeminiBackend{newModel: factory, defaultModel: defaultModel}, nil
}

// Generate はプロンプトと参照画像から画像を生成するのだ。
func (g *GeminiBackend) Generate(ctx context.Context, cred credentials.Credential, req domain.GenerationRequest) (*domain.Result, error) {
	r, ok := req.(domain.GeminiRequest)
	if !ok {
		return nil, fmt.Errorf("%w: gemini backend cannot handle %s", ErrUnsupportedProvider, req.Provider())
	}

	model := r.Model
	if model == "" {
		model = g.defaultModel
	}
	client, err := g.newModel(ctx, cred.Key)
	if err != nil {
		return nil, fmt.Errorf("Geminiクライアントの作成に失敗しました: %w", err)
	}

	parts := []*genai.Part{{Text: r.Prompt}}
	for _, ref := range r.ReferenceImages {
		if part := toImagePart(ref); part != nil {
			parts = append(parts, part)
		}
	}
	slog.InfoContext(ctx, "Gemini生成リクエスト準備中", "model", model, "ref_count", len(parts)-1, "credential", cred)

	resp, err := client.GenerateWithParts(ctx, model, parts, gemini.GenerateOptions{AspectRatio: r.AspectRatio})
	if err != nil {
		return nil, fmt.Errorf("Gemini画像生成エラー: %w", err)
	}
	return parseGeminiResponse(resp)
}

// toImagePart は参照画像を必要に応じて JPEG に圧縮し、インラインパーツにします。
// 画像として認識できないデータは nil を返します。
func toImagePart(data []byte) *genai.Part {
	if len(data) == 0 {
		return nil
	}
	finalData, mimeType := data, http.DetectContentType(data)
	if UseImageCompression {
		finalData, mimeType = imgutil.CompressIfSmaller(data, ImageCompressionQuality)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: finalData}}
}

func parseGeminiResponse(resp *gemini.Response) (*domain.Result, error) {
	if resp == nil || resp.RawResponse == nil || len(resp.RawResponse.Candidates) == 0 {
		return nil, fmt.Errorf("invalid response")
	}
	candidate := resp.RawResponse.Candidates[0]
	switch candidate.FinishReason {
	case "", genai.FinishReasonUnspecified, genai.FinishReasonStop:
	default:
		return nil, fmt.Errorf("%w: 画像生成が異常終了しました (FinishReason: %s)", ErrGenerationFailed, candidate.FinishReason)
	}
	if candidate.Content == nil {
		return nil, ErrEmptyResult
	}

	result := &domain.Result{}
	var texts []string
	for _, part := range candidate.Content.Parts {
		switch {
		case part.InlineData != nil && result.Image == nil:
			result.Image = &domain.ImageResponse{Data: part.InlineData.Data, MimeType: part.InlineData.MIMEType}
		case part.Text != "":
			texts = append(texts, part.Text)
		}
	}
	result.Text = strings.Join(texts, "\n")
	if result.Image == nil && result.Text == "" {
		return nil, ErrEmptyResult
	}
	return result, nil
}
