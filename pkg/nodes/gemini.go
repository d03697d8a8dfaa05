package nodes

import (
	"context"
	"fmt"

	"github.com/shouni/cloud-image-nodes/pkg/domain"
)

// GeminiImageParams は GeminiImageAPI のパラメータです。Image は任意の参照画像です。
type GeminiImageParams struct {
	Prompt      string      `yaml:"prompt"`
	AspectRatio string      `yaml:"aspect_ratio"`
	Model       string      `yaml:"model"`
	APIKey      string      `yaml:"api_key"`
	Image       *ImageInput `yaml:"image"`
}

func DefaultGeminiImageParams() GeminiImageParams {
	return GeminiImageParams{AspectRatio: "1:1"}
}

func (r *Runner) GeminiImage(ctx context.Context, p GeminiImageParams) (Output, error) {
	req := domain.GeminiRequest{
		Model:       p.Model,
		Prompt:      p.Prompt,
		AspectRatio: p.AspectRatio,
	}
	if p.Image.present() {
		png, err := p.Image.PNG()
		if err != nil {
			return Output{}, fmt.Errorf("参照画像の変換に失敗しました: %w", err)
		}
		req.ReferenceImages = [][]byte{png}
	}
	return r.generateImage(ctx, p.APIKey, req)
}
