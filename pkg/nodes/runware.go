package nodes

import (
	"context"
	"fmt"

	"github.com/shouni/cloud-image-nodes/pkg/dimension"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
	"github.com/shouni/cloud-image-nodes/pkg/lora"
	"github.com/shouni/cloud-image-nodes/pkg/utils"
)

// RunwareParams は RunWareAPI のパラメータです。ModelAIR は CivitAI の AIR 形式のモデル名です。
type RunwareParams struct {
	PositivePrompt string  `yaml:"positive_prompt"`
	NegativePrompt string  `yaml:"negative_prompt"`
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	Steps          int     `yaml:"steps"`
	APIKey         string  `yaml:"api_key"`
	Seed           int64   `yaml:"seed"`
	CFG            float64 `yaml:"cfg"`
	ModelAIR       string  `yaml:"model_air"`
	Loras          *string `yaml:"loras"`
}

func DefaultRunwareParams() RunwareParams {
	return RunwareParams{
		Width:  1024,
		Height: 1024,
		Steps:  20,
		Seed:   1337,
		CFG:    7,
	}
}

func (r *Runner) Runware(ctx context.Context, p RunwareParams) (Output, error) {
	loras, err := lora.RunwareConvention.ParseForRequest(fragment(p.Loras))
	if err != nil {
		return Output{}, err
	}
	return r.generateImage(ctx, p.APIKey, domain.RunwareRequest{
		Model:          p.ModelAIR,
		PositivePrompt: p.PositivePrompt,
		NegativePrompt: p.NegativePrompt,
		Width:          p.Width,
		Height:         p.Height,
		Steps:          p.Steps,
		Seed:           utils.Ptr(p.Seed),
		CFGScale:       p.CFG,
		Loras:          lora.RunwareConvention.Payload(loras),
	})
}

// RunwareFluxLoraImg2ImgParams は RunwareFluxLoraImg2Img のパラメータです。
type RunwareFluxLoraImg2ImgParams struct {
	Image          *ImageInput `yaml:"image"`
	Loras          *string     `yaml:"loras"`
	PositivePrompt string      `yaml:"positive_prompt"`
	NegativePrompt string      `yaml:"negative_prompt"`
	Steps          int         `yaml:"steps"`
	APIKey         string      `yaml:"api_key"`
	Seed           int64       `yaml:"seed"`
	CFG            float64     `yaml:"cfg"`
	I2IStrength    float64     `yaml:"i2i_strength"`
	ModelAIR       string      `yaml:"model_air"`
	AspectRatio    string      `yaml:"aspect_ratio"`
	TargetSize     int         `yaml:"target_size"`
}

func DefaultRunwareFluxLoraImg2ImgParams() RunwareFluxLoraImg2ImgParams {
	return RunwareFluxLoraImg2ImgParams{
		Steps:       25,
		Seed:        1337,
		CFG:         7.0,
		I2IStrength: 0.75,
		ModelAIR:    "runware:101@1",
		AspectRatio: dimension.Labels()[0],
		TargetSize:  1024,
	}
}

// RunwareFluxLoraImg2Img は入力画像を Runware が受け付けるサイズに合わせて
// リサイズし、LoRA 付きの img2img を実行します。
func (r *Runner) RunwareFluxLoraImg2Img(ctx context.Context, p RunwareFluxLoraImg2ImgParams) (Output, error) {
	if !p.Image.present() {
		return Output{}, ErrMissingImage
	}
	policy, err := dimension.ParsePolicy(p.AspectRatio)
	if err != nil {
		return Output{}, err
	}
	loras, err := lora.RunwareConvention.ParseForRequest(fragment(p.Loras))
	if err != nil {
		return Output{}, err
	}

	size := dimension.Negotiate(p.Image.Width, p.Image.Height, policy, p.TargetSize, dimension.DefaultBounds())
	resized := imgutil.Resize(p.Image.Image(), size.Width, size.Height)
	png, err := imgutil.EncodePNG(resized)
	if err != nil {
		return Output{}, fmt.Errorf("入力画像の変換に失敗しました: %w", err)
	}

	return r.generateImage(ctx, p.APIKey, domain.RunwareRequest{
		Model:          p.ModelAIR,
		PositivePrompt: p.PositivePrompt,
		NegativePrompt: p.NegativePrompt,
		Width:          size.Width,
		Height:         size.Height,
		Steps:          p.Steps,
		Seed:           utils.Ptr(p.Seed),
		CFGScale:       p.CFG,
		Strength:       utils.Ptr(p.I2IStrength),
		SeedImage:      png,
		Loras:          lora.RunwareConvention.Payload(loras),
	})
}
