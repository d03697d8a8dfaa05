package nodes

import (
	"context"
	"fmt"

	"github.com/shouni/cloud-image-nodes/pkg/dimension"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
	"github.com/shouni/cloud-image-nodes/pkg/lora"
)

// i2i ノードが送る画像の長辺の上限 (コスト対策)
const falMaxUploadSide = 1024

var llavaModels = map[string]string{
	"LLavaV15_13B": "fal-ai/llavav15-13b",
	"LLavaV16_34B": "fal-ai/llava-next",
}

// FalLLaVAParams は FalLLaVAAPI のパラメータです。
type FalLLaVAParams struct {
	Image     *ImageInput `yaml:"image"`
	Prompt    string      `yaml:"prompt"`
	MaxTokens int         `yaml:"max_tokens"`
	Temp      float64     `yaml:"temp"`
	TopP      float64     `yaml:"top_p"`
	Model     string      `yaml:"model"`
	APIKey    string      `yaml:"api_key"`
}

func DefaultFalLLaVAParams() FalLLaVAParams {
	return FalLLaVAParams{
		Prompt:    "Describe this image",
		MaxTokens: 64,
		Temp:      0.2,
		TopP:      1,
		Model:     "LLavaV15_13B",
	}
}

// FalLLaVA は画像の説明文を生成します。
func (r *Runner) FalLLaVA(ctx context.Context, p FalLLaVAParams) (Output, error) {
	if !p.Image.present() {
		return Output{}, ErrMissingImage
	}
	endpoint, err := choose("model", p.Model, llavaModels)
	if err != nil {
		return Output{}, err
	}
	png, err := p.Image.PNG()
	if err != nil {
		return Output{}, err
	}
	res, err := r.generate(ctx, p.APIKey, domain.FalRequest{
		Endpoint: endpoint,
		Arguments: map[string]any{
			"prompt":      p.Prompt,
			"max_tokens":  p.MaxTokens,
			"temperature": p.Temp,
			"top_p":       p.TopP,
		},
		UploadImage: png,
		UploadField: "image_url",
	})
	if err != nil {
		return Output{}, err
	}
	return Output{Text: res.Text}, nil
}

// FalAuraFlowParams は FalAuraFlowAPI のパラメータです。
type FalAuraFlowParams struct {
	Prompt       string  `yaml:"prompt"`
	Steps        int     `yaml:"steps"`
	APIKey       string  `yaml:"api_key"`
	Seed         int64   `yaml:"seed"`
	CFG          float64 `yaml:"cfg"`
	ExpandPrompt bool    `yaml:"expand_prompt"`
}

func DefaultFalAuraFlowParams() FalAuraFlowParams {
	return FalAuraFlowParams{Steps: 30, Seed: 1337, CFG: 3.5}
}

func (r *Runner) FalAuraFlow(ctx context.Context, p FalAuraFlowParams) (Output, error) {
	return r.generateImage(ctx, p.APIKey, domain.FalRequest{
		Endpoint: "fal-ai/aura-flow",
		Arguments: map[string]any{
			"prompt":              p.Prompt,
			"seed":                p.Seed,
			"guidance_scale":      p.CFG,
			"num_inference_steps": p.Steps,
			"num_images":          1,
			"expand_prompt":       p.ExpandPrompt,
		},
	})
}

// CascadeParams は Stable Cascade 系ノード (FalStableCascadeAPI, FalSoteDiffusionAPI) のパラメータです。
type CascadeParams struct {
	Prompt               string  `yaml:"prompt"`
	NegativePrompt       string  `yaml:"negative_prompt"`
	Width                int     `yaml:"width"`
	Height               int     `yaml:"height"`
	FirstStageSteps      int     `yaml:"first_stage_steps"`
	SecondStageSteps     int     `yaml:"second_stage_steps"`
	GuidanceScale        float64 `yaml:"guidance_scale"`
	DecoderGuidanceScale float64 `yaml:"decoder_guidance_scale"`
	APIKey               string  `yaml:"api_key"`
	Seed                 int64   `yaml:"seed"`
}

func DefaultStableCascadeParams() CascadeParams {
	return CascadeParams{
		NegativePrompt:       "ugly, deformed",
		Width:                1024,
		Height:               1024,
		FirstStageSteps:      20,
		SecondStageSteps:     10,
		GuidanceScale:        4.0,
		DecoderGuidanceScale: 0.0,
	}
}

func DefaultSoteDiffusionParams() CascadeParams {
	return CascadeParams{
		Prompt:               "newest, extremely aesthetic, best quality,",
		NegativePrompt:       "very displeasing, worst quality, monochrome, realistic, oldest",
		Width:                1024,
		Height:               1024,
		FirstStageSteps:      25,
		SecondStageSteps:     10,
		GuidanceScale:        8.0,
		DecoderGuidanceScale: 2.0,
	}
}

func (r *Runner) FalStableCascade(ctx context.Context, p CascadeParams) (Output, error) {
	return r.generateImage(ctx, p.APIKey, cascadeRequest("fal-ai/stable-cascade", p))
}

func (r *Runner) FalSoteDiffusion(ctx context.Context, p CascadeParams) (Output, error) {
	return r.generateImage(ctx, p.APIKey, cascadeRequest("fal-ai/stable-cascade/sote-diffusion", p))
}

func cascadeRequest(endpoint string, p CascadeParams) domain.FalRequest {
	return domain.FalRequest{
		Endpoint: endpoint,
		Arguments: map[string]any{
			"prompt":                      p.Prompt,
			"negative_prompt":             p.NegativePrompt,
			"image_size":                  imageSize(p.Width, p.Height),
			"first_stage_steps":           p.FirstStageSteps,
			"second_stage_steps":          p.SecondStageSteps,
			"guidance_scale":              p.GuidanceScale,
			"second_stage_guidance_scale": p.DecoderGuidanceScale,
			"enable_safety_checker":       false,
			"num_images":                  1,
			"seed":                        p.Seed,
		},
	}
}

// FalFluxLoraParams は FalFluxLoraAPI のパラメータです。Image があれば img2img になります。
type FalFluxLoraParams struct {
	Loras       *string     `yaml:"loras"`
	Prompt      string      `yaml:"prompt"`
	Width       int         `yaml:"width"`
	Height      int         `yaml:"height"`
	Steps       int         `yaml:"steps"`
	APIKey      string      `yaml:"api_key"`
	Seed        int64       `yaml:"seed"`
	CFG         float64     `yaml:"cfg"`
	NoDownscale bool        `yaml:"no_downscale"`
	I2IStrength float64     `yaml:"i2i_strength"`
	Image       *ImageInput `yaml:"image"`
}

func DefaultFalFluxLoraParams() FalFluxLoraParams {
	return FalFluxLoraParams{
		Width:       1024,
		Height:      1024,
		Steps:       25,
		Seed:        1337,
		CFG:         3.5,
		I2IStrength: 0.90,
	}
}

func (r *Runner) FalFluxLora(ctx context.Context, p FalFluxLoraParams) (Output, error) {
	loras, err := lora.FalConvention.ParseForRequest(fragment(p.Loras))
	if err != nil {
		return Output{}, err
	}

	req := domain.FalRequest{
		Endpoint: "fal-ai/flux-lora",
		Arguments: map[string]any{
			"prompt":                p.Prompt,
			"seed":                  p.Seed,
			"steps":                 p.Steps,
			"image_size":            imageSize(p.Width, p.Height),
			"guidance_scale":        p.CFG,
			"enable_safety_checker": false,
			"num_inference_steps":   p.Steps,
			"num_images":            1,
		},
	}
	if p.Image.present() {
		png, _, err := uploadImage(p.Image, p.NoDownscale)
		if err != nil {
			return Output{}, err
		}
		req.Endpoint = "fal-ai/flux-lora/image-to-image"
		req.UploadImage = png
		req.UploadField = "image_url"
		req.Arguments["strength"] = p.I2IStrength
	}
	lora.FalConvention.MergeInto(req.Arguments, loras)

	return r.generateImage(ctx, p.APIKey, req)
}

// FalFluxI2IParams は FalFluxI2IAPI のパラメータです。
type FalFluxI2IParams struct {
	Image       *ImageInput `yaml:"image"`
	Prompt      string      `yaml:"prompt"`
	Strength    float64     `yaml:"strength"`
	Steps       int         `yaml:"steps"`
	APIKey      string      `yaml:"api_key"`
	Seed        int64       `yaml:"seed"`
	CFG         float64     `yaml:"cfg"`
	NoDownscale bool        `yaml:"no_downscale"`
}

func DefaultFalFluxI2IParams() FalFluxI2IParams {
	return FalFluxI2IParams{Strength: 0.90, Steps: 25, Seed: 1337, CFG: 3.5}
}

func (r *Runner) FalFluxI2I(ctx context.Context, p FalFluxI2IParams) (Output, error) {
	if !p.Image.present() {
		return Output{}, ErrMissingImage
	}
	png, size, err := uploadImage(p.Image, p.NoDownscale)
	if err != nil {
		return Output{}, err
	}
	return r.generateImage(ctx, p.APIKey, domain.FalRequest{
		Endpoint: "fal-ai/flux/dev/image-to-image",
		Arguments: map[string]any{
			"prompt":                p.Prompt,
			"seed":                  p.Seed,
			"steps":                 p.Steps,
			"image_size":            imageSize(size.Width, size.Height),
			"strength":              p.Strength,
			"guidance_scale":        p.CFG,
			"enable_safety_checker": false,
			"num_inference_steps":   p.Steps,
			"num_images":            1,
		},
		UploadImage: png,
		UploadField: "image_url",
	})
}

const fluxSchnell = "schnell (4+ steps)"

// schnell は 8 ステップを超えるとエラーになるため上限を設ける
const fluxSchnellMaxSteps = 8

var fluxEndpoints = map[string]string{
	fluxSchnell:           "fal-ai/flux/schnell",
	"dev (25+ steps)":     "fal-ai/flux/dev",
	"pro 1.1":             "fal-ai/flux-pro/v1.1",
	"realism (25+ steps)": "fal-ai/flux-realism",
	"pro (25+ steps)":     "fal-ai/flux-pro",
}

// FalFluxParams は FalFluxAPI のパラメータです。
type FalFluxParams struct {
	Prompt       string  `yaml:"prompt"`
	Endpoint     string  `yaml:"endpoint"`
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	Steps        int     `yaml:"steps"`
	APIKey       string  `yaml:"api_key"`
	Seed         int64   `yaml:"seed"`
	CFGDevAndPro float64 `yaml:"cfg_dev_and_pro"`
}

func DefaultFalFluxParams() FalFluxParams {
	return FalFluxParams{
		Endpoint:     fluxSchnell,
		Width:        1024,
		Height:       1024,
		Steps:        4,
		Seed:         1337,
		CFGDevAndPro: 3.5,
	}
}

// FalFlux は Flux 系エンドポイントで画像を生成します。未知のエンドポイント名は dev として扱います。
func (r *Runner) FalFlux(ctx context.Context, p FalFluxParams) (Output, error) {
	steps := p.Steps
	if p.Endpoint == fluxSchnell {
		steps = min(steps, fluxSchnellMaxSteps)
	}
	endpoint, ok := fluxEndpoints[p.Endpoint]
	if !ok {
		endpoint = "fal-ai/flux/dev"
	}
	return r.generateImage(ctx, p.APIKey, domain.FalRequest{
		Endpoint: endpoint,
		Arguments: map[string]any{
			"prompt":                p.Prompt,
			"seed":                  p.Seed,
			"guidance_scale":        p.CFGDevAndPro,
			"safety_tolerance":      5,
			"image_size":            imageSize(p.Width, p.Height),
			"num_inference_steps":   steps,
			"enable_safety_checker": false,
			"num_images":            1,
		},
	})
}

func imageSize(w, h int) map[string]any {
	return map[string]any{"width": w, "height": h}
}

// uploadImage は長辺が falMaxUploadSide を超える画像を縮小し (noDownscale でなければ)、PNG にします。
func uploadImage(in *ImageInput, noDownscale bool) ([]byte, dimension.Dimension, error) {
	img := in.Image()
	size := dimension.Dimension{Width: in.Width, Height: in.Height}
	if !noDownscale {
		if d := dimension.Downscale(in.Width, in.Height, falMaxUploadSide); d != size {
			img = imgutil.Resize(img, d.Width, d.Height)
			size = d
		}
	}
	png, err := imgutil.EncodePNG(img)
	if err != nil {
		return nil, size, fmt.Errorf("アップロード画像の変換に失敗しました: %w", err)
	}
	return png, size, nil
}
