package nodes

import (
	"strings"

	"github.com/shouni/cloud-image-nodes/pkg/dimension"
	"github.com/shouni/cloud-image-nodes/pkg/lora"
)

// fragment は未接続の入力を表す空文字列を nil に揃えます。
func fragment(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// FalAddLoraParams は FalAddLora のパラメータです。
type FalAddLoraParams struct {
	LoraURL string  `yaml:"lora_url"`
	Scale   float64 `yaml:"scale"`
	Loras   *string `yaml:"loras"`
}

func DefaultFalAddLoraParams() FalAddLoraParams {
	return FalAddLoraParams{Scale: 1}
}

// FalAddLora は fal 形式の LoRA フラグメントに 1 件追加します。
func FalAddLora(p FalAddLoraParams) (Output, error) {
	out, err := lora.FalConvention.Append(fragment(p.Loras), p.LoraURL, p.Scale)
	if err != nil {
		return Output{}, err
	}
	return Output{Loras: out}, nil
}

// RunwareAddLoraParams は RunwareAddLora のパラメータです。
type RunwareAddLoraParams struct {
	LoraAIR string  `yaml:"lora_air"`
	Weight  float64 `yaml:"weight"`
	Loras   *string `yaml:"loras"`
}

func DefaultRunwareAddLoraParams() RunwareAddLoraParams {
	return RunwareAddLoraParams{Weight: 1}
}

// RunwareAddLora は Runware 形式の LoRA フラグメントに 1 件追加します。
func RunwareAddLora(p RunwareAddLoraParams) (Output, error) {
	out, err := lora.RunwareConvention.Append(fragment(p.Loras), p.LoraAIR, p.Weight)
	if err != nil {
		return Output{}, err
	}
	return Output{Loras: out}, nil
}

// FluxResolutionPresetsParams は FluxResolutionPresets のパラメータです。
type FluxResolutionPresetsParams struct {
	AspectRatio string `yaml:"aspect_ratio"`
}

func DefaultFluxResolutionPresetsParams() FluxResolutionPresetsParams {
	return FluxResolutionPresetsParams{AspectRatio: dimension.Presets()[0].Label}
}

// FluxResolutionPresets はプリセット名から幅と高さを返します。
func FluxResolutionPresets(p FluxResolutionPresetsParams) (Output, error) {
	preset, err := dimension.LookupPreset(p.AspectRatio)
	if err != nil {
		return Output{}, err
	}
	return Output{Width: preset.Width, Height: preset.Height}, nil
}
