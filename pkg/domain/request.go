package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest は生成リクエストの必須項目が欠けていることを表します。
var ErrInvalidRequest = errors.New("invalid generation request")

// Provider は生成 API の提供元です。
type Provider string

const (
	ProviderFal       Provider = "fal"
	ProviderReplicate Provider = "replicate"
	ProviderRunware   Provider = "runware"
	ProviderGemini    Provider = "gemini"
)

// GenerationRequest はプロバイダごとのリクエスト構造体が実装するタグ付きバリアントです。
type GenerationRequest interface {
	Provider() Provider
	Validate() error
}

// FalRequest は fal.ai のキュー API に投げるリクエストです。
// UploadImage があれば data URI に変換して Arguments[UploadField] に入れます。
type FalRequest struct {
	Endpoint    string
	Arguments   map[string]any
	UploadImage []byte
	UploadField string
}

func (FalRequest) Provider() Provider { return ProviderFal }

func (r FalRequest) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("%w: fal endpoint is required", ErrInvalidRequest)
	}
	if len(r.UploadImage) > 0 && r.UploadField == "" {
		return fmt.Errorf("%w: fal upload field is required when an image is attached", ErrInvalidRequest)
	}
	return nil
}

// ReplicateRequest は Replicate の公式モデル予測 API に投げるリクエストです。
type ReplicateRequest struct {
	Model string // owner/name
	Input map[string]any
}

func (ReplicateRequest) Provider() Provider { return ProviderReplicate }

func (r ReplicateRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("%w: replicate model is required", ErrInvalidRequest)
	}
	return nil
}

// RunwareRequest は Runware の imageInference タスクです。
// SeedImage があれば先に imageUpload してから img2img として推論します。
type RunwareRequest struct {
	Model          string
	PositivePrompt string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	Seed           *int64
	CFGScale       float64
	Strength       *float64
	SeedImage      []byte
	Loras          []map[string]any
}

func (RunwareRequest) Provider() Provider { return ProviderRunware }

func (r RunwareRequest) Validate() error {
	switch {
	case r.Model == "":
		return fmt.Errorf("%w: runware model is required", ErrInvalidRequest)
	case r.PositivePrompt == "":
		return fmt.Errorf("%w: runware positive prompt is required", ErrInvalidRequest)
	case r.Width <= 0 || r.Height <= 0:
		return fmt.Errorf("%w: runware dimensions must be positive (%dx%d)", ErrInvalidRequest, r.Width, r.Height)
	}
	return nil
}

// GeminiRequest は Gemini の画像生成リクエストです。
type GeminiRequest struct {
	Model           string
	Prompt          string
	AspectRatio     string
	ReferenceImages [][]byte
}

func (GeminiRequest) Provider() Provider { return ProviderGemini }

func (r GeminiRequest) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: gemini prompt is required", ErrInvalidRequest)
	}
	return nil
}
