// Package nodes はホストアプリケーションから呼ばれる各ノードを実装します。
// ノードはパラメータを集め、キーファイルを読み、プロバイダを 1 回呼び出し、
// 結果画像をテンソルに変換して返します。
package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
)

// Category はすべてのノードが属するカテゴリです。
const Category = "ComfyCloudAPIs"

var (
	// ErrMissingImage は必須の画像入力が無いことを表します。
	ErrMissingImage = errors.New("image input is required")
	// ErrUnknownOption は選択肢に無い値が指定されたことを表します。
	ErrUnknownOption = errors.New("unknown option")
	// ErrNoImageReturned はプロバイダが画像を返さなかったことを表します。
	ErrNoImageReturned = errors.New("provider returned no image")
)

// Generator は生成リクエストを実行します。generator.Dispatcher が実装します。
type Generator interface {
	Generate(ctx context.Context, cred credentials.Credential, req domain.GenerationRequest) (*domain.Result, error)
}

// KeyLoader は API キーファイルを読みます。credentials.Store が実装します。
type KeyLoader interface {
	Load(ctx context.Context, name string) (credentials.Credential, error)
}

// Output はノードの戻り値です。ノードによって使うフィールドが異なります。
type Output struct {
	Image  *imgutil.Tensor
	Text   string
	Loras  string
	Width  int
	Height int
}

// ImageInput はホストから渡される画像です。
// YAML/JSON のパラメータでは data URI かローカルファイルのパスで指定します。
type ImageInput struct {
	*imgutil.Tensor
}

// NewImageInput はテンソルを ImageInput に包みます。
func NewImageInput(t *imgutil.Tensor) *ImageInput {
	return &ImageInput{Tensor: t}
}

func (in *ImageInput) UnmarshalYAML(node *yaml.Node) error {
	var ref string
	if err := node.Decode(&ref); err != nil {
		return fmt.Errorf("image must be a data URI or a file path: %w", err)
	}
	img, err := imgutil.Load(ref)
	if err != nil {
		return err
	}
	in.Tensor = imgutil.FromImage(img)
	return nil
}

func (in *ImageInput) present() bool {
	return in != nil && in.Tensor != nil
}

// Runner は生成ノードの実行に必要な依存関係を保持します。
type Runner struct {
	gen  Generator
	keys KeyLoader
}

// NewRunner は Runner を作成します。
func NewRunner(gen Generator, keys KeyLoader) (*Runner, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("key loader is required")
	}
	return &Runner{gen: gen, keys: keys}, nil
}

// generate はキーを読み込んでリクエストを実行します。
func (r *Runner) generate(ctx context.Context, apiKey string, req domain.GenerationRequest) (*domain.Result, error) {
	cred, err := r.keys.Load(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return r.gen.Generate(ctx, cred, req)
}

// generateImage は生成結果の画像をテンソルに変換して返します。
func (r *Runner) generateImage(ctx context.Context, apiKey string, req domain.GenerationRequest) (Output, error) {
	res, err := r.generate(ctx, apiKey, req)
	if err != nil {
		return Output{}, err
	}
	if !res.HasImage() {
		return Output{}, fmt.Errorf("%w (%s)", ErrNoImageReturned, req.Provider())
	}
	tensor, err := imgutil.FromBytes(res.Image.Data)
	if err != nil {
		return Output{}, fmt.Errorf("結果画像の変換に失敗しました: %w", err)
	}
	slog.DebugContext(ctx, "結果画像を変換しました", "provider", req.Provider(), "width", tensor.Width, "height", tensor.Height)
	return Output{Image: tensor, Width: tensor.Width, Height: tensor.Height}, nil
}

// choose は選択肢のラベルを値に変換します。
func choose[V any](field, label string, options map[string]V) (V, error) {
	v, ok := options[label]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: %s %q", ErrUnknownOption, field, label)
	}
	return v, nil
}
