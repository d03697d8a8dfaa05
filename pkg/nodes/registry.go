package nodes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownNode は登録されていないノード名を表します。
	ErrUnknownNode = errors.New("unknown node")
	// ErrInvalidParams はパラメータをデコードできないことを表します。
	ErrInvalidParams = errors.New("invalid node parameters")
	// ErrLocalImage はローカルファイルを指す画像パラメータが禁止されていることを表します。
	ErrLocalImage = errors.New("image must be a data URI")
)

// NodeInfo はホストに公開するノードのメタデータです。
type NodeInfo struct {
	Name        string   `json:"name" yaml:"name"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Category    string   `json:"category" yaml:"category"`
	Returns     []string `json:"returns" yaml:"returns"`
}

type nodeEntry struct {
	info NodeInfo
	run  func(ctx context.Context, raw []byte) (Output, error)
}

// Registry はノード名から実装を引く表です。
type Registry struct {
	entries     map[string]nodeEntry
	dataURIOnly bool
}

// RegistryOption は Registry の設定を変更します。
type RegistryOption func(*Registry)

// WithoutLocalImages は image パラメータを data URI に限定します。
// 外部から受け取ったパラメータでサーバー上のファイルを読ませないために使います。
func WithoutLocalImages() RegistryOption {
	return func(reg *Registry) {
		reg.dataURIOnly = true
	}
}

// NewRegistry は Runner を使う全ノードを登録した Registry を作成します。
func NewRegistry(r *Runner, opts ...RegistryOption) (*Registry, error) {
	if r == nil {
		return nil, fmt.Errorf("runner is required")
	}

	list := []nodeEntry{
		entry("FalFluxAPI", "", []string{"IMAGE"}, DefaultFalFluxParams, r.FalFlux),
		entry("ReplicateFluxAPI", "", []string{"IMAGE"}, DefaultReplicateFluxParams, r.ReplicateFlux),
		entry("FluxResolutionPresets", "", []string{"INT", "INT"}, DefaultFluxResolutionPresetsParams, withoutContext(FluxResolutionPresets)),
		entry("FalAuraFlowAPI", "", []string{"IMAGE"}, DefaultFalAuraFlowParams, r.FalAuraFlow),
		entry("FalFluxI2IAPI", "", []string{"IMAGE"}, DefaultFalFluxI2IParams, r.FalFluxI2I),
		entry("FalSoteDiffusionAPI", "", []string{"IMAGE"}, DefaultSoteDiffusionParams, r.FalSoteDiffusion),
		entry("FalStableCascadeAPI", "", []string{"IMAGE"}, DefaultStableCascadeParams, r.FalStableCascade),
		entry("FalLLaVAAPI", "", []string{"STRING"}, DefaultFalLLaVAParams, r.FalLLaVA),
		entry("RunwareFluxLoraImg2Img", "Runware Flux Lora Img2Img", []string{"IMAGE"}, DefaultRunwareFluxLoraImg2ImgParams, r.RunwareFluxLoraImg2Img),
		entry("FalFluxLoraAPI", "", []string{"IMAGE"}, DefaultFalFluxLoraParams, r.FalFluxLora),
		entry("FalAddLora", "", []string{"STRING"}, DefaultFalAddLoraParams, withoutContext(FalAddLora)),
		entry("RunWareAPI", "", []string{"IMAGE"}, DefaultRunwareParams, r.Runware),
		entry("RunwareAddLora", "", []string{"STRING"}, DefaultRunwareAddLoraParams, withoutContext(RunwareAddLora)),
		entry("GeminiImageAPI", "", []string{"IMAGE"}, DefaultGeminiImageParams, r.GeminiImage),
	}

	reg := &Registry{entries: make(map[string]nodeEntry, len(list))}
	for _, e := range list {
		reg.entries[e.info.Name] = e
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg, nil
}

// entry はパラメータ型ごとのデコードと実行をまとめます。
// displayName が空ならノード名をそのまま表示名にします。
func entry[P any](name, displayName string, returns []string, defaults func() P, fn func(context.Context, P) (Output, error)) nodeEntry {
	if displayName == "" {
		displayName = name
	}
	return nodeEntry{
		info: NodeInfo{Name: name, DisplayName: displayName, Category: Category, Returns: returns},
		run: func(ctx context.Context, raw []byte) (Output, error) {
			p := defaults()
			if err := decodeParams(raw, &p); err != nil {
				return Output{}, fmt.Errorf("%w: %s: %w", ErrInvalidParams, name, err)
			}
			return fn(ctx, p)
		},
	}
}

func withoutContext[P any](fn func(P) (Output, error)) func(context.Context, P) (Output, error) {
	return func(_ context.Context, p P) (Output, error) { return fn(p) }
}

// decodeParams は YAML (JSON を含む) を既定値の上に重ねてデコードします。
// 未知のキーはエラーにし、空の入力は既定値のままとします。
func decodeParams(raw []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// checkImageRef はデコード前に image の値を調べます。
// ImageInput のデコードはファイルを読むため、ここで止める必要があります。
func checkImageRef(raw []byte) error {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	node, ok := doc["image"]
	if !ok {
		return nil
	}
	n := &node
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return nil
	}
	if !strings.HasPrefix(n.Value, "data:") {
		return ErrLocalImage
	}
	return nil
}

// List はノードのメタデータを名前順で返します。
func (reg *Registry) List() []NodeInfo {
	out := make([]NodeInfo, 0, len(reg.entries))
	for _, e := range reg.entries {
		out = append(out, e.info)
	}
	slices.SortFunc(out, func(a, b NodeInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Info は指定したノードのメタデータを返します。
func (reg *Registry) Info(name string) (NodeInfo, bool) {
	e, ok := reg.entries[name]
	return e.info, ok
}

// Run はパラメータをデコードしてノードを 1 回実行します。
func (reg *Registry) Run(ctx context.Context, name string, raw []byte) (Output, error) {
	e, ok := reg.entries[name]
	if !ok {
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownNode, name)
	}
	if reg.dataURIOnly {
		if err := checkImageRef(raw); err != nil {
			return Output{}, fmt.Errorf("%w: %s: %w", ErrInvalidParams, name, err)
		}
	}
	slog.InfoContext(ctx, "ノードを実行します", "node", name)
	out, err := e.run(ctx, raw)
	if err != nil {
		slog.ErrorContext(ctx, "ノードの実行に失敗しました", "node", name, "error", err)
		return Output{}, err
	}
	return out, nil
}
