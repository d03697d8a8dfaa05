package nodes

import (
	"context"
	"fmt"
	"slices"

	"github.com/shouni/cloud-image-nodes/pkg/domain"
)

var replicateModels = map[string]string{
	"schnell": "black-forest-labs/flux-schnell",
	"dev":     "black-forest-labs/flux-dev",
	"pro 1.1": "black-forest-labs/flux-1.1-pro",
	"pro":     "black-forest-labs/flux-pro",
}

// ReplicateAspectRatios は ReplicateFluxAPI が受け付けるアスペクト比です。
var ReplicateAspectRatios = []string{"1:1", "16:9", "21:9", "2:3", "3:2", "4:5", "5:4", "9:16", "9:21"}

// ReplicateFluxParams は ReplicateFluxAPI のパラメータです。
type ReplicateFluxParams struct {
	Prompt        string  `yaml:"prompt"`
	Model         string  `yaml:"model"`
	AspectRatio   string  `yaml:"aspect_ratio"`
	APIKey        string  `yaml:"api_key"`
	Seed          int64   `yaml:"seed"`
	CFGDevAndPro  float64 `yaml:"cfg_dev_and_pro"`
	StepsPro      int     `yaml:"steps_pro"`
	CreativityPro int     `yaml:"creativity_pro"`
}

func DefaultReplicateFluxParams() ReplicateFluxParams {
	return ReplicateFluxParams{
		Model:         "schnell",
		AspectRatio:   "1:1",
		Seed:          1337,
		CFGDevAndPro:  3.5,
		StepsPro:      25,
		CreativityPro: 2,
	}
}

// ReplicateFlux は Replicate の Flux モデルで画像を生成します。未知のモデル名は dev として扱います。
func (r *Runner) ReplicateFlux(ctx context.Context, p ReplicateFluxParams) (Output, error) {
	if !slices.Contains(ReplicateAspectRatios, p.AspectRatio) {
		return Output{}, fmt.Errorf("%w: aspect_ratio %q", ErrUnknownOption, p.AspectRatio)
	}
	model, ok := replicateModels[p.Model]
	if !ok {
		model = replicateModels["dev"]
	}
	return r.generateImage(ctx, p.APIKey, domain.ReplicateRequest{
		Model: model,
		Input: map[string]any{
			"prompt":                 p.Prompt,
			"steps":                  p.StepsPro,
			"seed":                   p.Seed,
			"disable_safety_checker": true,
			"output_format":          "png",
			"safety_tolerance":       5,
			"aspect_ratio":           p.AspectRatio,
			"guidance":               p.CFGDevAndPro,
			"interval":               p.CreativityPro,
		},
	})
}
