package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/cloud-image-nodes/pkg/dimension"
	"github.com/shouni/cloud-image-nodes/pkg/lora"
)

func TestFalAddLora_Chains(t *testing.T) {
	p := DefaultFalAddLoraParams()
	p.LoraURL = "https://example.com/a.safetensors"
	first, err := FalAddLora(p)
	require.NoError(t, err)

	p.LoraURL = "https://example.com/b.safetensors"
	p.Scale = 0.3
	p.Loras = &first.Loras
	second, err := FalAddLora(p)
	require.NoError(t, err)

	set, err := lora.FalConvention.ParseForRequest(&second.Loras)
	require.NoError(t, err)
	assert.Equal(t, lora.Set{
		{Reference: "https://example.com/a.safetensors", Weight: 1},
		{Reference: "https://example.com/b.safetensors", Weight: 0.3},
	}, set)
}

func TestRunwareAddLora_RejectsFalFragment(t *testing.T) {
	falFragment := `{"loras":[]}`
	p := DefaultRunwareAddLoraParams()
	p.LoraAIR = "civitai:1@1"
	p.Loras = &falFragment

	_, err := RunwareAddLora(p)
	assert.ErrorIs(t, err, lora.ErrInvalidLoraFormat)
}

func TestFluxResolutionPresets(t *testing.T) {
	out, err := FluxResolutionPresets(DefaultFluxResolutionPresetsParams())
	require.NoError(t, err)
	assert.Equal(t, 1024, out.Width)
	assert.Equal(t, 1024, out.Height)

	out, err = FluxResolutionPresets(FluxResolutionPresetsParams{AspectRatio: "832x1216 (2:3)"})
	require.NoError(t, err)
	assert.Equal(t, 832, out.Width)
	assert.Equal(t, 1216, out.Height)

	_, err = FluxResolutionPresets(FluxResolutionPresetsParams{AspectRatio: "1x1"})
	assert.ErrorIs(t, err, dimension.ErrUnknownPreset)
}

func TestRunwareAddLora_BlankLorasStartsEmpty(t *testing.T) {
	blank := ""
	p := DefaultRunwareAddLoraParams()
	p.LoraAIR = "civitai:1@1"
	p.Loras = &blank

	out, err := RunwareAddLora(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lora":[{"model":"civitai:1@1","weight":1}]}`, out.Loras)
}
