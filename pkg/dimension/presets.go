package dimension

import (
	"errors"
	"fmt"
)

// ErrUnknownPreset は未定義のプリセットラベルを表します。
var ErrUnknownPreset = errors.New("unknown resolution preset")

// Preset は Flux 向けの解像度プリセットです。
type Preset struct {
	Label string
	Dimension
}

var presets = []Preset{
	{"1024x1024 (1:1)", Dimension{1024, 1024}},
	{"512x512 (1:1)", Dimension{512, 512}},
	{"832x1216 (2:3)", Dimension{832, 1216}},
	{"1216x832 (3:2)", Dimension{1216, 832}},
	{"768x1024 (4:3)", Dimension{768, 1024}},
	{"1024x720 (3:4)", Dimension{1024, 720}},
	{"896x1088 (4:5)", Dimension{896, 1088}},
	{"1088x896 (5:4)", Dimension{1088, 896}},
	{"576x1024 (9:16)", Dimension{576, 1024}},
	{"1024x576 (16:9)", Dimension{1024, 576}},
}

// Presets はプリセットの一覧を定義順で返します。
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// LookupPreset はラベルからプリセットのサイズを引きます。
func LookupPreset(label string) (Dimension, error) {
	for _, p := range presets {
		if p.Label == label {
			return p.Dimension, nil
		}
	}
	return Dimension{}, fmt.Errorf("%w: %q", ErrUnknownPreset, label)
}

// Downscale は長辺が maxSide を超える場合だけ、比率を保って縮小したサイズを返します。
// 端数は切り捨てます。
func Downscale(w, h, maxSide int) Dimension {
	longest := max(w, h)
	if maxSide <= 0 || longest <= maxSide {
		return Dimension{Width: w, Height: h}
	}
	return Dimension{
		Width:  max(1, w*maxSide/longest),
		Height: max(1, h*maxSide/longest),
	}
}
