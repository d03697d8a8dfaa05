package dimension

import (
	"fmt"
	"log/slog"
	"math"
)

// Bounds はプロバイダが受け付ける画像サイズの制約です。
// Min と Max は Align の倍数であることを前提とします。
type Bounds struct {
	Align int
	Min   int
	Max   int
}

// DefaultBounds は Runware の制約 (64 の倍数、384〜2048) を返します。
func DefaultBounds() Bounds {
	return Bounds{Align: 64, Min: 384, Max: 2048}
}

// Dimension は幅と高さの組です。
type Dimension struct {
	Width  int
	Height int
}

// Negotiate は元画像のサイズ、アスペクト比ポリシー、目標サイズから
// プロバイダの制約を満たす出力サイズを計算します。
// 入力はすべて範囲内に補正されるため、エラーは返しません。
func Negotiate(srcW, srcH int, policy Policy, target int, b Bounds) Dimension {
	b = b.normalized()

	var w, h int
	switch policy {
	case PolicySquare:
		w = b.clamp(target)
		h = w
	case PolicyLandscape16x9:
		w = b.clamp(target)
		h = w * 9 / 16
		// 再計算した幅はここではクランプしない
		if h < b.Min {
			h = b.Min
			w = h * 16 / 9
		} else if h > b.Max {
			h = b.Max
			w = h * 16 / 9
		}
	case PolicyPortrait9x16:
		h = b.clamp(target)
		w = h * 9 / 16
		if w < b.Min {
			w = b.Min
			h = w * 16 / 9
		} else if w > b.Max {
			w = b.Max
			h = w * 16 / 9
		}
	default:
		w, h = b.sourceMatched(srcW, srcH, target)
	}

	// アライメントを先に、クランプを最後に行う
	out := Dimension{
		Width:  b.clamp(b.alignUp(w)),
		Height: b.clamp(b.alignUp(h)),
	}

	slog.Debug("画像サイズを調整しました",
		"from", formatSize(srcW, srcH),
		"to", formatSize(out.Width, out.Height),
		"policy", string(policy))
	return out
}

func (b Bounds) sourceMatched(srcW, srcH, target int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		v := b.clamp(target)
		return v, v
	}
	ratio := float64(srcW) / float64(srcH)
	if srcW >= srcH {
		w := b.clamp(target)
		return w, int(math.Round(float64(w) / ratio))
	}
	h := b.clamp(target)
	return int(math.Round(float64(h) * ratio)), h
}

func (b Bounds) normalized() Bounds {
	if b.Align <= 0 {
		b.Align = 1
	}
	if b.Min <= 0 {
		b.Min = b.Align
	}
	if b.Max <= 0 {
		b.Max = math.MaxInt32
	} else if b.Max < b.Min {
		b.Max = b.Min
	}
	return b
}

func (b Bounds) clamp(v int) int {
	return max(b.Min, min(b.Max, v))
}

func (b Bounds) alignUp(v int) int {
	return (v + b.Align - 1) / b.Align * b.Align
}

func formatSize(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}
