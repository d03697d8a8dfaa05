// Package lora は、複数のノードをまたいで LoRA 指定を積み上げ、
// 生成リクエストに合流させるための JSON フラグメントを扱います。
package lora

import "errors"

var (
	// ErrMalformedFragment はフラグメントが JSON として解釈できないことを表します。
	ErrMalformedFragment = errors.New("malformed lora fragment")
	// ErrInvalidLoraFormat は JSON としては正しいが期待する構造を持たないことを表します。
	ErrInvalidLoraFormat = errors.New("invalid lora format")
)

// Entry は LoRA モデルの参照と適用強度の組です。
type Entry struct {
	Reference string
	Weight    float64
}

// Set は挿入順を保った Entry の列です。同じ参照の重複も許容します。
type Set []Entry

// Convention はフラグメントのキー名の取り決めです。
// プロバイダごとに異なるため、呼び出し側が選択します。
type Convention struct {
	Container string
	Reference string
	Weight    string
}

var (
	// FalConvention は fal.ai の {"loras": [{"path", "scale"}]} 形式です。
	FalConvention = Convention{Container: "loras", Reference: "path", Weight: "scale"}
	// RunwareConvention は Runware の {"lora": [{"model", "weight"}]} 形式です。
	RunwareConvention = Convention{Container: "lora", Reference: "model", Weight: "weight"}
)

// Payload は Set をリクエストにそのまま埋め込める形に変換します。
func (c Convention) Payload(s Set) []map[string]any {
	out := make([]map[string]any, 0, len(s))
	for _, e := range s {
		out = append(out, map[string]any{
			c.Reference: e.Reference,
			c.Weight:    e.Weight,
		})
	}
	return out
}

// MergeInto は payload の Container キーに Set を設定します。
// 既存の値は上書きされます。
func (c Convention) MergeInto(payload map[string]any, s Set) {
	payload[c.Container] = c.Payload(s)
}
