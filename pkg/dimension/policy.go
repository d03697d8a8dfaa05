package dimension

import (
	"errors"
	"fmt"
	"strings"
)

// Policy は出力画像のアスペクト比の決め方です。
type Policy string

const (
	PolicySourceMatched Policy = "source-matched"
	PolicySquare        Policy = "square"
	PolicyLandscape16x9 Policy = "landscape-16x9"
	PolicyPortrait9x16  Policy = "portrait-9x16"
)

// ErrUnknownPolicy は解釈できないアスペクト比指定を表します。
var ErrUnknownPolicy = errors.New("unknown aspect policy")

// ホスト側の表示ラベルとの対応表
var policyLabels = map[string]Policy{
	"same as source":   PolicySourceMatched,
	"square (1:1)":     PolicySquare,
	"landscape (16:9)": PolicyLandscape16x9,
	"portrait (9:16)":  PolicyPortrait9x16,
}

// Labels はノードの選択肢として表示するラベルを定義順で返します。
func Labels() []string {
	return []string{"same as source", "square (1:1)", "landscape (16:9)", "portrait (9:16)"}
}

// ParsePolicy は Policy 名または表示ラベルから Policy を解決します。
func ParsePolicy(s string) (Policy, error) {
	key := strings.TrimSpace(s)
	switch Policy(key) {
	case PolicySourceMatched, PolicySquare, PolicyLandscape16x9, PolicyPortrait9x16:
		return Policy(key), nil
	}
	if p, ok := policyLabels[strings.ToLower(key)]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}
