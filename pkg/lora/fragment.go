package lora

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Append は既存のフラグメント (nil なら空) の末尾に LoRA を 1 件追加した
// 新しいフラグメントを返します。入力のフラグメントは変更しません。
func (c Convention) Append(existing *string, ref string, weight float64) (string, error) {
	doc := map[string]json.RawMessage{}
	var entries []json.RawMessage

	if existing != nil {
		if !json.Valid([]byte(*existing)) {
			return "", fmt.Errorf("%w: not valid JSON", ErrMalformedFragment)
		}
		if err := json.Unmarshal([]byte(*existing), &doc); err != nil {
			return "", fmt.Errorf("%w: top level must be an object", ErrInvalidLoraFormat)
		}
		raw, ok := doc[c.Container]
		if !ok {
			return "", fmt.Errorf("%w: missing %q key", ErrInvalidLoraFormat, c.Container)
		}
		if err := json.Unmarshal(raw, &entries); err != nil || isNull(raw) {
			return "", fmt.Errorf("%w: %q must be a list", ErrInvalidLoraFormat, c.Container)
		}
		// 既存エントリが壊れていれば、消費側で拒否される出力になる
		if _, err := c.decodeEntries(raw); err != nil {
			return "", err
		}
	}

	entry, err := json.Marshal(map[string]any{c.Reference: ref, c.Weight: weight})
	if err != nil {
		return "", fmt.Errorf("LoRAエントリのシリアライズに失敗しました: %w", err)
	}
	// 元のスライスと共有しないよう新しく確保する
	next := make([]json.RawMessage, 0, len(entries)+1)
	next = append(next, entries...)
	next = append(next, entry)

	list, err := json.Marshal(next)
	if err != nil {
		return "", fmt.Errorf("LoRAリストのシリアライズに失敗しました: %w", err)
	}
	doc[c.Container] = list

	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("LoRAフラグメントのシリアライズに失敗しました: %w", err)
	}
	return string(out), nil
}

// ParseForRequest は生成ノードに渡されたフラグメントを検証して Set に変換します。
// nil は LoRA なしとして空の Set を返します。
// 有料 API の呼び出し前に使われるため、各エントリの型まで厳密に検査します。
func (c Convention) ParseForRequest(fragment *string) (Set, error) {
	if fragment == nil {
		return Set{}, nil
	}
	if !json.Valid([]byte(*fragment)) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedFragment)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(*fragment), &doc); err != nil || doc == nil {
		return nil, fmt.Errorf("%w: expected {%q: [{%q, %q}]}", ErrInvalidLoraFormat, c.Container, c.Reference, c.Weight)
	}
	raw, ok := doc[c.Container]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q key", ErrInvalidLoraFormat, c.Container)
	}

	return c.decodeEntries(raw)
}

// decodeEntries はコンテナの値を検証して Set に変換します。
// 各エントリは文字列の参照と数値の重みを持つオブジェクトでなければなりません。
func (c Convention) decodeEntries(raw json.RawMessage) (Set, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || isNull(raw) {
		return nil, fmt.Errorf("%w: %q must be a list of objects", ErrInvalidLoraFormat, c.Container)
	}

	set := make(Set, 0, len(entries))
	for i, e := range entries {
		refRaw, hasRef := e[c.Reference]
		weightRaw, hasWeight := e[c.Weight]
		if !hasRef || !hasWeight || isNull(refRaw) || isNull(weightRaw) {
			return nil, fmt.Errorf("%w: entry %d must contain %q and %q", ErrInvalidLoraFormat, i, c.Reference, c.Weight)
		}
		var entry Entry
		if err := json.Unmarshal(refRaw, &entry.Reference); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %q must be a string", ErrInvalidLoraFormat, i, c.Reference)
		}
		if err := json.Unmarshal(weightRaw, &entry.Weight); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %q must be a number", ErrInvalidLoraFormat, i, c.Weight)
		}
		set = append(set, entry)
	}
	return set, nil
}

// Serialize は Set をフラグメントに変換します。
func (c Convention) Serialize(s Set) (string, error) {
	out, err := json.Marshal(map[string]any{c.Container: c.Payload(s)})
	if err != nil {
		return "", fmt.Errorf("LoRAフラグメントのシリアライズに失敗しました: %w", err)
	}
	return string(out), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
