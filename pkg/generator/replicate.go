package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
)

// DefaultReplicateURL は Replicate API のベース URL です。
const DefaultReplicateURL = "https://api.replicate.com"

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// ReplicateBackend は Replicate の公式モデル予測 API を呼び出します。
type ReplicateBackend struct {
	core    *Core
	baseURL string
	poll    PollOptions
}

// NewReplicateBackend は ReplicateBackend を初期化します。baseURL が空なら DefaultReplicateURL を使います。
func NewReplicateBackend(core *Core, baseURL string, poll PollOptions) (*ReplicateBackend, error) {
	if core == nil {
		return nil, fmt.Errorf("core is required")
	}
	if baseURL == "" {
		baseURL = DefaultReplicateURL
	}
	return &ReplicateBackend{
		core:    core,
		baseURL: strings.TrimRight(baseURL, "/"),
		poll:    poll.normalized(),
	}, nil
}

// Generate は予測を作成し、完了を待って最初の出力画像を返します。
func (b *ReplicateBackend) Generate(ctx context.Context, cred credentials.Credential, req domain.GenerationRequest) (*domain.Result, error) {
	r, ok := req.(domain.ReplicateRequest)
	if !ok {
		return nil, fmt.Errorf("%w: replicate backend cannot handle %s", ErrUnsupportedProvider, req.Provider())
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Key)
	header.Set("Prefer", "wait")

	endpoint := fmt.Sprintf("%s/v1/models/%s/predictions", b.baseURL, r.Model)
	var pred replicatePrediction
	if err := b.core.doJSON(ctx, http.MethodPost, endpoint, header, map[string]any{"input": r.Input}, &pred); err != nil {
		return nil, fmt.Errorf("replicate への予測作成に失敗しました: %w", err)
	}
	slog.InfoContext(ctx, "replicate に予測を作成しました", "model", r.Model, "id", pred.ID, "status", pred.Status, "credential", cred)

	header.Del("Prefer")
	for attempt := 1; !isTerminal(pred.Status); attempt++ {
		if attempt > b.poll.MaxAttempts {
			return nil, fmt.Errorf("%w: replicate prediction %s after %d attempts", ErrPollTimeout, pred.ID, b.poll.MaxAttempts)
		}
		if pred.URLs.Get == "" {
			return nil, fmt.Errorf("replicate の応答に urls.get がありません (id=%s)", pred.ID)
		}
		if err := sleepContext(ctx, b.poll.Interval); err != nil {
			return nil, err
		}
		getURL := pred.URLs.Get
		if err := b.core.doJSON(ctx, http.MethodGet, getURL, header, nil, &pred); err != nil {
			return nil, fmt.Errorf("replicate のステータス取得に失敗しました: %w", err)
		}
		slog.DebugContext(ctx, "replicate の完了を待機中", "id", pred.ID, "status", pred.Status, "attempt", attempt)
	}

	if pred.Status != "succeeded" {
		return nil, fmt.Errorf("%w: replicate status %q: %v", ErrGenerationFailed, pred.Status, pred.Error)
	}

	imageURL, err := firstOutputURL(pred.Output)
	if err != nil {
		return nil, err
	}
	img, err := b.core.FetchResult(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	if seed, ok := r.Input["seed"]; ok {
		if n, ok := asInt64(seed); ok {
			img.UsedSeed = n
		}
	}
	return &domain.Result{Image: img}, nil
}

func isTerminal(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled", "aborted":
		return true
	}
	return false
}

// firstOutputURL は出力が文字列でも文字列のリストでも最初の URL を返します。
func firstOutputURL(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}
	return "", fmt.Errorf("%w: replicate output %s", ErrEmptyResult, string(raw))
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
