package generator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
)

// DefaultFalQueueURL は fal.ai のキュー API のベース URL です。
const DefaultFalQueueURL = "https://queue.fal.run"

// fal のキューステータス
const (
	falStatusInQueue    = "IN_QUEUE"
	falStatusInProgress = "IN_PROGRESS"
	falStatusCompleted  = "COMPLETED"
)

type falSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type falStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type falResult struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
	Image *struct {
		URL string `json:"url"`
	} `json:"image"`
	Output *string `json:"output"`
	Seed   *int64  `json:"seed"`
	Detail any     `json:"detail"`
}

// FalBackend は fal.ai のキュー API を呼び出します。
type FalBackend struct {
	core    *Core
	baseURL string
	poll    PollOptions
}

// NewFalBackend は FalBackend を初期化します。baseURL が空なら DefaultFalQueueURL を使います。
func NewFalBackend(core *Core, baseURL string, poll PollOptions) (*FalBackend, error) {
	if core == nil {
		return nil, fmt.Errorf("core is required")
	}
	if baseURL == "" {
		baseURL = DefaultFalQueueURL
	}
	return &FalBackend{
		core:    core,
		baseURL: strings.TrimRight(baseURL, "/"),
		poll:    poll.normalized(),
	}, nil
}

// Generate はリクエストをキューに投入し、完了を待って結果を返します。
func (b *FalBackend) Generate(ctx context.Context, cred credentials.Credential, req domain.GenerationRequest) (*domain.Result, error) {
	r, ok := req.(domain.FalRequest)
	if !ok {
		return nil, fmt.Errorf("%w: fal backend cannot handle %s", ErrUnsupportedProvider, req.Provider())
	}

	args := make(map[string]any, len(r.Arguments)+1)
	maps.Copy(args, r.Arguments)
	if len(r.UploadImage) > 0 {
		args[r.UploadField] = imgutil.DataURI("", r.UploadImage)
	}

	header := http.Header{}
	header.Set("Authorization", "Key "+cred.Key)

	var submitted falSubmitResponse
	if err := b.core.doJSON(ctx, http.MethodPost, b.baseURL+"/"+strings.TrimLeft(r.Endpoint, "/"), header, args, &submitted); err != nil {
		return nil, fmt.Errorf("fal へのリクエスト投入に失敗しました: %w", err)
	}
	if submitted.StatusURL == "" || submitted.ResponseURL == "" {
		return nil, fmt.Errorf("fal の投入応答に status_url/response_url がありません (request_id=%s)", submitted.RequestID)
	}
	slog.InfoContext(ctx, "fal にリクエストを投入しました", "endpoint", r.Endpoint, "request_id", submitted.RequestID, "credential", cred)

	if err := b.waitCompleted(ctx, header, submitted); err != nil {
		return nil, err
	}

	var result falResult
	if err := b.core.doJSON(ctx, http.MethodGet, submitted.ResponseURL, header, nil, &result); err != nil {
		return nil, fmt.Errorf("fal の結果取得に失敗しました: %w", err)
	}
	return b.toResult(ctx, result)
}

func (b *FalBackend) waitCompleted(ctx context.Context, header http.Header, submitted falSubmitResponse) error {
	for attempt := 1; attempt <= b.poll.MaxAttempts; attempt++ {
		var status falStatusResponse
		if err := b.core.doJSON(ctx, http.MethodGet, submitted.StatusURL, header, nil, &status); err != nil {
			return fmt.Errorf("fal のステータス取得に失敗しました: %w", err)
		}
		switch status.Status {
		case falStatusCompleted:
			if status.Error != "" {
				return fmt.Errorf("%w: fal: %s", ErrGenerationFailed, status.Error)
			}
			return nil
		case falStatusInQueue, falStatusInProgress:
			slog.DebugContext(ctx, "fal の完了を待機中", "request_id", submitted.RequestID, "status", status.Status, "attempt", attempt)
		default:
			return fmt.Errorf("%w: fal status %q: %s", ErrGenerationFailed, status.Status, status.Error)
		}
		if err := sleepContext(ctx, b.poll.Interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: fal request %s after %d attempts", ErrPollTimeout, submitted.RequestID, b.poll.MaxAttempts)
}

func (b *FalBackend) toResult(ctx context.Context, result falResult) (*domain.Result, error) {
	var imageURL string
	switch {
	case len(result.Images) > 0:
		imageURL = result.Images[0].URL
	case result.Image != nil:
		imageURL = result.Image.URL
	}

	if imageURL != "" {
		img, err := b.core.FetchResult(ctx, imageURL)
		if err != nil {
			return nil, err
		}
		if result.Seed != nil {
			img.UsedSeed = *result.Seed
		}
		return &domain.Result{Image: img}, nil
	}
	if result.Output != nil {
		return &domain.Result{Text: *result.Output}, nil
	}
	if result.Detail != nil {
		return nil, fmt.Errorf("%w: fal: %v", ErrGenerationFailed, result.Detail)
	}
	return nil, ErrEmptyResult
}
