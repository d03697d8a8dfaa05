package generator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
)

// Dispatcher は生成リクエストをプロバイダごとのバックエンドへ振り分ける唯一の窓口です。
type Dispatcher struct {
	backends map[domain.Provider]Backend
	limiters map[domain.Provider]*rate.Limiter
	metrics  *Metrics
}

// NewDispatcher は Dispatcher を作成します。metrics は nil を許容します。
func NewDispatcher(metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		backends: make(map[domain.Provider]Backend),
		limiters: make(map[domain.Provider]*rate.Limiter),
		metrics:  metrics,
	}
}

// Register はプロバイダにバックエンドを割り当てます。
func (d *Dispatcher) Register(provider domain.Provider, backend Backend) *Dispatcher {
	d.backends[provider] = backend
	return d
}

// WithRateLimit はプロバイダの秒間リクエスト数を制限します。rps が 0 以下なら制限しません。
func (d *Dispatcher) WithRateLimit(provider domain.Provider, rps float64, burst int) *Dispatcher {
	if rps <= 0 {
		delete(d.limiters, provider)
		return d
	}
	if burst <= 0 {
		burst = 1
	}
	d.limiters[provider] = rate.NewLimiter(rate.Limit(rps), burst)
	return d
}

// Generate はリクエストを検証し、プロバイダのバックエンドで生成を実行します。
func (d *Dispatcher) Generate(ctx context.Context, cred credentials.Credential, req domain.GenerationRequest) (*domain.Result, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", domain.ErrInvalidRequest)
	}
	provider := req.Provider()

	var backend Backend
	switch req.(type) {
	case domain.FalRequest, domain.ReplicateRequest, domain.RunwareRequest, domain.GeminiRequest:
		backend = d.backends[provider]
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if limiter, ok := d.limiters[provider]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("レート制限の待機中に中断されました: %w", err)
		}
	}

	start := time.Now()
	result, err := backend.Generate(ctx, cred, req)
	elapsed := time.Since(start)
	d.metrics.observe(string(provider), elapsed, err)

	if err != nil {
		slog.WarnContext(ctx, "生成に失敗しました", "provider", provider, "elapsed", elapsed, "error", err)
		return nil, err
	}
	slog.InfoContext(ctx, "生成が完了しました", "provider", provider, "elapsed", elapsed, "has_image", result.HasImage())
	return result, nil
}

// Providers は登録済みのプロバイダを返します。
func (d *Dispatcher) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(d.backends))
	for p := range d.backends {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
