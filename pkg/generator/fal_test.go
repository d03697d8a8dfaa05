package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/cloud-image-nodes/pkg/domain"
)

const (
	falBase        = "https://queue.fal.test"
	falStatusURL   = falBase + "/fal-ai/flux/requests/req-1/status"
	falResponseURL = falBase + "/fal-ai/flux/requests/req-1"
)

// falHandler は投入、ステータス (statuses を順に返す)、結果取得に応答するのだ。
func falHandler(t *testing.T, statuses []string, result string) func(recordedRequest) ([]byte, error) {
	polls := 0
	return func(r recordedRequest) ([]byte, error) {
		switch {
		case r.Method == http.MethodPost:
			return []byte(`{"request_id":"req-1","status_url":"` + falStatusURL + `","response_url":"` + falResponseURL + `"}`), nil
		case r.URL == falStatusURL:
			s := statuses[min(polls, len(statuses)-1)]
			polls++
			return []byte(`{"status":"` + s + `"}`), nil
		case r.URL == falResponseURL:
			return []byte(result), nil
		}
		t.Errorf("unexpected request: %s %s", r.Method, r.URL)
		return nil, errors.New("unexpected")
	}
}

func TestFalBackend_Generate(t *testing.T) {
	ctx := context.Background()
	img := pngBytes(t, 8, 8)

	t.Run("成功: キューに投入して完了後に画像を取得するのだ", func(t *testing.T) {
		client := &mockHTTPClient{
			data:    map[string][]byte{"https://8.8.8.8/out.png": img},
			handler: falHandler(t, []string{"IN_QUEUE", "IN_PROGRESS", "COMPLETED"}, `{"images":[{"url":"https://8.8.8.8/out.png"}],"seed":42}`),
		}
		backend, err := NewFalBackend(newTestCore(t, client), falBase, fastPoll)
		require.NoError(t, err)

		res, err := backend.Generate(ctx, testCred, domain.FalRequest{
			Endpoint:  "fal-ai/flux/dev",
			Arguments: map[string]any{"prompt": "a cat", "seed": 42},
		})
		require.NoError(t, err)
		require.True(t, res.HasImage())
		assert.Equal(t, img, res.Image.Data)
		assert.Equal(t, int64(42), res.Image.UsedSeed)

		reqs := client.recorded()
		require.Len(t, reqs, 5, "投入1 + ステータス3 + 結果1")
		assert.Equal(t, falBase+"/fal-ai/flux/dev", reqs[0].URL)
		assert.Equal(t, "Key secret-key", reqs[0].Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
		assert.Equal(t, "a cat", body["prompt"])
	})

	t.Run("画像はdata URIとして引数に入るのだ", func(t *testing.T) {
		client := &mockHTTPClient{
			data:    map[string][]byte{"https://8.8.8.8/out.png": img},
			handler: falHandler(t, []string{"COMPLETED"}, `{"images":[{"url":"https://8.8.8.8/out.png"}]}`),
		}
		backend, _ := NewFalBackend(newTestCore(t, client), falBase, fastPoll)

		args := map[string]any{"prompt": "x"}
		_, err := backend.Generate(ctx, testCred, domain.FalRequest{
			Endpoint:    "fal-ai/flux/dev/image-to-image",
			Arguments:   args,
			UploadImage: img,
			UploadField: "image_url",
		})
		require.NoError(t, err)
		assert.NotContains(t, args, "image_url", "呼び出し元の引数は変更しないのだ")

		var body map[string]any
		require.NoError(t, json.Unmarshal(client.recorded()[0].Body, &body))
		uri, _ := body["image_url"].(string)
		assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
	})

	t.Run("テキスト出力 (LLaVA) はTextとして返すのだ", func(t *testing.T) {
		client := &mockHTTPClient{handler: falHandler(t, []string{"COMPLETED"}, `{"output":"A cat on a sofa."}`)}
		backend, _ := NewFalBackend(newTestCore(t, client), falBase, fastPoll)

		res, err := backend.Generate(ctx, testCred, domain.FalRequest{Endpoint: "fal-ai/llavav15-13b"})
		require.NoError(t, err)
		assert.False(t, res.HasImage())
		assert.Equal(t, "A cat on a sofa.", res.Text)
	})

	t.Run("失敗ステータスはErrGenerationFailed", func(t *testing.T) {
		client := &mockHTTPClient{handler: falHandler(t, []string{"FAILED"}, `{}`)}
		backend, _ := NewFalBackend(newTestCore(t, client), falBase, fastPoll)

		_, err := backend.Generate(ctx, testCred, domain.FalRequest{Endpoint: "fal-ai/aura-flow"})
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("最大試行回数を超えたらErrPollTimeout", func(t *testing.T) {
		client := &mockHTTPClient{handler: falHandler(t, []string{"IN_QUEUE"}, `{}`)}
		backend, _ := NewFalBackend(newTestCore(t, client), falBase, fastPoll)

		_, err := backend.Generate(ctx, testCred, domain.FalRequest{Endpoint: "fal-ai/aura-flow"})
		assert.ErrorIs(t, err, ErrPollTimeout)
	})

	t.Run("空の結果はErrEmptyResult", func(t *testing.T) {
		client := &mockHTTPClient{handler: falHandler(t, []string{"COMPLETED"}, `{"images":[]}`)}
		backend, _ := NewFalBackend(newTestCore(t, client), falBase, fastPoll)

		_, err := backend.Generate(ctx, testCred, domain.FalRequest{Endpoint: "fal-ai/aura-flow"})
		assert.ErrorIs(t, err, ErrEmptyResult)
	})

	t.Run("キャンセルされたら待機を中断するのだ", func(t *testing.T) {
		client := &mockHTTPClient{handler: falHandler(t, []string{"IN_QUEUE"}, `{}`)}
		backend, _ := NewFalBackend(newTestCore(t, client), falBase, PollOptions{Interval: 1 << 40, MaxAttempts: 10})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := backend.Generate(cctx, testCred, domain.FalRequest{Endpoint: "fal-ai/aura-flow"})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("他のプロバイダのリクエストは扱わない", func(t *testing.T) {
		backend, _ := NewFalBackend(newTestCore(t, &mockHTTPClient{}), falBase, fastPoll)
		_, err := backend.Generate(ctx, testCred, domain.ReplicateRequest{Model: "x/y"})
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
	})
}
