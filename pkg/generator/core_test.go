package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
)

func TestNewCore(t *testing.T) {
	_, err := NewCore(nil, nil, 0)
	assert.Error(t, err, "httpClient は必須なのだ")
}

func TestCore_FetchResult(t *testing.T) {
	ctx := context.Background()
	img := pngBytes(t, 4, 4)
	const url = "https://8.8.8.8/out.png"

	t.Run("ダウンロードしてキャッシュに保存する", func(t *testing.T) {
		client := &mockHTTPClient{data: map[string][]byte{url: img}}
		cache := &mockCache{data: map[string]any{}}
		core, err := NewCore(client, cache, 0)
		require.NoError(t, err)

		resp, err := core.FetchResult(ctx, url)
		require.NoError(t, err)
		assert.Equal(t, img, resp.Data)
		assert.Equal(t, "image/png", resp.MimeType)
		assert.Equal(t, url, resp.URL)

		_, err = core.FetchResult(ctx, url)
		require.NoError(t, err)
		assert.Equal(t, 1, client.fetchCalls, "2回目はキャッシュから返すのだ")
	})

	t.Run("data URI はダウンロードせずにデコードする", func(t *testing.T) {
		client := &mockHTTPClient{}
		core := newTestCore(t, client)

		resp, err := core.FetchResult(ctx, imgutil.DataURI("image/png", img))
		require.NoError(t, err)
		assert.Equal(t, img, resp.Data)
		assert.Equal(t, 0, client.fetchCalls)
	})

	t.Run("ループバックへのアクセスは拒否する", func(t *testing.T) {
		client := &mockHTTPClient{data: map[string][]byte{"http://127.0.0.1/evil.png": img}}
		core := newTestCore(t, client)

		_, err := core.FetchResult(ctx, "http://127.0.0.1/evil.png")
		assert.Error(t, err)
		assert.Equal(t, 0, client.fetchCalls)
	})

	t.Run("ダウンロード失敗はラップして返す", func(t *testing.T) {
		client := &mockHTTPClient{err: errors.New("connection reset")}
		core := newTestCore(t, client)

		_, err := core.FetchResult(ctx, url)
		assert.ErrorContains(t, err, "connection reset")
	})

	t.Run("空のデータはエラー", func(t *testing.T) {
		client := &mockHTTPClient{data: map[string][]byte{url: {}}}
		core := newTestCore(t, client)

		_, err := core.FetchResult(ctx, url)
		assert.Error(t, err)
	})
}
