package generator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
)

// Core はプロバイダ共通の処理 (結果画像の取得とキャッシュ、JSON API 呼び出し) を担う基盤です。
type Core struct {
	httpClient HTTPClient
	cache      ImageCacher
	expiration time.Duration
}

// NewCore は依存関係を注入して Core を初期化します。cache は nil を許容します。
func NewCore(httpClient HTTPClient, cache ImageCacher, cacheTTL time.Duration) (*Core, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("httpClient is required")
	}
	return &Core{
		httpClient: httpClient,
		cache:      cache,
		expiration: cacheTTL,
	}, nil
}

// FetchResult はプロバイダが返した結果画像の URL からデータを取得します。
// data URI はローカルでデコードし、http(s) は SSRF 検証の後にダウンロードします。
func (c *Core) FetchResult(ctx context.Context, rawURL string) (*domain.ImageResponse, error) {
	if strings.HasPrefix(rawURL, "data:") {
		mimeType, data, err := imgutil.ParseDataURI(rawURL)
		if err != nil {
			return nil, err
		}
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		return &domain.ImageResponse{Data: data, MimeType: mimeType}, nil
	}

	cacheKey := cacheKeyResultURL + rawURL
	if c.cache != nil {
		if val, ok := c.cache.Get(cacheKey); ok {
			if data, ok := val.([]byte); ok {
				slog.DebugContext(ctx, "結果画像をキャッシュから取得しました", "url", rawURL)
				return &domain.ImageResponse{Data: data, MimeType: http.DetectContentType(data), URL: rawURL}, nil
			}
		}
	}

	if safe, err := IsSafeURL(rawURL); err != nil || !safe {
		return nil, fmt.Errorf("安全ではないURLが指定されました: %w", err)
	}

	data, err := c.httpClient.FetchBytes(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("結果画像のダウンロードに失敗しました: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("結果画像が空です: %s", rawURL)
	}

	if c.cache != nil {
		c.cache.Set(cacheKey, data, c.expiration)
	}
	return &domain.ImageResponse{Data: data, MimeType: http.DetectContentType(data), URL: rawURL}, nil
}
