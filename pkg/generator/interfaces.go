package generator

import (
	"context"
	"net/http"
	"time"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"google.golang.org/genai"
)

// HTTPClient は、HTTPリクエストを実行し、URLからデータを取得するためのインターフェースです。
type HTTPClient interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	DoRequest(req *http.Request) ([]byte, error)
}

var _ HTTPClient = httpkit.ClientInterface(nil)

// ImageCacher は、画像をキャッシュするためのインターフェースです。
type ImageCacher interface {
	// Get は、指定されたキーに紐づくアイテムを取得します。
	Get(key string) (any, bool)
	// Set は、指定されたキーと値、有効期限でアイテムを保存します。
	Set(key string, value any, d time.Duration)
}

// GeminiModel は Gemini へのマルチパートリクエストを実行します。
// gemini.GenerativeModel の GenerateWithParts と同じシグネチャです。
type GeminiModel interface {
	GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error)
}

// Backend は 1 つのプロバイダに対する生成処理です。
// 自分の担当でないリクエストが渡された場合は ErrUnsupportedProvider を返します。
type Backend interface {
	Generate(ctx context.Context, cred credentials.Credential, req domain.GenerationRequest) (*domain.Result, error)
}
