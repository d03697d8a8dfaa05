package nodes

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
)

// --- Mocks ---

// mockGenerator は受け取ったリクエストを記録し、固定の結果を返します。
type mockGenerator struct {
	mu       sync.Mutex
	result   *domain.Result
	err      error
	requests []domain.GenerationRequest
	creds    []credentials.Credential
}

func (m *mockGenerator) Generate(ctx context.Context, cred credentials.Credential, req domain.GenerationRequest) (*domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.creds = append(m.creds, cred)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockGenerator) last(t *testing.T) domain.GenerationRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("generator was not called")
	}
	return m.requests[len(m.requests)-1]
}

func (m *mockGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// mockKeys はファイル名からキーを引きます。
type mockKeys map[string]string

func (m mockKeys) Load(_ context.Context, name string) (credentials.Credential, error) {
	key, ok := m[name]
	if !ok {
		return credentials.Credential{}, errors.New("key file not found: " + name)
	}
	return credentials.Credential{Name: name, Key: key}, nil
}

// --- Helpers ---

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func imageInput(t *testing.T, w, h int) *ImageInput {
	t.Helper()
	tensor, err := imgutil.FromBytes(pngBytes(t, w, h))
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}
	return NewImageInput(tensor)
}

func decodedSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := imgutil.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

// newTestRunner は 8x4 の画像を返す Generator と、fal/runware/replicate/gemini のキーを持つ Runner を作成します。
func newTestRunner(t *testing.T) (*Runner, *mockGenerator) {
	t.Helper()
	gen := &mockGenerator{
		result: &domain.Result{Image: &domain.ImageResponse{Data: pngBytes(t, 8, 4), MimeType: "image/png"}},
	}
	keys := mockKeys{
		"fal.txt":       "fal-key",
		"runware.txt":   "runware-key",
		"replicate.txt": "replicate-key",
		"gemini.txt":    "gemini-key",
	}
	r, err := NewRunner(gen, keys)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return r, gen
}
