package generator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// --- Mocks ---

type recordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// mockHTTPClient は FetchBytes を URL ごとの固定データで、DoRequest を handler で応答します。
type mockHTTPClient struct {
	mu         sync.Mutex
	data       map[string][]byte
	err        error
	fetchCalls int
	handler    func(req recordedRequest) ([]byte, error)
	requests   []recordedRequest
}

func (m *mockHTTPClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.data[url]
	if !ok {
		return nil, errors.New("404 not found: " + url)
	}
	return data, nil
}

func (m *mockHTTPClient) DoRequest(req *http.Request) ([]byte, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	rec := recordedRequest{Method: req.Method, URL: req.URL.String(), Header: req.Header.Clone(), Body: body}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return nil, errors.New("no handler")
	}
	return handler(rec)
}

func (m *mockHTTPClient) recorded() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

type mockCache struct {
	data map[string]any
}

func (m *mockCache) Get(key string) (any, bool) {
	val, ok := m.data[key]
	return val, ok
}

func (m *mockCache) Set(key string, value any, d time.Duration) {
	m.data[key] = value
}

type mockGeminiModel struct {
	lastModel string
	lastParts []*genai.Part
	lastOpts  gemini.GenerateOptions
	resp      *gemini.Response
	err       error
}

func (m *mockGeminiModel) GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error) {
	m.lastModel = model
	m.lastParts = parts
	m.lastOpts = opts
	return m.resp, m.err
}

type mockBackend struct {
	calls  int
	result *domain.Result
	err    error
}

func (m *mockBackend) Generate(ctx context.Context, cred credentials.Credential, req domain.GenerationRequest) (*domain.Result, error) {
	m.calls++
	return m.result, m.err
}

// --- Helpers ---

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: 200, A: 255})
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func newTestCore(t *testing.T, client *mockHTTPClient) *Core {
	t.Helper()
	core, err := NewCore(client, nil, 0)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	return core
}

var testCred = credentials.Credential{Name: "test.txt", Key: "secret-key"}

var fastPoll = PollOptions{Interval: time.Millisecond, MaxAttempts: 5}
