package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/generator"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
	"github.com/shouni/cloud-image-nodes/pkg/nodes"
)

type stubGenerator struct {
	result *domain.Result
	err    error
}

func (s stubGenerator) Generate(context.Context, credentials.Credential, domain.GenerationRequest) (*domain.Result, error) {
	return s.result, s.err
}

type stubKeys struct{}

func (stubKeys) Load(_ context.Context, name string) (credentials.Credential, error) {
	return credentials.Credential{Name: name, Key: "k"}, nil
}

func newTestServer(t *testing.T, gen stubGenerator) *httptest.Server {
	t.Helper()
	runner, err := nodes.NewRunner(gen, stubKeys{})
	require.NoError(t, err)
	reg, err := nodes.NewRegistry(runner, nodes.WithoutLocalImages())
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	_ = generator.NewMetrics(promReg)

	srv := httptest.NewServer(newRouter(reg, promReg))
	t.Cleanup(srv.Close)
	return srv
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestServer_ListNodes(t *testing.T) {
	srv := newTestServer(t, stubGenerator{})

	resp, err := http.Get(srv.URL + "/nodes")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var infos []nodes.NodeInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	assert.Len(t, infos, 14)
}

func TestServer_RunNode(t *testing.T) {
	gen := stubGenerator{result: &domain.Result{Image: &domain.ImageResponse{Data: testPNG(t, 4, 2)}}}
	srv := newTestServer(t, gen)

	t.Run("JSONで画像をdata URIとして返す", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/nodes/FalFluxAPI", "application/json", strings.NewReader(`{"prompt":"x","api_key":"fal.txt"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body nodeResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 4, body.Width)
		assert.Equal(t, 2, body.Height)
		mime, data, err := imgutil.ParseDataURI(body.Image)
		require.NoError(t, err)
		assert.Equal(t, "image/png", mime)
		assert.NotEmpty(t, data)
	})

	t.Run("format=pngなら画像そのもの", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/nodes/FalFluxAPI?format=png", "application/yaml", strings.NewReader("prompt: x\n"))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	})

	t.Run("画像を返さないノードはJSONのみ", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/nodes/FluxResolutionPresets", "application/yaml", strings.NewReader(`aspect_ratio: "1024x576 (16:9)"`))
		require.NoError(t, err)
		defer resp.Body.Close()

		var body nodeResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Empty(t, body.Image)
		assert.Equal(t, 1024, body.Width)
		assert.Equal(t, 576, body.Height)
	})

	t.Run("未知のノードは404", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/nodes/Nope", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("不正なパラメータは400", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/nodes/FalFluxAPI", "application/yaml", strings.NewReader("unknown_field: 1\n"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body errorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body.RequestID)
	})
}

func TestServer_RejectsLocalImagePath(t *testing.T) {
	gen := stubGenerator{result: &domain.Result{Image: &domain.ImageResponse{Data: testPNG(t, 4, 2)}}}
	srv := newTestServer(t, gen)

	path := filepath.Join(t.TempDir(), "secret.png")
	require.NoError(t, os.WriteFile(path, testPNG(t, 8, 8), 0o600))
	params, err := json.Marshal(map[string]string{"prompt": "x", "api_key": "fal.txt", "image": path})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/nodes/FalFluxI2IAPI", "application/json", bytes.NewReader(params))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, nodes.ErrLocalImage.Error())

	t.Run("data URIは受け付けるのだ", func(t *testing.T) {
		params, err := json.Marshal(map[string]string{
			"prompt":  "x",
			"api_key": "fal.txt",
			"image":   imgutil.DataURI("image/png", testPNG(t, 8, 8)),
		})
		require.NoError(t, err)

		resp, err := http.Post(srv.URL+"/nodes/FalFluxI2IAPI", "application/json", bytes.NewReader(params))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServer_RequestIDOnUnmatchedRoutes(t *testing.T) {
	srv := newTestServer(t, stubGenerator{})

	resp, err := http.Get(srv.URL + "/no/such/path")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "fixed-id")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "fixed-id", resp2.Header.Get("X-Request-ID"))

	resp3, err := http.Get(srv.URL + "/nodes/FalFluxAPI")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp3.StatusCode)
	assert.NotEmpty(t, resp3.Header.Get("X-Request-ID"))
}

func TestServer_ProviderFailureIsBadGateway(t *testing.T) {
	srv := newTestServer(t, stubGenerator{err: fmt.Errorf("%w: nsfw", generator.ErrGenerationFailed)})

	resp, err := http.Post(srv.URL+"/nodes/FalFluxAPI", "application/yaml", strings.NewReader("prompt: x\n"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("wrap: %w", nodes.ErrMissingImage)))
	assert.Equal(t, http.StatusBadGateway, statusFor(generator.ErrPollTimeout))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("other")))
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t, stubGenerator{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
