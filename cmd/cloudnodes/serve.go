package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/dimension"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/generator"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
	"github.com/shouni/cloud-image-nodes/pkg/lora"
	"github.com/shouni/cloud-image-nodes/pkg/nodes"
)

// パラメータ本文の上限
const maxParamsBytes = 32 << 20

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "設定ファイルのパス")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := setup(ctx, *configPath, nodes.WithoutLocalImages())
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           newRouter(a.registry, a.metrics),
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP サーバーを起動します", "addr", srv.Addr, "version", Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("HTTP サーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// nodeResponse は POST /nodes/{name} の JSON 応答です。画像は PNG の data URI です。
type nodeResponse struct {
	Image  string `json:"image,omitempty"`
	Text   string `json:"text,omitempty"`
	Loras  string `json:"loras,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func newRouter(reg *nodes.Registry, gatherer prometheus.Gatherer) http.Handler {
	h := &handler{registry: reg}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/nodes", h.listNodes).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{name}", h.runNode).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	// mux の Use は一致しないルートに適用されないため、ルーター全体を包む
	return requestID(r)
}

type ctxKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		slog.DebugContext(r.Context(), "リクエストを処理しました",
			"request_id", id, "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type handler struct {
	registry *nodes.Registry
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

// runNode は本文のパラメータでノードを実行します。
// ?format=png で画像そのものを返します。
func (h *handler) runNode(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.registry.Info(name); !ok {
		h.fail(w, r, http.StatusNotFound, fmt.Errorf("%w: %q", nodes.ErrUnknownNode, name))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBytes))
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	out, err := h.registry.Run(r.Context(), name, raw)
	if err != nil {
		h.fail(w, r, statusFor(err), err)
		return
	}

	var png []byte
	if out.Image != nil {
		if png, err = out.Image.PNG(); err != nil {
			h.fail(w, r, http.StatusInternalServerError, err)
			return
		}
	}
	if r.URL.Query().Get("format") == "png" && png != nil {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
		return
	}

	resp := nodeResponse{Text: out.Text, Loras: out.Loras, Width: out.Width, Height: out.Height}
	if png != nil {
		resp.Image = imgutil.DataURI("image/png", png)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: requestIDFrom(r.Context())})
}

// statusFor はノードのエラーを HTTP ステータスに対応付けます。
// 入力の誤りは 400、プロバイダ側の失敗は 502 です。
func statusFor(err error) int {
	for _, target := range []error{
		nodes.ErrInvalidParams,
		nodes.ErrMissingImage,
		nodes.ErrUnknownOption,
		lora.ErrMalformedFragment,
		lora.ErrInvalidLoraFormat,
		dimension.ErrUnknownPolicy,
		dimension.ErrUnknownPreset,
		domain.ErrInvalidRequest,
		credentials.ErrInvalidKeyName,
		credentials.ErrEmptyKey,
	} {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	for _, target := range []error{
		nodes.ErrNoImageReturned,
		generator.ErrGenerationFailed,
		generator.ErrPollTimeout,
		generator.ErrEmptyResult,
	} {
		if errors.Is(err, target) {
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("レスポンスの書き込みに失敗しました", "error", err)
	}
}
