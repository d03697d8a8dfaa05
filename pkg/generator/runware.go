package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/imgutil"
	"github.com/shouni/cloud-image-nodes/pkg/utils"
)

// DefaultRunwareURL は Runware の WebSocket エンドポイントです。
const DefaultRunwareURL = "wss://ws-api.runware.ai/v1"

const (
	runwareTaskAuth      = "authentication"
	runwareTaskUpload    = "imageUpload"
	runwareTaskInference = "imageInference"

	defaultRunwareTimeout = 3 * time.Minute
)

type runwareEnvelope struct {
	Data   []runwareItem  `json:"data"`
	Errors []runwareError `json:"errors"`
}

type runwareItem struct {
	TaskType              string `json:"taskType"`
	TaskUUID              string `json:"taskUUID"`
	ConnectionSessionUUID string `json:"connectionSessionUUID,omitempty"`
	ImageUUID             string `json:"imageUUID,omitempty"`
	ImageURL              string `json:"imageURL,omitempty"`
	Seed                  *int64 `json:"seed,omitempty"`
}

type runwareError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Parameter string `json:"parameter"`
	TaskType  string `json:"taskType"`
}

func (e runwareError) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("%s (Parameter: %s)", e.Message, e.Parameter)
	}
	return e.Message
}

// RunwareBackend は Runware の WebSocket API を 1 リクエストごとの短命なセッションで呼び出します。
type RunwareBackend struct {
	core    *Core
	url     string
	dialer  *websocket.Dialer
	timeout time.Duration
}

// NewRunwareBackend は RunwareBackend を初期化します。url が空なら DefaultRunwareURL を使います。
func NewRunwareBackend(core *Core, url string, timeout time.Duration) (*RunwareBackend, error) {
	if core == nil {
		return nil, fmt.Errorf("core is required")
	}
	if url == "" {
		url = DefaultRunwareURL
	}
	if timeout <= 0 {
		timeout = defaultRunwareTimeout
	}
	return &RunwareBackend{
		core:    core,
		url:     url,
		dialer:  websocket.DefaultDialer,
		timeout: timeout,
	}, nil
}

// Generate は認証、必要なら画像アップロード、推論の順にタスクを送り、結果画像を返します。
func (b *RunwareBackend) Generate(ctx context.Context, cred credentials.Credential, req domain.GenerationRequest) (*domain.Result, error) {
	r, ok := req.(domain.RunwareRequest)
	if !ok {
		return nil, fmt.Errorf("%w: runware backend cannot handle %s", ErrUnsupportedProvider, req.Provider())
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("runware への接続に失敗しました: %w", err)
	}
	defer conn.Close()
	// ctx が終わったら読み込み待ちを解除する
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s := &runwareSession{conn: conn}

	if _, err := s.call(ctx, map[string]any{"taskType": runwareTaskAuth, "apiKey": cred.Key}); err != nil {
		return nil, fmt.Errorf("runware の認証に失敗しました: %w", err)
	}
	slog.DebugContext(ctx, "runware に認証しました", "credential", cred)

	task := map[string]any{
		"taskType":       runwareTaskInference,
		"taskUUID":       uuid.NewString(),
		"outputType":     "URL",
		"outputFormat":   "PNG",
		"positivePrompt": r.PositivePrompt,
		"model":          r.Model,
		"width":          r.Width,
		"height":         r.Height,
		"steps":          r.Steps,
		"CFGScale":       r.CFGScale,
		"numberResults":  1,
	}
	if r.NegativePrompt != "" {
		task["negativePrompt"] = r.NegativePrompt
	}
	if r.Seed != nil {
		task["seed"] = *r.Seed
	}
	if r.Strength != nil {
		task["strength"] = *r.Strength
	}
	if len(r.Loras) > 0 {
		task["lora"] = r.Loras
	}

	if len(r.SeedImage) > 0 {
		dataURI := imgutil.DataURI("image/png", r.SeedImage)
		uploaded, err := s.call(ctx, map[string]any{
			"taskType": runwareTaskUpload,
			"taskUUID": uuid.NewString(),
			"image":    dataURI,
		})
		if err != nil {
			return nil, fmt.Errorf("runware への画像アップロードに失敗しました: %w", err)
		}
		if uploaded.ImageUUID != "" {
			task["seedImage"] = uploaded.ImageUUID
		} else {
			task["seedImage"] = dataURI
		}
	}

	result, err := s.call(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("%w: runware: %w", ErrGenerationFailed, err)
	}
	if result.ImageURL == "" {
		return nil, fmt.Errorf("%w: runware returned no imageURL", ErrEmptyResult)
	}
	slog.InfoContext(ctx, "runware の生成が完了しました", "model", r.Model, "task_uuid", result.TaskUUID)

	img, err := b.core.FetchResult(ctx, result.ImageURL)
	if err != nil {
		return nil, err
	}
	img.UsedSeed = utils.DereferenceSeed(r.Seed)
	if result.Seed != nil {
		img.UsedSeed = *result.Seed
	}
	return &domain.Result{Image: img}, nil
}

type runwareSession struct {
	conn *websocket.Conn
}

// call はタスクを 1 件送り、同じ taskType と taskUUID を持つ応答を待ちます。
// 無関係なメッセージは読み飛ばします。
func (s *runwareSession) call(ctx context.Context, task map[string]any) (*runwareItem, error) {
	if err := s.conn.WriteJSON([]map[string]any{task}); err != nil {
		return nil, s.wrapIOError(ctx, err)
	}
	taskType, _ := task["taskType"].(string)
	taskUUID, _ := task["taskUUID"].(string)

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			return nil, s.wrapIOError(ctx, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env runwareEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			slog.WarnContext(ctx, "runware の応答を解析できません", "error", err)
			continue
		}
		if len(env.Errors) > 0 {
			return nil, env.Errors[0]
		}
		for i := range env.Data {
			item := env.Data[i]
			if item.TaskType != "" && item.TaskType != taskType {
				continue
			}
			if taskUUID != "" && item.TaskUUID != "" && item.TaskUUID != taskUUID {
				continue
			}
			return &item, nil
		}
	}
}

func (s *runwareSession) wrapIOError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}
