// Package config は cloudnodes の設定を読み込みます。
//
// 優先順位: 既定値 → YAML ファイル → 環境変数 (CLOUDNODES_*)
//
//	cfg, err := config.NewLoader().WithConfigPath("cloudnodes.yaml").Load()
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config は cloudnodes 全体の設定です。
type Config struct {
	// KeysDir は API キーファイル (*.txt) を置くディレクトリです。gs:// と s3:// も指定できます。
	KeysDir string `yaml:"keys_dir" env:"KEYS_DIR"`

	HTTP      HTTPConfig      `yaml:"http" env:"HTTP"`
	Fal       FalConfig       `yaml:"fal" env:"FAL"`
	Replicate ReplicateConfig `yaml:"replicate" env:"REPLICATE"`
	Runware   RunwareConfig   `yaml:"runware" env:"RUNWARE"`
	Gemini    GeminiConfig    `yaml:"gemini" env:"GEMINI"`
	Poll      PollConfig      `yaml:"poll" env:"POLL"`
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
}

// HTTPConfig は結果画像のダウンロードなどに使う HTTP クライアントの設定です。
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type FalConfig struct {
	QueueURL string `yaml:"queue_url" env:"QUEUE_URL"`
}

type ReplicateConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

type RunwareConfig struct {
	URL string `yaml:"url" env:"URL"`
	// Timeout は WebSocket セッション全体の上限です。
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type GeminiConfig struct {
	Model string `yaml:"model" env:"MODEL"`
}

// PollConfig はキュー型 API の完了待ちの設定です。
type PollConfig struct {
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// RateLimitConfig はプロバイダごとの秒間リクエスト数です。0 以下は無制限です。
type RateLimitConfig struct {
	Fal       float64 `yaml:"fal" env:"FAL"`
	Replicate float64 `yaml:"replicate" env:"REPLICATE"`
	Runware   float64 `yaml:"runware" env:"RUNWARE"`
	Gemini    float64 `yaml:"gemini" env:"GEMINI"`
	Burst     int     `yaml:"burst" env:"BURST"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// LogConfig はログ出力の設定です。Format は text か json です。
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig は既定値を返します。
func DefaultConfig() *Config {
	return &Config{
		KeysDir: "keys",
		HTTP:    HTTPConfig{Timeout: 60 * time.Second},
		Fal:     FalConfig{QueueURL: "https://queue.fal.run"},
		Replicate: ReplicateConfig{
			BaseURL: "https://api.replicate.com",
		},
		Runware: RunwareConfig{
			URL:     "wss://ws-api.runware.ai/v1",
			Timeout: 3 * time.Minute,
		},
		Gemini: GeminiConfig{Model: "gemini-2.5-flash-image"},
		Poll: PollConfig{
			Interval:    time.Second,
			MaxAttempts: 600,
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Cache:     CacheConfig{TTL: 10 * time.Minute},
		Log:       LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Addr:            ":8188",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate は設定値の整合性を検証します。
func (c *Config) Validate() error {
	var errs []error
	if c.KeysDir == "" {
		errs = append(errs, errors.New("keys_dir is required"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	for name, u := range map[string]string{
		"fal.queue_url":      c.Fal.QueueURL,
		"replicate.base_url": c.Replicate.BaseURL,
	} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			errs = append(errs, fmt.Errorf("%s must be an http(s) URL: %q", name, u))
		}
	}
	if !strings.HasPrefix(c.Runware.URL, "ws://") && !strings.HasPrefix(c.Runware.URL, "wss://") {
		errs = append(errs, fmt.Errorf("runware.url must be a ws(s) URL: %q", c.Runware.URL))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.MaxAttempts <= 0 {
		errs = append(errs, errors.New("poll.max_attempts must be positive"))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.burst must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error: %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json: %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
