package generator

import (
	"errors"
	"time"
)

const (
	UseImageCompression     = true
	ImageCompressionQuality = 75
	cacheKeyResultURL       = "result_url:"

	defaultPollInterval = time.Second
	defaultMaxAttempts  = 600
)

var (
	// ErrUnsupportedProvider はリクエストに対応するバックエンドが無いことを表します。
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrGenerationFailed はプロバイダが生成の失敗を報告したことを表します。
	ErrGenerationFailed = errors.New("generation failed")
	// ErrPollTimeout は完了待ちが最大試行回数に達したことを表します。
	ErrPollTimeout = errors.New("timed out waiting for result")
	// ErrEmptyResult は応答に画像もテキストも含まれていないことを表します。
	ErrEmptyResult = errors.New("no image or text in response")
)

// PollOptions はキュー型 API の完了待ちの設定です。
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

func (o PollOptions) normalized() PollOptions {
	if o.Interval <= 0 {
		o.Interval = defaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	return o
}
