// cloudnodes はクラウド画像生成ノードをコマンドラインまたは HTTP から実行します。
//
//	cloudnodes nodes                                 # ノード一覧
//	cloudnodes keys                                  # キーファイル一覧
//	cloudnodes run -node FalFluxAPI -params p.yaml -out out.png
//	cloudnodes serve -config cloudnodes.yaml
//	cloudnodes version
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/shouni/cloud-image-nodes/pkg/config"
	"github.com/shouni/cloud-image-nodes/pkg/credentials"
	"github.com/shouni/cloud-image-nodes/pkg/domain"
	"github.com/shouni/cloud-image-nodes/pkg/generator"
	"github.com/shouni/cloud-image-nodes/pkg/nodes"
)

// Version はビルド時に -ldflags で注入します。
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "nodes":
		err = runNodes(ctx, os.Args[2:], os.Stdout)
	case "keys":
		err = runKeys(ctx, os.Args[2:], os.Stdout)
	case "run":
		err = runNode(ctx, os.Args[2:], os.Stdout)
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "version":
		fmt.Println(Version)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("コマンドの実行に失敗しました", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: cloudnodes <nodes|keys|run|serve|version> [flags]")
}

// app はコマンド間で共有する依存関係です。
type app struct {
	cfg       *config.Config
	keys      *credentials.Store
	closeKeys func() error
	registry  *nodes.Registry
	metrics   *prometheus.Registry
}

// setup は設定を読み込み、ロガーとノードの依存関係を組み立てます。
func setup(ctx context.Context, configPath string, opts ...nodes.RegistryOption) (*app, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Log, os.Stderr))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dispatcher, err := newDispatcher(cfg, promReg)
	if err != nil {
		return nil, err
	}

	keys, closeKeys, err := credentials.OpenStore(ctx, cfg.KeysDir)
	if err != nil {
		return nil, err
	}

	runner, err := nodes.NewRunner(dispatcher, keys)
	if err != nil {
		_ = closeKeys()
		return nil, err
	}
	registry, err := nodes.NewRegistry(runner, opts...)
	if err != nil {
		_ = closeKeys()
		return nil, err
	}
	return &app{cfg: cfg, keys: keys, closeKeys: closeKeys, registry: registry, metrics: promReg}, nil
}

func (a *app) close() {
	if err := a.closeKeys(); err != nil {
		slog.Warn("キーストアのクローズに失敗しました", "error", err)
	}
}

func newDispatcher(cfg *config.Config, reg prometheus.Registerer) (*generator.Dispatcher, error) {
	core, err := generator.NewCore(httpkit.New(cfg.HTTP.Timeout), generator.NewMemoryCache(), cfg.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("コアの初期化に失敗しました: %w", err)
	}
	poll := generator.PollOptions{Interval: cfg.Poll.Interval, MaxAttempts: cfg.Poll.MaxAttempts}

	fal, err := generator.NewFalBackend(core, cfg.Fal.QueueURL, poll)
	if err != nil {
		return nil, err
	}
	replicate, err := generator.NewReplicateBackend(core, cfg.Replicate.BaseURL, poll)
	if err != nil {
		return nil, err
	}
	runware, err := generator.NewRunwareBackend(core, cfg.Runware.URL, cfg.Runware.Timeout)
	if err != nil {
		return nil, err
	}
	gemini, err := generator.NewGeminiBackend(generator.NewGenAIModelFactory(), cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	rl := cfg.RateLimit
	return generator.NewDispatcher(generator.NewMetrics(reg)).
		Register(domain.ProviderFal, fal).
		Register(domain.ProviderReplicate, replicate).
		Register(domain.ProviderRunware, runware).
		Register(domain.ProviderGemini, gemini).
		WithRateLimit(domain.ProviderFal, rl.Fal, rl.Burst).
		WithRateLimit(domain.ProviderReplicate, rl.Replicate, rl.Burst).
		WithRateLimit(domain.ProviderRunware, rl.Runware, rl.Burst).
		WithRateLimit(domain.ProviderGemini, rl.Gemini, rl.Burst), nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func runNodes(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("nodes", flag.ContinueOnError)
	configPath := fs.String("config", "", "設定ファイルのパス")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tRETURNS")
	for _, info := range a.registry.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.DisplayName, strings.Join(info.Returns, ","))
	}
	return tw.Flush()
}

func runKeys(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("keys", flag.ContinueOnError)
	configPath := fs.String("config", "", "設定ファイルのパス")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	names, err := a.keys.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return nil
}

func runNode(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "設定ファイルのパス")
	name := fs.String("node", "", "実行するノード名")
	paramsPath := fs.String("params", "", "パラメータの YAML/JSON ファイル (- で標準入力)")
	outPath := fs.String("out", "out.png", "画像の出力先")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("-node is required")
	}
	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	raw, err := readParams(*paramsPath)
	if err != nil {
		return err
	}
	out, err := a.registry.Run(ctx, *name, raw)
	if err != nil {
		return err
	}
	return writeOutput(out, *outPath, w)
}

func readParams(path string) ([]byte, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("パラメータファイルの読み込みに失敗しました: %w", err)
	}
	return data, nil
}

// writeOutput は画像をファイルに書き、それ以外の戻り値を w に出力します。
func writeOutput(out nodes.Output, outPath string, w io.Writer) error {
	if out.Image != nil {
		png, err := out.Image.PNG()
		if err != nil {
			return err
		}
		if err := os.WriteFile(outPath, png, 0o644); err != nil {
			return fmt.Errorf("画像の書き込みに失敗しました: %w", err)
		}
		fmt.Fprintf(w, "image: %s (%dx%d)\n", outPath, out.Image.Width, out.Image.Height)
		return nil
	}
	switch {
	case out.Text != "":
		fmt.Fprintln(w, out.Text)
	case out.Loras != "":
		fmt.Fprintln(w, out.Loras)
	default:
		fmt.Fprintf(w, "%d %d\n", out.Width, out.Height)
	}
	return nil
}
