// Package credentials は、キーディレクトリに置かれた API キーファイルを
// 明示的な値として読み出します。プロセスの環境変数には書き込みません。
package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shouni/go-remote-io/pkg/gcsfactory"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/shouni/go-remote-io/pkg/s3factory"
)

const keyFileExt = ".txt"

var (
	// ErrInvalidKeyName はディレクトリ外を指すなど不正なキー名を表します。
	ErrInvalidKeyName = errors.New("invalid key name")
	// ErrEmptyKey はキーファイルが空であることを表します。
	ErrEmptyKey = errors.New("key file is empty")
)

// KeyReader はキーファイルの列挙と読み出しを行います。
// remoteio.InputReader を満たすものなら何でも渡せます。
type KeyReader = remoteio.InputReader

// Credential はプロバイダ呼び出しに渡す API キーです。
type Credential struct {
	Name string
	Key  string
}

// String はキー本体を伏せた表現を返します。ログ出力用です。
func (c Credential) String() string {
	return fmt.Sprintf("Credential(%s)", c.Name)
}

// LogValue は slog でキー本体が出力されないようにします。
func (c Credential) LogValue() slog.Value { return slog.StringValue(c.String()) }

// Store はキーディレクトリへのアクセスを提供します。
type Store struct {
	reader KeyReader
	dir    string
}

// NewStore は任意の KeyReader と基準ディレクトリ（gs:// も可）から Store を作成します。
func NewStore(reader KeyReader, dir string) (*Store, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	return &Store{reader: reader, dir: dir}, nil
}

// NewLocalStore はローカルディレクトリを読む Store を作成します。
func NewLocalStore(dir string) *Store {
	return &Store{reader: remoteio.NewUniversalInputReader(nil, nil), dir: dir}
}

// OpenStore は dir の形式 (gs://、s3://、ローカルパス) に応じた Store を作成します。
// 戻り値の close はクラウドクライアントを解放します。ローカルの場合は何もしません。
func OpenStore(ctx context.Context, dir string) (store *Store, closeFn func() error, err error) {
	var factory remoteio.IOFactory
	switch {
	case remoteio.IsGCSURI(dir):
		factory, err = gcsfactory.New(ctx)
	case remoteio.IsS3URI(dir):
		factory, err = s3factory.New(ctx)
	default:
		return NewLocalStore(dir), func() error { return nil }, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("キーディレクトリ %s のクライアント初期化に失敗しました: %w", dir, err)
	}

	reader, err := factory.InputReader()
	if err != nil {
		_ = factory.Close()
		return nil, nil, err
	}
	store, err = NewStore(reader, dir)
	if err != nil {
		_ = factory.Close()
		return nil, nil, err
	}
	return store, factory.Close, nil
}

// List は *.txt のキー名を昇順で返します。
func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s.reader.List(ctx, s.dir, func(entry string) error {
		name := path.Base(filepath.ToSlash(entry))
		if strings.HasSuffix(name, keyFileExt) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("キー一覧の取得に失敗しました: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Load は指定した名前のキーファイルを読み、前後の空白を除いて返します。
func (s *Store) Load(ctx context.Context, name string) (Credential, error) {
	if name == "" || name != path.Base(name) || strings.ContainsAny(name, `/\`) || name == ".." || name == "." {
		return Credential{}, fmt.Errorf("%w: %q", ErrInvalidKeyName, name)
	}

	rc, err := s.reader.Open(ctx, s.join(name))
	if err != nil {
		return Credential{}, fmt.Errorf("キーファイル %s を開けません: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Credential{}, fmt.Errorf("キーファイル %s の読み込みに失敗しました: %w", name, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return Credential{}, fmt.Errorf("%w: %s", ErrEmptyKey, name)
	}
	return Credential{Name: name, Key: key}, nil
}

func (s *Store) join(name string) string {
	if remoteio.IsRemoteURI(s.dir) {
		return strings.TrimRight(s.dir, "/") + "/" + name
	}
	return filepath.Join(s.dir, name)
}

