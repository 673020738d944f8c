package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// 環境変数名
const (
	EnvNodeID    = "NODE_ID"
	EnvEngine    = "PRELOAD_ENGINE"
	EnvRedisAddr = "PRELOAD_REDIS_ADDR"
	EnvLogLevel  = "PRELOAD_LOG_LEVEL"
	EnvAPIAddr   = "PRELOAD_API_ADDR"
	EnvServers   = "PRELOAD_SERVERS"
)

// LoadEnvFiles は.envファイルを順に読み込む。存在しないファイルは無視する。
// 既に設定されている環境変数は上書きしない
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv は環境変数で設定を上書きする
func (f *FileConfig) ApplyEnv() error {
	return f.applyEnv(os.LookupEnv)
}

func (f *FileConfig) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvNodeID); ok {
		f.Node.ID = v
	}
	if v, ok := lookup(EnvEngine); ok && v != "" {
		f.Node.Engine = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		f.Redis.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		f.Log.Level = v
	}
	if v, ok := lookup(EnvAPIAddr); ok && v != "" {
		f.API.Addr = v
	}
	if v, ok := lookup(EnvServers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		f.Node.Servers = n
	}
	return nil
}
