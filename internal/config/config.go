package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"grid-preload/internal/bootstrap"
	"grid-preload/internal/grid"
	"grid-preload/internal/logger"
	"grid-preload/internal/redisgrid"
)

// エンジン名
const (
	EngineLocal = "local"
	EngineRedis = "redis"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Node      NodeConfig      `yaml:"node" json:"node"`
	Bootstrap BootstrapConfig `yaml:"bootstrap" json:"bootstrap"`
	Grid      GridConfig      `yaml:"grid" json:"grid"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Log       LogConfig       `yaml:"log" json:"log"`
	API       APIConfig       `yaml:"api" json:"api"`
}

// NodeConfig はこのプロセスの設定
type NodeConfig struct {
	ID         string `yaml:"id" json:"id"`
	Engine     string `yaml:"engine" json:"engine"`   // local | redis
	Servers    int    `yaml:"servers" json:"servers"` // localエンジンで起動するサーバー数
	ReportFile string `yaml:"report_file" json:"report_file"`
}

// BootstrapConfig はクォーラム・ロード・検証の設定。
// WorkersとRecordsPerWorkerは未指定(nil)ならデフォルトを使い、0の指定はそのまま渡す
type BootstrapConfig struct {
	CoordinatorID    string `yaml:"coordinator_id" json:"coordinator_id"`
	RequiredServers  int    `yaml:"required_servers" json:"required_servers"`
	QuorumPoll       string `yaml:"quorum_poll" json:"quorum_poll"`
	QuorumTimeout    string `yaml:"quorum_timeout" json:"quorum_timeout"`
	SettleDelay      string `yaml:"settle_delay" json:"settle_delay"`
	Workers          *int   `yaml:"workers" json:"workers"`
	RecordsPerWorker *int   `yaml:"records_per_worker" json:"records_per_worker"`
	VerifyPoll       string `yaml:"verify_poll" json:"verify_poll"`
	VerifyTimeout    string `yaml:"verify_timeout" json:"verify_timeout"`
	Diagnostic       string `yaml:"diagnostic" json:"diagnostic"`
}

// GridConfig はキャッシュトポロジーの設定
type GridConfig struct {
	InstanceName       string       `yaml:"instance_name" json:"instance_name"`
	CacheName          string       `yaml:"cache_name" json:"cache_name"`
	Backups            *int         `yaml:"backups" json:"backups"`
	Atomicity          string       `yaml:"atomicity" json:"atomicity"`
	Mode               string       `yaml:"mode" json:"mode"`
	WriteSync          string       `yaml:"write_sync" json:"write_sync"`
	Partitions         int          `yaml:"partitions" json:"partitions"`
	Region             RegionConfig `yaml:"region" json:"region"`
	ReplicationLag     string       `yaml:"replication_lag" json:"replication_lag"`
	ReplicationWorkers int          `yaml:"replication_workers" json:"replication_workers"`
	StreamerBufferSize int          `yaml:"streamer_buffer_size" json:"streamer_buffer_size"`
	Discovery          []string     `yaml:"discovery" json:"discovery"`
	CommunicationPort  int          `yaml:"communication_port" json:"communication_port"`
}

// RegionConfig はストレージ領域の設定（バイト単位）
type RegionConfig struct {
	Name        string `yaml:"name" json:"name"`
	InitialSize int64  `yaml:"initial_size" json:"initial_size"`
	MaxSize     int64  `yaml:"max_size" json:"max_size"`
}

// RedisConfig はredisエンジンの設定
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Client    bool   `yaml:"client" json:"client"`
	MemberTTL string `yaml:"member_ttl" json:"member_ttl"`
	Heartbeat string `yaml:"heartbeat" json:"heartbeat"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // dev | prod
}

// APIConfig はステータスAPIの設定
type APIConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	switch strings.ToLower(f.Node.Engine) {
	case "", EngineLocal, EngineRedis:
	default:
		return fmt.Errorf("node.engine must be %q or %q, got %q", EngineLocal, EngineRedis, f.Node.Engine)
	}
	if f.Node.Servers < 0 {
		return fmt.Errorf("node.servers must be non-negative")
	}

	b := f.Bootstrap
	if b.RequiredServers < 0 {
		return fmt.Errorf("bootstrap.required_servers must be non-negative")
	}
	if (b.Workers != nil && *b.Workers < 0) || (b.RecordsPerWorker != nil && *b.RecordsPerWorker < 0) {
		return fmt.Errorf("bootstrap.workers and bootstrap.records_per_worker must be non-negative")
	}
	for name, v := range map[string]string{
		"bootstrap.quorum_poll":    b.QuorumPoll,
		"bootstrap.quorum_timeout": b.QuorumTimeout,
		"bootstrap.settle_delay":   b.SettleDelay,
		"bootstrap.verify_poll":    b.VerifyPoll,
		"bootstrap.verify_timeout": b.VerifyTimeout,
		"grid.replication_lag":     f.Grid.ReplicationLag,
		"redis.member_ttl":         f.Redis.MemberTTL,
		"redis.heartbeat":          f.Redis.Heartbeat,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	g := f.Grid
	if g.Backups != nil && *g.Backups < 0 {
		return fmt.Errorf("grid.backups must be non-negative")
	}
	if g.Partitions < 0 {
		return fmt.Errorf("grid.partitions must be non-negative")
	}
	if g.Region.InitialSize < 0 || g.Region.MaxSize < 0 {
		return fmt.Errorf("grid.region sizes must be non-negative")
	}
	if _, err := grid.ParseAtomicity(g.Atomicity); err != nil {
		return err
	}
	if _, err := grid.ParseMode(g.Mode); err != nil {
		return err
	}
	if _, err := grid.ParseWriteSync(g.WriteSync); err != nil {
		return err
	}

	if f.Redis.DB < 0 || f.Redis.BatchSize < 0 {
		return fmt.Errorf("redis.db and redis.batch_size must be non-negative")
	}
	return nil
}

// EngineName は正規化されたエンジン名を返す
func (f *FileConfig) EngineName() string {
	if f.Node.Engine == "" {
		return EngineLocal
	}
	return strings.ToLower(f.Node.Engine)
}

// ToBootstrap はFileConfigをbootstrap.Configに変換する
func (f *FileConfig) ToBootstrap() (bootstrap.Config, error) {
	b := f.Bootstrap
	config := bootstrap.DefaultConfig()
	config.NodeID = f.Node.ID

	if b.CoordinatorID != "" {
		config.CoordinatorID = b.CoordinatorID
	}
	if f.Grid.CacheName != "" {
		config.CacheName = f.Grid.CacheName
	}
	if b.RequiredServers > 0 {
		config.RequiredServers = b.RequiredServers
	}
	if b.Workers != nil {
		config.Workers = *b.Workers
	}
	if b.RecordsPerWorker != nil {
		config.RecordsPerWorker = *b.RecordsPerWorker
	}
	if b.Diagnostic != "" {
		config.DiagnosticName = b.Diagnostic
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"quorum_poll", b.QuorumPoll, &config.QuorumPoll},
		{"quorum_timeout", b.QuorumTimeout, &config.QuorumTimeout},
		{"settle_delay", b.SettleDelay, &config.SettleDelay},
		{"verify_poll", b.VerifyPoll, &config.VerifyPoll},
		{"verify_timeout", b.VerifyTimeout, &config.VerifyTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := parseDuration(d.value)
		if err != nil {
			return config, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return config, config.Validate()
}

// ToGrid はFileConfigをgrid.Configに変換する
func (f *FileConfig) ToGrid() (grid.Config, error) {
	g := f.Grid
	config := grid.DefaultConfig()

	if g.InstanceName != "" {
		config.InstanceName = g.InstanceName
	}
	if g.CacheName != "" {
		config.CacheName = g.CacheName
	}
	if g.Backups != nil {
		config.Backups = *g.Backups
	}
	if g.Partitions > 0 {
		config.Partitions = g.Partitions
	}
	if g.ReplicationWorkers > 0 {
		config.ReplicationWorkers = g.ReplicationWorkers
	}
	if g.StreamerBufferSize > 0 {
		config.StreamerBufferSize = g.StreamerBufferSize
	}
	if len(g.Discovery) > 0 {
		config.Transport.DiscoveryAddresses = g.Discovery
	}
	if g.CommunicationPort > 0 {
		config.Transport.CommunicationPort = g.CommunicationPort
	}

	if g.Region.Name != "" {
		config.Region.Name = g.Region.Name
	}
	if g.Region.MaxSize > 0 {
		config.Region.MaxSize = g.Region.MaxSize
		if config.Region.InitialSize > config.Region.MaxSize {
			config.Region.InitialSize = config.Region.MaxSize
		}
	}
	if g.Region.InitialSize > 0 {
		config.Region.InitialSize = g.Region.InitialSize
	}

	var err error
	if config.Atomicity, err = grid.ParseAtomicity(g.Atomicity); err != nil {
		return config, err
	}
	if config.Mode, err = grid.ParseMode(g.Mode); err != nil {
		return config, err
	}
	if config.WriteSync, err = grid.ParseWriteSync(g.WriteSync); err != nil {
		return config, err
	}
	if config.ReplicationLag, err = parseDuration(g.ReplicationLag); err != nil {
		return config, fmt.Errorf("invalid replication_lag: %w", err)
	}

	return config, config.Validate()
}

// ToRedis はFileConfigをredisgrid.Configに変換する
func (f *FileConfig) ToRedis() (redisgrid.Config, error) {
	r := f.Redis
	config := redisgrid.DefaultConfig()
	config.NodeID = f.Node.ID

	if f.Grid.CacheName != "" {
		config.CacheName = f.Grid.CacheName
	}
	if r.Addr != "" {
		config.Addr = r.Addr
	}
	if r.Prefix != "" {
		config.Prefix = r.Prefix
	}
	if r.BatchSize > 0 {
		config.BatchSize = r.BatchSize
	}
	config.Password = r.Password
	config.DB = r.DB
	config.Server = !r.Client

	if r.MemberTTL != "" {
		d, err := parseDuration(r.MemberTTL)
		if err != nil {
			return config, fmt.Errorf("invalid member_ttl: %w", err)
		}
		config.MemberTTL = d
	}
	if r.Heartbeat != "" {
		d, err := parseDuration(r.Heartbeat)
		if err != nil {
			return config, fmt.Errorf("invalid heartbeat: %w", err)
		}
		config.Heartbeat = d
	}

	return config, config.Validate()
}

// ToLogger はFileConfigをlogger.Configに変換する
func (f *FileConfig) ToLogger() logger.Config {
	return logger.Config{
		Env:   f.Log.Format,
		Level: f.Log.Level,
	}
}

// LocalServers はlocalエンジンで起動するサーバー数を返す
func (f *FileConfig) LocalServers() int {
	if f.Node.Servers > 0 {
		return f.Node.Servers
	}
	if f.Bootstrap.RequiredServers > 0 {
		return f.Bootstrap.RequiredServers
	}
	return bootstrap.DefaultConfig().RequiredServers
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", s)
	}
	return d, nil
}
