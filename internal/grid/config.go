package grid

import (
	"fmt"
	"strings"
	"time"
)

// Atomicity はキャッシュの原子性モード
type Atomicity int

const (
	AtomicityTransactional Atomicity = iota
	AtomicityAtomic
)

func (a Atomicity) String() string {
	switch a {
	case AtomicityTransactional:
		return "transactional"
	case AtomicityAtomic:
		return "atomic"
	default:
		return "unknown"
	}
}

// ParseAtomicity は文字列をAtomicityに変換する
func ParseAtomicity(s string) (Atomicity, error) {
	switch strings.ToLower(s) {
	case "transactional", "":
		return AtomicityTransactional, nil
	case "atomic":
		return AtomicityAtomic, nil
	default:
		return 0, fmt.Errorf("unknown atomicity mode: %s", s)
	}
}

// Mode はキャッシュの分散モード
type Mode int

const (
	ModePartitioned Mode = iota
	ModeReplicated
)

func (m Mode) String() string {
	switch m {
	case ModePartitioned:
		return "partitioned"
	case ModeReplicated:
		return "replicated"
	default:
		return "unknown"
	}
}

// ParseMode は文字列をModeに変換する
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "partitioned", "":
		return ModePartitioned, nil
	case "replicated":
		return ModeReplicated, nil
	default:
		return 0, fmt.Errorf("unknown cache mode: %s", s)
	}
}

// WriteSync はバックアップへの書き込み同期モード
type WriteSync int

const (
	// PrimarySync はプライマリ書き込みのみを待ち、バックアップは非同期で適用する
	PrimarySync WriteSync = iota
	// FullSync はバックアップへの適用も待つ
	FullSync
)

func (w WriteSync) String() string {
	switch w {
	case PrimarySync:
		return "primary_sync"
	case FullSync:
		return "full_sync"
	default:
		return "unknown"
	}
}

// ParseWriteSync は文字列をWriteSyncに変換する
func ParseWriteSync(s string) (WriteSync, error) {
	switch strings.ToLower(s) {
	case "primary_sync", "":
		return PrimarySync, nil
	case "full_sync":
		return FullSync, nil
	default:
		return 0, fmt.Errorf("unknown write sync mode: %s", s)
	}
}

// Region はメモリ領域のサイズ設定
type Region struct {
	Name        string
	InitialSize int64
	MaxSize     int64
}

// Transport は通信・ディスカバリ設定。グリッドは中身を解釈しない
type Transport struct {
	DiscoveryAddresses []string
	CommunicationPort  int
}

// Config はグリッドとキャッシュの構成。構築後は変更しない
type Config struct {
	InstanceName string
	CacheName    string

	Backups    int
	Atomicity  Atomicity
	Mode       Mode
	WriteSync  WriteSync
	Partitions int
	Region     Region

	ReplicationLag     time.Duration // 非同期バックアップ適用前の遅延（シミュレーション用）
	ReplicationWorkers int
	StreamerBufferSize int

	Transport Transport
}

const (
	gib = int64(1) << 30

	DefaultInstanceName = "grid-instance-1"
	DefaultCacheName    = "Cache1"
	DefaultPartitions   = 1024
)

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		InstanceName: DefaultInstanceName,
		CacheName:    DefaultCacheName,
		Backups:      1,
		Atomicity:    AtomicityTransactional,
		Mode:         ModePartitioned,
		WriteSync:    PrimarySync,
		Partitions:   DefaultPartitions,
		Region: Region{
			Name:        "Default_Region",
			InitialSize: 1 * gib,
			MaxSize:     1 * gib,
		},
		ReplicationWorkers: 0, // CPU数
		StreamerBufferSize: 4096,
		Transport: Transport{
			DiscoveryAddresses: []string{"127.0.0.1:47500..47509"},
			CommunicationPort:  47100,
		},
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.CacheName == "" {
		return fmt.Errorf("cache name must not be empty")
	}
	if c.Backups < 0 {
		return fmt.Errorf("backups must be non-negative")
	}
	if c.Partitions <= 0 {
		return fmt.Errorf("partitions must be positive")
	}
	if c.Region.MaxSize <= 0 {
		return fmt.Errorf("region max size must be positive")
	}
	if c.Region.InitialSize < 0 || c.Region.InitialSize > c.Region.MaxSize {
		return fmt.Errorf("region initial size must be between 0 and max size")
	}
	if c.ReplicationLag < 0 {
		return fmt.Errorf("replication lag must be non-negative")
	}
	if c.StreamerBufferSize < 0 {
		return fmt.Errorf("streamer buffer size must be non-negative")
	}
	return nil
}
