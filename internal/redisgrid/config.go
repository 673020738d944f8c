package redisgrid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config はRedisバックエンドの設定
type Config struct {
	Addr     string
	Password string
	DB       int

	Prefix    string // 全キーの接頭辞
	CacheName string
	NodeID    string // 空ならJoinで一意なIDを割り当てる
	Server    bool // falseならクライアントとして参加し、サーバー数に数えない

	MemberTTL time.Duration // メンバーキーの有効期限
	Heartbeat time.Duration // メンバーキーの更新間隔
	BatchSize int           // ストリーマーが1回のパイプラインで送る件数
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:      "127.0.0.1:6379",
		Prefix:    "preload",
		CacheName: "Cache1",
		Server:    true,
		MemberTTL: 3 * time.Second,
		Heartbeat: time.Second,
		BatchSize: 1000,
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis address must not be empty")
	}
	if c.Prefix == "" || c.CacheName == "" {
		return fmt.Errorf("prefix and cache name must not be empty")
	}
	if c.Heartbeat <= 0 || c.MemberTTL <= c.Heartbeat {
		return fmt.Errorf("member ttl (%v) must exceed a positive heartbeat (%v)", c.MemberTTL, c.Heartbeat)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}

// withMemberID はノードIDが空なら匿名メンバー用のIDを割り当てる。
// メンバーキーはノードごとに一意でなければサーバー数を数えられない
func (c Config) withMemberID() Config {
	if c.NodeID == "" {
		c.NodeID = "member-" + uuid.NewString()
	}
	return c
}

func (c Config) memberKey(nodeID string) string {
	return c.Prefix + ":members:" + nodeID
}

func (c Config) memberPattern() string {
	return c.Prefix + ":members:*"
}

func (c Config) cacheKey(cacheName string) string {
	return c.Prefix + ":cache:" + cacheName
}
