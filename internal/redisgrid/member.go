package redisgrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"grid-preload/internal/handle"
	"grid-preload/internal/logger"
)

const (
	roleServer = "server"
	roleClient = "client"

	scanCount = 100
)

// ErrUnknownCache は設定にないキャッシュ名が指定されたときに返される
var ErrUnknownCache = errors.New("unknown cache")

// Ensure Member implements handle.Handle
var _ handle.Handle = (*Member)(nil)

// Member はRedisを共有ストアとするクラスターメンバー。
// メンバーシップはTTL付きのハートビートキーで表す。
type Member struct {
	cfg    Config
	client *rdb.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	diagMu      sync.RWMutex
	diagnostics map[string]handle.DiagnosticFunc
}

// Join はRedisに接続してメンバーとして登録し、ハートビートを開始する
func Join(ctx context.Context, cfg Config) (*Member, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	cfg = cfg.withMemberID()

	client := rdb.NewClient(&rdb.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	m := &Member{
		cfg:         cfg,
		client:      client,
		diagnostics: make(map[string]handle.DiagnosticFunc),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.RegisterDiagnostic(IdleVerifyName, m.IdleVerify)

	if err := m.heartbeat(ctx); err != nil {
		m.cancel()
		_ = client.Close()
		return nil, fmt.Errorf("register member %s: %w", cfg.NodeID, err)
	}

	m.wg.Add(1)
	go m.heartbeatLoop()

	logger.Info(cfg.NodeID, "Joined redis grid at %s (prefix: %s, role: %s)", cfg.Addr, cfg.Prefix, m.role())
	return m, nil
}

// NodeID はメンバーキーに使っているノードIDを返す
func (m *Member) NodeID() string {
	return m.cfg.NodeID
}

func (m *Member) role() string {
	if m.cfg.Server {
		return roleServer
	}
	return roleClient
}

func (m *Member) heartbeat(ctx context.Context) error {
	return m.client.Set(ctx, m.cfg.memberKey(m.cfg.NodeID), m.role(), m.cfg.MemberTTL).Err()
}

func (m *Member) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.heartbeat(m.ctx); err != nil && m.ctx.Err() == nil {
				logger.Warn(m.cfg.NodeID, "Heartbeat failed: %v", err)
			}
		}
	}
}

// Close はハートビートを止め、メンバーキーを削除して接続を閉じる
func (m *Member) Close() error {
	m.cancel()
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	delErr := m.client.Del(ctx, m.cfg.memberKey(m.cfg.NodeID)).Err()
	closeErr := m.client.Close()
	logger.Info(m.cfg.NodeID, "Left redis grid")
	return errors.Join(delErr, closeErr)
}

// ServerCount はハートビートが生きているサーバーメンバー数を返す
func (m *Member) ServerCount(ctx context.Context) (int, error) {
	var keys []string
	iter := m.client.Scan(ctx, 0, m.cfg.memberPattern(), scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan members: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	roles, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("read members: %w", err)
	}

	count := 0
	for _, r := range roles {
		if s, ok := r.(string); ok && s == roleServer {
			count++
		}
	}
	return count, nil
}

// Streamer はキャッシュへのパイプライン書き込み経路を開く
func (m *Member) Streamer(ctx context.Context, cacheName string) (handle.Streamer, error) {
	if cacheName != m.cfg.CacheName {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCache, cacheName)
	}
	return newStreamer(ctx, m.client, m.cfg.cacheKey(cacheName), m.cfg.BatchSize), nil
}

// CacheSize はキャッシュのエントリ数を返す
func (m *Member) CacheSize(ctx context.Context, cacheName string) (int, error) {
	if cacheName != m.cfg.CacheName {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCache, cacheName)
	}
	n, err := m.client.HLen(ctx, m.cfg.cacheKey(cacheName)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache size: %w", err)
	}
	return int(n), nil
}

// RegisterDiagnostic は名前付き診断機能を登録する
func (m *Member) RegisterDiagnostic(name string, fn handle.DiagnosticFunc) {
	m.diagMu.Lock()
	defer m.diagMu.Unlock()
	m.diagnostics[name] = fn
}

// Diagnostic は名前付き診断機能を取得する
func (m *Member) Diagnostic(name string) (handle.DiagnosticFunc, error) {
	m.diagMu.RLock()
	defer m.diagMu.RUnlock()

	fn, ok := m.diagnostics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", handle.ErrDiagnosticNotFound, name)
	}
	return fn, nil
}

// IdleVerify はRedisのレプリケーション状態を調べ、全レプリカがマスターに追いついているかを報告する
func (m *Member) IdleVerify(ctx context.Context) (string, error) {
	raw, err := m.client.Info(ctx, "replication").Result()
	if err != nil {
		return "", fmt.Errorf("info replication: %w", err)
	}
	info, err := ParseReplicationInfo(raw)
	if err != nil {
		return "", err
	}
	return RenderIdleVerify(m.cfg.CacheName, info)
}
