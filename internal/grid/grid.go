package grid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"grid-preload/internal/handle"
	"grid-preload/internal/logger"
	"grid-preload/internal/worker"
)

var (
	// ErrNoServers はサーバーノードが1台もないときに返される
	ErrNoServers = errors.New("no server nodes in grid")
	// ErrUnknownCache は設定にないキャッシュ名が指定されたときに返される
	ErrUnknownCache = errors.New("unknown cache")
)

// Ensure Grid implements handle.Handle
var _ handle.Handle = (*Grid)(nil)

type kv struct {
	key   string
	entry entry
}

// Grid はプロセス内で複数のメンバーを束ねるキャッシュグリッド
type Grid struct {
	cfg  Config
	pool *worker.Pool

	mu     sync.RWMutex
	nodes  map[string]*Node
	owners [][]*Node

	version atomic.Uint64

	diagMu      sync.RWMutex
	diagnostics map[string]handle.DiagnosticFunc
}

// New は新しいグリッドを作成する
func New(cfg Config) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid config: %w", err)
	}

	g := &Grid{
		cfg: cfg,
		pool: worker.NewPoolWithConfig(worker.PoolConfig{
			Name:       "replication",
			NumWorkers: cfg.ReplicationWorkers,
		}),
		nodes:       make(map[string]*Node),
		owners:      make([][]*Node, cfg.Partitions),
		diagnostics: make(map[string]handle.DiagnosticFunc),
	}
	g.RegisterDiagnostic(IdleVerifyName, g.IdleVerify)
	return g, nil
}

// Config はグリッド設定を返す
func (g *Grid) Config() Config {
	return g.cfg
}

// Start はバックアップ複製用のワーカープールを起動する
func (g *Grid) Start(ctx context.Context) {
	g.pool.Start(ctx)
	logger.Info("", "Grid %s started (cache: %s, mode: %s, atomicity: %s, backups: %d, sync: %s, partitions: %d, discovery: %v)",
		g.cfg.InstanceName, g.cfg.CacheName, g.cfg.Mode, g.cfg.Atomicity, g.cfg.Backups,
		g.cfg.WriteSync, g.cfg.Partitions, g.cfg.Transport.DiscoveryAddresses)
}

// StartNode はノードを作成・起動してグリッドに参加させる
func (g *Grid) StartNode(ctx context.Context, id string, role Role) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return nil, fmt.Errorf("node %s already exists in grid", id)
	}

	n := NewNode(id, role, g.cfg.Region)
	if err := n.Start(ctx); err != nil {
		return nil, err
	}
	g.nodes[id] = n

	if role == RoleServer {
		if err := g.rebalance(); err != nil {
			return nil, err
		}
	}

	logger.Info("", "Node %s joined grid (servers: %d)", id, g.serverCountLocked())
	return n, nil
}

// StopNode はノードを停止してグリッドから外す
func (g *Grid) StopNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, exists := g.nodes[id]
	if !exists {
		return fmt.Errorf("node %s not found in grid", id)
	}
	delete(g.nodes, id)

	var err error
	if n.Role() == RoleServer {
		err = g.rebalance()
	}
	_ = n.Stop()

	logger.Info("", "Node %s left grid (servers: %d)", id, g.serverCountLocked())
	return err
}

// Stop は全ノードとワーカープールを停止する
func (g *Grid) Stop() {
	g.pool.Stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for id, n := range g.nodes {
		_ = n.Stop()
		delete(g.nodes, id)
	}
	g.owners = make([][]*Node, g.cfg.Partitions)

	logger.Info("", "Grid %s stopped", g.cfg.InstanceName)
}

// Node はノードIDでノードを取得する
func (g *Grid) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	return n, ok
}

// Nodes は全ノードをID順で返す
func (g *Grid) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedNodesLocked(false)
}

// ServerCount は稼働中のサーバーノード数を返す
func (g *Grid) ServerCount(_ context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.serverCountLocked(), nil
}

func (g *Grid) serverCountLocked() int {
	return len(g.sortedNodesLocked(true))
}

func (g *Grid) sortedNodesLocked(serversOnly bool) []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if serversOnly && (n.Role() != RoleServer || n.Status() != StatusRunning) {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].id < nodes[j].id })
	return nodes
}

// rebalance はパーティションの所有ノードを再計算し、データを移動する
func (g *Grid) rebalance() error {
	servers := g.sortedNodesLocked(true)
	next := assignOwners(servers, g.cfg.Partitions, g.cfg.Backups, g.cfg.Mode)

	moved := 0
	for part := range g.cfg.Partitions {
		prev := g.owners[part]
		if sameOwners(prev, next[part]) {
			continue
		}

		var source *Node
		for _, n := range prev {
			if g.nodes[n.id] == n {
				source = n
				break
			}
		}

		var entries map[string]entry
		var counter uint64
		if source != nil {
			entries, counter = source.snapshot(part)
		}

		for _, n := range next[part] {
			if n == source {
				continue
			}
			if err := n.install(part, entries, counter); err != nil {
				return fmt.Errorf("rebalance partition %d: %w", part, err)
			}
		}
		for _, n := range prev {
			if !contains(next[part], n) {
				n.drop(part)
			}
		}
		moved++
	}
	g.owners = next

	if moved > 0 {
		logger.Debug("", "Rebalanced %d partitions across %d servers", moved, len(servers))
	}
	return nil
}

func contains(nodes []*Node, n *Node) bool {
	for _, m := range nodes {
		if m == n {
			return true
		}
	}
	return false
}

// Put は1件書き込む
func (g *Grid) Put(key string, value int) error {
	return g.putBatch(PartitionOf(key, g.cfg.Partitions), []kv{{key: key, entry: entry{Value: value}}})
}

// Get はプライマリから値を読む
func (g *Grid) Get(key string) (int, bool) {
	part := PartitionOf(key, g.cfg.Partitions)

	g.mu.RLock()
	defer g.mu.RUnlock()

	owners := g.owners[part]
	if len(owners) == 0 {
		return 0, false
	}
	return owners[0].get(part, key)
}

// putBatch は同一パーティションのエントリをプライマリに適用し、バックアップへ複製する
func (g *Grid) putBatch(part int, batch []kv) error {
	g.mu.RLock()
	owners := g.owners[part]
	if len(owners) == 0 {
		g.mu.RUnlock()
		return ErrNoServers
	}

	primary := owners[0]
	for i := range batch {
		batch[i].entry.Version = g.version.Add(1)
		if err := primary.apply(part, batch[i].key, batch[i].entry); err != nil {
			g.mu.RUnlock()
			return err
		}
	}
	backups := owners[1:]
	g.mu.RUnlock()

	if len(backups) == 0 {
		return nil
	}

	if g.cfg.WriteSync == FullSync {
		return g.replicate(part, backups, batch)
	}

	replicate := func() {
		if g.cfg.ReplicationLag > 0 {
			time.Sleep(g.cfg.ReplicationLag)
		}
		if err := g.replicate(part, backups, batch); err != nil {
			logger.Warn("", "Backup update for partition %d failed: %v", part, err)
		}
	}
	if !g.pool.Submit(replicate) {
		return g.replicate(part, backups, batch)
	}
	return nil
}

// replicate はバックアップノードにエントリを適用する
func (g *Grid) replicate(part int, backups []*Node, batch []kv) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, b := range backups {
		if g.nodes[b.id] != b || !contains(g.owners[part], b) {
			continue
		}
		for _, e := range batch {
			if err := b.apply(part, e.key, e.entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// Streamer はキャッシュへのバッファ付き書き込み経路を開く
func (g *Grid) Streamer(ctx context.Context, cacheName string) (handle.Streamer, error) {
	if cacheName != g.cfg.CacheName {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCache, cacheName)
	}
	return newDataStreamer(ctx, g), nil
}

// CacheSize はプライマリが保持するエントリ数の合計を返す
func (g *Grid) CacheSize(ctx context.Context, cacheName string) (int, error) {
	if cacheName != g.cfg.CacheName {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCache, cacheName)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	total := 0
	for part, owners := range g.owners {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if len(owners) == 0 {
			continue
		}
		total += owners[0].digest(part).Size
	}
	return total, nil
}

// RegisterDiagnostic は名前付き診断機能を登録する
func (g *Grid) RegisterDiagnostic(name string, fn handle.DiagnosticFunc) {
	g.diagMu.Lock()
	defer g.diagMu.Unlock()
	g.diagnostics[name] = fn
}

// Diagnostic は名前付き診断機能を取得する
func (g *Grid) Diagnostic(name string) (handle.DiagnosticFunc, error) {
	g.diagMu.RLock()
	defer g.diagMu.RUnlock()

	fn, ok := g.diagnostics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", handle.ErrDiagnosticNotFound, name)
	}
	return fn, nil
}

// PendingReplication は未適用のバックアップ更新バッチ数を返す
func (g *Grid) PendingReplication() int64 {
	return g.pool.Pending()
}
