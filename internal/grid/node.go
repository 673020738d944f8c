package grid

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"grid-preload/internal/logger"
)

// ErrRegionFull はメモリ領域の上限を超える書き込みで返される
var ErrRegionFull = errors.New("data region is full")

// Role はメンバーの役割
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Status はノードの状態を表す
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// entryOverhead は1エントリあたりの値・バージョン分の概算バイト数
const entryOverhead = 16

type entry struct {
	Value   int
	Version uint64
}

type partition struct {
	mu      sync.Mutex
	store   *cache.Cache
	counter uint64 // 適用済みの最大バージョン
	bytes   int64
}

func newPartition() *partition {
	return &partition{store: cache.New(cache.NoExpiration, 0)}
}

// digest はパーティションの比較用要約
type digest struct {
	Size    int
	Counter uint64
	Hash    uint64
}

// Node はグリッドの単一メンバーを表す
type Node struct {
	id           string
	consistentID uuid.UUID
	role         Role
	region       Region

	mu     sync.RWMutex
	status Status
	parts  map[int]*partition
	used   atomic.Int64
}

// NewNode は新しいノードを作成する
func NewNode(id string, role Role, region Region) *Node {
	return &Node{
		id:           id,
		consistentID: uuid.New(),
		role:         role,
		region:       region,
		status:       StatusStopped,
		parts:        make(map[int]*partition),
	}
}

// ID はノードIDを返す
func (n *Node) ID() string {
	return n.id
}

// ConsistentID はノードの一意なIDを返す
func (n *Node) ConsistentID() uuid.UUID {
	return n.consistentID
}

// Role はノードの役割を返す
func (n *Node) Role() Role {
	return n.role
}

// Start はノードを起動する
func (n *Node) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == StatusRunning {
		return fmt.Errorf("node %s is already running", n.id)
	}
	n.status = StatusRunning

	logger.Info(n.id, "Node started (role: %s, id: %s, region: %s, max: %d bytes)",
		n.role, n.consistentID, n.region.Name, n.region.MaxSize)
	return nil
}

// Stop はノードを停止する
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == StatusStopped {
		return fmt.Errorf("node %s is already stopped", n.id)
	}
	n.status = StatusStopped

	logger.Info(n.id, "Node stopped")
	return nil
}

// Status はノードの現在のステータスを返す
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// partition はパーティションを返す。create が true なら必要に応じて作成する
func (n *Node) partition(part int, create bool) (*partition, error) {
	n.mu.RLock()
	p, ok := n.parts[part]
	status := n.status
	n.mu.RUnlock()

	if status != StatusRunning {
		return nil, fmt.Errorf("node %s is not running", n.id)
	}
	if ok || !create {
		return p, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok = n.parts[part]; !ok {
		p = newPartition()
		n.parts[part] = p
	}
	return p, nil
}

// apply はエントリを適用する。既存より古いバージョンは無視する
func (n *Node) apply(part int, key string, e entry) error {
	p, err := n.partition(part, true)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Version > p.counter {
		p.counter = e.Version
	}

	if cur, ok := p.store.Get(key); ok {
		if cur.(entry).Version >= e.Version {
			return nil
		}
		p.store.Set(key, e, cache.NoExpiration)
		return nil
	}

	size := int64(len(key) + entryOverhead)
	if n.used.Add(size) > n.region.MaxSize {
		n.used.Add(-size)
		return fmt.Errorf("node %s: %w (max %d bytes)", n.id, ErrRegionFull, n.region.MaxSize)
	}
	p.bytes += size
	p.store.Set(key, e, cache.NoExpiration)
	return nil
}

// get はキーに対応する値を取得する
func (n *Node) get(part int, key string) (int, bool) {
	p, err := n.partition(part, false)
	if err != nil || p == nil {
		return 0, false
	}
	v, ok := p.store.Get(key)
	if !ok {
		return 0, false
	}
	return v.(entry).Value, true
}

// digest はパーティションの要約を計算する
func (n *Node) digest(part int) digest {
	p, err := n.partition(part, false)
	if err != nil || p == nil {
		return digest{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	d := digest{Size: p.store.ItemCount(), Counter: p.counter}
	for k, item := range p.store.Items() {
		d.Hash ^= entryHash(k, item.Object.(entry).Value)
	}
	return d
}

// snapshot はパーティションの内容をコピーして返す
func (n *Node) snapshot(part int) (map[string]entry, uint64) {
	p, err := n.partition(part, false)
	if err != nil || p == nil {
		return nil, 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	items := p.store.Items()
	out := make(map[string]entry, len(items))
	for k, item := range items {
		out[k] = item.Object.(entry)
	}
	return out, p.counter
}

// install はパーティションの内容を置き換える（リバランス用）
func (n *Node) install(part int, entries map[string]entry, counter uint64) error {
	n.drop(part)

	p, err := n.partition(part, true)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for k, e := range entries {
		size := int64(len(k) + entryOverhead)
		if n.used.Add(size) > n.region.MaxSize {
			n.used.Add(-size)
			return fmt.Errorf("node %s: %w during rebalance", n.id, ErrRegionFull)
		}
		p.bytes += size
		p.store.Set(k, e, cache.NoExpiration)
	}
	p.counter = counter
	return nil
}

// drop はパーティションを破棄する
func (n *Node) drop(part int) {
	n.mu.Lock()
	p, ok := n.parts[part]
	delete(n.parts, part)
	n.mu.Unlock()

	if !ok {
		return
	}
	p.mu.Lock()
	n.used.Add(-p.bytes)
	p.store.Flush()
	p.mu.Unlock()
}

// Partitions は保持しているパーティション番号を返す
func (n *Node) Partitions() []int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	parts := make([]int, 0, len(n.parts))
	for p := range n.parts {
		parts = append(parts, p)
	}
	sort.Ints(parts)
	return parts
}

// Size は保持している全エントリ数（プライマリ・バックアップ両方）を返す
func (n *Node) Size() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	total := 0
	for _, p := range n.parts {
		total += p.store.ItemCount()
	}
	return total
}

// UsedBytes はメモリ領域の使用量（概算）を返す
func (n *Node) UsedBytes() int64 {
	return n.used.Load()
}

func entryHash(key string, value int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(value))
	_, _ = h.Write(b[:])
	return h.Sum64()
}
