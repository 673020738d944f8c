package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"grid-preload/internal/logger"
)

// Task はワーカーが実行する処理を表す
type Task func()

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	Name        string // ログ用のプール名
	NumWorkers  int    // ワーカー数（0でCPU数）
	QueueFactor int    // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Name:        "pool",
		NumWorkers:  0,   // CPU数
		QueueFactor: 100, // デフォルト倍率
	}
}

// Pool はゴルーチンのプールを管理する
type Pool struct {
	name       string
	numWorkers int
	tasks      chan Task
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopping   atomic.Bool
	mu         sync.Mutex

	pending   atomic.Int64
	completed atomic.Uint64
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = 100
	}
	name := config.Name
	if name == "" {
		name = "pool"
	}
	return &Pool{
		name:       name,
		numWorkers: numWorkers,
		tasks:      make(chan Task, numWorkers*queueFactor),
	}
}

// Start はワーカープールを起動する
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for range p.numWorkers {
		p.wg.Add(1)
		go p.run()
	}

	logger.Debug("", "WorkerPool %s started with %d workers", p.name, p.numWorkers)
}

// run は個々のワーカーゴルーチン
func (p *Pool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			task()
			p.pending.Add(-1)
			p.completed.Add(1)
		}
	}
}

// Submit はタスクをプールに送信する。キューが満杯の間はブロックする
func (p *Pool) Submit(task Task) bool {
	if p.stopping.Load() {
		return false
	}

	p.mu.Lock()
	started, ctx := p.started, p.ctx
	p.mu.Unlock()
	if !started {
		return false
	}

	// 先にコンテキストをチェック
	select {
	case <-ctx.Done():
		return false
	default:
	}

	p.pending.Add(1)
	select {
	case <-ctx.Done():
		p.pending.Add(-1)
		return false
	case p.tasks <- task:
		return true
	}
}

// Stop はワーカープールを停止する。キューに残ったタスクは破棄される
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.stopping.Store(true)
	p.cancel()
	p.wg.Wait()

	dropped := 0
drain:
	for {
		select {
		case <-p.tasks:
			dropped++
			p.pending.Add(-1)
		default:
			break drain
		}
	}

	p.mu.Lock()
	p.started = false
	p.stopping.Store(false)
	p.mu.Unlock()

	if dropped > 0 {
		logger.Warn("", "WorkerPool %s stopped, %d queued tasks dropped", p.name, dropped)
		return
	}
	logger.Debug("", "WorkerPool %s stopped", p.name)
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	return len(p.tasks)
}

// Pending は送信済みで未完了のタスク数を返す
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

// Completed は完了したタスク数を返す
func (p *Pool) Completed() uint64 {
	return p.completed.Load()
}
