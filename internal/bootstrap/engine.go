package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grid-preload/internal/events"
	"grid-preload/internal/handle"
	"grid-preload/internal/logger"
	"grid-preload/internal/metrics"
)

// Config はブートストラップの設定
type Config struct {
	NodeID        string // このプロセスのノードID。空なら匿名のメンバー
	CoordinatorID string // ロードと検証を担当するノードID（完全一致）
	CacheName     string // ロード先キャッシュ

	// クォーラム設定
	RequiredServers int           // 必要なサーバー数
	QuorumPoll      time.Duration // メンバー数の確認間隔
	QuorumTimeout   time.Duration // 0なら無制限
	SettleDelay     time.Duration // クォーラム到達後の待機時間

	// ロード設定
	Workers          int // 並列ジョブ数
	RecordsPerWorker int // ジョブあたりの件数

	// 検証設定
	VerifyPoll     time.Duration // 再試行間隔
	VerifyTimeout  time.Duration // 全体のタイムアウト
	DiagnosticName string        // 整合性チェック診断の登録名
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		CoordinatorID:    "1",
		CacheName:        "Cache1",
		RequiredServers:  2,
		QuorumPoll:       time.Millisecond,
		SettleDelay:      100 * time.Millisecond,
		Workers:          100,
		RecordsPerWorker: 10000,
		VerifyPoll:       10 * time.Second,
		VerifyTimeout:    120 * time.Second,
		DiagnosticName:   "IdleVerify",
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.CoordinatorID == "" {
		return fmt.Errorf("coordinator id must not be empty")
	}
	if c.CacheName == "" {
		return fmt.Errorf("cache name must not be empty")
	}
	if c.RequiredServers < 1 {
		return fmt.Errorf("required servers must be at least 1, got %d", c.RequiredServers)
	}
	if c.QuorumPoll <= 0 {
		return fmt.Errorf("quorum poll must be positive, got %v", c.QuorumPoll)
	}
	if c.QuorumTimeout < 0 || c.SettleDelay < 0 {
		return fmt.Errorf("quorum timeout and settle delay must not be negative")
	}
	if c.Workers < 1 || c.Workers > 1_000_000 {
		return fmt.Errorf("workers must be in [1, 1000000], got %d", c.Workers)
	}
	if c.RecordsPerWorker < 0 || c.RecordsPerWorker > 1_000_000 {
		return fmt.Errorf("records per worker must be in [0, 1000000], got %d", c.RecordsPerWorker)
	}
	if c.VerifyPoll <= 0 {
		return fmt.Errorf("verify poll must be positive, got %v", c.VerifyPoll)
	}
	if c.VerifyTimeout < 0 {
		return fmt.Errorf("verify timeout must not be negative, got %v", c.VerifyTimeout)
	}
	if c.DiagnosticName == "" {
		return fmt.Errorf("diagnostic name must not be empty")
	}
	return nil
}

// IsCoordinator はこのノードがコーディネーターかどうかを返す。
// ノードIDが空のプロセスはコーディネーターにならない
func (c Config) IsCoordinator() bool {
	return c.NodeID != "" && c.NodeID == c.CoordinatorID
}

// StartFunc はメンバーを起動してハンドルを返す
type StartFunc func(ctx context.Context) (handle.Handle, error)

// Role はノードの役割
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleMember      Role = "member"
)

// Result はブートストラップの実行結果
type Result struct {
	NodeID    string
	Role      Role
	Phase     metrics.Phase
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// クォーラム
	Servers    int
	QuorumWait time.Duration

	Load   LoadReport
	Verify VerifyResult

	Err error
}

// Option はEngineの任意設定
type Option func(*Engine)

// WithMetrics はメトリクスの記録先を設定する
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEventBus はイベントの通知先を設定する
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// Engine はメンバー起動、クォーラム待ち、ロード、検証を順に実行する
type Engine struct {
	config  Config
	start   StartFunc
	metrics *metrics.Registry
	bus     *events.Bus

	mu      sync.RWMutex
	running bool
	phase   metrics.Phase
	handle  handle.Handle
	last    *Result
}

// New は新しいEngineを作成する
func New(config Config, start StartFunc, opts ...Option) *Engine {
	e := &Engine{
		config: config,
		start:  start,
		phase:  metrics.PhaseStarting,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run はブートストラップを実行する。
// コーディネーター以外はメンバーを起動した時点で返る。
// 検証のタイムアウトはエラーにならず、Result.Verify.Converged=false で返る。
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("bootstrap is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	cfg := e.config
	result := &Result{
		NodeID:    cfg.NodeID,
		Role:      RoleMember,
		StartTime: time.Now(),
	}
	if cfg.IsCoordinator() {
		result.Role = RoleCoordinator
	}
	e.setPhase(result, metrics.PhaseStarting)

	if err := cfg.Validate(); err != nil {
		return e.fail(result, fmt.Errorf("%w: %w", ErrConfiguration, err))
	}
	if e.start == nil {
		return e.fail(result, fmt.Errorf("%w: no start function", ErrConfiguration))
	}

	h, err := e.start(ctx)
	if err != nil {
		return e.fail(result, fmt.Errorf("%w: start member: %w", ErrConfiguration, err))
	}
	e.mu.Lock()
	e.handle = h
	e.mu.Unlock()

	if !cfg.IsCoordinator() {
		logger.Info(cfg.NodeID, "Member started; node %s coordinates the preload", cfg.CoordinatorID)
		return e.finish(result, metrics.PhaseIdle), nil
	}

	logger.Info(cfg.NodeID, "=== Preload started (coordinator) ===")

	if err := e.awaitQuorum(ctx, h, result); err != nil {
		return e.fail(result, err)
	}

	e.setPhase(result, metrics.PhaseLoading)
	loader := NewLoader(h, cfg.CacheName)
	loader.obs = e.observer()
	result.Load, err = loader.Load(ctx, cfg.Workers, cfg.RecordsPerWorker)
	if err != nil {
		return e.fail(result, err)
	}

	e.setPhase(result, metrics.PhaseVerify)
	verifier := NewVerifier(h, cfg.DiagnosticName)
	verifier.obs = e.observer()
	result.Verify, err = verifier.Loop(ctx, cfg.VerifyPoll, cfg.VerifyTimeout)
	if err != nil {
		return e.fail(result, err)
	}

	if !result.Verify.Converged {
		logger.Warn(cfg.NodeID, "=== Preload finished without a consistent cluster ===")
		return e.finish(result, metrics.PhaseUnverified), nil
	}
	logger.Info(cfg.NodeID, "=== Preload completed ===")
	return e.finish(result, metrics.PhaseReady), nil
}

func (e *Engine) awaitQuorum(ctx context.Context, h handle.Handle, result *Result) error {
	cfg := e.config
	e.setPhase(result, metrics.PhaseQuorum)

	qctx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.QuorumTimeout > 0 {
		qctx, cancel = context.WithTimeoutCause(ctx, cfg.QuorumTimeout, ErrQuorumTimeout)
	}
	defer cancel()

	start := time.Now()
	servers, err := AwaitQuorum(qctx, h, cfg.RequiredServers, cfg.QuorumPoll, cfg.SettleDelay)
	result.QuorumWait = time.Since(start)
	if err != nil {
		return err
	}
	result.Servers = servers

	if e.metrics != nil {
		e.metrics.RecordQuorum(servers, result.QuorumWait)
	}
	e.publish(events.NewQuorumReachedEvent(cfg.NodeID, servers, result.QuorumWait))
	return nil
}

func (e *Engine) observer() observer {
	return observer{nodeID: e.config.NodeID, metrics: e.metrics, bus: e.bus}
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) setPhase(result *Result, phase metrics.Phase) {
	e.mu.Lock()
	e.phase = phase
	e.mu.Unlock()

	result.Phase = phase
	if e.metrics != nil {
		e.metrics.SetPhase(phase)
	}
	e.publish(events.NewPhaseEvent(e.config.NodeID, string(phase)))
}

func (e *Engine) finish(result *Result, phase metrics.Phase) *Result {
	e.setPhase(result, phase)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()
	return result
}

func (e *Engine) fail(result *Result, err error) (*Result, error) {
	result.Err = err
	e.finish(result, metrics.PhaseFailed)

	switch {
	case errors.Is(err, ErrInterrupted):
		logger.Warn(e.config.NodeID, "Preload interrupted: %v", err)
	default:
		logger.Error(e.config.NodeID, "Preload failed: %v", err)
	}
	return result, err
}

// Config は設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Phase は現在の段階を返す
func (e *Engine) Phase() metrics.Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Handle は起動済みメンバーのハンドルを返す。起動前はnil
func (e *Engine) Handle() handle.Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handle
}

// LastResult は直近の実行結果を返す
func (e *Engine) LastResult() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
