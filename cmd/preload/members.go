package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"grid-preload/internal/bootstrap"
	"grid-preload/internal/config"
	"grid-preload/internal/grid"
	"grid-preload/internal/handle"
	"grid-preload/internal/logger"
	"grid-preload/internal/redisgrid"
)

// memberStarter は設定されたエンジンでメンバーを起動し、終了時に片付ける
type memberStarter struct {
	cfg  *config.FileConfig
	bcfg bootstrap.Config

	mu      sync.Mutex
	closers []func()
}

func newMemberStarter(cfg *config.FileConfig, bcfg bootstrap.Config) *memberStarter {
	return &memberStarter{cfg: cfg, bcfg: bcfg}
}

// Start はbootstrap.StartFuncとして使う
func (s *memberStarter) Start(ctx context.Context) (handle.Handle, error) {
	switch s.cfg.EngineName() {
	case config.EngineRedis:
		return s.startRedis(ctx)
	default:
		return s.startLocal(ctx)
	}
}

// startLocal はプロセス内グリッドを作り、このノードと残りのサーバーノードを起動する
func (s *memberStarter) startLocal(ctx context.Context) (handle.Handle, error) {
	gcfg, err := s.cfg.ToGrid()
	if err != nil {
		return nil, err
	}

	g, err := grid.New(gcfg)
	if err != nil {
		return nil, err
	}
	g.Start(ctx)
	s.onClose(g.Stop)

	nodeID := s.bcfg.NodeID
	if nodeID == "" {
		nodeID = "member-" + uuid.NewString()
	}

	servers := s.cfg.LocalServers()
	if _, err := g.StartNode(ctx, nodeID, grid.RoleServer); err != nil {
		return nil, err
	}
	for i := 1; i < servers; i++ {
		id := fmt.Sprintf("%s-peer-%d", nodeID, i)
		if _, err := g.StartNode(ctx, id, grid.RoleServer); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s *memberStarter) startRedis(ctx context.Context) (handle.Handle, error) {
	rcfg, err := s.cfg.ToRedis()
	if err != nil {
		return nil, err
	}

	m, err := redisgrid.Join(ctx, rcfg)
	if err != nil {
		return nil, err
	}
	s.onClose(func() {
		if err := m.Close(); err != nil {
			logger.Warn(s.bcfg.NodeID, "Failed to leave redis grid: %v", err)
		}
	})
	return m, nil
}

func (s *memberStarter) onClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

// Close は起動したものを逆順に停止する
func (s *memberStarter) Close() {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
