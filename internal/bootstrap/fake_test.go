package bootstrap

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"grid-preload/internal/handle"
)

// fakeHandle はテスト用のインメモリハンドル
type fakeHandle struct {
	mu          sync.Mutex
	store       map[string]int
	diagnostics map[string]handle.DiagnosticFunc

	servers   func(call int) (int, error)
	calls     atomic.Int32
	failKey   func(key string) error
	delayKey  func(key string) time.Duration
	streamers atomic.Int32
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		store:       make(map[string]int),
		diagnostics: make(map[string]handle.DiagnosticFunc),
		servers:     func(int) (int, error) { return 2, nil },
	}
}

func (f *fakeHandle) ServerCount(_ context.Context) (int, error) {
	return f.servers(int(f.calls.Add(1)))
}

func (f *fakeHandle) Streamer(_ context.Context, cacheName string) (handle.Streamer, error) {
	if cacheName != "Cache1" {
		return nil, fmt.Errorf("unknown cache %s", cacheName)
	}
	f.streamers.Add(1)
	return &fakeStreamer{h: f}, nil
}

func (f *fakeHandle) CacheSize(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.store), nil
}

func (f *fakeHandle) Diagnostic(name string) (handle.DiagnosticFunc, error) {
	fn, ok := f.diagnostics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", handle.ErrDiagnosticNotFound, name)
	}
	return fn, nil
}

func (f *fakeHandle) snapshot() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.store)
}

type fakeEntry struct {
	key   string
	value int
}

type fakeStreamer struct {
	h   *fakeHandle
	buf []fakeEntry
}

func (s *fakeStreamer) AddData(key string, value int) error {
	if s.h.failKey != nil {
		if err := s.h.failKey(key); err != nil {
			return err
		}
	}
	if s.h.delayKey != nil {
		time.Sleep(s.h.delayKey(key))
	}
	s.buf = append(s.buf, fakeEntry{key: key, value: value})
	if len(s.buf) >= 64 {
		s.flush()
	}
	return nil
}

func (s *fakeStreamer) Close() error {
	s.flush()
	return nil
}

func (s *fakeStreamer) flush() {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	for _, e := range s.buf {
		s.h.store[e.key] = e.value
	}
	s.buf = s.buf[:0]
}

// scriptedDiagnostic はn回目の呼び出しでreports[n-1]を返す。足りなければ最後を繰り返す
func scriptedDiagnostic(reports ...string) (handle.DiagnosticFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(context.Context) (string, error) {
		n := int(calls.Add(1))
		if n > len(reports) {
			n = len(reports)
		}
		return reports[n-1], nil
	}, &calls
}

const conflictReport = "idle_verify check has finished, checked 64 partitions.\n" +
	"Conflict partitions:\n" +
	"The check procedure has finished, found 3 conflict partitions: [counterConflicts=3, hashConflicts=3]."

const cleanReport = "idle_verify check has finished, checked 64 partitions.\n" + SuccessVerdict
