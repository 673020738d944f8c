package grid

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamerClosed はクローズ済みのストリーマーへの書き込みで返される
var ErrStreamerClosed = errors.New("data streamer is closed")

// DataStreamer はパーティション単位でエントリをバッファし、まとめてグリッドに書き込む。
// 呼び出し側は書き込みごとの完了を待たない。ctxが終了した後のフラッシュは行わない。
type DataStreamer struct {
	ctx     context.Context
	g       *Grid
	bufSize int

	mu       sync.Mutex
	buffers  map[int][]kv
	buffered int
	closed   bool
}

func newDataStreamer(ctx context.Context, g *Grid) *DataStreamer {
	size := g.cfg.StreamerBufferSize
	if size <= 0 {
		size = 1
	}
	return &DataStreamer{
		ctx:     ctx,
		g:       g,
		bufSize: size,
		buffers: make(map[int][]kv),
	}
}

// AddData はエントリをバッファに追加する。バッファが満杯ならフラッシュする
func (s *DataStreamer) AddData(key string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamerClosed
	}

	part := PartitionOf(key, s.g.cfg.Partitions)
	s.buffers[part] = append(s.buffers[part], kv{key: key, entry: entry{Value: value}})
	s.buffered++

	if s.buffered >= s.bufSize {
		return s.flushLocked()
	}
	return nil
}

// Flush はバッファ内の全エントリを書き込む
func (s *DataStreamer) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *DataStreamer) flushLocked() error {
	buffers := s.buffers
	s.buffers = make(map[int][]kv)
	s.buffered = 0

	if err := s.ctx.Err(); err != nil {
		return err
	}

	var firstErr error
	for part, batch := range buffers {
		if err := s.g.putBatch(part, batch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close は残りのエントリをフラッシュしてストリーマーを閉じる
func (s *DataStreamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushLocked()
}
