package redisgrid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	rdb "github.com/redis/go-redis/v9"
)

// hsetChunk は1つのHSETコマンドに載せるエントリ数
const hsetChunk = 128

// ErrStreamerClosed はクローズ済みのストリーマーへの書き込みで返される
var ErrStreamerClosed = errors.New("redis streamer is closed")

// streamer はエントリをバッファし、HSETのパイプラインでまとめて送る。
// パイプラインは呼び出し側のctxで実行する
type streamer struct {
	ctx       context.Context
	client    *rdb.Client
	key       string
	batchSize int

	mu     sync.Mutex
	fields []any
	closed bool
}

func newStreamer(ctx context.Context, client *rdb.Client, key string, batchSize int) *streamer {
	return &streamer{
		ctx:       ctx,
		client:    client,
		key:       key,
		batchSize: batchSize,
		fields:    make([]any, 0, 2*batchSize),
	}
}

func (s *streamer) AddData(key string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamerClosed
	}

	s.fields = append(s.fields, key, value)
	if len(s.fields) >= 2*s.batchSize {
		return s.flushLocked()
	}
	return nil
}

func (s *streamer) flushLocked() error {
	if len(s.fields) == 0 {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		s.fields = s.fields[:0]
		return err
	}

	pipe := s.client.Pipeline()
	for start := 0; start < len(s.fields); start += 2 * hsetChunk {
		end := min(start+2*hsetChunk, len(s.fields))
		pipe.HSet(s.ctx, s.key, s.fields[start:end]...)
	}
	_, err := pipe.Exec(s.ctx)
	s.fields = s.fields[:0]
	if err != nil {
		return fmt.Errorf("flush to %s: %w", s.key, err)
	}
	return nil
}

func (s *streamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushLocked()
}
