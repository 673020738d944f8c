package redisgrid

import (
	"context"
	"testing"

	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamerSkipsFlushAfterCancel(t *testing.T) {
	// 接続先は存在しない。キャンセル済みならコマンドは送られない
	client := rdb.NewClient(&rdb.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	s := newStreamer(ctx, client, "preload:cache:Cache1", 100)

	for i := range 10 {
		require.NoError(t, s.AddData("key", i))
	}
	cancel()

	assert.ErrorIs(t, s.Close(), context.Canceled)
	assert.Empty(t, s.fields)
	assert.ErrorIs(t, s.AddData("late", 1), ErrStreamerClosed)
}
