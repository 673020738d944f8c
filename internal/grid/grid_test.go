package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-preload/internal/handle"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Partitions = 64
	cfg.StreamerBufferSize = 128
	cfg.ReplicationWorkers = 2
	cfg.Region = Region{Name: "test", InitialSize: 1 << 24, MaxSize: 1 << 24}
	return cfg
}

func newTestGrid(t *testing.T, cfg Config, servers int) *Grid {
	t.Helper()

	g, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	t.Cleanup(func() {
		g.Stop()
		cancel()
	})

	for i := range servers {
		_, err := g.StartNode(ctx, fmt.Sprintf("node-%d", i+1), RoleServer)
		require.NoError(t, err)
	}
	return g
}

func lastLine(report string) string {
	lines := strings.Split(report, "\n")
	return lines[len(lines)-1]
}

func TestNewGridInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Partitions = 0

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestGridMembership(t *testing.T) {
	g := newTestGrid(t, testConfig(), 0)
	ctx := context.Background()

	count, err := g.ServerCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = g.StartNode(ctx, "1", RoleServer)
	require.NoError(t, err)
	_, err = g.StartNode(ctx, "client", RoleClient)
	require.NoError(t, err)

	// Duplicate IDs are rejected
	_, err = g.StartNode(ctx, "1", RoleServer)
	assert.Error(t, err)

	count, _ = g.ServerCount(ctx)
	assert.Equal(t, 1, count)
	assert.Len(t, g.Nodes(), 2)

	require.NoError(t, g.StopNode("client"))
	assert.Error(t, g.StopNode("client"))
	assert.Len(t, g.Nodes(), 1)
}

func TestGridPutGetWithoutServers(t *testing.T) {
	g := newTestGrid(t, testConfig(), 0)

	err := g.Put("key", 1)
	assert.True(t, errors.Is(err, ErrNoServers))

	_, ok := g.Get("key")
	assert.False(t, ok)
}

func TestGridStreamerWritesAll(t *testing.T) {
	g := newTestGrid(t, testConfig(), 2)
	ctx := context.Background()

	s, err := g.Streamer(ctx, DefaultCacheName)
	require.NoError(t, err)

	for i := range 1000 {
		require.NoError(t, s.AddData(fmt.Sprintf("key-%04d", i), i))
	}
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.AddData("late", 1), ErrStreamerClosed)

	size, err := g.CacheSize(ctx, DefaultCacheName)
	require.NoError(t, err)
	assert.Equal(t, 1000, size)

	v, ok := g.Get("key-0042")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestGridStreamerStopsAfterCancel(t *testing.T) {
	g := newTestGrid(t, testConfig(), 2)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := g.Streamer(ctx, DefaultCacheName)
	require.NoError(t, err)
	for i := range 10 {
		require.NoError(t, s.AddData(fmt.Sprintf("key-%d", i), i))
	}
	cancel()

	assert.ErrorIs(t, s.Close(), context.Canceled)

	size, err := g.CacheSize(context.Background(), DefaultCacheName)
	require.NoError(t, err)
	assert.Zero(t, size, "buffered entries are not flushed once the writer is cancelled")
}

func TestGridUnknownCache(t *testing.T) {
	g := newTestGrid(t, testConfig(), 1)

	_, err := g.Streamer(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownCache)

	_, err = g.CacheSize(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownCache)
}

func TestGridDiagnosticLookup(t *testing.T) {
	g := newTestGrid(t, testConfig(), 1)

	fn, err := g.Diagnostic(IdleVerifyName)
	require.NoError(t, err)
	assert.NotNil(t, fn)

	_, err = g.Diagnostic("Missing")
	assert.ErrorIs(t, err, handle.ErrDiagnosticNotFound)
}

func TestIdleVerifyNoServers(t *testing.T) {
	g := newTestGrid(t, testConfig(), 0)

	_, err := g.IdleVerify(context.Background())
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestIdleVerifyFullSyncConsistent(t *testing.T) {
	cfg := testConfig()
	cfg.WriteSync = FullSync
	g := newTestGrid(t, cfg, 3)

	for i := range 500 {
		require.NoError(t, g.Put(fmt.Sprintf("key-%d", i), i))
	}

	report, err := g.IdleVerify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NoConflictsMessage, lastLine(report))
	assert.Contains(t, report, "caches=[Cache1]")
}

func TestIdleVerifyConvergesAfterReplicationLag(t *testing.T) {
	cfg := testConfig()
	cfg.ReplicationLag = 20 * time.Millisecond
	g := newTestGrid(t, cfg, 2)
	ctx := context.Background()

	s, err := g.Streamer(ctx, DefaultCacheName)
	require.NoError(t, err)
	for i := range 300 {
		require.NoError(t, s.AddData(fmt.Sprintf("key-%d", i), i))
	}
	require.NoError(t, s.Close())

	report, err := g.IdleVerify(ctx)
	require.NoError(t, err)
	last := lastLine(report)
	assert.NotEqual(t, NoConflictsMessage, last)
	assert.Contains(t, last, "conflict partitions")
	assert.Contains(t, report, "Conflict partition: PartitionKey")

	require.Eventually(t, func() bool {
		report, err := g.IdleVerify(ctx)
		return err == nil && lastLine(report) == NoConflictsMessage
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(0), g.PendingReplication())
}

func TestGridRebalancePreservesData(t *testing.T) {
	cfg := testConfig()
	cfg.WriteSync = FullSync
	g := newTestGrid(t, cfg, 1)
	ctx := context.Background()

	for i := range 200 {
		require.NoError(t, g.Put(fmt.Sprintf("key-%d", i), i))
	}

	_, err := g.StartNode(ctx, "node-2", RoleServer)
	require.NoError(t, err)
	_, err = g.StartNode(ctx, "node-3", RoleServer)
	require.NoError(t, err)

	size, err := g.CacheSize(ctx, DefaultCacheName)
	require.NoError(t, err)
	assert.Equal(t, 200, size)

	report, err := g.IdleVerify(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoConflictsMessage, lastLine(report))

	require.NoError(t, g.StopNode("node-1"))
	size, _ = g.CacheSize(ctx, DefaultCacheName)
	assert.Equal(t, 200, size)

	for i := range 200 {
		v, ok := g.Get(fmt.Sprintf("key-%d", i))
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestGridReplicatedMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeReplicated
	cfg.WriteSync = FullSync
	g := newTestGrid(t, cfg, 3)

	for i := range 100 {
		require.NoError(t, g.Put(fmt.Sprintf("key-%d", i), i))
	}

	for _, n := range g.Nodes() {
		assert.Equal(t, 100, n.Size(), "node %s", n.ID())
	}
}

func TestGridRegionFullFailsWrite(t *testing.T) {
	cfg := testConfig()
	cfg.Region = Region{Name: "tiny", MaxSize: 10 * (len("key-00") + entryOverhead)}
	g := newTestGrid(t, cfg, 1)

	var err error
	for i := 0; i < 50 && err == nil; i++ {
		err = g.Put(fmt.Sprintf("key-%02d", i), i)
	}
	assert.ErrorIs(t, err, ErrRegionFull)
}

func TestAssignOwners(t *testing.T) {
	servers := []*Node{
		NewNode("a", RoleServer, testRegion()),
		NewNode("b", RoleServer, testRegion()),
		NewNode("c", RoleServer, testRegion()),
	}

	owners := assignOwners(servers, 32, 1, ModePartitioned)
	for part, list := range owners {
		require.Len(t, list, 2, "partition %d", part)
		assert.NotSame(t, list[0], list[1])
	}

	// Backups are capped by the number of servers
	owners = assignOwners(servers[:1], 8, 3, ModePartitioned)
	assert.Len(t, owners[0], 1)

	owners = assignOwners(servers, 8, 0, ModeReplicated)
	assert.Len(t, owners[0], 3)

	assert.Empty(t, assignOwners(nil, 4, 1, ModePartitioned)[0])
}

func TestPartitionOf(t *testing.T) {
	for i := range 100 {
		p := PartitionOf(fmt.Sprintf("key-%d", i), 16)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 16)
	}
	assert.Equal(t, PartitionOf("same", 1024), PartitionOf("same", 1024))
}
