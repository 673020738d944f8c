package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-preload/internal/config"
	"grid-preload/internal/grid"
)

func parse(t *testing.T, args ...string) (*config.FileConfig, error) {
	t.Helper()
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(args))

	var opts options
	opts.nodeID, _ = cmd.Flags().GetString("node-id")
	opts.engine, _ = cmd.Flags().GetString("engine")
	opts.redisAddr, _ = cmd.Flags().GetString("redis-addr")
	opts.presetName, _ = cmd.Flags().GetString("preset")
	opts.configFile, _ = cmd.Flags().GetString("config")
	opts.servers, _ = cmd.Flags().GetInt("servers")
	opts.workers, _ = cmd.Flags().GetInt("workers")
	opts.records, _ = cmd.Flags().GetInt("records")
	opts.verifyTimeout, _ = cmd.Flags().GetDuration("verify-timeout")
	opts.verifyPoll, _ = cmd.Flags().GetDuration("verify-poll")
	opts.quorumTimeout, _ = cmd.Flags().GetDuration("quorum-timeout")
	opts.apiAddr, _ = cmd.Flags().GetString("api-addr")
	opts.reportFile, _ = cmd.Flags().GetString("report-file")
	opts.logLevel, _ = cmd.Flags().GetString("log-level")
	return buildConfig(cmd, opts)
}

func TestBuildConfigDefaults(t *testing.T) {
	t.Setenv(config.EnvNodeID, "1")

	cfg, err := parse(t)
	require.NoError(t, err)

	b, err := cfg.ToBootstrap()
	require.NoError(t, err)
	assert.Equal(t, 100, b.Workers)
	assert.Equal(t, 10000, b.RecordsPerWorker)
	assert.Equal(t, 120*time.Second, b.VerifyTimeout)
	assert.Equal(t, config.EngineLocal, cfg.EngineName())
}

func TestBuildConfigFlagsOverridePresetAndEnv(t *testing.T) {
	t.Setenv(config.EnvNodeID, "3")
	t.Setenv(config.EnvEngine, "redis")

	cfg, err := parse(t,
		"--preset", "quick",
		"--node-id", "1",
		"--engine", "local",
		"--workers", "7",
		"--records", "42",
		"--verify-timeout", "3s",
		"--verify-poll", "100ms",
		"--quorum-timeout", "1m",
		"--log-level", "debug",
	)
	require.NoError(t, err)

	b, err := cfg.ToBootstrap()
	require.NoError(t, err)
	assert.Equal(t, "1", b.NodeID)
	assert.True(t, b.IsCoordinator())
	assert.Equal(t, 7, b.Workers)
	assert.Equal(t, 42, b.RecordsPerWorker)
	assert.Equal(t, 3*time.Second, b.VerifyTimeout)
	assert.Equal(t, 100*time.Millisecond, b.VerifyPoll)
	assert.Equal(t, time.Minute, b.QuorumTimeout)
	assert.Equal(t, config.EngineLocal, cfg.EngineName())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestBuildConfigEnvSelectsMember(t *testing.T) {
	t.Setenv(config.EnvNodeID, "2")

	cfg, err := parse(t, "--preset", "quick")
	require.NoError(t, err)

	b, err := cfg.ToBootstrap()
	require.NoError(t, err)
	assert.False(t, b.IsCoordinator())
}

func TestBuildConfigKeepsZeroRecords(t *testing.T) {
	t.Setenv(config.EnvNodeID, "1")

	cfg, err := parse(t, "--preset", "quick", "--records", "0")
	require.NoError(t, err)

	b, err := cfg.ToBootstrap()
	require.NoError(t, err)
	assert.Equal(t, 0, b.RecordsPerWorker)
	assert.Equal(t, 10, b.Workers)
}

func TestBuildConfigErrors(t *testing.T) {
	_, err := parse(t, "--preset", "nope")
	assert.Error(t, err)

	_, err = parse(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = parse(t, "--engine", "etcd")
	assert.Error(t, err)
}

func TestBuildConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bootstrap:\n  workers: 3\n  records_per_worker: 10\n"), 0o644))
	t.Setenv(config.EnvNodeID, "1")

	cfg, err := parse(t, "--config", path)
	require.NoError(t, err)

	b, err := cfg.ToBootstrap()
	require.NoError(t, err)
	assert.Equal(t, 3, b.Workers)
	assert.Equal(t, 10, b.RecordsPerWorker)
}

func TestMemberStarterLocal(t *testing.T) {
	cfg := config.QuickPreset()
	cfg.Node.Servers = 3
	b, err := cfg.ToBootstrap()
	require.NoError(t, err)

	s := newMemberStarter(&cfg, b)
	defer s.Close()

	h, err := s.Start(context.Background())
	require.NoError(t, err)

	n, err := h.ServerCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemberStarterLocalWithoutNodeID(t *testing.T) {
	cfg := config.DefaultPreset()
	cfg.Node.Servers = 2
	b, err := cfg.ToBootstrap()
	require.NoError(t, err)
	require.False(t, b.IsCoordinator())

	s := newMemberStarter(&cfg, b)
	defer s.Close()

	h, err := s.Start(context.Background())
	require.NoError(t, err)

	g, ok := h.(*grid.Grid)
	require.True(t, ok)
	nodes := g.Nodes()
	require.Len(t, nodes, 2)
	for _, n := range nodes {
		assert.True(t, strings.HasPrefix(n.ID(), "member-"), "node id %q", n.ID())
	}
}

func TestRunWritesReportAndFailsOnError(t *testing.T) {
	report := filepath.Join(t.TempDir(), "report.txt")

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--preset", "quick",
		"--node-id", "1",
		"--servers", "1",
		"--quorum-timeout", "50ms",
		"--report-file", report,
		"--env-file", filepath.Join(t.TempDir(), "none.env"),
	})
	cmd.SetOut(&bytes.Buffer{})

	// quick requires two servers; one local server never reaches quorum
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)

	data, rerr := os.ReadFile(report)
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "PRELOAD REPORT")
	assert.Contains(t, string(data), "quorum timeout")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "grid-preload version")
}

func TestPresetsCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"presets"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "quick")
	assert.Contains(t, out.String(), "full-sync")
}
