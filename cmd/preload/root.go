package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"grid-preload/internal/api"
	"grid-preload/internal/bootstrap"
	"grid-preload/internal/config"
	"grid-preload/internal/events"
	"grid-preload/internal/logger"
	"grid-preload/internal/metrics"
)

// options はコマンドラインフラグ
type options struct {
	configFile    string
	presetName    string
	envFiles      []string
	nodeID        string
	engine        string
	redisAddr     string
	servers       int
	workers       int
	records       int
	verifyTimeout time.Duration
	verifyPoll    time.Duration
	quorumTimeout time.Duration
	apiAddr       string
	reportFile    string
	logLevel      string
}

func newRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:   "preload",
		Short: "Bootstrap a cache cluster, preload it and wait until it is consistent",
		Long: `grid-preload starts a cluster member. The coordinator node (NODE_ID=1; the quick
presets set it) waits for the required server nodes, loads workers x records entries
in parallel and polls the IdleVerify diagnostic until the cluster reports no conflicts.
Other nodes, including those without a node id, just join. The process then idles
until SIGINT or SIGTERM.`,
		Example: `  # in-process grid with two server nodes
  preload --preset quick

  # one process per member against redis
  NODE_ID=2 preload --engine redis --redis-addr 10.0.0.5:6379
  NODE_ID=1 preload --engine redis --redis-addr 10.0.0.5:6379 --api-addr :8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	f := root.Flags()
	f.StringVar(&opts.configFile, "config", "", "config file path (YAML/JSON)")
	f.StringVar(&opts.presetName, "preset", "", "preset name (see `preload presets`)")
	f.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, ".env files to load; missing files are skipped")
	f.StringVar(&opts.nodeID, "node-id", "", "node id (env NODE_ID)")
	f.StringVar(&opts.engine, "engine", "", "cache engine: local | redis (env PRELOAD_ENGINE)")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "redis address for the redis engine (env PRELOAD_REDIS_ADDR)")
	f.IntVar(&opts.servers, "servers", 0, "server nodes to start in-process (local engine)")
	f.IntVar(&opts.workers, "workers", 0, "parallel load jobs")
	f.IntVar(&opts.records, "records", 0, "records per load job")
	f.DurationVar(&opts.verifyTimeout, "verify-timeout", 0, "total time to wait for a consistent cluster")
	f.DurationVar(&opts.verifyPoll, "verify-poll", 0, "interval between consistency checks")
	f.DurationVar(&opts.quorumTimeout, "quorum-timeout", 0, "give up waiting for server nodes after this long (0 waits forever)")
	f.StringVar(&opts.apiAddr, "api-addr", "", "serve status, metrics and events on this address (env PRELOAD_API_ADDR)")
	f.StringVar(&opts.reportFile, "report-file", "", "write the final report to this file")
	f.StringVar(&opts.logLevel, "log-level", "", "debug | info | warn | error")

	root.AddCommand(newVersionCmd(), newPresetsCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "grid-preload version %s\n", version)
		},
	}
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List configuration presets",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available presets:")
			for _, name := range config.ListPresets() {
				p, _ := config.GetPreset(name)
				fmt.Fprintf(out, "  %-10s workers=%d records=%d write_sync=%s verify=%s/%s\n",
					name, *p.Bootstrap.Workers, *p.Bootstrap.RecordsPerWorker, p.Grid.WriteSync,
					p.Bootstrap.VerifyPoll, p.Bootstrap.VerifyTimeout)
			}
		},
	}
}

// buildConfig は設定ファイルまたはプリセットを読み、環境変数とフラグで上書きする
func buildConfig(cmd *cobra.Command, opts options) (*config.FileConfig, error) {
	var cfg config.FileConfig

	switch {
	case opts.configFile != "":
		fileConfig, err := config.LoadFile(opts.configFile)
		if err != nil {
			return nil, err
		}
		cfg = *fileConfig
	case opts.presetName != "":
		preset, ok := config.GetPreset(opts.presetName)
		if !ok {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", opts.presetName, config.ListPresets())
		}
		cfg = preset
	default:
		cfg = config.DefaultPreset()
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("node-id") {
		cfg.Node.ID = opts.nodeID
	}
	if flags.Changed("engine") {
		cfg.Node.Engine = opts.engine
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr = opts.redisAddr
	}
	if flags.Changed("servers") {
		cfg.Node.Servers = opts.servers
	}
	if flags.Changed("workers") {
		workers := opts.workers
		cfg.Bootstrap.Workers = &workers
	}
	if flags.Changed("records") {
		records := opts.records
		cfg.Bootstrap.RecordsPerWorker = &records
	}
	if flags.Changed("verify-timeout") {
		cfg.Bootstrap.VerifyTimeout = opts.verifyTimeout.String()
	}
	if flags.Changed("verify-poll") {
		cfg.Bootstrap.VerifyPoll = opts.verifyPoll.String()
	}
	if flags.Changed("quorum-timeout") {
		cfg.Bootstrap.QuorumTimeout = opts.quorumTimeout.String()
	}
	if flags.Changed("api-addr") {
		cfg.API.Addr = opts.apiAddr
	}
	if flags.Changed("report-file") {
		cfg.Node.ReportFile = opts.reportFile
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func run(cmd *cobra.Command, opts options) error {
	if err := config.LoadEnvFiles(opts.envFiles...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}

	cfg, err := buildConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger.Init(cfg.ToLogger())
	defer func() { _ = logger.Sync() }()

	bcfg, err := cfg.ToBootstrap()
	if err != nil {
		return fmt.Errorf("%w: %w", bootstrap.ErrConfiguration, err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	bus := events.NewBus()
	defer bus.Close()

	members := newMemberStarter(cfg, bcfg)
	defer members.Close()

	engine := bootstrap.New(bcfg, members.Start, bootstrap.WithMetrics(m), bootstrap.WithEventBus(bus))

	if cfg.API.Addr != "" {
		server := api.NewServer(cfg.API.Addr, engine)
		server.SetGatherer(m.Gatherer())
		server.SetEventBus(bus)
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error(bcfg.NodeID, "API server error: %v", err)
			}
		}()
	}

	result, err := engine.Run(ctx)
	if result != nil {
		report := result.Report()
		fmt.Println(report)
		if cfg.Node.ReportFile != "" {
			if werr := atomic.WriteFile(cfg.Node.ReportFile, strings.NewReader(report+"\n")); werr != nil {
				logger.Error(bcfg.NodeID, "Failed to write report %s: %v", cfg.Node.ReportFile, werr)
			}
		}
	}
	if err != nil {
		return err
	}

	logger.Info(bcfg.NodeID, "Idling until interrupted (phase: %s)", engine.Phase())
	<-ctx.Done()
	logger.Info(bcfg.NodeID, "Shutting down")
	return nil
}
