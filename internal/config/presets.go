package config

import (
	"sort"
)

// DefaultPreset は本番相当の設定を返す。
// 2台のサーバー、100ワーカー × 10000件、検証は10秒間隔で最大120秒。
// ノードIDは持たないので、NODE_IDか--node-idで1を指定したプロセスだけがコーディネーターになる
func DefaultPreset() FileConfig {
	backups, workers, records := 1, 100, 10000
	return FileConfig{
		Node: NodeConfig{
			Engine: EngineLocal,
		},
		Bootstrap: BootstrapConfig{
			CoordinatorID:    "1",
			RequiredServers:  2,
			QuorumPoll:       "1ms",
			SettleDelay:      "100ms",
			Workers:          &workers,
			RecordsPerWorker: &records,
			VerifyPoll:       "10s",
			VerifyTimeout:    "120s",
			Diagnostic:       "IdleVerify",
		},
		Grid: GridConfig{
			InstanceName: "grid-instance-1",
			CacheName:    "Cache1",
			Backups:      &backups,
			Atomicity:    "transactional",
			Mode:         "partitioned",
			WriteSync:    "primary_sync",
			Region: RegionConfig{
				Name:        "Default_Region",
				InitialSize: 1 << 30,
				MaxSize:     1 << 30,
			},
			Discovery: []string{"127.0.0.1:47500..47509"},
		},
		Log: LogConfig{Level: "info", Format: "dev"},
	}
}

// QuickPreset は動作確認用の小さな設定を返す。
// 1プロセスで完結するようにコーディネーターとして起動する
func QuickPreset() FileConfig {
	cfg := DefaultPreset()
	cfg.Node.ID = "1"
	workers, records := 10, 1000
	cfg.Bootstrap.Workers = &workers
	cfg.Bootstrap.RecordsPerWorker = &records
	cfg.Bootstrap.SettleDelay = "10ms"
	cfg.Bootstrap.VerifyPoll = "500ms"
	cfg.Bootstrap.VerifyTimeout = "15s"
	cfg.Grid.Partitions = 128
	cfg.Grid.ReplicationLag = "5ms"
	cfg.Grid.Region.InitialSize = 64 << 20
	cfg.Grid.Region.MaxSize = 64 << 20
	return cfg
}

// FullSyncPreset はバックアップを同期書き込みする設定を返す。
// 検証は初回で収束する
func FullSyncPreset() FileConfig {
	cfg := QuickPreset()
	cfg.Grid.WriteSync = "full_sync"
	cfg.Grid.ReplicationLag = ""
	return cfg
}

var presets = map[string]func() FileConfig{
	"default":   DefaultPreset,
	"quick":     QuickPreset,
	"full-sync": FullSyncPreset,
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (FileConfig, bool) {
	fn, ok := presets[name]
	if !ok {
		return FileConfig{}, false
	}
	return fn(), true
}

// ListPresets はプリセット名の一覧を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
