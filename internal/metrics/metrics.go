package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Phase はブートストラップの進行段階
type Phase string

// PhaseUnverified は整合性チェックがタイムアウトしたまま待機している状態、
// PhaseIdle はコーディネーター以外のメンバーの待機状態
const (
	PhaseStarting   Phase = "starting"
	PhaseQuorum     Phase = "quorum"
	PhaseLoading    Phase = "loading"
	PhaseVerify     Phase = "verifying"
	PhaseReady      Phase = "ready"
	PhaseUnverified Phase = "unverified"
	PhaseFailed     Phase = "failed"
	PhaseIdle       Phase = "idle"
)

// Phases は全ての段階を返す
func Phases() []Phase {
	return []Phase{PhaseStarting, PhaseQuorum, PhaseLoading, PhaseVerify, PhaseReady, PhaseUnverified, PhaseFailed, PhaseIdle}
}

// Registry はブートストラップのPrometheusメトリクスを保持する
type Registry struct {
	registry *prometheus.Registry

	QuorumServers     prometheus.Gauge
	QuorumWaitSeconds prometheus.Gauge

	LoadJobsTotal       *prometheus.CounterVec
	LoadRecordsTotal    prometheus.Counter
	LoadDurationSeconds prometheus.Gauge
	CacheSize           prometheus.Gauge

	VerifyAttemptsTotal *prometheus.CounterVec
	VerifyConverged     prometheus.Gauge
	VerifyElapsed       prometheus.Gauge

	Phase *prometheus.GaugeVec
}

// New は新しいレジストリを作成する
func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	f := promauto.With(r.registry)

	r.QuorumServers = f.NewGauge(prometheus.GaugeOpts{
		Name: "preload_quorum_servers",
		Help: "Server members visible at the last quorum poll",
	})
	r.QuorumWaitSeconds = f.NewGauge(prometheus.GaugeOpts{
		Name: "preload_quorum_wait_seconds",
		Help: "Time spent waiting for quorum, including the settle delay",
	})

	r.LoadJobsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "preload_load_jobs_total",
		Help: "Load jobs by result",
	}, []string{"result"}) // success, failure
	r.LoadRecordsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "preload_load_records_total",
		Help: "Records handed to the cache streamer",
	})
	r.LoadDurationSeconds = f.NewGauge(prometheus.GaugeOpts{
		Name: "preload_load_duration_seconds",
		Help: "Wall-clock duration of the last load",
	})
	r.CacheSize = f.NewGauge(prometheus.GaugeOpts{
		Name: "preload_cache_size",
		Help: "Cache size read back after the last load",
	})

	r.VerifyAttemptsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "preload_verify_attempts_total",
		Help: "Consistency check attempts by result",
	}, []string{"result"}) // consistent, conflicts, error
	r.VerifyConverged = f.NewGauge(prometheus.GaugeOpts{
		Name: "preload_verify_converged",
		Help: "Whether the last verify loop converged (1=yes, 0=no)",
	})
	r.VerifyElapsed = f.NewGauge(prometheus.GaugeOpts{
		Name: "preload_verify_elapsed_seconds",
		Help: "Duration of the last verify loop",
	})

	r.Phase = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "preload_phase",
		Help: "Current bootstrap phase (1 for the current phase, 0 otherwise)",
	}, []string{"phase"})

	return r
}

// Gatherer はHTTP公開用のGathererを返す
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// SetPhase は現在の段階を設定する
func (r *Registry) SetPhase(phase Phase) {
	for _, p := range Phases() {
		r.Phase.WithLabelValues(string(p)).Set(0)
	}
	r.Phase.WithLabelValues(string(phase)).Set(1)
}

// RecordQuorum はクォーラム到達を記録する
func (r *Registry) RecordQuorum(servers int, waited time.Duration) {
	r.QuorumServers.Set(float64(servers))
	r.QuorumWaitSeconds.Set(waited.Seconds())
}

// RecordJob はロードジョブの結果を記録する
func (r *Registry) RecordJob(err error) {
	if err != nil {
		r.LoadJobsTotal.WithLabelValues("failure").Inc()
		return
	}
	r.LoadJobsTotal.WithLabelValues("success").Inc()
}

// RecordLoad はロード全体の結果を記録する
func (r *Registry) RecordLoad(records int64, elapsed time.Duration, cacheSize int) {
	r.LoadRecordsTotal.Add(float64(records))
	r.LoadDurationSeconds.Set(elapsed.Seconds())
	r.CacheSize.Set(float64(cacheSize))
}

// RecordVerifyAttempt は整合性チェック1回分の結果を記録する
func (r *Registry) RecordVerifyAttempt(result string) {
	r.VerifyAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordVerify は整合性チェックループの結果を記録する
func (r *Registry) RecordVerify(converged bool, elapsed time.Duration) {
	if converged {
		r.VerifyConverged.Set(1)
	} else {
		r.VerifyConverged.Set(0)
	}
	r.VerifyElapsed.Set(elapsed.Seconds())
}
