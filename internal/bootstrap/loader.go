package bootstrap

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"grid-preload/internal/events"
	"grid-preload/internal/handle"
	"grid-preload/internal/keyspace"
	"grid-preload/internal/logger"
)

// cancelCheckInterval 件ごとにジョブはキャンセルを確認する
const cancelCheckInterval = 1024

// Job は1ワーカー分のロード単位
type Job struct {
	WorkerID int
	Records  int
}

// LoadReport はロード結果
type LoadReport struct {
	Workers          int
	RecordsPerWorker int
	Written          int64         // ストリーマーに渡した件数
	Elapsed          time.Duration // 全ジョブ合流までの時間
	CacheSize        int           // ロード後に読み戻したキャッシュサイズ（報告用）
}

// Loader はW個のジョブを並列に実行してキャッシュにデータを投入する
type Loader struct {
	h         handle.Handle
	cacheName string
	obs       observer
}

// NewLoader は新しいLoaderを作成する
func NewLoader(h handle.Handle, cacheName string) *Loader {
	return &Loader{h: h, cacheName: cacheName}
}

// Load はworkers個のジョブを起動し、各ジョブがrecords件を書き込む。
// 全ジョブの終了を待ってから返る。最初に失敗したジョブのエラーを返し、
// 他のジョブはキャンセルを検知して早期に終了する。
func (l *Loader) Load(ctx context.Context, workers, records int) (LoadReport, error) {
	report := LoadReport{Workers: workers, RecordsPerWorker: records}
	if workers <= 0 || records < 0 || !keyspace.Valid(workers, records) {
		return report, fmt.Errorf("%w: workers=%d records=%d out of key range", ErrConfiguration, workers, records)
	}

	logger.Info(l.obs.nodeID, "Loading %d records into %s with %d workers", int64(workers)*int64(records), l.cacheName, workers)

	var written atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		job := Job{WorkerID: w, Records: records}
		g.Go(func() error {
			n, err := l.runJob(gctx, job)
			written.Add(n)

			if l.obs.metrics != nil {
				l.obs.metrics.RecordJob(err)
			}
			l.obs.publish(events.NewJobFinishedEvent(l.obs.nodeID, job.WorkerID, n, err))

			if err != nil {
				return fmt.Errorf("job %d: %w", job.WorkerID, err)
			}
			return nil
		})
	}
	err := g.Wait()

	report.Written = written.Load()
	report.Elapsed = time.Since(start)

	if err != nil {
		l.obs.publish(events.NewLoadFinishedEvent(l.obs.nodeID, report.Written, report.Elapsed, err))
		if ctx.Err() != nil {
			return report, interrupted(ctx, "load")
		}
		return report, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	size, err := l.h.CacheSize(ctx, l.cacheName)
	if err != nil {
		logger.Warn(l.obs.nodeID, "Failed to read cache size: %v", err)
	}
	report.CacheSize = size

	logger.Info(l.obs.nodeID, "Loaded %d records in %v (cache size: %d)", report.Written, report.Elapsed.Round(time.Millisecond), size)

	if l.obs.metrics != nil {
		l.obs.metrics.RecordLoad(report.Written, report.Elapsed, size)
	}
	l.obs.publish(events.NewLoadFinishedEvent(l.obs.nodeID, report.Written, report.Elapsed, nil))
	return report, nil
}

// runJob は専用のストリーマーを開いてjob.Records件を書き込み、閉じてフラッシュする
func (l *Loader) runJob(ctx context.Context, job Job) (written int64, err error) {
	s, err := l.h.Streamer(ctx, l.cacheName)
	if err != nil {
		return 0, fmt.Errorf("open streamer: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close streamer: %w", cerr)
		}
	}()

	for seq := range job.Records {
		if seq%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return written, err
			}
		}
		if err := s.AddData(keyspace.Key(job.WorkerID, seq), seq); err != nil {
			return written, fmt.Errorf("add %s: %w", keyspace.Key(job.WorkerID, seq), err)
		}
		written++
	}
	return written, nil
}
