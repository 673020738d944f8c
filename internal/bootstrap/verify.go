package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"grid-preload/internal/events"
	"grid-preload/internal/handle"
	"grid-preload/internal/logger"
)

// SuccessVerdict は整合性が取れている場合の診断レポートの最終行
const SuccessVerdict = "The check procedure has finished, no conflicts have been found."

// Outcome は整合性チェック1回分の結果
type Outcome struct {
	Consistent  bool
	ReportLines []string
	Elapsed     time.Duration
}

// Verdict はレポートの最終行を返す
func (o Outcome) Verdict() string {
	if len(o.ReportLines) == 0 {
		return ""
	}
	return o.ReportLines[len(o.ReportLines)-1]
}

// VerifyResult は整合性チェックループの結果。
// Converged=falseかつエラーなしはタイムアウトを意味する
type VerifyResult struct {
	Converged bool
	Attempts  int
	Elapsed   time.Duration
	Last      Outcome
	LastErr   error // 最後の試行が失敗していた場合のエラー
}

// Verifier は名前付き診断を実行して整合性を判定する
type Verifier struct {
	h    handle.Handle
	name string
	obs  observer
}

// NewVerifier は新しいVerifierを作成する
func NewVerifier(h handle.Handle, diagnosticName string) *Verifier {
	return &Verifier{h: h, name: diagnosticName}
}

// Check は診断を1回実行し、レポートの各行をログに出して最終行で判定する
func (v *Verifier) Check(ctx context.Context) (Outcome, error) {
	start := time.Now()

	fn, err := v.h.Diagnostic(v.name)
	if err != nil {
		return Outcome{Elapsed: time.Since(start)}, fmt.Errorf("lookup diagnostic %q: %w", v.name, err)
	}

	report, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return Outcome{Elapsed: elapsed}, fmt.Errorf("run diagnostic %q: %w", v.name, err)
	}

	lines := SplitLines(report)
	for _, line := range lines {
		logger.Info(v.obs.nodeID, "%s", line)
	}
	logger.Info(v.obs.nodeID, "Diagnostic %s took %v", v.name, elapsed.Round(time.Millisecond))

	out := Outcome{ReportLines: lines, Elapsed: elapsed}
	out.Consistent = out.Verdict() == SuccessVerdict
	return out, nil
}

// Loop は整合性が取れるかtimeoutが経過するまでCheckを繰り返す。
// 試行の合間は min(poll, 残り時間) だけ待つ。
// タイムアウトはエラーではなく Converged=false で返し、待機中の中断のみエラーになる。
func (v *Verifier) Loop(ctx context.Context, poll, timeout time.Duration) (VerifyResult, error) {
	var res VerifyResult
	start := time.Now()

	for {
		res.Attempts++
		out, err := v.Check(ctx)
		res.Last, res.LastErr = out, err

		switch {
		case err != nil:
			if ctx.Err() != nil {
				res.Elapsed = time.Since(start)
				return res, interrupted(ctx, "verify")
			}
			logger.Warn(v.obs.nodeID, "Consistency check attempt %d failed: %v", res.Attempts, err)
			v.recordAttempt("error", res.Attempts, false, "")
		case out.Consistent:
			res.Converged = true
			res.Elapsed = time.Since(start)
			v.recordAttempt("consistent", res.Attempts, true, out.Verdict())
			logger.Info(v.obs.nodeID, "Cluster is consistent after %d attempts (%v)", res.Attempts, res.Elapsed.Round(time.Millisecond))
			v.finish(res)
			return res, nil
		default:
			v.recordAttempt("conflicts", res.Attempts, false, out.Verdict())
		}

		elapsed := time.Since(start)
		if elapsed >= timeout {
			res.Elapsed = elapsed
			logger.Warn(v.obs.nodeID, "Cluster did not become consistent within %v (%d attempts)", timeout, res.Attempts)
			v.finish(res)
			return res, nil
		}

		if err := sleep(ctx, min(poll, timeout-elapsed)); err != nil {
			res.Elapsed = time.Since(start)
			return res, interrupted(ctx, "verify")
		}
	}
}

func (v *Verifier) recordAttempt(result string, attempt int, converged bool, verdict string) {
	if v.obs.metrics != nil {
		v.obs.metrics.RecordVerifyAttempt(result)
	}
	v.obs.publish(events.NewVerifyAttemptEvent(v.obs.nodeID, attempt, converged, verdict))
}

func (v *Verifier) finish(res VerifyResult) {
	if v.obs.metrics != nil {
		v.obs.metrics.RecordVerify(res.Converged, res.Elapsed)
	}
	v.obs.publish(events.NewVerifyFinishedEvent(v.obs.nodeID, res.Attempts, res.Converged, res.Elapsed))
}

// SplitLines はレポートを \n, \r\n, \r のいずれかで行に分割する。
// 末尾の空行は捨てる
func SplitLines(report string) []string {
	report = strings.ReplaceAll(report, "\r\n", "\n")
	report = strings.ReplaceAll(report, "\r", "\n")

	lines := strings.Split(report, "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
