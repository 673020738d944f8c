package bootstrap

import (
	"fmt"
	"strings"
	"time"
)

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, `
================================================================================
                         PRELOAD REPORT: node %s (%s)
================================================================================

EXECUTION SUMMARY
-----------------
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Final Phase:    %s
`,
		r.NodeID, r.Role,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Phase,
	)
	if r.Err != nil {
		fmt.Fprintf(&b, "  Error:          %v\n", r.Err)
	}

	if r.Role == RoleCoordinator {
		fmt.Fprintf(&b, `
QUORUM
------
  Servers:        %d
  Wait:           %v

LOAD
----
  Workers:        %d
  Records/Worker: %d
  Written:        %d
  Elapsed:        %v
  Cache Size:     %d
  Throughput:     %.0f records/s

VERIFICATION
------------
  Converged:      %t
  Attempts:       %d
  Elapsed:        %v
  Verdict:        %s
`,
			r.Servers,
			r.QuorumWait.Round(time.Millisecond),
			r.Load.Workers,
			r.Load.RecordsPerWorker,
			r.Load.Written,
			r.Load.Elapsed.Round(time.Millisecond),
			r.Load.CacheSize,
			throughput(r.Load.Written, r.Load.Elapsed),
			r.Verify.Converged,
			r.Verify.Attempts,
			r.Verify.Elapsed.Round(time.Millisecond),
			r.Verify.Last.Verdict(),
		)
	}

	b.WriteString("\n================================================================================")
	return b.String()
}

func throughput(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
