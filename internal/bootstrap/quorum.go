package bootstrap

import (
	"context"
	"time"

	"grid-preload/internal/handle"
	"grid-preload/internal/logger"
)

// AwaitQuorum はサーバーメンバーがrequired台以上見えるまでpoll間隔で問い合わせ、
// その後settleだけ待ってから見えていた台数を返す。
// メンバー数の取得に失敗してもログに残してポーリングを続ける。
// 待機はctxでのみ打ち切られる。
func AwaitQuorum(ctx context.Context, h handle.Handle, required int, poll, settle time.Duration) (int, error) {
	last := -1
	for {
		count, err := h.ServerCount(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return 0, interrupted(ctx, "await quorum")
			}
			logger.Warn("", "Failed to query cluster membership: %v", err)
		case count >= required:
			logger.Info("", "Quorum reached: %d/%d server nodes", count, required)
			if err := sleep(ctx, settle); err != nil {
				return count, interrupted(ctx, "quorum settle")
			}
			return count, nil
		case count != last:
			logger.Info("", "Waiting for server nodes: %d/%d", count, required)
			last = count
		}

		if err := sleep(ctx, poll); err != nil {
			return 0, interrupted(ctx, "await quorum")
		}
	}
}
