package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration はメンバーの起動や設定の検証に失敗したときに返される
	ErrConfiguration = errors.New("configuration error")
	// ErrLoad はロードジョブのいずれかが失敗したときに返される
	ErrLoad = errors.New("load failed")
	// ErrInterrupted は待機中にキャンセルされたときに返される
	ErrInterrupted = errors.New("interrupted")
	// ErrQuorumTimeout はQuorumTimeout内にサーバーが揃わなかったときに返される
	ErrQuorumTimeout = errors.New("quorum timeout")
)

// interrupted はctx終了の原因を呼び出し側が判定できるエラーに変換する
func interrupted(ctx context.Context, stage string) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrQuorumTimeout) {
		return fmt.Errorf("%s: %w", stage, ErrQuorumTimeout)
	}
	return fmt.Errorf("%s: %w: %v", stage, ErrInterrupted, cause)
}

// sleep はdだけ待つ。ctxが先に終了したらそのエラーを返す
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
