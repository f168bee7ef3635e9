package worker

import (
	"context"
	"fmt"
)

// plan computes [start, target]:
//   start  = max(checkpoint+1, account_start_block)
//   target = head_height() - finality_depth
//
// account_start_block is the account's configured StartBlock, or genesis
// (0) if unset. The account-creation height is not looked up, neither here
// nor by the controller, so an account without a StartBlock is scanned
// from genesis.
func (w *Worker) plan(ctx context.Context) (start, target uint64, err error) {
	cp, err := w.cfg.Checkpoints.Get(ctx, w.cfg.Chain, w.cfg.Account.PubKey, w.cfg.Stream)
	if err != nil {
		return 0, 0, fmt.Errorf("plan: get checkpoint: %w", err)
	}

	fromCheckpoint := uint64(0)
	if cp != nil {
		fromCheckpoint = cp.LastScannedHeight + 1
	}

	accountStart := uint64(0)
	if w.cfg.Account.StartBlock != nil {
		accountStart = *w.cfg.Account.StartBlock
	}

	start = max(fromCheckpoint, accountStart)

	if w.cfg.Resume != nil {
		if lo, _, ok, rerr := w.cfg.Resume.PopRange(ctx, w.cfg.Chain, w.cfg.Account.PubKey, w.cfg.Stream); rerr == nil && ok && lo < start {
			start = lo // a window was in flight when the process last stopped
		}
	}

	head, err := w.cfg.Client.HeadHeight(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("plan: head height: %w", err)
	}

	if head < w.cfg.FinalityDepth {
		target = 0
	} else {
		target = head - w.cfg.FinalityDepth
	}

	return start, target, nil
}

// windows slices [start, target] into ascending, non-overlapping,
// inclusive height ranges of at most Config.WindowSize.
func windows(start, target, size uint64) [][2]uint64 {
	if start > target || size == 0 {
		return nil
	}
	var out [][2]uint64
	for lo := start; lo <= target; lo += size {
		hi := lo + size - 1
		if hi > target {
			hi = target
		}
		out = append(out, [2]uint64{lo, hi})
		if hi == target {
			break
		}
	}
	return out
}
