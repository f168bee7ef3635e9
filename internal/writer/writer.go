// Package writer implements the DB Writer (C5): the single consumer of a
// session's worker output channel, batching writes and advancing
// checkpoints transactionally.
//
// Uses an accumulate-then-flush loop (min items before a flush, max items
// per flush, idle-sleep interval) combined with a transactional-commit
// shape, grouping accumulated batches by (chain, account, stream) before
// each commit, since a checkpoint advance is only valid within one such
// key.
package writer

import (
	"context"
	"log/slog"
	"time"

	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/metrics"
	"github.com/vnavascues/substrate-watcher/internal/storage"
	"github.com/vnavascues/substrate-watcher/internal/worker"
)

const (
	defaultMinBatch  = 10
	defaultMaxBatch  = 10
	defaultIdleSleep = 5 * time.Second
)

// Config configures a Writer.
type Config struct {
	In        <-chan worker.WriteBatch
	Extrinsics storage.ExtrinsicRepository
	Staking    storage.StakingEventRepository
	UnitOfWork storage.UnitOfWork
	Logger     *slog.Logger

	MinBatch  int
	MaxBatch  int
	IdleSleep time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinBatch == 0 {
		c.MinBatch = defaultMinBatch
	}
	if c.MaxBatch == 0 {
		c.MaxBatch = defaultMaxBatch
	}
	if c.IdleSleep == 0 {
		c.IdleSleep = defaultIdleSleep
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Writer drains Config.In and commits each accumulated group.
type Writer struct {
	cfg Config
}

func New(cfg Config) *Writer {
	cfg.applyDefaults()
	return &Writer{cfg: cfg}
}

type groupKey struct {
	chain   domain.ChainID
	account domain.PubKey
	stream  domain.Stream
}

// Run drains the input channel until it closes or ctx is cancelled: a
// sleep-if-below-threshold, drain-up-to-max loop.
func (w *Writer) Run(ctx context.Context) error {
	for {
		metrics.WriterQueueDepth.Set(float64(len(w.cfg.In)))
		batches, ok := w.collect(ctx)
		if len(batches) > 0 {
			metrics.WriterBatchSize.Observe(float64(len(batches)))
			if err := w.flush(ctx, batches); err != nil {
				w.cfg.Logger.Error("writer: flush failed", "error", err)
			}
		}
		if !ok {
			return ctx.Err()
		}
	}
}

// collect accumulates until MinBatch items are available or IdleSleep has
// elapsed with at least one item pending, then drains up to MaxBatch. The
// second return value is false once the channel is closed and drained.
func (w *Writer) collect(ctx context.Context) ([]worker.WriteBatch, bool) {
	var pending []worker.WriteBatch

	for len(pending) < w.cfg.MinBatch {
		select {
		case <-ctx.Done():
			return pending, false
		case b, ok := <-w.cfg.In:
			if !ok {
				return pending, false
			}
			pending = append(pending, b)
		case <-time.After(w.cfg.IdleSleep):
			if len(pending) > 0 {
				return pending, true
			}
		}
	}

	// Drain a few more non-blocking, up to MaxBatch, to coalesce a burst.
	for len(pending) < w.cfg.MaxBatch {
		select {
		case b, ok := <-w.cfg.In:
			if !ok {
				return pending, false
			}
			pending = append(pending, b)
		default:
			return pending, true
		}
	}
	return pending, true
}

func (w *Writer) flush(ctx context.Context, batches []worker.WriteBatch) error {
	groups := make(map[groupKey]*worker.WriteBatch)
	var order []groupKey

	for _, b := range batches {
		k := groupKey{b.Chain, b.Account, b.Stream}
		g, ok := groups[k]
		if !ok {
			g = &worker.WriteBatch{Chain: b.Chain, Account: b.Account, Stream: b.Stream}
			groups[k] = g
			order = append(order, k)
		}
		g.Extrinsics = append(g.Extrinsics, b.Extrinsics...)
		g.Staking = append(g.Staking, b.Staking...)
		if b.CheckpointHeight != nil && (g.CheckpointHeight == nil || *b.CheckpointHeight > *g.CheckpointHeight) {
			g.CheckpointHeight = b.CheckpointHeight
		}
	}

	for _, k := range order {
		g := groups[k]
		var err error
		switch g.Stream {
		case domain.StreamStaking:
			err = w.cfg.UnitOfWork.WriteStakingAndAdvance(ctx, g.Chain, g.Account, g.Stream, g.Staking, g.CheckpointHeight)
		default:
			err = w.cfg.UnitOfWork.WriteExtrinsicsAndAdvance(ctx, g.Chain, g.Account, g.Stream, g.Extrinsics, g.CheckpointHeight)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// QueryExtrinsics answers the query_extrinsics command by reading straight
// through to the extrinsic repository; it does not touch the write path.
// fromTime/toTime, when either is set, switch the repository to a
// timestamp-range query instead of the height range.
func (w *Writer) QueryExtrinsics(ctx context.Context, chain domain.ChainID, pubkey *domain.PubKey, fromHeight, toHeight uint64, fromTime, toTime *uint64) ([]domain.ExtrinsicRecord, error) {
	return w.cfg.Extrinsics.Get(ctx, chain, pubkey, fromHeight, toHeight, fromTime, toTime)
}

// QueryStaking answers the query_staking command.
func (w *Writer) QueryStaking(ctx context.Context, chain domain.ChainID, beneficiary *domain.PubKey, fromHeight, toHeight uint64, fromTime, toTime *uint64) ([]domain.StakingEventRecord, error) {
	return w.cfg.Staking.Get(ctx, chain, beneficiary, fromHeight, toHeight, fromTime, toTime)
}

// DeleteHistory removes all persisted records for (chain, pubkey) across
// both streams, backing the reset_history command. It does not touch
// checkpoints; the controller's reset_history handler deletes those
// separately.
func (w *Writer) DeleteHistory(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey) error {
	if err := w.cfg.Extrinsics.DeleteHistory(ctx, chain, pubkey); err != nil {
		return err
	}
	return w.cfg.Staking.DeleteHistory(ctx, chain, pubkey)
}
