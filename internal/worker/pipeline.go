package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/vnavascues/substrate-watcher/internal/classify"
	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/indexererr"
	"github.com/vnavascues/substrate-watcher/internal/metrics"
)

// fetchedHeight is one fully fetched-and-decoded block, ready to be
// reordered and classified.
type fetchedHeight struct {
	height     uint64
	hash       string
	extrinsics []domain.RawExtrinsic
	events     map[uint32][]domain.RawEvent
	err        error
}

// runWindow fetches every height in [lo, hi] with parallelism
// Config.FetchParallelism (the fetcher pool), then feeds results to the
// reorderer/classifier in strict ascending height order and sends the
// produced records, if any, to the output channel as one WriteBatch.
//
// Returns the highest height in the window whose records are all on the
// output channel, so the caller can advance the heartbeat cursor.
func (w *Worker) runWindow(ctx context.Context, lo, hi uint64) (highestProcessed uint64, err error) {
	n := int(hi-lo) + 1
	results := make([]fetchedHeight, n)

	sem := make(chan struct{}, w.cfg.FetchParallelism)
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		height := lo + uint64(i)
		idx := i
		wg.Add(1)
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = indexererr.New(indexererr.ClassCancelled, ctx.Err())
			}
			mu.Unlock()
			continue
		}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.addInFlight(1)
			defer w.addInFlight(-1)
			fh := w.fetchOneHeight(ctx, height)
			results[idx] = fh
			if fh.err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fh.err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return lo - 1, firstErr
	}

	// Reorderer: results are already index-aligned by height (ascending),
	// so emission order falls out of the slice order.
	batch := WriteBatch{Chain: w.cfg.Chain, Account: w.cfg.Account.PubKey, Stream: w.cfg.Stream}
	for _, fh := range results {
		if err := w.classifyAndAppend(fh, &batch); err != nil {
			return fh.height - 1, err
		}
		highestProcessed = fh.height
		metrics.BlocksProcessed.WithLabelValues(string(w.cfg.Chain)).Inc()
	}

	if len(batch.Extrinsics) > 0 || len(batch.Staking) > 0 {
		select {
		case w.cfg.Out <- batch:
		case <-ctx.Done():
			return lo - 1, indexererr.New(indexererr.ClassCancelled, ctx.Err())
		}
	}

	return highestProcessed, nil
}

// classifyAndAppend classifies every extrinsic of one fetched height and
// appends the matched results to batch. The block's Timestamp.set inherent
// carries no ExtrinsicRecord of its own, but its moment is a block-level
// fact shared by every sibling extrinsic at that height, so it is captured
// first and stamped onto each record produced below, alongside the block
// hash.
func (w *Worker) classifyAndAppend(fh fetchedHeight, batch *WriteBatch) error {
	var blockTimestamp *uint64

	type classified struct {
		record  *domain.ExtrinsicRecord
		staking []domain.StakingEventRecord
	}
	var pending []classified

	for _, ex := range fh.extrinsics {
		evs := fh.events[ex.Index]
		res, err := classify.Classify(w.cfg.Chain, fh.height, ex, evs)
		if err != nil {
			// Per-extrinsic decode errors are logged and skipped, not
			// fatal to the block.
			w.recordDecodeError(fh.height, ex.Index, err)
			continue
		}

		if res.Category == domain.CategoryInherent {
			blockTimestamp = res.InherentTimestamp
			continue // block-level side effect only, not persisted
		}

		matched := w.cfg.Filter.Match(ex, evs)
		if res.Category == domain.CategoryOther && len(matched) == 0 {
			continue // filter-in only classified categories plus event-participant matches
		}

		res.Record.MatchedAddrs = matched
		pending = append(pending, classified{record: res.Record, staking: res.Staking})
	}

	for _, c := range pending {
		if c.record != nil {
			c.record.BlockHash = fh.hash
			c.record.BlockTimestamp = blockTimestamp
			batch.Extrinsics = append(batch.Extrinsics, *c.record)
		}
		for _, se := range c.staking {
			if !w.cfg.Filter.Contains(se.BeneficiaryPubKey) {
				continue // only staking records whose beneficiary is watched are kept
			}
			batch.Staking = append(batch.Staking, se)
		}
	}
	return nil
}

func (w *Worker) recordDecodeError(height uint64, index uint32, err error) {
	w.mu.Lock()
	w.decodeErrors = append(w.decodeErrors, decodeError{height: height, index: index, err: err, at: time.Now()})
	w.mu.Unlock()
	metrics.DecodeErrorsTotal.WithLabelValues(string(w.cfg.Chain)).Inc()
}

type decodeError struct {
	height uint64
	index  uint32
	err    error
	at     time.Time
}

// fetchOneHeight resolves a height to its hash, fetches the block, and
// decodes it, retrying Transient failures with full-jitter exponential
// backoff up to Config.RetryMaxAttempts. Protocol errors are retried once
// within those attempts and are fatal after that; NotFound on a height at or below the worker's target
// (i.e. already finalised) is fatal to the worker.
func (w *Worker) fetchOneHeight(ctx context.Context, height uint64) fetchedHeight {
	var lastErr error
	protocolRetriesLeft := 1

	for attempt := 0; attempt < w.cfg.RetryMaxAttempts; attempt++ {
		hash, err := w.cfg.Client.HashAt(ctx, height)
		if err == nil {
			raw, berr := w.cfg.Client.Block(ctx, hash)
			if berr == nil {
				rawEvents, eerr := w.cfg.Client.Events(ctx, hash)
				if eerr == nil {
					exs, evs, derr := w.cfg.Decode(ctx, raw, rawEvents)
					if derr == nil {
						return fetchedHeight{height: height, hash: hash, extrinsics: exs, events: evs}
					}
					err = derr
				} else {
					err = eerr
				}
			} else {
				err = berr
			}
		}

		lastErr = err
		class := indexererr.ClassOf(err)

		switch class {
		case indexererr.ClassCancelled:
			return fetchedHeight{height: height, err: err}
		case indexererr.ClassNotFound:
			return fetchedHeight{height: height, err: fmt.Errorf("fatal: %w", err)}
		case indexererr.ClassProtocol:
			if protocolRetriesLeft <= 0 {
				return fetchedHeight{height: height, err: fmt.Errorf("fatal: %w", err)}
			}
			protocolRetriesLeft--
		case indexererr.ClassTransient:
			// retry below
		default:
			return fetchedHeight{height: height, err: fmt.Errorf("fatal: %w", err)}
		}

		if attempt == w.cfg.RetryMaxAttempts-1 {
			break
		}

		delay := fullJitter(attempt, w.cfg.RetryBaseDelay, w.cfg.RetryMaxDelay)
		select {
		case <-ctx.Done():
			return fetchedHeight{height: height, err: indexererr.New(indexererr.ClassCancelled, ctx.Err())}
		case <-time.After(delay):
		}
	}

	return fetchedHeight{height: height, err: fmt.Errorf("height %d: exhausted retries: %w", height, lastErr)}
}

func fullJitter(attempt int, base, max time.Duration) time.Duration {
	cap := float64(base) * math.Pow(2, float64(attempt))
	if cap > float64(max) {
		cap = float64(max)
	}
	if cap <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(cap) + 1))
}
