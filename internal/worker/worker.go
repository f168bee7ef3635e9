package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/indexererr"
	"github.com/vnavascues/substrate-watcher/internal/metrics"
)

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdStop
)

// Worker runs the indexing pipeline for one (chain, account, stream).
// Its lifecycle is driven exclusively by commands from the Session
// Controller (C6), never by internal decisions other than fatal errors.
type Worker struct {
	cfg Config

	mu             sync.Mutex
	state          domain.WorkerState
	decodeErrors   []decodeError
	lastCheckpoint uint64
	target         uint64
	inFlight       int
	rate           float64
	lastRateAt     time.Time
	lastRateHeight uint64

	cmdCh   chan command
	stopped chan struct{}
	lastErr error
}

// New builds a Worker in the Idle state.
func New(cfg Config) *Worker {
	cfg.applyDefaults()
	return &Worker{
		cfg:     cfg,
		state:   domain.WorkerIdle,
		cmdCh:   make(chan command, 4),
		stopped: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() domain.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s domain.WorkerState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !domain.CanTransitionWorker(w.state, s) {
		return fmt.Errorf("worker: invalid transition %s -> %s", w.state, s)
	}
	w.state = s
	return nil
}

// Pause requests the range slicer stop yielding new windows once in-flight
// work completes and checkpoints.
func (w *Worker) Pause() { w.cmdCh <- cmdPause }

// Resume requests planning resume from the last checkpoint.
func (w *Worker) Resume() { w.cmdCh <- cmdResume }

// Stop requests a graceful stop: drain in-flight fetches, emit one final
// checkpoint at the highest contiguous processed height, transition to
// Stopped.
func (w *Worker) Stop() { w.cmdCh <- cmdStop }

// Stopped is closed once the worker has fully reached the Stopped state.
func (w *Worker) Stopped() <-chan struct{} { return w.stopped }

// Err returns the fatal error that ended the worker's run, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Run drives the worker's lifecycle to completion. It returns when the
// worker reaches Stopped, either by command or by a fatal error.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stopped)

	for {
		if err := w.setState(domain.WorkerPlanning); err != nil {
			return err
		}

		start, target, err := w.plan(ctx)
		if err != nil {
			w.fail(err)
			return err
		}
		w.mu.Lock()
		w.target = target
		w.mu.Unlock()

		if err := w.setState(domain.WorkerRunning); err != nil {
			w.fail(err)
			return err
		}

		stopped, pauseRequested, err := w.runRanges(ctx, start, target)
		if err != nil {
			w.fail(err)
			return err
		}
		if stopped {
			return w.finishStop()
		}
		if pauseRequested {
			if err := w.setState(domain.WorkerPaused); err != nil {
				w.fail(err)
				return err
			}
			if w.waitForResumeOrStop(ctx) {
				return w.finishStop()
			}
			continue // back to Planning
		}

		// Caught up to target; wait briefly then replan for new blocks,
		// unless a stop/pause command arrives first.
		select {
		case <-ctx.Done():
			return w.finishStop()
		case cmd := <-w.cmdCh:
			if cmd == cmdStop {
				return w.finishStop()
			}
			if cmd == cmdPause {
				if err := w.setState(domain.WorkerPaused); err != nil {
					w.fail(err)
					return err
				}
				if w.waitForResumeOrStop(ctx) {
					return w.finishStop()
				}
			}
		case <-time.After(w.cfg.HeartbeatPeriod):
		}
	}
}

// runRanges executes windows over [start, target] in order, emitting a
// heartbeat checkpoint marker every HeartbeatBlocks processed or
// HeartbeatPeriod elapsed, whichever comes first.
// The marker is emitted only after all records for heights <= that height
// have been placed on the output channel.
func (w *Worker) runRanges(ctx context.Context, start, target uint64) (stopped, pauseRequested bool, err error) {
	if start > target {
		return false, false, nil
	}

	wins := windows(start, target, w.cfg.WindowSize)
	var sinceHeartbeat uint64
	lastHeartbeatAt := time.Now()
	var lastProcessed uint64 = start - 1
	// heartbeat emits the marker for lastProcessed. With start == 0 and no
	// window landed yet, start-1 has wrapped around and there is no
	// processed height to checkpoint, so nothing is emitted.
	heartbeat := func() {
		if start > 0 || lastProcessed != start-1 {
			w.emitHeartbeat(ctx, lastProcessed)
		}
	}

	for _, win := range wins {
		select {
		case cmd := <-w.cmdCh:
			switch cmd {
			case cmdStop:
				heartbeat()
				return true, false, nil
			case cmdPause:
				heartbeat()
				return false, true, nil
			}
		default:
		}

		if ctx.Err() != nil {
			heartbeat()
			return false, false, indexererr.New(indexererr.ClassCancelled, ctx.Err())
		}

		if w.cfg.Resume != nil {
			_ = w.cfg.Resume.PushRange(ctx, w.cfg.Chain, w.cfg.Account.PubKey, w.cfg.Stream, win[0], win[1])
		}

		highest, werr := w.runWindow(ctx, win[0], win[1])
		if werr != nil {
			if indexererr.Is(werr, indexererr.ClassCancelled) {
				heartbeat()
				return true, false, nil
			}
			return false, false, werr
		}
		lastProcessed = highest
		sinceHeartbeat += highest - win[0] + 1

		if w.cfg.Resume != nil {
			_ = w.cfg.Resume.ClearRange(ctx, w.cfg.Chain, w.cfg.Account.PubKey, w.cfg.Stream)
		}

		if sinceHeartbeat >= w.cfg.HeartbeatBlocks || time.Since(lastHeartbeatAt) >= w.cfg.HeartbeatPeriod {
			w.emitHeartbeat(ctx, lastProcessed)
			sinceHeartbeat = 0
			lastHeartbeatAt = time.Now()
		}
	}

	w.emitHeartbeat(ctx, lastProcessed)
	return false, false, nil
}

func (w *Worker) emitHeartbeat(ctx context.Context, height uint64) {
	h := height
	batch := WriteBatch{
		Chain:            w.cfg.Chain,
		Account:          w.cfg.Account.PubKey,
		Stream:           w.cfg.Stream,
		CheckpointHeight: &h,
	}
	select {
	case w.cfg.Out <- batch:
		w.recordCheckpoint(h)
	case <-ctx.Done():
	}
}

// recordCheckpoint updates the status snapshot's checkpoint and derives a
// blocks/sec rate from the delta against the previous sample.
func (w *Worker) recordCheckpoint(height uint64) {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.lastRateAt.IsZero() && height > w.lastRateHeight {
		if elapsed := now.Sub(w.lastRateAt).Seconds(); elapsed > 0 {
			w.rate = float64(height-w.lastRateHeight) / elapsed
		}
	}
	w.lastCheckpoint = height
	w.lastRateAt = now
	w.lastRateHeight = height
	if w.target > height {
		metrics.CheckpointLag.WithLabelValues(string(w.cfg.Chain), string(w.cfg.Stream)).Set(float64(w.target - height))
	} else {
		metrics.CheckpointLag.WithLabelValues(string(w.cfg.Chain), string(w.cfg.Stream)).Set(0)
	}
}

// Snapshot reports the status fields the Session Controller surfaces to
// clients on the status command.
func (w *Worker) Snapshot() (checkpoint, target uint64, ratePerSec float64, inFlight, errorsLast5m int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := time.Now().Add(-5 * time.Minute)
	for _, de := range w.decodeErrors {
		if de.at.After(cutoff) {
			errorsLast5m++
		}
	}
	return w.lastCheckpoint, w.target, w.rate, w.inFlight, errorsLast5m
}

func (w *Worker) addInFlight(delta int) {
	w.mu.Lock()
	w.inFlight += delta
	w.mu.Unlock()
}

func (w *Worker) waitForResumeOrStop(ctx context.Context) (stop bool) {
	for {
		select {
		case <-ctx.Done():
			return true
		case cmd := <-w.cmdCh:
			switch cmd {
			case cmdStop:
				return true
			case cmdResume:
				return false
			case cmdPause:
				// already paused, ignore
			}
		}
	}
}

func (w *Worker) finishStop() error {
	if err := w.setState(domain.WorkerStopping); err != nil {
		return err
	}
	return w.setState(domain.WorkerStopped)
}

// fail records the fatal error that ended Run and moves the worker to
// Stopped; Run calls it only from states that may pass through Stopping.
func (w *Worker) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = err
	if domain.CanTransitionWorker(w.state, domain.WorkerStopping) {
		w.state = domain.WorkerStopped
	}
}
