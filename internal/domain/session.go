package domain

// WorkerState is the lifecycle of a single (session, chain, stream) worker.
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerPlanning WorkerState = "planning"
	WorkerRunning  WorkerState = "running"
	WorkerPaused   WorkerState = "paused"
	WorkerStopping WorkerState = "stopping"
	WorkerStopped  WorkerState = "stopped"
)

// ValidWorkerTransitions enumerates the worker lifecycle graph:
// Idle -> Planning -> Running -> {Paused, Stopping} -> Stopped. Running also
// loops back into Planning once caught up to the current target, to plan
// the next window as new blocks arrive; Paused resumes back into Planning.
var ValidWorkerTransitions = map[WorkerState][]WorkerState{
	WorkerIdle:     {WorkerPlanning},
	WorkerPlanning: {WorkerRunning, WorkerStopping},
	WorkerRunning:  {WorkerPlanning, WorkerPaused, WorkerStopping},
	WorkerPaused:   {WorkerPlanning, WorkerStopping},
	WorkerStopping: {WorkerStopped},
	WorkerStopped:  {},
}

// CanTransitionWorker reports whether from->to is an allowed lifecycle edge.
func CanTransitionWorker(from, to WorkerState) bool {
	for _, next := range ValidWorkerTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// WorkerStatus is the snapshot returned by the controller's status
// command, per (account, stream).
type WorkerStatus struct {
	Account         PubKey
	Stream          Stream
	State           WorkerState
	LastCheckpoint  uint64
	TargetHeight    uint64
	RateBlocksPerSec float64
	InFlight        int
	ErrorsLast5m    int
}

// SessionID identifies one client connection's owned set of workers.
type SessionID string
