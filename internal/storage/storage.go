// Package storage defines the repository contracts of the Storage Schema
// (C7): idempotent extrinsic and staking-event persistence keyed to the
// three tables of the schema, plus the checkpoint state used by the
// planner and advanced transactionally by the DB Writer (C5).
//
// Uses the familiar Save/SaveBatch/Get.../DeleteRange interface shape,
// generalized from EVM blocks/transactions to extrinsics/staking
// events/checkpoints.
package storage

import (
	"context"
	"errors"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// ErrCheckpointNotFound names the state in which no checkpoint row exists
// yet for the (chain, pubkey, stream) triple -- the normal state for a
// freshly attached account. The repositories in this module do not return
// it: CheckpointRepository.Get reports that state as a nil Checkpoint with
// a nil error.
var ErrCheckpointNotFound = errors.New("storage: checkpoint not found")

// ExtrinsicRepository persists and reads matched extrinsic records.
type ExtrinsicRepository interface {
	// UpsertBatch idempotently writes records, keyed on (chain, height,
	// extrinsic_index). A record already present with the same key is
	// overwritten in place -- reprocessing the same height never
	// duplicates rows.
	UpsertBatch(ctx context.Context, records []domain.ExtrinsicRecord) error

	// Get returns matched extrinsics for a chain in [fromHeight, toHeight],
	// optionally restricted to those matching pubkey. If fromTime or toTime
	// is non-nil, the query runs over the block timestamp range instead of
	// the height range, and fromHeight/toHeight are ignored; records with
	// no timestamp never match a time-range query.
	Get(ctx context.Context, chain domain.ChainID, pubkey *domain.PubKey, fromHeight, toHeight uint64, fromTime, toTime *uint64) ([]domain.ExtrinsicRecord, error)

	// DeleteHistory removes every persisted record for (chain, pubkey),
	// used by the reset_history command; it does not touch checkpoints.
	DeleteHistory(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey) error
}

// StakingEventRepository persists and reads staking event records.
type StakingEventRepository interface {
	// UpsertBatch idempotently writes records, keyed on (chain, height,
	// extrinsic_index, event_index).
	UpsertBatch(ctx context.Context, records []domain.StakingEventRecord) error

	// Get returns staking events for a chain in [fromHeight, toHeight],
	// optionally restricted to those crediting beneficiary. Same
	// fromTime/toTime override as ExtrinsicRepository.Get.
	Get(ctx context.Context, chain domain.ChainID, beneficiary *domain.PubKey, fromHeight, toHeight uint64, fromTime, toTime *uint64) ([]domain.StakingEventRecord, error)

	DeleteHistory(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey) error
}

// CheckpointRepository is the full read/write checkpoint contract; workers
// only need the read side (worker.CheckpointReader is a subset of this).
type CheckpointRepository interface {
	Get(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream) (*domain.Checkpoint, error)

	// Advance sets LastScannedHeight to height, enforcing monotonicity: a
	// height lower than the stored value is a no-op, never a regression.
	Advance(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream, height uint64) error

	Delete(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream) error
}

// UnitOfWork commits a batch of records and its checkpoint advance in a
// single transaction: a checkpoint must never advance past uncommitted
// data.
type UnitOfWork interface {
	WriteExtrinsicsAndAdvance(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream, records []domain.ExtrinsicRecord, checkpointHeight *uint64) error
	WriteStakingAndAdvance(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream, records []domain.StakingEventRecord, checkpointHeight *uint64) error
}
