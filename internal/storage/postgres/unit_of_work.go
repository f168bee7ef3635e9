package postgres

import (
	"context"
	"fmt"

	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/storage"
)

// UnitOfWork implements storage.UnitOfWork: the record batch and the
// checkpoint advance it covers commit in one transaction, so a crash
// between them either loses both or neither -- the checkpoint can never
// point past uncommitted data.
//
// Uses the standard BeginTxx/Commit pattern, extended to span two tables
// in the same transaction: the checkpoint and its record batch are
// independent tables with a joint-commit requirement.
type UnitOfWork struct {
	db *DB
}

func NewUnitOfWork(db *DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

var _ storage.UnitOfWork = (*UnitOfWork)(nil)

func (u *UnitOfWork) WriteExtrinsicsAndAdvance(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream, records []domain.ExtrinsicRecord, checkpointHeight *uint64) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unit_of_work: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertExtrinsicSQL)
	if err != nil {
		return fmt.Errorf("unit_of_work: prepare extrinsics: %w", err)
	}
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			string(rec.Chain), rec.Height, rec.Index, rec.BlockHash,
			rec.BlockTimestamp, pubkeyBytes(rec.SignerPubKey),
			rec.CallModule, rec.CallFunction, rec.Success,
			bigString(rec.Tip), nullableBigString(rec.Fee), rec.FeeUnknown,
			rec.ParamsPayload, encodeMatched(rec.MatchedAddrs),
		); err != nil {
			stmt.Close()
			return fmt.Errorf("unit_of_work: upsert extrinsic height %d idx %d: %w", rec.Height, rec.Index, err)
		}
	}
	stmt.Close()

	if checkpointHeight != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO substrate_checkpoints (chain, pubkey, stream, height)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chain, pubkey, stream) DO UPDATE SET
				height = GREATEST(substrate_checkpoints.height, EXCLUDED.height)
		`, string(chain), pubkey[:], string(stream), *checkpointHeight); err != nil {
			return fmt.Errorf("unit_of_work: advance checkpoint: %w", err)
		}
	}

	return tx.Commit()
}

func (u *UnitOfWork) WriteStakingAndAdvance(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream, records []domain.StakingEventRecord, checkpointHeight *uint64) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unit_of_work: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertStakingSQL)
	if err != nil {
		return fmt.Errorf("unit_of_work: prepare staking: %w", err)
	}
	for _, rec := range records {
		var validator []byte
		if rec.ValidatorStash != nil {
			validator = rec.ValidatorStash[:]
		}
		if _, err := stmt.ExecContext(ctx,
			string(rec.Chain), rec.Height, rec.ExtrinsicIndex, rec.EventIndex,
			rec.Module, rec.EventID, rec.BeneficiaryPubKey[:], bigString(rec.Amount),
			rec.Era, validator,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("unit_of_work: upsert staking height %d xidx %d eidx %d: %w", rec.Height, rec.ExtrinsicIndex, rec.EventIndex, err)
		}
	}
	stmt.Close()

	if checkpointHeight != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO substrate_checkpoints (chain, pubkey, stream, height)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chain, pubkey, stream) DO UPDATE SET
				height = GREATEST(substrate_checkpoints.height, EXCLUDED.height)
		`, string(chain), pubkey[:], string(stream), *checkpointHeight); err != nil {
			return fmt.Errorf("unit_of_work: advance checkpoint: %w", err)
		}
	}

	return tx.Commit()
}
