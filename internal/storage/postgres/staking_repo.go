package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// StakingRepo implements storage.StakingEventRepository.
type StakingRepo struct {
	db *DB
}

func NewStakingRepo(db *DB) *StakingRepo {
	return &StakingRepo{db: db}
}

const upsertStakingSQL = `
	INSERT INTO substrate_staking_events
		(chain, height, xidx, eidx, module, event_id, beneficiary, amount, era, validator)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (chain, height, xidx, eidx) DO UPDATE SET
		module      = EXCLUDED.module,
		event_id    = EXCLUDED.event_id,
		beneficiary = EXCLUDED.beneficiary,
		amount      = EXCLUDED.amount,
		era         = EXCLUDED.era,
		validator   = EXCLUDED.validator
`

func (r *StakingRepo) UpsertBatch(ctx context.Context, records []domain.StakingEventRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("staking_repo: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertStakingSQL)
	if err != nil {
		return fmt.Errorf("staking_repo: prepare: %w", err)
	}
	defer stmt.Close()

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
			return fmt.Errorf("staking_repo: upsert height %d xidx %d eidx %d: %w", rec.Height, rec.ExtrinsicIndex, rec.EventIndex, err)
		}
	}

	return tx.Commit()
}

// Get returns staking events in the height range, or in the timestamp
// range (joined against substrate_extrinsics on the extrinsic that
// produced the event) when fromTime/toTime is set.
func (r *StakingRepo) Get(ctx context.Context, chain domain.ChainID, beneficiary *domain.PubKey, fromHeight, toHeight uint64, fromTime, toTime *uint64) ([]domain.StakingEventRecord, error) {
	var rows *sql.Rows
	var err error
	switch {
	case (fromTime != nil || toTime != nil) && beneficiary != nil:
		lo, hi := timeRangeBounds(fromTime, toTime)
		rows, err = r.db.QueryContext(ctx, `
			SELECT se.chain, se.height, se.xidx, se.eidx, se.module, se.event_id, se.beneficiary, se.amount, se.era, se.validator
			FROM substrate_staking_events se
			JOIN substrate_extrinsics ex ON ex.chain = se.chain AND ex.height = se.height AND ex.xidx = se.xidx
			WHERE se.chain = $1 AND se.beneficiary = $2 AND ex.ts IS NOT NULL AND ex.ts BETWEEN $3 AND $4
			ORDER BY ex.ts, se.height, se.xidx, se.eidx
		`, string(chain), beneficiary[:], lo, hi)
	case fromTime != nil || toTime != nil:
		lo, hi := timeRangeBounds(fromTime, toTime)
		rows, err = r.db.QueryContext(ctx, `
			SELECT se.chain, se.height, se.xidx, se.eidx, se.module, se.event_id, se.beneficiary, se.amount, se.era, se.validator
			FROM substrate_staking_events se
			JOIN substrate_extrinsics ex ON ex.chain = se.chain AND ex.height = se.height AND ex.xidx = se.xidx
			WHERE se.chain = $1 AND ex.ts IS NOT NULL AND ex.ts BETWEEN $2 AND $3
			ORDER BY ex.ts, se.height, se.xidx, se.eidx
		`, string(chain), lo, hi)
	case beneficiary != nil:
		rows, err = r.db.QueryContext(ctx, `
			SELECT chain, height, xidx, eidx, module, event_id, beneficiary, amount, era, validator
			FROM substrate_staking_events
			WHERE chain = $1 AND beneficiary = $2 AND height BETWEEN $3 AND $4
			ORDER BY height, xidx, eidx
		`, string(chain), beneficiary[:], fromHeight, toHeight)
	default:
		rows, err = r.db.QueryContext(ctx, `
			SELECT chain, height, xidx, eidx, module, event_id, beneficiary, amount, era, validator
			FROM substrate_staking_events
			WHERE chain = $1 AND height BETWEEN $2 AND $3
			ORDER BY height, xidx, eidx
		`, string(chain), fromHeight, toHeight)
	}
	if err != nil {
		return nil, fmt.Errorf("staking_repo: query: %w", err)
	}
	defer rows.Close()

	var out []domain.StakingEventRecord
	for rows.Next() {
		var (
			chainStr           string
			height             uint64
			xidx, eidx         uint32
			module, eventID    string
			beneficiaryB       []byte
			amount             string
			era                sql.NullInt64
			validatorB         []byte
		)
		if err := rows.Scan(&chainStr, &height, &xidx, &eidx, &module, &eventID, &beneficiaryB, &amount, &era, &validatorB); err != nil {
			return nil, fmt.Errorf("staking_repo: scan: %w", err)
		}
		rec := domain.StakingEventRecord{
			Chain:          domain.ChainID(chainStr),
			Height:         height,
			ExtrinsicIndex: xidx,
			EventIndex:     eidx,
			Module:         module,
			EventID:        eventID,
			Amount:         bigFromString(amount),
		}
		if pk := pubkeyFromBytes(beneficiaryB); pk != nil {
			rec.BeneficiaryPubKey = *pk
		}
		if era.Valid {
			e := uint32(era.Int64)
			rec.Era = &e
		}
		rec.ValidatorStash = pubkeyFromBytes(validatorB)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *StakingRepo) DeleteHistory(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM substrate_staking_events WHERE chain = $1 AND beneficiary = $2
	`, string(chain), pubkey[:])
	if err != nil {
		return fmt.Errorf("staking_repo: delete history: %w", err)
	}
	return nil
}
