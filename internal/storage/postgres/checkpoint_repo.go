package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// CheckpointRepo implements storage.CheckpointRepository.
type CheckpointRepo struct {
	db *DB
}

func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

func (r *CheckpointRepo) Get(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream) (*domain.Checkpoint, error) {
	var height int64
	err := r.db.QueryRowContext(ctx, `
		SELECT height FROM substrate_checkpoints WHERE chain = $1 AND pubkey = $2 AND stream = $3
	`, string(chain), pubkey[:], string(stream)).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint_repo: get: %w", err)
	}
	return &domain.Checkpoint{Chain: chain, PubKey: pubkey, Stream: stream, LastScannedHeight: uint64(height)}, nil
}

// Advance is monotonic: a lower height than what's stored is silently
// ignored via the GREATEST() clause, never regressing the cursor.
func (r *CheckpointRepo) Advance(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream, height uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO substrate_checkpoints (chain, pubkey, stream, height)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain, pubkey, stream) DO UPDATE SET
			height = GREATEST(substrate_checkpoints.height, EXCLUDED.height)
	`, string(chain), pubkey[:], string(stream), height)
	if err != nil {
		return fmt.Errorf("checkpoint_repo: advance: %w", err)
	}
	return nil
}

func (r *CheckpointRepo) Delete(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM substrate_checkpoints WHERE chain = $1 AND pubkey = $2 AND stream = $3
	`, string(chain), pubkey[:], string(stream))
	if err != nil {
		return fmt.Errorf("checkpoint_repo: delete: %w", err)
	}
	return nil
}
