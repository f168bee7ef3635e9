// Package memory provides in-process fakes of the storage repositories
// (map + mutex, no persistence) -- used by writer and worker tests so the
// suite never needs a live Postgres instance.
package memory

import (
	"context"
	"sync"

	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/storage"
)

type extrinsicKey struct {
	chain domain.ChainID
	height uint64
	index  uint32
}

// ExtrinsicStore is an in-memory storage.ExtrinsicRepository.
type ExtrinsicStore struct {
	mu   sync.RWMutex
	rows map[extrinsicKey]domain.ExtrinsicRecord
}

func NewExtrinsicStore() *ExtrinsicStore {
	return &ExtrinsicStore{rows: make(map[extrinsicKey]domain.ExtrinsicRecord)}
}

func (s *ExtrinsicStore) UpsertBatch(ctx context.Context, records []domain.ExtrinsicRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.rows[extrinsicKey{r.Chain, r.Height, r.Index}] = r
	}
	return nil
}

func (s *ExtrinsicStore) Get(ctx context.Context, chain domain.ChainID, pubkey *domain.PubKey, fromHeight, toHeight uint64, fromTime, toTime *uint64) ([]domain.ExtrinsicRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ExtrinsicRecord
	for _, r := range s.rows {
		if r.Chain != chain {
			continue
		}
		if fromTime != nil || toTime != nil {
			if !inTimeRange(r.BlockTimestamp, fromTime, toTime) {
				continue
			}
		} else if r.Height < fromHeight || r.Height > toHeight {
			continue
		}
		if pubkey != nil && !matchesPubkey(r, *pubkey) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// inTimeRange reports whether ts falls in [fromTime, toTime], treating a
// nil ts (record has no block timestamp) as never matching, and a nil
// bound as unrestricted on that side.
func inTimeRange(ts, fromTime, toTime *uint64) bool {
	if ts == nil {
		return false
	}
	if fromTime != nil && *ts < *fromTime {
		return false
	}
	if toTime != nil && *ts > *toTime {
		return false
	}
	return true
}

// blockTimestamp looks up the BlockTimestamp of the extrinsic at
// (chain, height, index), returning nil if absent or unrecorded.
func (s *ExtrinsicStore) blockTimestamp(chain domain.ChainID, height uint64, index uint32) *uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[extrinsicKey{chain, height, index}]
	if !ok {
		return nil
	}
	return r.BlockTimestamp
}

func matchesPubkey(r domain.ExtrinsicRecord, pk domain.PubKey) bool {
	if r.SignerPubKey != nil && *r.SignerPubKey == pk {
		return true
	}
	for _, a := range r.MatchedAddrs {
		if a == pk {
			return true
		}
	}
	return false
}

func (s *ExtrinsicStore) DeleteHistory(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.rows {
		if r.Chain == chain && matchesPubkey(r, pubkey) {
			delete(s.rows, k)
		}
	}
	return nil
}

type stakingKey struct {
	chain          domain.ChainID
	height         uint64
	extrinsicIndex uint32
	eventIndex     uint32
}

// StakingStore is an in-memory storage.StakingEventRepository.
type StakingStore struct {
	mu         sync.RWMutex
	rows       map[stakingKey]domain.StakingEventRecord
	extrinsics *ExtrinsicStore // optional; enables time-range queries, see SetExtrinsics
}

func NewStakingStore() *StakingStore {
	return &StakingStore{rows: make(map[stakingKey]domain.StakingEventRecord)}
}

// SetExtrinsics wires the extrinsic store used to resolve a staking event's
// block timestamp for time-range queries, mirroring the Postgres
// repository's join against substrate_extrinsics on (chain, height, xidx).
// Without it, a time-range Get always returns no rows.
func (s *StakingStore) SetExtrinsics(extrinsics *ExtrinsicStore) {
	s.extrinsics = extrinsics
}

func (s *StakingStore) UpsertBatch(ctx context.Context, records []domain.StakingEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.rows[stakingKey{r.Chain, r.Height, r.ExtrinsicIndex, r.EventIndex}] = r
	}
	return nil
}

// Get filters staking events by height or, when fromTime/toTime is set, by
// looking up the block timestamp of the producing extrinsic via
// SetExtrinsics -- with no store wired, no rows match a time-range query,
// matching the SQL join's ts IS NOT NULL behavior.
func (s *StakingStore) Get(ctx context.Context, chain domain.ChainID, beneficiary *domain.PubKey, fromHeight, toHeight uint64, fromTime, toTime *uint64) ([]domain.StakingEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StakingEventRecord
	for _, r := range s.rows {
		if r.Chain != chain {
			continue
		}
		if fromTime != nil || toTime != nil {
			if s.extrinsics == nil || !inTimeRange(s.extrinsics.blockTimestamp(chain, r.Height, r.ExtrinsicIndex), fromTime, toTime) {
				continue
			}
		} else if r.Height < fromHeight || r.Height > toHeight {
			continue
		}
		if beneficiary != nil && r.BeneficiaryPubKey != *beneficiary {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *StakingStore) DeleteHistory(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.rows {
		if r.Chain == chain && r.BeneficiaryPubKey == pubkey {
			delete(s.rows, k)
		}
	}
	return nil
}

type checkpointKey struct {
	chain  domain.ChainID
	pubkey domain.PubKey
	stream domain.Stream
}

// CheckpointStore is an in-memory storage.CheckpointRepository.
type CheckpointStore struct {
	mu   sync.RWMutex
	rows map[checkpointKey]uint64
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{rows: make(map[checkpointKey]uint64)}
}

func (s *CheckpointStore) Get(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.rows[checkpointKey{chain, pubkey, stream}]
	if !ok {
		return nil, nil
	}
	return &domain.Checkpoint{Chain: chain, PubKey: pubkey, Stream: stream, LastScannedHeight: h}, nil
}

func (s *CheckpointStore) Advance(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := checkpointKey{chain, pubkey, stream}
	if cur, ok := s.rows[k]; ok && height <= cur {
		return nil
	}
	s.rows[k] = height
	return nil
}

func (s *CheckpointStore) Delete(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, checkpointKey{chain, pubkey, stream})
	return nil
}

// UnitOfWork is a non-transactional in-memory stand-in: writes then
// advances, matching storage.UnitOfWork's contract closely enough for
// tests that don't exercise crash-mid-commit behaviour.
type UnitOfWork struct {
	Extrinsics  *ExtrinsicStore
	Staking     *StakingStore
	Checkpoints *CheckpointStore
}

var _ storage.UnitOfWork = (*UnitOfWork)(nil)

func (u *UnitOfWork) WriteExtrinsicsAndAdvance(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream, records []domain.ExtrinsicRecord, checkpointHeight *uint64) error {
	if err := u.Extrinsics.UpsertBatch(ctx, records); err != nil {
		return err
	}
	if checkpointHeight != nil {
		return u.Checkpoints.Advance(ctx, chain, pubkey, stream, *checkpointHeight)
	}
	return nil
}

func (u *UnitOfWork) WriteStakingAndAdvance(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream, records []domain.StakingEventRecord, checkpointHeight *uint64) error {
	if err := u.Staking.UpsertBatch(ctx, records); err != nil {
		return err
	}
	if checkpointHeight != nil {
		return u.Checkpoints.Advance(ctx, chain, pubkey, stream, *checkpointHeight)
	}
	return nil
}
