package writer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/storage/memory"
	"github.com/vnavascues/substrate-watcher/internal/worker"
)

func pk(b byte) domain.PubKey {
	var p domain.PubKey
	p[0] = b
	return p
}

func TestWriterFlushesAndAdvancesCheckpoint(t *testing.T) {
	in := make(chan worker.WriteBatch, 32)
	extrinsics := memory.NewExtrinsicStore()
	staking := memory.NewStakingStore()
	checkpoints := memory.NewCheckpointStore()
	uow := &memory.UnitOfWork{Extrinsics: extrinsics, Staking: staking, Checkpoints: checkpoints}

	w := New(Config{
		In:         in,
		Extrinsics: extrinsics,
		Staking:    staking,
		UnitOfWork: uow,
		MinBatch:   2,
		MaxBatch:   2,
		IdleSleep:  20 * time.Millisecond,
	})

	acct := pk(1)
	h1, h2 := uint64(10), uint64(11)
	in <- worker.WriteBatch{
		Chain: "kusama", Account: acct, Stream: domain.StreamExtrinsics,
		Extrinsics:       []domain.ExtrinsicRecord{{Chain: "kusama", Height: 10, Index: 0, Tip: big.NewInt(0)}},
		CheckpointHeight: &h1,
	}
	in <- worker.WriteBatch{
		Chain: "kusama", Account: acct, Stream: domain.StreamExtrinsics,
		Extrinsics:       []domain.ExtrinsicRecord{{Chain: "kusama", Height: 11, Index: 0, Tip: big.NewInt(0)}},
		CheckpointHeight: &h2,
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := w.Run(ctx)
	require.NoError(t, err)

	cp, err := checkpoints.Get(context.Background(), "kusama", acct, domain.StreamExtrinsics)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(11), cp.LastScannedHeight)

	recs, err := extrinsics.Get(context.Background(), "kusama", &acct, 0, 100, nil, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestWriterFlushesOnIdleBelowMinBatch(t *testing.T) {
	in := make(chan worker.WriteBatch, 4)
	extrinsics := memory.NewExtrinsicStore()
	staking := memory.NewStakingStore()
	checkpoints := memory.NewCheckpointStore()
	uow := &memory.UnitOfWork{Extrinsics: extrinsics, Staking: staking, Checkpoints: checkpoints}

	w := New(Config{
		In:         in,
		Extrinsics: extrinsics,
		Staking:    staking,
		UnitOfWork: uow,
		MinBatch:   10,
		MaxBatch:   10,
		IdleSleep:  10 * time.Millisecond,
	})

	acct := pk(2)
	h := uint64(5)
	in <- worker.WriteBatch{
		Chain: "kusama", Account: acct, Stream: domain.StreamExtrinsics,
		Extrinsics:       []domain.ExtrinsicRecord{{Chain: "kusama", Height: 5, Index: 0, Tip: big.NewInt(0)}},
		CheckpointHeight: &h,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	cp, err := checkpoints.Get(context.Background(), "kusama", acct, domain.StreamExtrinsics)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(5), cp.LastScannedHeight)
}

func TestWriterGroupsByAccountAndStreamBeforeCommit(t *testing.T) {
	in := make(chan worker.WriteBatch, 4)
	extrinsics := memory.NewExtrinsicStore()
	staking := memory.NewStakingStore()
	checkpoints := memory.NewCheckpointStore()
	uow := &memory.UnitOfWork{Extrinsics: extrinsics, Staking: staking, Checkpoints: checkpoints}

	w := New(Config{
		In:         in,
		Extrinsics: extrinsics,
		Staking:    staking,
		UnitOfWork: uow,
		MinBatch:   2,
		MaxBatch:   2,
		IdleSleep:  20 * time.Millisecond,
	})

	a, b := pk(3), pk(4)
	ha, hb := uint64(1), uint64(2)
	in <- worker.WriteBatch{Chain: "kusama", Account: a, Stream: domain.StreamExtrinsics,
		Extrinsics: []domain.ExtrinsicRecord{{Chain: "kusama", Height: 1, Index: 0, Tip: big.NewInt(0)}}, CheckpointHeight: &ha}
	in <- worker.WriteBatch{Chain: "kusama", Account: b, Stream: domain.StreamExtrinsics,
		Extrinsics: []domain.ExtrinsicRecord{{Chain: "kusama", Height: 2, Index: 0, Tip: big.NewInt(0)}}, CheckpointHeight: &hb}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	cpA, _ := checkpoints.Get(context.Background(), "kusama", a, domain.StreamExtrinsics)
	cpB, _ := checkpoints.Get(context.Background(), "kusama", b, domain.StreamExtrinsics)
	require.NotNil(t, cpA)
	require.NotNil(t, cpB)
	assert.Equal(t, uint64(1), cpA.LastScannedHeight)
	assert.Equal(t, uint64(2), cpB.LastScannedHeight)
}

func uptr(v uint64) *uint64 { return &v }

func TestQueryExtrinsicsByTimeRangeExcludesUntimestampedRecords(t *testing.T) {
	extrinsics := memory.NewExtrinsicStore()
	staking := memory.NewStakingStore()
	checkpoints := memory.NewCheckpointStore()
	uow := &memory.UnitOfWork{Extrinsics: extrinsics, Staking: staking, Checkpoints: checkpoints}
	w := New(Config{In: make(chan worker.WriteBatch), Extrinsics: extrinsics, Staking: staking, UnitOfWork: uow})

	acct := pk(7)
	require.NoError(t, extrinsics.UpsertBatch(context.Background(), []domain.ExtrinsicRecord{
		{Chain: "kusama", Height: 1, Index: 0, SignerPubKey: &acct, BlockTimestamp: uptr(1000), Tip: big.NewInt(0)},
		{Chain: "kusama", Height: 2, Index: 0, SignerPubKey: &acct, BlockTimestamp: uptr(2000), Tip: big.NewInt(0)},
		{Chain: "kusama", Height: 3, Index: 0, SignerPubKey: &acct, Tip: big.NewInt(0)}, // no timestamp
	}))

	recs, err := w.QueryExtrinsics(context.Background(), "kusama", &acct, 0, 0, uptr(1500), uptr(2500))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(2), recs[0].Height)
}
