package worker

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vnavascues/substrate-watcher/internal/addressfilter"
	"github.com/vnavascues/substrate-watcher/internal/chainclient"
	"github.com/vnavascues/substrate-watcher/internal/domain"
)

type fakeChainClient struct {
	head uint64
}

func (f *fakeChainClient) HeadHeight(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeChainClient) HashAt(ctx context.Context, height uint64) (string, error) {
	return "hash", nil
}
func (f *fakeChainClient) Block(ctx context.Context, hash string) (*chainclient.RawBlock, error) {
	return &chainclient.RawBlock{Hash: hash}, nil
}
func (f *fakeChainClient) Events(ctx context.Context, hash string) ([]byte, error) {
	return nil, nil
}

type fakeCheckpoints struct {
	cp *domain.Checkpoint
}

func (f *fakeCheckpoints) Get(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream) (*domain.Checkpoint, error) {
	return f.cp, nil
}

func pk(b byte) domain.PubKey {
	var p domain.PubKey
	p[0] = b
	return p
}

func noopDecoder(ctx context.Context, block *chainclient.RawBlock, rawEvents []byte) ([]domain.RawExtrinsic, map[uint32][]domain.RawEvent, error) {
	return nil, nil, nil
}

func TestWorkerRunsToCompletionAndCanBeStopped(t *testing.T) {
	out := make(chan WriteBatch, 100)
	acct := pk(1)
	cfg := Config{
		Chain:       "kusama",
		Account:     domain.WatchedAccount{Chain: "kusama", PubKey: acct},
		Stream:      domain.StreamExtrinsics,
		Client:      &fakeChainClient{head: 10},
		Filter:      addressfilter.NewMemoryFilter(),
		Decode:      noopDecoder,
		Checkpoints: &fakeCheckpoints{},
		Out:         out,
		WindowSize:  4,
		HeartbeatBlocks: 2,
		HeartbeatPeriod: time.Hour, // block-count triggered in this test
	}
	w := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let it catch up to head (target = head - 0 finality), then stop.
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop in time")
	}

	assert.Equal(t, domain.WorkerStopped, w.State())

	var sawCheckpoint bool
	for {
		select {
		case b := <-out:
			if b.CheckpointHeight != nil {
				sawCheckpoint = true
			}
		default:
			goto done
		}
	}
done:
	assert.True(t, sawCheckpoint, "expected at least one checkpoint marker")
}

func TestWorkerPauseThenResume(t *testing.T) {
	out := make(chan WriteBatch, 100)
	acct := pk(2)
	cfg := Config{
		Chain:       "kusama",
		Account:     domain.WatchedAccount{Chain: "kusama", PubKey: acct},
		Stream:      domain.StreamExtrinsics,
		Client:      &fakeChainClient{head: 5},
		Filter:      addressfilter.NewMemoryFilter(),
		Decode:      noopDecoder,
		Checkpoints: &fakeCheckpoints{},
		Out:         out,
		WindowSize:  2,
		HeartbeatBlocks: 1,
		HeartbeatPeriod: time.Hour,
	}
	w := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	w.Pause()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, domain.WorkerPaused, w.State())

	w.Resume()
	time.Sleep(10 * time.Millisecond)
	w.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop in time")
	}
	assert.Equal(t, domain.WorkerStopped, w.State())
}

func TestClassifyAndAppendStampsBlockHashAndInherentTimestamp(t *testing.T) {
	signer := pk(9)
	w := New(Config{
		Chain:  "kusama",
		Filter: addressfilter.NewMemoryFilter(),
	})

	fh := fetchedHeight{
		height: 42,
		hash:   "0xblockhash",
		extrinsics: []domain.RawExtrinsic{
			{Index: 0, Module: "Timestamp", Function: "set", Args: map[string]any{"now": uint64(1700000000000)}},
			{Index: 1, Signed: true, Signer: &signer, Module: "Balances", Function: "transfer", Tip: big.NewInt(0)},
		},
	}

	var batch WriteBatch
	require.NoError(t, w.classifyAndAppend(fh, &batch))

	require.Len(t, batch.Extrinsics, 1)
	rec := batch.Extrinsics[0]
	assert.Equal(t, "0xblockhash", rec.BlockHash)
	require.NotNil(t, rec.BlockTimestamp)
	assert.Equal(t, uint64(1700000000000), *rec.BlockTimestamp)
}

func TestWindowsSlicing(t *testing.T) {
	w := windows(0, 9, 4)
	assert.Equal(t, [][2]uint64{{0, 3}, {4, 7}, {8, 9}}, w)
}

func TestWindowsEmptyWhenStartAfterTarget(t *testing.T) {
	assert.Nil(t, windows(10, 5, 4))
}
