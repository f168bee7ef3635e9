package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnavascues/substrate-watcher/internal/chainclient"
	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/storage/memory"
	"github.com/vnavascues/substrate-watcher/internal/worker"
)

type fakeChainClient struct{ head uint64 }

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

func noopDecoder(ctx context.Context, block *chainclient.RawBlock, rawEvents []byte) ([]domain.RawExtrinsic, map[uint32][]domain.RawEvent, error) {
	return nil, nil, nil
}

func pk(b byte) domain.PubKey {
	var p domain.PubKey
	p[0] = b
	return p
}

func testDeps() Deps {
	return Deps{
		Chains: map[domain.ChainID]ChainResources{
			"kusama": {
				Client: &fakeChainClient{head: 3}, Decode: noopDecoder, Finality: 0,
				WindowSize: 2, FetchParallelism: 2, HeartbeatBlocks: 1, HeartbeatPeriod: time.Hour,
			},
		},
		Checkpoints:      memory.NewCheckpointStore(),
		Out:              make(chan worker.WriteBatch, 100),
		ShutdownDeadline: time.Second,
	}
}

func TestSessionAttachStartsWorkersForBothStreams(t *testing.T) {
	s := NewSession(testDeps())
	acct := domain.WatchedAccount{Chain: "kusama", PubKey: pk(1)}
	require.NoError(t, s.Attach(context.Background(), "kusama", []domain.WatchedAccount{acct}))

	time.Sleep(10 * time.Millisecond)
	status := s.Status()
	assert.Len(t, status, 2)

	s.Stop()
}

func TestSessionRemoveAccountStopsItsWorkers(t *testing.T) {
	s := NewSession(testDeps())
	acct := domain.WatchedAccount{Chain: "kusama", PubKey: pk(2)}
	require.NoError(t, s.Attach(context.Background(), "kusama", []domain.WatchedAccount{acct}))
	time.Sleep(10 * time.Millisecond)

	s.RemoveAccount("kusama", acct.PubKey)
	assert.Len(t, s.Status(), 0)
}

func TestSessionAttachUnknownChainErrors(t *testing.T) {
	s := NewSession(testDeps())
	err := s.Attach(context.Background(), "polkadot", []domain.WatchedAccount{{Chain: "polkadot", PubKey: pk(3)}})
	assert.Error(t, err)
}

func TestRegistryCreateGetClose(t *testing.T) {
	r := NewRegistry(testDeps())
	s := r.Create()
	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	r.Close(context.Background(), s.ID)
	_, ok = r.Get(s.ID)
	assert.False(t, ok)
}
