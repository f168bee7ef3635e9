// Package worker implements the Indexer Worker (C4): one per
// (session, chain, account, stream), running a bounded concurrent
// pipeline -- plan, slice, fetch, reorder, classify+filter, checkpoint --
// against a shared Chain Client and a single-consumer output channel
// feeding the DB Writer (C5).
//
// Modeled as an Indexer interface with a ticker-driven Pipeline and a
// FinalityBuffer-style checkpoint-marker-after-flush pattern.
package worker

import (
	"context"
	"time"

	"github.com/vnavascues/substrate-watcher/internal/addressfilter"
	"github.com/vnavascues/substrate-watcher/internal/chainclient"
	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// Decoder is the external SCALE-decode collaborator: given a raw block and
// its raw Events storage blob, it returns the block's extrinsics (already
// tagged with Signer/Module/Function/Args) and the events grouped by
// extrinsic index.
type Decoder func(ctx context.Context, block *chainclient.RawBlock, rawEvents []byte) ([]domain.RawExtrinsic, map[uint32][]domain.RawEvent, error)

// ChainClient is the subset of the Chain Client (C1) contract the worker
// needs. *chainclient.Client satisfies this; tests use a fake.
type ChainClient interface {
	HeadHeight(ctx context.Context) (uint64, error)
	HashAt(ctx context.Context, height uint64) (string, error)
	Block(ctx context.Context, hash string) (*chainclient.RawBlock, error)
	Events(ctx context.Context, hash string) ([]byte, error)
}

// CheckpointReader is the read side of storage the worker needs during
// planning; the write side (advancing the checkpoint transactionally with
// the batch it covers) belongs to the DB Writer (C5).
type CheckpointReader interface {
	Get(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey, stream domain.Stream) (*domain.Checkpoint, error)
}

// WriteBatch is one unit of work handed to the DB Writer: either a batch of
// records, a checkpoint marker, or both -- a marker always follows the
// records it covers, never precedes them.
type WriteBatch struct {
	Chain            domain.ChainID
	Account          domain.PubKey
	Stream           domain.Stream
	Extrinsics       []domain.ExtrinsicRecord
	Staking          []domain.StakingEventRecord
	CheckpointHeight *uint64
}

// Config configures one worker instance.
type Config struct {
	Chain   domain.ChainID
	Account domain.WatchedAccount
	Stream  domain.Stream

	Client  ChainClient
	Filter  addressfilter.Filter
	Decode  Decoder
	Checkpoints CheckpointReader
	Out     chan<- WriteBatch
	Resume  PendingRangeStore // optional; nil disables crash-resume durability

	FinalityDepth    uint64
	WindowSize       uint64
	FetchParallelism int
	HeartbeatBlocks  uint64
	HeartbeatPeriod  time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

func (c *Config) applyDefaults() {
	if c.WindowSize == 0 {
		c.WindowSize = 256
	}
	if c.FetchParallelism == 0 {
		c.FetchParallelism = 8
	}
	if c.HeartbeatBlocks == 0 {
		c.HeartbeatBlocks = 64
	}
	if c.HeartbeatPeriod == 0 {
		c.HeartbeatPeriod = 5 * time.Second
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 5
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
}
