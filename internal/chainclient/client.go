package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/indexererr"
	"github.com/vnavascues/substrate-watcher/internal/metrics"
)

// RawBlock is a block header plus its ordered extrinsics, as returned by
// the node. RawExtrinsics carries the opaque SCALE-encoded extrinsic
// strings straight off the wire; decoding them into domain.RawExtrinsic is
// the external SCALE collaborator's job, wired in as a worker.Decoder.
type RawBlock struct {
	Height        uint64
	Hash          string
	ParentHash    string
	RawExtrinsics []string
}

// Config tunes the Chain Client: connection pool size, rate limit, block
// hash cache size, and retry policy.
type Config struct {
	Chain           domain.ChainID // metrics label only
	ConnectionPool  int            // bounded concurrency, default 16
	RateLimitBurst  float64
	RateLimitPerSec float64
	CacheSize       int
	Retry           RetryConfig
}

// DefaultConfig returns the stated production defaults.
func DefaultConfig() Config {
	return Config{
		ConnectionPool:  16,
		RateLimitBurst:  32,
		RateLimitPerSec: 32,
		CacheSize:       4096,
		Retry:           DefaultRetryConfig,
	}
}

// Client is the Chain Client (C1): a bounded-concurrency, rate-limited,
// retrying, cached facade over a single Provider.
type Client struct {
	provider Provider
	cfg      Config
	sem      chan struct{}
	limiter  *tokenBucket
	cache    *blockHashCache
}

// New builds a Client bound to one JSON-RPC provider.
func New(provider Provider, cfg Config) *Client {
	if cfg.ConnectionPool <= 0 {
		cfg.ConnectionPool = 16
	}
	return &Client{
		provider: provider,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.ConnectionPool),
		limiter:  newTokenBucket(cfg.RateLimitBurst, cfg.RateLimitPerSec),
		cache:    newBlockHashCache(cfg.CacheSize),
	}
}

// call is the shared entry point: acquire a pool slot, wait on the rate
// limiter, then retry the underlying provider call. Each call is
// independently retryable.
func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, indexererr.New(indexererr.ClassCancelled, ctx.Err())
	}
	defer func() { <-c.sem }()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, indexererr.New(indexererr.ClassCancelled, err)
	}

	metrics.RPCCallsTotal.WithLabelValues(string(c.cfg.Chain), method).Inc()
	start := time.Now()
	raw, err := callWithRetry(ctx, c.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
		return c.provider.Call(ctx, method, params)
	})
	metrics.FetchLatency.WithLabelValues(string(c.cfg.Chain)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(string(c.cfg.Chain), string(indexererr.ClassOf(err))).Inc()
	}
	return raw, err
}

// HeadHeight returns the current best block height.
func (c *Client) HeadHeight(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "chain_getHeader", nil)
	if err != nil {
		return 0, fmt.Errorf("head height: %w", err)
	}
	var header struct {
		Number string `json:"number"` // hex-encoded, e.g. "0x1a2b"
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return 0, indexererr.New(indexererr.ClassProtocol, fmt.Errorf("decode header: %w", err))
	}
	height, err := parseHexUint(header.Number)
	if err != nil {
		return 0, indexererr.New(indexererr.ClassProtocol, fmt.Errorf("parse block number: %w", err))
	}
	return height, nil
}

// HashAt resolves a block height to its hash, using the process-wide LRU
// cache.
func (c *Client) HashAt(ctx context.Context, height uint64) (string, error) {
	if hash, ok := c.cache.Get(height); ok {
		return hash, nil
	}

	raw, err := c.call(ctx, "chain_getBlockHash", []any{height})
	if err != nil {
		return "", fmt.Errorf("hash at %d: %w", height, err)
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", indexererr.New(indexererr.ClassProtocol, fmt.Errorf("decode block hash: %w", err))
	}
	if hash == "" {
		return "", indexererr.Newf(indexererr.ClassNotFound, "no block at height %d", height)
	}

	c.cache.Put(height, hash)
	return hash, nil
}

// Block fetches the header and ordered extrinsics for a block hash.
func (c *Client) Block(ctx context.Context, hash string) (*RawBlock, error) {
	raw, err := c.call(ctx, "chain_getBlock", []any{hash})
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash, err)
	}

	var body struct {
		Block struct {
			Header struct {
				Number     string `json:"number"`
				ParentHash string `json:"parentHash"`
			} `json:"header"`
			Extrinsics []string `json:"extrinsics"` // opaque encoded extrinsics
		} `json:"block"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, indexererr.New(indexererr.ClassProtocol, fmt.Errorf("decode block body: %w", err))
	}

	height, err := parseHexUint(body.Block.Header.Number)
	if err != nil {
		return nil, indexererr.New(indexererr.ClassProtocol, fmt.Errorf("parse block number: %w", err))
	}

	return &RawBlock{
		Height:        height,
		Hash:          hash,
		ParentHash:    body.Block.Header.ParentHash,
		RawExtrinsics: body.Block.Extrinsics,
	}, nil
}

// Events fetches the opaque Events storage item for a block hash, as a
// hex-encoded SCALE blob. Decoding it into []domain.RawEvent grouped by
// extrinsic index is the external collaborator's job, same as
// RawBlock.RawExtrinsics; the worker passes both raw payloads to its
// injected Decoder together.
func (c *Client) Events(ctx context.Context, hash string) ([]byte, error) {
	raw, err := c.call(ctx, "state_getStorage", []any{"0x26aa394eea5630e07c48ae0c9558cef7", hash})
	if err != nil {
		return nil, fmt.Errorf("events at %s: %w", hash, err)
	}
	var hexBlob string
	if err := json.Unmarshal(raw, &hexBlob); err != nil {
		return nil, indexererr.New(indexererr.ClassProtocol, fmt.Errorf("decode events storage item: %w", err))
	}
	return []byte(hexBlob), nil
}

// AccountCreationHeight is a best-effort lookup; a nil result is not an
// error -- callers fall back to genesis.
func (c *Client) AccountCreationHeight(ctx context.Context, pubkey domain.PubKey) (*uint64, error) {
	raw, err := c.call(ctx, "state_getStorage", []any{"system_account_" + pubkey.String()})
	if err != nil {
		if indexererr.Is(err, indexererr.ClassNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("account creation height: %w", err)
	}
	var height *uint64
	if err := json.Unmarshal(raw, &height); err != nil {
		return nil, nil // best-effort: malformed response also just means "unknown"
	}
	return height, nil
}

// Close releases the underlying provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

func parseHexUint(s string) (uint64, error) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
