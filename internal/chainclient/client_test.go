package chainclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vnavascues/substrate-watcher/internal/indexererr"
)

type fakeProvider struct {
	calls   atomic.Int32
	handler func(method string, params []any) (json.RawMessage, error)
}

func (f *fakeProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	f.calls.Add(1)
	return f.handler(method, params)
}

func (f *fakeProvider) Close() error { return nil }

func TestClientHashAtCachesResult(t *testing.T) {
	fp := &fakeProvider{handler: func(method string, params []any) (json.RawMessage, error) {
		return json.Marshal("0xabc")
	}}
	c := New(fp, DefaultConfig())

	hash1, err := c.HashAt(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", hash1)

	hash2, err := c.HashAt(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", hash2)

	assert.Equal(t, int32(1), fp.calls.Load(), "second call should be served from cache")
}

func TestClientHashAtNotFound(t *testing.T) {
	fp := &fakeProvider{handler: func(method string, params []any) (json.RawMessage, error) {
		return json.Marshal("")
	}}
	c := New(fp, DefaultConfig())

	_, err := c.HashAt(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, indexererr.ClassNotFound, indexererr.ClassOf(err))
}

func TestClientRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	fp := &fakeProvider{handler: func(method string, params []any) (json.RawMessage, error) {
		attempts++
		if attempts < 3 {
			return nil, indexererr.New(indexererr.ClassTransient, errors.New("boom"))
		}
		return json.Marshal("0xdef")
	}}
	cfg := DefaultConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	c := New(fp, cfg)

	hash, err := c.HashAt(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "0xdef", hash)
	assert.Equal(t, 3, attempts)
}

func TestClientProtocolErrorFatalAfterOneExtraRetry(t *testing.T) {
	attempts := 0
	fp := &fakeProvider{handler: func(method string, params []any) (json.RawMessage, error) {
		attempts++
		return nil, indexererr.New(indexererr.ClassProtocol, errors.New("bad shape"))
	}}
	c := New(fp, DefaultConfig())

	_, err := c.HashAt(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, 2, attempts, "protocol errors get exactly one extra retry")
}

func TestClientRespectsConnectionPoolBound(t *testing.T) {
	inFlight := atomic.Int32{}
	maxInFlight := atomic.Int32{}
	fp := &fakeProvider{handler: func(method string, params []any) (json.RawMessage, error) {
		cur := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if cur <= m || maxInFlight.CompareAndSwap(m, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return json.Marshal("0x1")
	}}
	cfg := DefaultConfig()
	cfg.ConnectionPool = 2
	cfg.RateLimitBurst = 100
	cfg.RateLimitPerSec = 100
	c := New(fp, cfg)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(h uint64) {
			_, _ = c.HashAt(context.Background(), h)
			done <- struct{}{}
		}(uint64(i))
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
}
