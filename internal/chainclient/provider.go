// Package chainclient implements the Chain Client (C1): a thin, retrying,
// bounded-concurrency contract over a Substrate node's JSON-RPC interface.
// The SS58/SCALE codec is an external collaborator; this package only
// shapes the request and interprets the {result, error} envelope.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vnavascues/substrate-watcher/internal/indexererr"
)

// jsonRPCRequest is a JSON-RPC 2.0 request envelope.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

// Provider is a single JSON-RPC endpoint. It has no retry/pool/rate-limit
// logic of its own -- that is layered on top by Client.
type Provider interface {
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
	Close() error
}

// HTTPProvider speaks JSON-RPC over HTTP with a request/response shape.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider builds an HTTPProvider with a tuned, connection-reusing
// transport.
func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second, // per-RPC timeout default
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Call issues one JSON-RPC request and classifies the outcome: network
// errors are Transient, node-side {error} responses with an unrecognized
// shape are Protocol, HTTP 429/403 are Transient (rate-limited, retry with
// backoff rather than treat as fatal).
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, indexererr.New(indexererr.ClassFatal, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, indexererr.New(indexererr.ClassFatal, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, indexererr.New(indexererr.ClassCancelled, ctx.Err())
		}
		return nil, indexererr.New(indexererr.ClassTransient, fmt.Errorf("rpc call %s: %w", method, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, indexererr.New(indexererr.ClassTransient, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		return nil, indexererr.New(indexererr.ClassTransient, fmt.Errorf("rpc call %s: node returned %d", method, resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return nil, indexererr.New(indexererr.ClassTransient, fmt.Errorf("rpc call %s: node returned %d", method, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, indexererr.New(indexererr.ClassProtocol, fmt.Errorf("rpc call %s: node returned %d", method, resp.StatusCode))
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, indexererr.New(indexererr.ClassProtocol, fmt.Errorf("decode rpc response for %s: %w", method, err))
	}
	if rpcResp.Error != nil {
		return nil, indexererr.New(indexererr.ClassProtocol, fmt.Errorf("rpc call %s: node error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message))
	}

	return rpcResp.Result, nil
}

// Close is a no-op for HTTPProvider; the underlying transport pools its own
// connections and is safe to leave open for process lifetime.
func (p *HTTPProvider) Close() error { return nil }
