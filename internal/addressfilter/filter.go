// Package addressfilter implements the Address Filter (C3): decides which
// watched accounts a classified extrinsic is of interest to. Modeled as a
// Filter interface plus a map-backed MemoryFilter, generalized from a
// single-field membership check to Substrate's multi-field match surface.
package addressfilter

import (
	"sync"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// destFields are the argument keys that may carry a destination account.
var destFields = []string{"dest", "controller", "payee"}

// destListFields carry a list of accounts, e.g. Staking.nominate's targets.
var destListFields = []string{"targets"}

// Filter tracks the set of watched pubkeys for one chain and matches
// classified extrinsics against it.
type Filter interface {
	Add(pubkey domain.PubKey)
	Remove(pubkey domain.PubKey)
	Addresses() []domain.PubKey
	// Contains reports whether pubkey is currently watched.
	Contains(pubkey domain.PubKey) bool
	// Match returns the subset of watched pubkeys this extrinsic pertains
	// to: signer, any destination-shaped argument, or any AccountId in the
	// extrinsic's own events. A single extrinsic matching several watched
	// accounts is reported once with the full matched set.
	Match(ex domain.RawExtrinsic, events []domain.RawEvent) []domain.PubKey
}

// MemoryFilter is a map+mutex implementation.
type MemoryFilter struct {
	mu        sync.RWMutex
	addresses map[domain.PubKey]struct{}
}

// NewMemoryFilter creates an empty filter.
func NewMemoryFilter() *MemoryFilter {
	return &MemoryFilter{addresses: make(map[domain.PubKey]struct{})}
}

func (f *MemoryFilter) Add(pubkey domain.PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses[pubkey] = struct{}{}
}

func (f *MemoryFilter) Remove(pubkey domain.PubKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.addresses, pubkey)
}

func (f *MemoryFilter) Addresses() []domain.PubKey {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.PubKey, 0, len(f.addresses))
	for pk := range f.addresses {
		out = append(out, pk)
	}
	return out
}

// Contains reports whether pubkey is currently watched.
func (f *MemoryFilter) Contains(pk domain.PubKey) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.addresses[pk]
	return ok
}

// Match checks signer match, any destination-shaped argument match
// (including nested batch calls, walked the same way the classifier does),
// or any AccountId in the extrinsic's events.
func (f *MemoryFilter) Match(ex domain.RawExtrinsic, events []domain.RawEvent) []domain.PubKey {
	seen := make(map[domain.PubKey]struct{})

	f.walkCall(ex, seen)

	for _, ev := range events {
		for _, v := range ev.Fields {
			if pk, ok := v.(domain.PubKey); ok && f.Contains(pk) {
				seen[pk] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]domain.PubKey, 0, len(seen))
	for pk := range seen {
		out = append(out, pk)
	}
	return out
}

func (f *MemoryFilter) walkCall(ex domain.RawExtrinsic, seen map[domain.PubKey]struct{}) {
	if ex.Signer != nil && f.Contains(*ex.Signer) {
		seen[*ex.Signer] = struct{}{}
	}

	for _, field := range destFields {
		if pk, ok := ex.Args[field].(domain.PubKey); ok && f.Contains(pk) {
			seen[pk] = struct{}{}
		}
	}
	for _, field := range destListFields {
		if list, ok := ex.Args[field].([]domain.PubKey); ok {
			for _, pk := range list {
				if f.Contains(pk) {
					seen[pk] = struct{}{}
				}
			}
		}
	}

	if ex.Module == "Utility" && (ex.Function == "batch" || ex.Function == "batch_all") {
		if inner, ok := ex.Args["calls"].([]domain.RawExtrinsic); ok {
			for _, innerCall := range inner {
				f.walkCall(innerCall, seen)
			}
		}
	}
}
