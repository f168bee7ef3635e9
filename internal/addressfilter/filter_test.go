package addressfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vnavascues/substrate-watcher/internal/domain"
)

func pk(b byte) domain.PubKey {
	var p domain.PubKey
	p[0] = b
	return p
}

func TestMatchBySigner(t *testing.T) {
	f := NewMemoryFilter()
	signer := pk(1)
	f.Add(signer)

	ex := domain.RawExtrinsic{Signer: &signer, Module: "Balances", Function: "transfer"}
	matched := f.Match(ex, nil)
	assert.Equal(t, []domain.PubKey{signer}, matched)
}

func TestMatchByEventParticipantNotSigner(t *testing.T) {
	f := NewMemoryFilter()
	beneficiary := pk(2)
	signer := pk(3)
	f.Add(beneficiary)

	ex := domain.RawExtrinsic{Signer: &signer, Module: "Staking", Function: "payout_stakers"}
	events := []domain.RawEvent{
		{Module: "Staking", EventID: "Reward", Fields: map[string]any{"stash": beneficiary}},
	}

	matched := f.Match(ex, events)
	assert.Equal(t, []domain.PubKey{beneficiary}, matched)
}

func TestMatchInsideNestedBatch(t *testing.T) {
	f := NewMemoryFilter()
	target := pk(4)
	f.Add(target)

	inner := domain.RawExtrinsic{Module: "Staking", Function: "nominate", Args: map[string]any{
		"targets": []domain.PubKey{target},
	}}
	outer := domain.RawExtrinsic{Module: "Utility", Function: "batch", Args: map[string]any{
		"calls": []domain.RawExtrinsic{inner},
	}}

	matched := f.Match(outer, nil)
	assert.Equal(t, []domain.PubKey{target}, matched)
}

func TestMatchUnionOfMultipleWatchedAccounts(t *testing.T) {
	f := NewMemoryFilter()
	signer := pk(5)
	dest := pk(6)
	f.Add(signer)
	f.Add(dest)

	ex := domain.RawExtrinsic{Signer: &signer, Module: "Balances", Function: "transfer", Args: map[string]any{
		"dest": dest,
	}}

	matched := f.Match(ex, nil)
	assert.ElementsMatch(t, []domain.PubKey{signer, dest}, matched)
}

func TestMatchNoneReturnsNil(t *testing.T) {
	f := NewMemoryFilter()
	unrelated := pk(7)
	ex := domain.RawExtrinsic{Signer: &unrelated, Module: "Balances", Function: "transfer"}
	assert.Nil(t, f.Match(ex, nil))
}

func TestRemoveStopsFutureMatches(t *testing.T) {
	f := NewMemoryFilter()
	signer := pk(8)
	f.Add(signer)
	f.Remove(signer)

	ex := domain.RawExtrinsic{Signer: &signer, Module: "Balances", Function: "transfer"}
	assert.Nil(t, f.Match(ex, nil))
}
