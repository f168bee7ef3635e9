package classify

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vnavascues/substrate-watcher/internal/domain"
)

func pubkeyFromByte(b byte) domain.PubKey {
	var pk domain.PubKey
	pk[0] = b
	return pk
}

func TestClassifyInherentTimestamp(t *testing.T) {
	ex := domain.RawExtrinsic{
		Index:  0,
		Signed: false,
		Module: "Timestamp",
		Function: "set",
		Args:   map[string]any{"now": uint64(1600000000000)},
	}

	res, err := Classify("kusama", 100, ex, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryInherent, res.Category)
	assert.Nil(t, res.Record)
	require.NotNil(t, res.InherentTimestamp)
	assert.Equal(t, uint64(1600000000000), *res.InherentTimestamp)
}

func TestClassifyBalanceTransfer(t *testing.T) {
	signer := pubkeyFromByte(0x20)
	dest := pubkeyFromByte(0x92)
	ex := domain.RawExtrinsic{
		Index:    1,
		Signed:   true,
		Signer:   &signer,
		Module:   "Balances",
		Function: "transfer_keep_alive",
		Success:  true,
		Tip:      big.NewInt(0),
		Args: map[string]any{
			"dest":  dest,
			"value": big.NewInt(1000000),
		},
	}
	events := []domain.RawEvent{
		{Module: "Balances", EventID: "Deposit", Fields: map[string]any{"who": pubkeyFromByte(0x01), "amount": big.NewInt(125000000)}},
	}

	res, err := Classify("kusama", 200, ex, events)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryBalanceTransfer, res.Category)
	require.NotNil(t, res.Record)
	assert.Equal(t, "Balances", res.Record.CallModule)
	assert.Equal(t, "transfer_keep_alive", res.Record.CallFunction)
	assert.False(t, res.Record.FeeUnknown)
	assert.Equal(t, big.NewInt(125000000), res.Record.Fee)
}

func TestClassifyPayoutStakersBatch(t *testing.T) {
	beneficiary := pubkeyFromByte(0x30)
	validator := pubkeyFromByte(0x99)
	era := uint32(1234)

	payout := domain.RawExtrinsic{
		Module:   "Staking",
		Function: "payout_stakers",
		Args: map[string]any{
			"validator_stash": validator,
			"era":             era,
		},
	}
	batch := domain.RawExtrinsic{
		Index:    5,
		Signed:   true,
		Module:   "Utility",
		Function: "batch",
		Args: map[string]any{
			"calls": []domain.RawExtrinsic{payout},
		},
	}
	events := []domain.RawEvent{
		{Module: "Staking", EventID: "Reward", Fields: map[string]any{"stash": beneficiary, "amount": big.NewInt(56754728805)}},
	}

	res, err := Classify("kusama", 1500000, batch, events)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryBatch, res.Category)
	require.NotNil(t, res.Record)
	require.Len(t, res.Staking, 1)
	assert.Equal(t, beneficiary, res.Staking[0].BeneficiaryPubKey)
	assert.Equal(t, big.NewInt(56754728805), res.Staking[0].Amount)
	require.NotNil(t, res.Staking[0].Era)
	assert.Equal(t, era, *res.Staking[0].Era)
}

func TestClassifyPreUpgradeKusamaAggregateReward(t *testing.T) {
	validator := pubkeyFromByte(0x99)
	era := uint32(10)
	payout := domain.RawExtrinsic{
		Index:    2,
		Module:   "Staking",
		Function: "payout_stakers",
		Args: map[string]any{
			"validator_stash": validator,
			"era":             era,
		},
	}
	events := []domain.RawEvent{
		{Module: "Staking", EventID: "Reward", Fields: map[string]any{"amount": big.NewInt(500)}},
	}

	res, err := Classify("kusama", 1000000, payout, events) // below KUSAMA_STAKING_EVENTS_BLOCK_NUMBER_START_AT
	require.NoError(t, err)
	require.Len(t, res.Staking, 1)
	assert.Equal(t, validator, *res.Staking[0].ValidatorStash)
	assert.Equal(t, validator, res.Staking[0].BeneficiaryPubKey)
}

func TestClassifyBatchDepthCap(t *testing.T) {
	inner := domain.RawExtrinsic{Module: "Staking", Function: "nominate"}
	batch := inner
	for i := 0; i < maxBatchDepth+2; i++ {
		batch = domain.RawExtrinsic{
			Module:   "Utility",
			Function: "batch",
			Args:     map[string]any{"calls": []domain.RawExtrinsic{batch}},
		}
	}

	res, err := Classify("polkadot", 1, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryBatch, res.Category)
	assert.Empty(t, res.Staking) // exceeded depth cap, inner calls not classified as staking
}

func TestClassifyFeeUnknownWhenNoDepositEvents(t *testing.T) {
	signer := pubkeyFromByte(0x01)
	ex := domain.RawExtrinsic{
		Signed:   true,
		Signer:   &signer,
		Module:   "Balances",
		Function: "transfer",
	}

	res, err := Classify("polkadot", 1, ex, nil)
	require.NoError(t, err)
	assert.True(t, res.Record.FeeUnknown)
	assert.Nil(t, res.Record.Fee)
}
