package classify

import (
	"math/big"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// stakingEventsForCall extracts StakingEventRecords from the events
// attached to a Staking-module call, accounting for Kusama's runtime
// upgrade that changed Reward from one aggregate-per-era event to
// per-nominator events.
func stakingEventsForCall(chain domain.ChainID, height uint64, ex domain.RawExtrinsic, events []domain.RawEvent) []domain.StakingEventRecord {
	var era *uint32
	var validator *domain.PubKey
	if ex.Function == "payout_stakers" {
		era = extractEra(ex.Args)
		validator = extractPubKey(ex.Args, "validator_stash")
	}

	modernShape := chain != "kusama" || height >= kusamaStakingRewardEventsStartAt

	var out []domain.StakingEventRecord
	for i, ev := range events {
		if ev.Module != "Staking" {
			continue
		}
		amount := extractAmount(ev.Fields, "amount")
		if amount == nil {
			continue
		}

		if ev.EventID == "Reward" && !modernShape {
			// Pre-upgrade Kusama emits one aggregate Reward per era rather
			// than per-nominator; beneficiary is the validator itself.
			rec := domain.StakingEventRecord{
				Chain:          chain,
				Height:         height,
				ExtrinsicIndex: ex.Index,
				EventIndex:     uint32(i),
				Module:         ev.Module,
				EventID:        ev.EventID,
				Amount:         amount,
				Era:            era,
				ValidatorStash: validator,
			}
			if v := validator; v != nil {
				rec.BeneficiaryPubKey = *v
			}
			out = append(out, rec)
			continue
		}

		beneficiary := extractPubKey(ev.Fields, "stash")
		if beneficiary == nil {
			beneficiary = extractPubKey(ev.Fields, "who")
		}
		if beneficiary == nil {
			continue
		}

		out = append(out, domain.StakingEventRecord{
			Chain:             chain,
			Height:            height,
			ExtrinsicIndex:    ex.Index,
			EventIndex:        uint32(i),
			Module:            ev.Module,
			EventID:           ev.EventID,
			BeneficiaryPubKey: *beneficiary,
			Amount:            amount,
			Era:               era,
			ValidatorStash:    validator,
		})
	}
	return out
}

func extractEra(args map[string]any) *uint32 {
	v, ok := args["era"]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case uint32:
		return &n
	case int:
		u := uint32(n)
		return &u
	case uint64:
		u := uint32(n)
		return &u
	default:
		return nil
	}
}

func extractPubKey(m map[string]any, key string) *domain.PubKey {
	v, ok := m[key]
	if !ok {
		return nil
	}
	pk, ok := v.(domain.PubKey)
	if !ok {
		return nil
	}
	return &pk
}

func extractAmount(m map[string]any, key string) *big.Int {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case *big.Int:
		return n
	case uint64:
		return new(big.Int).SetUint64(n)
	default:
		return nil
	}
}
