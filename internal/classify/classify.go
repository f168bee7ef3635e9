// Package classify implements the Extrinsic Decoder & Classifier (C2):
// normalizing a decoded (RawExtrinsic, []RawEvent) pair into a tagged
// ExtrinsicRecord plus zero or more StakingEventRecords. The SCALE decode
// itself is out of scope; this package consumes the already-decoded
// RawExtrinsic.Args tree.
package classify

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// maxBatchDepth caps recursive Utility.batch walking: beyond this depth,
// inner calls classify as Other rather than risk unbounded recursion on a
// pathological block.
const maxBatchDepth = 8

// kusamaStakingRewardEventsStartAt is the Kusama runtime-upgrade height at
// which Staking.Reward began being emitted per-nominator rather than as a
// single aggregate.
const kusamaStakingRewardEventsStartAt = 1_375_086

var stakingFunctions = map[string]bool{
	"bond": true, "bond_extra": true, "unbond": true, "nominate": true,
	"chill": true, "payout_stakers": true, "withdraw_unbonded": true,
	"set_controller": true, "set_payee": true,
}

var balanceTransferFunctions = map[string]bool{
	"transfer": true, "transfer_keep_alive": true, "transfer_all": true,
}

// Result is everything the classifier produces for one top-level extrinsic.
type Result struct {
	Category   domain.Category
	Record     *domain.ExtrinsicRecord // nil for pure inherents
	Staking    []domain.StakingEventRecord
	// InherentTimestamp is set only when this extrinsic was the block's
	// index-0 Timestamp.set inherent; it is a block-level side effect, not
	// a persisted record.
	InherentTimestamp *uint64
}

// Classify normalizes one top-level extrinsic and recursively classifies
// any nested Utility.batch/batch_all calls.
func Classify(chain domain.ChainID, height uint64, ex domain.RawExtrinsic, events []domain.RawEvent) (*Result, error) {
	if !ex.Signed && ex.Index == 0 && ex.Module == "Timestamp" && ex.Function == "set" {
		ts, ok := extractTimestamp(ex.Args)
		if !ok {
			return nil, fmt.Errorf("classify: inherent Timestamp.set at height %d missing moment arg", height)
		}
		return &Result{Category: domain.CategoryInherent, InherentTimestamp: &ts}, nil
	}

	record := &domain.ExtrinsicRecord{
		Chain:         chain,
		Height:        height,
		Index:         ex.Index,
		SignerPubKey:  ex.Signer,
		CallModule:    ex.Module,
		CallFunction:  ex.Function,
		Success:       ex.Success,
		Tip:           ex.Tip,
		ParamsPayload: ex.RawParams,
	}

	fee, feeUnknown := computeFee(ex, events)
	record.Fee = fee
	record.FeeUnknown = feeUnknown

	staking, category, err := classifyByShape(chain, height, ex, events, 0)
	if err != nil {
		return nil, err
	}
	record.CallModule = ex.Module
	record.CallFunction = ex.Function

	return &Result{Category: category, Record: record, Staking: staking}, nil
}

// classifyByShape returns the staking events produced by ex (recursing into
// batches) and the coarse category of the top-level call. Only the
// top-level category is meaningful for the ExtrinsicRecord; nested calls
// contribute only StakingEventRecords -- a batch may contribute multiple
// StakingEventRecords but a single ExtrinsicRecord.
func classifyByShape(chain domain.ChainID, height uint64, ex domain.RawExtrinsic, events []domain.RawEvent, depth int) ([]domain.StakingEventRecord, domain.Category, error) {
	switch {
	case ex.Module == "Balances" && balanceTransferFunctions[ex.Function]:
		return nil, domain.CategoryBalanceTransfer, nil

	case ex.Module == "Staking" && stakingFunctions[ex.Function]:
		staking := stakingEventsForCall(chain, height, ex, events)
		return staking, domain.CategoryStakingCall, nil

	case ex.Module == "Utility" && (ex.Function == "batch" || ex.Function == "batch_all"):
		if depth >= maxBatchDepth {
			slog.Warn("classify: batch recursion depth cap reached, classifying as other",
				"chain", chain, "height", height, "extrinsic_index", ex.Index, "depth", depth)
			return nil, domain.CategoryOther, nil
		}
		inner, ok := ex.Args["calls"].([]domain.RawExtrinsic)
		if !ok {
			return nil, domain.CategoryBatch, nil
		}
		var all []domain.StakingEventRecord
		for _, innerCall := range inner {
			innerCall.Index = ex.Index // same extrinsic_index as the outer call
			staking, _, err := classifyByShape(chain, height, innerCall, events, depth+1)
			if err != nil {
				return nil, "", err
			}
			all = append(all, staking...)
		}
		return all, domain.CategoryBatch, nil

	default:
		return nil, domain.CategoryOther, nil
	}
}

func extractTimestamp(args map[string]any) (uint64, bool) {
	v, ok := args["now"]
	if !ok {
		v, ok = args["moment"]
	}
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case *big.Int:
		return n.Uint64(), true
	default:
		return 0, false
	}
}
