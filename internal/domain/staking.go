package domain

import "math/big"

// StakingEventRecord is a single staking-related event, unique per
// (Chain, Height, Index, EventIndex).
type StakingEventRecord struct {
	Chain            ChainID
	Height           uint64
	ExtrinsicIndex   uint32
	EventIndex       uint32
	Module           string
	EventID          string // "Reward", "Bonded", "Unbonded", "Nominated", "Slashed", ...
	BeneficiaryPubKey PubKey
	Amount           *big.Int // planck-units
	Era              *uint32
	ValidatorStash   *PubKey
}
