package domain

import "math/big"

// ExtrinsicRecord is a normalized, classified extrinsic, unique per
// (Chain, Height, Index).
type ExtrinsicRecord struct {
	Chain           ChainID
	Height          uint64
	Index           uint32
	BlockHash       string
	BlockTimestamp  *uint64
	SignerPubKey    *PubKey // nil for inherents / unsigned extrinsics
	CallModule      string
	CallFunction    string
	Success         bool
	Tip             *big.Int
	Fee             *big.Int // nil means unknown, never zero-by-default
	FeeUnknown      bool
	ParamsPayload   []byte // opaque, lossless serialization of the decoded argument tree
	MatchedAddrs    []PubKey
}

// Category is the coarse classification bucket assigned to an extrinsic.
type Category string

const (
	CategoryInherent        Category = "inherent"
	CategoryBalanceTransfer Category = "balance_transfer"
	CategoryStakingCall     Category = "staking_call"
	CategoryBatch           Category = "batch"
	CategoryOther           Category = "other"
)

// RawExtrinsic is the input the classifier consumes: the SCALE-decoded call
// tree is assumed already resolved by an external collaborator; this type
// carries only what the classifier needs.
type RawExtrinsic struct {
	Index      uint32
	Signed     bool
	Signer     *PubKey
	Module     string
	Function   string
	Success    bool
	Tip        *big.Int
	Args       map[string]any // decoded argument tree; may contain nested "calls" for batches
	RawParams  []byte         // lossless encoding of Args for storage round-trip
}

// RawEvent is a single decoded event emitted during execution of an
// extrinsic, grouped by the extrinsic index it belongs to.
type RawEvent struct {
	ExtrinsicIndex uint32
	Module         string
	EventID        string
	Fields         map[string]any // field name -> decoded value, AccountId fields are PubKey
}
