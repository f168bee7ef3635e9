package domain

// Stream distinguishes the two independently-checkpointed record kinds
// produced by a worker for a given watched account.
type Stream string

const (
	StreamExtrinsics Stream = "extrinsics"
	StreamStaking    Stream = "staking"
)

// Checkpoint is the highest block height for which all matching records of
// a given stream are guaranteed committed, for one (chain, pubkey).
//
// Invariant: LastScannedHeight only ever increases, and never advances past
// data that has not been committed in the same transaction as the advance.
type Checkpoint struct {
	Chain             ChainID
	PubKey            PubKey
	Stream            Stream
	LastScannedHeight uint64
}
