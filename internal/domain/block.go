package domain

// Block is a minimal block header enriched with the inherent timestamp, if
// one was found at extrinsic index 0.
type Block struct {
	Chain      ChainID
	Height     uint64
	Hash       string
	ParentHash string
	// Timestamp is nil when the block carried no Timestamp.set inherent.
	Timestamp *uint64
}
