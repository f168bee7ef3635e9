// Package domain holds the plain data types shared across every component of
// the indexer: chains, accounts, blocks, extrinsics, staking events,
// checkpoints, and sessions.
package domain

// ChainID identifies a configured Substrate chain, e.g. "kusama", "polkadot".
type ChainID string

// Chain describes a configured Substrate-based network.
type Chain struct {
	ID             ChainID
	GenesisHash    string
	TokenDecimals  uint8
	SS58Prefix     uint16
	FinalityDepth  uint64
}
