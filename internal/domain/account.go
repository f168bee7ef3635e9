package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PubKey is a 32-byte raw account identifier, canonical form used
// internally. SS58 addresses are converted to this form at ingress.
type PubKey [32]byte

// ParsePubKey parses a 0x-prefixed (or bare) hex string into a PubKey.
func ParsePubKey(s string) (PubKey, error) {
	var pk PubKey
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("domain: invalid pubkey hex: %w", err)
	}
	if len(b) != len(pk) {
		return pk, fmt.Errorf("domain: pubkey must be %d bytes, got %d", len(pk), len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String renders the pubkey as a 0x-prefixed hex string.
func (p PubKey) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 2+len(p)*2)
	buf[0], buf[1] = '0', 'x'
	for i, b := range p {
		buf[2+i*2] = hextable[b>>4]
		buf[2+i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// WatchedAccount is an address a session has asked to be tracked.
type WatchedAccount struct {
	Chain      ChainID
	PubKey     PubKey
	Label      string
	StartBlock *uint64 // nil => scan from genesis; the account-creation height is not looked up
}
