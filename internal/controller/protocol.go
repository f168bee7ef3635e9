package controller

import "github.com/vnavascues/substrate-watcher/internal/domain"

// Envelope is the wire message shape of the bidirectional protocol: every
// client->server and server->client message is one of these,
// discriminated by Type.
type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Client-to-server command types.
const (
	CmdAttach         = "attach"
	CmdDetach         = "detach"
	CmdPause          = "pause"
	CmdResume         = "resume"
	CmdAddAccount     = "add_account"
	CmdRemoveAccount  = "remove_account"
	CmdQueryExtrinsics = "query_extrinsics"
	CmdQueryStaking   = "query_staking"
	CmdStatus         = "status"
	CmdResetHistory   = "reset_history"
)

// Server-to-client event types.
const (
	EventProgress   = "progress"
	EventCheckpoint = "checkpoint"
	EventError      = "error"
	EventRecords    = "records"
	EventAck        = "ack"
)

// AttachPayload is the payload of an "attach" command.
type AttachPayload struct {
	Chain    domain.ChainID   `json:"chain"`
	Accounts []AccountPayload `json:"accounts"`
}

// AccountPayload is one watched account in a client command.
type AccountPayload struct {
	PubKey     string  `json:"pubkey"` // hex-encoded, 0x-prefixed
	Label      string  `json:"label,omitempty"`
	StartBlock *uint64 `json:"start_block,omitempty"`
}

// AddAccountPayload is the payload of an "add_account" command.
type AddAccountPayload struct {
	Chain      domain.ChainID `json:"chain"`
	PubKey     string         `json:"pubkey"`
	StartBlock *uint64        `json:"start_block,omitempty"`
}

// RemoveAccountPayload is the payload of a "remove_account" command.
type RemoveAccountPayload struct {
	Chain  domain.ChainID `json:"chain"`
	PubKey string         `json:"pubkey"`
}

// ResetHistoryPayload is the payload of a "reset_history" command.
type ResetHistoryPayload struct {
	Chain  domain.ChainID `json:"chain"`
	PubKey string         `json:"pubkey"`
}

// RangeQueryPayload is the payload of "query_extrinsics"/"query_staking":
// PubKey empty means "every watched account on this chain". Setting either
// FromTime or ToTime switches the query from a height range to a
// timestamp range over the block's Timestamp.set moment; height bounds are
// then ignored. Records with no timestamp (BlockTimestamp unset) never
// match a time-range query.
type RangeQueryPayload struct {
	Chain      domain.ChainID `json:"chain"`
	PubKey     string         `json:"pubkey,omitempty"`
	FromHeight uint64         `json:"from_height"`
	ToHeight   uint64         `json:"to_height"`
	FromTime   *uint64        `json:"from_time,omitempty"`
	ToTime     *uint64        `json:"to_time,omitempty"`
}

// ProgressPayload is the payload of a "progress" event, emitted
// periodically per (account, stream).
type ProgressPayload struct {
	Account string        `json:"account"`
	Stream  domain.Stream `json:"stream"`
	Height  uint64        `json:"height"`
	Target  uint64        `json:"target"`
	Rate    float64       `json:"rate"`
}

// CheckpointEventPayload is the payload of a "checkpoint" event, emitted on
// a progress tick when a worker's checkpoint has advanced since the
// previous tick (and on the first tick). Height is the last checkpoint
// marker the worker queued for the writer, which may not be committed yet.
type CheckpointEventPayload struct {
	Account string        `json:"account"`
	Stream  domain.Stream `json:"stream"`
	Height  uint64        `json:"height"`
}

// RecordsPayload is the payload of a "records" event answering a range
// query.
type RecordsPayload struct {
	Stream     domain.Stream                  `json:"stream"`
	Extrinsics []domain.ExtrinsicRecord       `json:"extrinsics,omitempty"`
	Staking    []domain.StakingEventRecord    `json:"staking,omitempty"`
}

// AckPayload is the payload of an "ack" event: the generic reply to any
// command that does not itself stream data back, plus the status command's
// snapshot.
type AckPayload struct {
	OK     bool                   `json:"ok"`
	Status []domain.WorkerStatus  `json:"status,omitempty"`
}
