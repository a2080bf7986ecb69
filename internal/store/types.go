// Package store provides SQLite-based transactional storage for
// BalanceChain's collections: meta, state_chain, sync_log, messages,
// identity, caps, capsules, and tvm_balance.
package store

// StoredSegment is the persisted form of a chain segment. The chain package
// owns Segment's typed fields; Store only needs the indexed scalars used by
// its secondary indices plus the full encoding to hand back on read.
type StoredSegment struct {
	Seq         int64
	Type        string
	TimestampMs int64
	Nonce       string
	PrevHash    string
	BlockHash   string
	JSON        []byte
}

// MessageRow is a projected chat message (MessageView, spec.md §3).
type MessageRow struct {
	ID        string
	Seq       int64
	TimestampMs int64
	Type        string
	Peer        string
	Direction   string
	Tag         string
	Text        string
	Author      string
	Decision    string
	Outcome     string
	HasScores   bool
	RichScore   float64
	BusinessScore float64
}

// CapsRow is one counter of a CapsRecord: one of daily, monthly, yearly, or
// total for a given identity. total has no ResetAtMs (it never resets).
type CapsRow struct {
	Period    string
	HID       string
	Counter   int64
	ResetAtMs int64 // 0 / unset for "total"
}

// CapsPeriods enumerates the rows that make up one identity's CapsRecord.
var CapsPeriods = []string{"daily", "monthly", "yearly", "total"}

// CapsuleRow is the persisted form of a Capsule.
type CapsuleRow struct {
	ID            string
	SessionID     string
	OwnerHID      string
	RichScore     float64
	BusinessScore float64
	ECFScore      float64
	Motivator     string
	Category      string
	ContentHash   string
	Status        string
	CreatedAtMs   int64
	MintSeq       *int64
}

// IdentityRow is the persisted form of the long-lived Identity record,
// stored as opaque JSON (the identity package owns its shape).
type IdentityRow struct {
	Key  string
	JSON []byte
}
