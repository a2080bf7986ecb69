// Package chain implements BalanceChain's append pipeline: construct,
// sign, validate, and atomically commit one Segment, then fan the
// resulting event out to subscribers. It is the only writer of the
// state_chain, sync_log, and messages collections.
package chain

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"balancechain/internal/balerr"
	"balancechain/internal/caps"
	"balancechain/internal/codec"
	"balancechain/internal/projections"
	"balancechain/internal/segment"
	"balancechain/internal/store"
	"balancechain/internal/validator"
)

// Event is broadcast to every EventSubscription after a commit's
// transaction has committed.
type Event struct {
	Type segment.Type
	Seq  int64
	Head string
}

// ReadOnlyLatch describes a read-only-mode transition (spec.md §4.8).
type ReadOnlyLatch struct {
	Enabled   bool
	Reason    string
	TimestampMs int64
}

// EventSubscription receives commit and read-only-latch notifications.
type EventSubscription interface {
	OnCommit(Event)
	OnReadOnly(ReadOnlyLatch)
}

// Signer is the narrow interface Chain uses to request signatures; spec.md
// §5 requires private keys never leave the identity manager.
type Signer interface {
	Author() segment.Author
	Sign(s *segment.Segment) (*segment.Segment, error)
}

// staticSigner wraps a raw ecdsa key for callers (tests, CLI) that hold
// the key directly rather than through an identity manager.
type staticSigner struct {
	author segment.Author
	priv   *ecdsa.PrivateKey
}

// NewStaticSigner builds a Signer from a raw keypair.
func NewStaticSigner(author segment.Author, priv *ecdsa.PrivateKey) Signer {
	return &staticSigner{author: author, priv: priv}
}

func (s *staticSigner) Author() segment.Author { return s.author }
func (s *staticSigner) Sign(seg *segment.Segment) (*segment.Segment, error) {
	return segment.Sign(seg, s.priv)
}

// Chain owns one identity's append pipeline and in-memory projections.
type Chain struct {
	db     *store.DB
	caps   *caps.Accountant
	signer Signer

	mu           sync.Mutex
	scores       projections.ScoreView
	messages     *projections.MessageView
	subscribers  []EventSubscription
	readOnly     ReadOnlyLatch
	liveness     validator.LivenessVerifier
	skipLiveness bool
}

// Options configures a new Chain.
type Options struct {
	Liveness     validator.LivenessVerifier
	SkipLiveness bool
}

// New builds a Chain over db for the identity signer represents,
// restoring the read-only latch persisted by a prior process so that a
// latch set by one invocation of a per-process CLI survives into the
// next one, per spec.md §4.8.
func New(db *store.DB, capsAccountant *caps.Accountant, signer Signer, opts Options) (*Chain, error) {
	c := &Chain{
		db:           db,
		caps:         capsAccountant,
		signer:       signer,
		messages:     projections.NewMessageView(),
		liveness:     opts.Liveness,
		skipLiveness: opts.SkipLiveness,
	}

	raw, ok, err := db.GetMeta("read_only")
	if err != nil {
		return nil, &balerr.StoreError{Op: "load_read_only", Err: err}
	}
	if ok {
		var latch struct {
			Enabled     bool   `json:"enabled"`
			Reason      string `json:"reason"`
			TimestampMs int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(raw, &latch); err != nil {
			return nil, fmt.Errorf("chain: decode persisted read_only latch: %w", err)
		}
		c.readOnly = ReadOnlyLatch{Enabled: latch.Enabled, Reason: latch.Reason, TimestampMs: latch.TimestampMs}
	}

	return c, nil
}

// Subscribe registers sub to receive future commit and read-only events.
func (c *Chain) Subscribe(sub EventSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, sub)
}

// Result is the outcome of a Commit call.
type Result struct {
	OK     bool
	Reason string
	Rule   int
	Seq    int64
	Head   string
}

// ErrCommitConflict is returned when a parallel append wins the race to
// the same seq; the caller should re-read head/seq and retry.
var ErrCommitConflict = errors.New("chain: commit_error")

// CommitOptions carries the optional fields Build accepts.
type CommitOptions struct {
	PreviousOwner string
	UnlockerRef   string
	UnlockedRef   string
}

// Commit builds, signs, validates, and atomically appends one segment of
// typ with payload. On validation failure it returns Result{OK:false}
// with no side effect. On success it performs one atomic transaction and
// broadcasts a commit event after the transaction commits.
func (c *Chain) Commit(typ segment.Type, payload any, opts CommitOptions) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readOnly.Enabled {
		return Result{OK: false, Reason: "read_only_mode"}, nil
	}

	author := c.signer.Author()
	currentOwner := author.HID

	prevHash, err := c.db.ChainHead()
	if err != nil {
		return Result{}, &balerr.StoreError{Op: "chain_head", Err: err}
	}
	length, err := c.db.ChainLen()
	if err != nil {
		return Result{}, &balerr.StoreError{Op: "chain_len", Err: err}
	}
	seq := length + 1

	seg, err := segment.Build(author, currentOwner, prevHash, seq, typ, payload, segment.BuildOptions{
		PreviousOwner: opts.PreviousOwner,
		UnlockerRef:   opts.UnlockerRef,
		UnlockedRef:   opts.UnlockedRef,
	})
	if err != nil {
		return Result{}, fmt.Errorf("chain: build segment: %w", err)
	}
	if seg, err = c.signer.Sign(seg); err != nil {
		return Result{}, fmt.Errorf("chain: sign segment: %w", err)
	}

	if err := validator.Validate(c.db, seg, validator.Options{
		Caps:         c.caps,
		SkipLiveness: c.skipLiveness,
		Liveness:     c.liveness,
	}); err != nil {
		if ve, ok := err.(*balerr.ValidationError); ok {
			return Result{OK: false, Reason: ve.Reason, Rule: ve.Rule}, nil
		}
		return Result{}, err
	}

	head, err := segment.BlockHash(seg)
	if err != nil {
		return Result{}, fmt.Errorf("chain: compute block hash: %w", err)
	}

	raw, err := codec.Canonical(seg)
	if err != nil {
		return Result{}, fmt.Errorf("chain: canonicalize segment: %w", err)
	}

	txErr := c.db.WithTx(func(tx *store.Tx) error {
		storedHead, err := tx.ChainHead()
		if err != nil {
			return err
		}
		storedLen, err := tx.ChainLen()
		if err != nil {
			return err
		}
		if storedHead != prevHash || storedLen != length {
			return ErrCommitConflict
		}

		if err := tx.InsertSegment(store.StoredSegment{
			Seq: seq, Type: string(typ), TimestampMs: seg.TimestampMs,
			Nonce: seg.Nonce, PrevHash: prevHash, BlockHash: head, JSON: []byte(raw),
		}); err != nil {
			return err
		}
		if err := tx.InsertNonce(seg.Nonce, seg.TimestampMs); err != nil {
			return err
		}
		if projections.MessageBearingTypes[typ] {
			if err := insertMessageProjection(tx, seg); err != nil {
				return err
			}
		}
		if err := tx.SetChainHead(head); err != nil {
			return err
		}
		if err := tx.SetChainLen(seq); err != nil {
			return err
		}
		if capsAffecting(typ) && c.caps != nil {
			if _, err := c.caps.IncrementTx(tx, author.HID, 1); err != nil {
				return fmt.Errorf("chain: increment caps: %w", err)
			}
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrCommitConflict) {
			return Result{}, ErrCommitConflict
		}
		return Result{}, &balerr.StoreError{Op: "commit_tx", Err: txErr}
	}

	c.scores = projections.ApplyScoreDelta(c.scores, typ, seg.Payload)
	c.messages.Apply(seg)

	event := Event{Type: typ, Seq: seq, Head: head}
	for _, sub := range c.subscribers {
		sub.OnCommit(event)
	}

	return Result{OK: true, Seq: seq, Head: head}, nil
}

func capsAffecting(typ segment.Type) bool {
	switch typ {
	case segment.TypeChatUser, segment.TypeAIAdvice, segment.TypeBizDecision, segment.TypeCapsuleMint:
		return true
	default:
		return false
	}
}

func insertMessageProjection(tx *store.Tx, seg *segment.Segment) error {
	var p segment.ChatUserPayload
	if err := jsonUnmarshalPayload(seg.Payload, &p); err != nil {
		return nil
	}
	return tx.InsertMessage(store.MessageRow{
		ID:          seg.ID(),
		Seq:         seg.Seq,
		TimestampMs: seg.TimestampMs,
		Type:        string(seg.Type),
		Peer:        p.ChatID,
		Direction:   projections.Direction(seg.Type),
		Text:        p.Text,
		Author:      seg.AuthorField.HID,
	})
}

// Scores returns the chain's current in-memory score projection.
func (c *Chain) Scores() projections.ScoreView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scores
}

// Messages returns the chain's current in-memory message projection.
func (c *Chain) Messages() *projections.MessageView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

// SetReadOnly latches or unlatches the chain, notifying subscribers.
func (c *Chain) SetReadOnly(latch ReadOnlyLatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.readOnly = latch
	if err := c.db.SetMeta("read_only", []byte(fmt.Sprintf(`{"enabled":%t,"reason":%q,"timestamp":%d}`, latch.Enabled, latch.Reason, latch.TimestampMs))); err != nil {
		return &balerr.StoreError{Op: "set_read_only", Err: err}
	}
	for _, sub := range c.subscribers {
		sub.OnReadOnly(latch)
	}
	return nil
}

// RebuildProjections replays every stored segment in seq order to
// regenerate the in-memory score and message views, used on startup and
// after a restore.
func (c *Chain) RebuildProjections() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.db.AllSegments()
	if err != nil {
		return &balerr.StoreError{Op: "rebuild_projections", Err: err}
	}

	c.scores = projections.ScoreView{}
	c.messages = projections.NewMessageView()

	for _, stored := range all {
		seg, err := decodeStoredSegment(stored)
		if err != nil {
			return fmt.Errorf("chain: decode segment seq=%d: %w", stored.Seq, err)
		}
		c.scores = projections.ApplyScoreDelta(c.scores, seg.Type, seg.Payload)
		c.messages.Apply(seg)
	}
	return nil
}
