// Package validator implements BalanceChain's nine-rule append gate.
// Rules run in order; the first failure short-circuits the remainder,
// matching the teacher's verify.go pattern of accumulating a single
// terminal error rather than a list of independent ones.
package validator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"balancechain/internal/balerr"
	"balancechain/internal/caps"
	"balancechain/internal/codec"
	"balancechain/internal/logging"
	"balancechain/internal/segment"
	"balancechain/internal/store"
)

// Protocol constants (spec.md §6).
const (
	MinBlockIntervalMs  = 1000
	LivenessToleranceMs = 720_000
)

// LivenessProof is the shape validator rule 4 consumes (spec.md §6).
type LivenessProof struct {
	Type        string `json:"type"`
	TimestampMs int64  `json:"timestamp"`
	Nonce       string `json:"nonce,omitempty"`
	Assertion   *struct {
		CredentialID      string `json:"credentialId"`
		AuthenticatorData string `json:"authenticatorData"`
		Signature         string `json:"signature"`
	} `json:"assertion,omitempty"`
}

// LivenessVerifier is an injection point for rule 4's "verification
// succeeds" requirement on webauthn-class proofs.
type LivenessVerifier interface {
	Verify(proof LivenessProof) (ok bool, err error)
}

// SegmentSource reads the state Validator's rules need without owning
// any write path of its own.
type SegmentSource interface {
	ChainHead() (string, error)
	ChainLen() (int64, error)
	GetSegment(seq int64) (*store.StoredSegment, bool, error)
	NonceExists(nonce string) (bool, error)
}

// Options configures one Validate call.
type Options struct {
	Caps *caps.Accountant

	// SkipLiveness bypasses rule 4 entirely; testing only, per spec.md
	// §4.4's options list.
	SkipLiveness bool

	Liveness LivenessVerifier
}

// Validate runs all nine rules against s in order, returning the first
// failure as a *balerr.ValidationError, or nil if every rule passes.
func Validate(src SegmentSource, s *segment.Segment, opts Options) error {
	if err := segment.ValidateStructure(s); err != nil {
		return &balerr.ValidationError{Reason: "invalid_structure", Message: err.Error()}
	}

	rules := []func(SegmentSource, *segment.Segment, Options) error{
		ruleCounterRelationship,
		ruleCaps,
		ruleRateLimit,
		ruleLiveness,
		ruleOwnerTransition,
		ruleHistoryHash,
		ruleSequence,
		ruleSignature,
		ruleNonce,
	}
	for i, rule := range rules {
		if err := rule(src, s, opts); err != nil {
			if ve, ok := err.(*balerr.ValidationError); ok {
				ve.Rule = i + 1
				return ve
			}
			return err
		}
	}
	return nil
}

func fail(rule int, reason, message string) *balerr.ValidationError {
	return &balerr.ValidationError{Rule: rule, Reason: reason, Message: message}
}

// 1. Counter relationship.
func ruleCounterRelationship(src SegmentSource, s *segment.Segment, _ Options) error {
	if s.UnlockerRef == "" && s.UnlockedRef == "" {
		return nil
	}
	if s.UnlockerRef == "" || s.UnlockedRef == "" {
		return nil
	}

	unlockerSeq, err := leadingSeq(s.UnlockerRef)
	if err != nil {
		return fail(1, "missing_refs", "unlocker_ref is malformed")
	}
	unlockedSeq, err := leadingSeq(s.UnlockedRef)
	if err != nil {
		return fail(1, "missing_refs", "unlocked_ref is malformed")
	}

	if _, ok, err := src.GetSegment(unlockerSeq); err != nil {
		return err
	} else if !ok {
		return fail(1, "missing_refs", "referenced unlocker segment does not exist")
	}
	if _, ok, err := src.GetSegment(unlockedSeq); err != nil {
		return err
	} else if !ok {
		return fail(1, "missing_refs", "referenced unlocked segment does not exist")
	}

	if unlockerSeq <= unlockedSeq {
		return fail(1, "counter_order", "unlocker.seq must exceed unlocked.seq")
	}
	return nil
}

func leadingSeq(ref string) (int64, error) {
	parts := strings.SplitN(ref, ":", 2)
	return strconv.ParseInt(parts[0], 10, 64)
}

// capAffectingTypes is the set whose commit increments Caps counters
// (spec.md §4.5) and which is therefore gated by rule 2.
var capAffectingTypes = map[segment.Type]bool{
	segment.TypeChatUser:    true,
	segment.TypeAIAdvice:    true,
	segment.TypeBizDecision: true,
	segment.TypeCapsuleMint: true,
}

// 2. Caps.
func ruleCaps(_ SegmentSource, s *segment.Segment, opts Options) error {
	if !capAffectingTypes[s.Type] || opts.Caps == nil {
		return nil
	}
	c, err := opts.Caps.Current(s.AuthorField.HID)
	if err != nil {
		return err
	}
	limits := opts.Caps.Limits()
	if c.Daily >= limits.Daily {
		return fail(2, "daily_cap_exceeded", "daily cap reached")
	}
	if c.Monthly >= limits.Monthly {
		return fail(2, "monthly_cap_exceeded", "monthly cap reached")
	}
	if c.Yearly >= limits.Yearly {
		return fail(2, "yearly_cap_exceeded", "yearly cap reached")
	}
	return nil
}

// 3. Rate limit.
func ruleRateLimit(src SegmentSource, s *segment.Segment, _ Options) error {
	length, err := src.ChainLen()
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	prev, ok, err := src.GetSegment(length)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var prevAuthor struct {
		AuthorField struct {
			HID string `json:"hid"`
		} `json:"author"`
	}
	if err := json.Unmarshal(prev.JSON, &prevAuthor); err != nil {
		return fmt.Errorf("validator: unmarshal previous segment author: %w", err)
	}
	if prevAuthor.AuthorField.HID != s.AuthorField.HID {
		return nil
	}

	if s.TimestampMs-prev.TimestampMs < -LivenessToleranceMs {
		return fail(3, "timestamp_drift", "timestamp precedes previous segment beyond tolerance")
	}
	if s.TimestampMs-prev.TimestampMs < MinBlockIntervalMs {
		return fail(3, "rate_limit", "minimum block interval not elapsed")
	}
	return nil
}

// livenessPayload is the subset of a payload rule 4 looks for; a
// liveness proof may ride on the payload or be attached to the author.
type livenessPayload struct {
	Liveness *LivenessProof `json:"liveness,omitempty"`
}

// 4. Liveness.
func ruleLiveness(_ SegmentSource, s *segment.Segment, opts Options) error {
	if opts.SkipLiveness {
		return nil
	}

	var p livenessPayload
	_ = json.Unmarshal(s.Payload, &p)
	if p.Liveness == nil {
		// Absence is tolerated, with a warning.
		logging.Warn("segment carries no liveness proof", "seq", s.Seq, "type", string(s.Type))
		return nil
	}

	proof := *p.Liveness
	delta := s.TimestampMs - proof.TimestampMs
	if delta < 0 {
		delta = -delta
	}
	if delta > LivenessToleranceMs {
		return fail(4, "stale_liveness", "liveness proof outside tolerance window")
	}

	switch proof.Type {
	case "timestamp":
		return nil
	case "webauthn":
		if proof.Assertion == nil {
			return fail(4, "invalid_liveness", "webauthn proof missing assertion")
		}
		if opts.Liveness == nil {
			return &balerr.AuthError{Reason: "no liveness verifier configured for webauthn proof"}
		}
		ok, err := opts.Liveness.Verify(proof)
		if err != nil {
			return err
		}
		if !ok {
			return fail(4, "invalid_liveness", "webauthn assertion failed verification")
		}
		return nil
	default:
		return fail(4, "invalid_liveness", "unrecognized liveness proof type")
	}
}

// 5. Owner transition.
func ruleOwnerTransition(_ SegmentSource, s *segment.Segment, _ Options) error {
	if s.Type != segment.TypeTVMTransfer {
		return nil
	}
	if s.PreviousOwner == "" {
		return fail(5, "missing_previous_owner", "tvm.transfer requires previous_owner")
	}
	if s.PreviousOwner == s.CurrentOwner {
		return fail(5, "same_owner", "previous_owner must differ from current_owner")
	}
	return nil
}

// 6. History hash.
func ruleHistoryHash(src SegmentSource, s *segment.Segment, _ Options) error {
	head, err := src.ChainHead()
	if err != nil {
		return err
	}
	if s.PrevHash != head {
		return fail(6, "bad_prev_hash", "prev_hash does not match chain head")
	}
	return nil
}

// 7. Sequence.
func ruleSequence(src SegmentSource, s *segment.Segment, _ Options) error {
	length, err := src.ChainLen()
	if err != nil {
		return err
	}
	if s.Seq != length+1 {
		return fail(7, "bad_seq", "seq does not follow chain_len")
	}
	return nil
}

// 8. Signature.
func ruleSignature(_ SegmentSource, s *segment.Segment, _ Options) error {
	pub, err := codec.DecodePublicKey(s.AuthorField.PubKey)
	if err != nil {
		return fail(8, "bad_signature", "author public key is malformed")
	}
	signable, err := segment.Signable(s)
	if err != nil {
		return fmt.Errorf("validator: compute signable: %w", err)
	}
	if !codec.Verify(pub, signable, s.Signature) {
		return fail(8, "bad_signature", "signature does not verify")
	}
	return nil
}

// 9. Nonce.
func ruleNonce(src SegmentSource, s *segment.Segment, _ Options) error {
	exists, err := src.NonceExists(s.Nonce)
	if err != nil {
		return err
	}
	if exists {
		return fail(9, "replay_nonce", "nonce already present in the nonce log")
	}
	return nil
}
