// Package segment defines BalanceChain's atomic chain record — the
// State Transition Action — and the pure functions that build, encode,
// and sign it. It carries no storage or validation logic of its own;
// those live in store and validator respectively.
package segment

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"balancechain/internal/codec"
)

// Type is one of the closed set of segment type tags.
type Type string

const (
	TypeChatUser       Type = "chat.user"
	TypeAIAdvice       Type = "ai.advice"
	TypeBizDecision    Type = "biz.decision"
	TypeBizOutcome     Type = "biz.outcome"
	TypeCapsuleMint Type = "capsule.mint"
	TypeTVMTransfer Type = "tvm.transfer"
	TypeChatLegacy  Type = "chat.append-legacy"
)

// ValidTypes is the closed set a structural pre-filter checks against.
var ValidTypes = map[Type]bool{
	TypeChatUser:    true,
	TypeAIAdvice:    true,
	TypeBizDecision: true,
	TypeBizOutcome:  true,
	TypeCapsuleMint: true,
	TypeTVMTransfer: true,
	TypeChatLegacy:  true,
}

// ProtocolVersion is the consensus-critical wire version (spec.md §6).
const ProtocolVersion = 2

// NonceBytes is the length of a segment nonce before hex encoding.
const NonceBytes = 16

// Author identifies who signed a segment: an HID plus a portable public
// key form sufficient for Codec.Verify to check the signature.
type Author struct {
	HID    string           `json:"hid"`
	PubKey codec.PublicKey `json:"pubkey"`
}

// Segment is BalanceChain's atomic, append-only, signed record.
type Segment struct {
	Version       int             `json:"version"`
	Seq           int64           `json:"seq"`
	TimestampMs   int64           `json:"timestamp"`
	Nonce         string          `json:"nonce"`
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	PrevHash      string          `json:"prev_hash"`
	UnlockerRef   string          `json:"unlocker_ref,omitempty"`
	UnlockedRef   string          `json:"unlocked_ref,omitempty"`
	PreviousOwner string          `json:"previous_owner,omitempty"`
	CurrentOwner  string          `json:"current_owner"`
	AuthorField   Author          `json:"author"`
	Signature     string          `json:"signature,omitempty"`
}

// BuildOptions carries the optional fields build() accepts beyond the
// mandatory identity/prev_hash/seq/type/payload quintet.
type BuildOptions struct {
	PreviousOwner string
	UnlockerRef   string
	UnlockedRef   string
}

// Build produces an unsigned Segment with a fresh timestamp and nonce.
// currentOwner is the HID that will own the segment once signed; author
// is the identity constructing it (normally the same HID, except for
// transfer types where ownership is changing hands).
func Build(author Author, currentOwner, prevHash string, seq int64, typ Type, payload any, opts BuildOptions) (*Segment, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("segment: marshal payload: %w", err)
	}

	nonce, err := randomNonceHex()
	if err != nil {
		return nil, fmt.Errorf("segment: generate nonce: %w", err)
	}

	return &Segment{
		Version:       ProtocolVersion,
		Seq:           seq,
		TimestampMs:   nowMs(),
		Nonce:         nonce,
		Type:          typ,
		Payload:       raw,
		PrevHash:      prevHash,
		UnlockerRef:   opts.UnlockerRef,
		UnlockedRef:   opts.UnlockedRef,
		PreviousOwner: opts.PreviousOwner,
		CurrentOwner:  currentOwner,
		AuthorField:   author,
	}, nil
}

func randomNonceHex() (string, error) {
	b := make([]byte, NonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

// signable is the wire shape fed to Codec.Canonical for hashing and
// signing: every Segment field except the signature itself.
type signable struct {
	Version       int             `json:"version"`
	Seq           int64           `json:"seq"`
	TimestampMs   int64           `json:"timestamp"`
	Nonce         string          `json:"nonce"`
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	PrevHash      string          `json:"prev_hash"`
	UnlockerRef   string          `json:"unlocker_ref,omitempty"`
	UnlockedRef   string          `json:"unlocked_ref,omitempty"`
	PreviousOwner string          `json:"previous_owner,omitempty"`
	CurrentOwner  string          `json:"current_owner"`
	AuthorField   Author          `json:"author"`
}

// Signable returns the canonical encoding of s minus its signature
// field — the exact string Sign and Verify operate over.
func Signable(s *Segment) (string, error) {
	return codec.Canonical(signable{
		Version:       s.Version,
		Seq:           s.Seq,
		TimestampMs:   s.TimestampMs,
		Nonce:         s.Nonce,
		Type:          s.Type,
		Payload:       s.Payload,
		PrevHash:      s.PrevHash,
		UnlockerRef:   s.UnlockerRef,
		UnlockedRef:   s.UnlockedRef,
		PreviousOwner: s.PreviousOwner,
		CurrentOwner:  s.CurrentOwner,
		AuthorField:   s.AuthorField,
	})
}

// Sign computes Signable(s) and attaches an ECDSA signature over it,
// returning the now-signed segment. s is mutated in place and returned
// for chaining convenience.
func Sign(s *Segment, priv *ecdsa.PrivateKey) (*Segment, error) {
	signableStr, err := Signable(s)
	if err != nil {
		return nil, err
	}
	sig, err := codec.Sign(priv, signableStr)
	if err != nil {
		return nil, fmt.Errorf("segment: sign: %w", err)
	}
	s.Signature = sig
	return s, nil
}

// BlockHash computes SHA256(signable ∥ "|" ∥ signature_b64), the chain's
// load-bearing head-linking hash.
func BlockHash(s *Segment) (string, error) {
	signableStr, err := Signable(s)
	if err != nil {
		return "", err
	}
	return codec.BlockHash(signableStr, s.Signature), nil
}

// ID returns the "{seq}:{nonce}" identifier projections reference
// segments by.
func (s *Segment) ID() string {
	return fmt.Sprintf("%d:%s", s.Seq, s.Nonce)
}
