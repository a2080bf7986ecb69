// Package integrity implements BalanceChain's chain-wide verification:
// a full scan of the hash-linked segment chain, backup/restore safety
// checks, clone detection, and the corruption-triggered read-only latch.
package integrity

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"time"

	"balancechain/internal/codec"
	"balancechain/internal/segment"
	"balancechain/internal/store"
)

// Error codes (spec.md §4.8).
const (
	CodeMissingSegment   = "MISSING_SEGMENT"
	CodeSeqMismatch      = "SEQ_MISMATCH"
	CodeHashChainBroken  = "HASH_CHAIN_BROKEN"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeSignatureError   = "SIGNATURE_ERROR"
	CodeHashComputeError = "HASH_COMPUTE_ERROR"
	CodeHeadMismatch     = "HEAD_MISMATCH"
)

// ScanError is one entry of a full scan's errors list.
type ScanError struct {
	Seq     int64
	Code    string
	Message string
}

// ScanWarning is one entry of a full scan's warnings list (non-fatal
// findings such as a timestamp regression).
type ScanWarning struct {
	Seq     int64
	Message string
}

// Report is the output of a full scan.
type Report struct {
	OK           bool
	Verified     bool
	Errors       []ScanError
	Warnings     []ScanWarning
	ComputedHead string
	StoredHead   string
	Duration     time.Duration
}

// Severity classifies a Report for the read-only-latch decision.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Classify returns the worst severity present in r, per spec.md §4.8:
// HASH_CHAIN_BROKEN / HEAD_MISMATCH / MISSING_SEGMENT are critical;
// signature errors are major.
func (r Report) Classify() Severity {
	critical := false
	major := false
	for _, e := range r.Errors {
		switch e.Code {
		case CodeHashChainBroken, CodeHeadMismatch, CodeMissingSegment:
			critical = true
		case CodeInvalidSignature, CodeSignatureError:
			major = true
		}
	}
	switch {
	case critical:
		return SeverityCritical
	case major:
		return SeverityMajor
	case len(r.Warnings) > 0:
		return SeverityWarning
	default:
		return SeverityNone
	}
}

// ScanOptions configures a full scan.
type ScanOptions struct {
	// VerifySignatures enables the optional full ECDSA verification pass
	// described in spec.md §4.8.
	VerifySignatures bool
}

// FullScan walks db's segments from seq=1, checking presence, sequence,
// hash chaining, and timestamp monotonicity, then verifies the computed
// head matches the stored head.
func FullScan(db *store.DB, opts ScanOptions) (Report, error) {
	start := time.Now()

	length, err := db.ChainLen()
	if err != nil {
		return Report{}, fmt.Errorf("integrity: read chain_len: %w", err)
	}
	storedHead, err := db.ChainHead()
	if err != nil {
		return Report{}, fmt.Errorf("integrity: read chain_head: %w", err)
	}

	var report Report
	report.StoredHead = storedHead
	expectedPrev := codec.GenesisHash
	var lastTimestamp int64

	for seq := int64(1); seq <= length; seq++ {
		stored, ok, err := db.GetSegment(seq)
		if err != nil {
			return Report{}, fmt.Errorf("integrity: read segment seq=%d: %w", seq, err)
		}
		if !ok {
			report.Errors = append(report.Errors, ScanError{Seq: seq, Code: CodeMissingSegment, Message: "segment not found"})
			continue
		}
		if stored.Seq != seq {
			report.Errors = append(report.Errors, ScanError{Seq: seq, Code: CodeSeqMismatch, Message: "stored seq does not match position"})
		}
		if stored.PrevHash != expectedPrev {
			report.Errors = append(report.Errors, ScanError{Seq: seq, Code: CodeHashChainBroken, Message: "prev_hash does not match expected chain position"})
		}
		if seq > 1 && stored.TimestampMs < lastTimestamp {
			report.Warnings = append(report.Warnings, ScanWarning{Seq: seq, Message: "timestamp regression"})
		}
		lastTimestamp = stored.TimestampMs

		var seg segment.Segment
		if err := json.Unmarshal(stored.JSON, &seg); err != nil {
			report.Errors = append(report.Errors, ScanError{Seq: seq, Code: CodeHashComputeError, Message: err.Error()})
			continue
		}

		if opts.VerifySignatures {
			var pub *ecdsa.PublicKey
			pub, err = codec.DecodePublicKey(seg.AuthorField.PubKey)
			if err != nil {
				report.Errors = append(report.Errors, ScanError{Seq: seq, Code: CodeSignatureError, Message: err.Error()})
			} else {
				signable, err := segment.Signable(&seg)
				if err != nil {
					report.Errors = append(report.Errors, ScanError{Seq: seq, Code: CodeSignatureError, Message: err.Error()})
				} else if !codec.Verify(pub, signable, seg.Signature) {
					report.Errors = append(report.Errors, ScanError{Seq: seq, Code: CodeInvalidSignature, Message: "signature does not verify"})
				}
			}
		}

		nextHash, err := segment.BlockHash(&seg)
		if err != nil {
			report.Errors = append(report.Errors, ScanError{Seq: seq, Code: CodeHashComputeError, Message: err.Error()})
			continue
		}
		expectedPrev = nextHash
	}

	report.ComputedHead = expectedPrev
	if length == 0 {
		report.ComputedHead = codec.GenesisHash
	}
	if report.ComputedHead != storedHead {
		report.Errors = append(report.Errors, ScanError{Code: CodeHeadMismatch, Message: "computed head does not match stored head"})
	}

	report.Duration = time.Since(start)
	report.OK = len(report.Errors) == 0
	report.Verified = opts.VerifySignatures
	return report, nil
}

// RestoreDecision is the result of CanRestore.
type RestoreDecision struct {
	CanRestore   bool
	RequiresSync bool
	Reason       string
}

// CanRestore implements spec.md §4.8's "no restore without sync" table
// as a pure function over current and backup chain state.
func CanRestore(currentLen int64, currentHead string, backupLen int64, backupHead string) RestoreDecision {
	switch {
	case currentLen == 0:
		return RestoreDecision{CanRestore: true, RequiresSync: false, Reason: "fresh install"}
	case backupLen < currentLen:
		return RestoreDecision{CanRestore: false, RequiresSync: true, Reason: "backup older"}
	case backupHead != currentHead && backupLen > currentLen:
		return RestoreDecision{CanRestore: false, RequiresSync: true, Reason: "diverged, fork"}
	case backupHead != currentHead:
		return RestoreDecision{CanRestore: false, RequiresSync: true, Reason: "heads mismatch"}
	default:
		return RestoreDecision{CanRestore: true, RequiresSync: false, Reason: "match"}
	}
}

// CloneEvidence describes why an incoming segment was flagged as a clone.
type CloneEvidence struct {
	Seq           int64
	LocalNonce    string
	IncomingNonce string
	LocalAuthor   string
	IncomingAuthor string
}

// DetectClone reports isClone=true when incoming shares seq with a
// locally stored segment but differs in nonce or author-derived
// signature, per spec.md §4.8. It never overwrites anything.
func DetectClone(local store.StoredSegment, incoming *segment.Segment) (isClone bool, evidence CloneEvidence) {
	var localSeg segment.Segment
	if err := json.Unmarshal(local.JSON, &localSeg); err != nil {
		return false, CloneEvidence{}
	}

	sameNonce := local.Nonce == incoming.Nonce
	sameSignature := localSeg.Signature == incoming.Signature
	if sameNonce && sameSignature {
		return false, CloneEvidence{}
	}

	return true, CloneEvidence{
		Seq: local.Seq, LocalNonce: local.Nonce, IncomingNonce: incoming.Nonce,
		LocalAuthor: localSeg.AuthorField.HID, IncomingAuthor: incoming.AuthorField.HID,
	}
}
