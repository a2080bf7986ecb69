// Package capsules implements BalanceChain's token-capsule eligibility
// and minting subsystem: a capsule packages a scored session into a
// chain segment and, once minted, credits its owner's TVM balance.
package capsules

import (
	"fmt"
	"math"
	"strings"

	"balancechain/internal/chain"
	"balancechain/internal/codec"
	"balancechain/internal/segment"
	"balancechain/internal/store"
)

// Protocol constants (spec.md §6).
const (
	MinRichScore          = 70
	MinBusinessScore      = 70
	MinECFScore           = 0.1
	MinSessionMessages    = 12
	SimilarityThreshold   = 0.9
	TVMPerCapsule         = 1.0
)

// Message is the minimal shape Create needs from a session transcript.
type Message struct {
	Text string
}

// Analysis carries the scoring fields computed upstream (out of scope
// here; capsules only consumes them).
type Analysis struct {
	Motivator     string
	Category      string
	RichScore     float64
	BusinessScore float64
	ECFScore      float64
}

// Capsule mirrors store.CapsuleRow with the typed fields callers work
// with; Status is one of "pending", "rejected", "minted".
type Capsule struct {
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

const (
	StatusPending  = "pending"
	StatusRejected = "rejected"
	StatusMinted   = "minted"
)

// CreateParams is the input to Create.
type CreateParams struct {
	ID        string
	SessionID string
	OwnerHID  string
	Messages  []Message
	Analysis  Analysis
	CreatedAtMs int64
}

type contentHashInput struct {
	MessageTexts  string  `json:"messageTexts"`
	Motivator     string  `json:"motivator"`
	Category      string  `json:"category"`
	RichScore     float64 `json:"richScore"`
}

// contentHash computes spec.md §4.7's SHA256(canonical({messageTexts,
// motivator, category, richScore})).
func contentHash(p CreateParams) (string, error) {
	texts := make([]string, len(p.Messages))
	for i, m := range p.Messages {
		texts[i] = m.Text
	}
	canon, err := codec.Canonical(contentHashInput{
		MessageTexts: strings.Join(texts, "|"),
		Motivator:    p.Analysis.Motivator,
		Category:     p.Analysis.Category,
		RichScore:    p.Analysis.RichScore,
	})
	if err != nil {
		return "", fmt.Errorf("capsules: canonicalize content hash input: %w", err)
	}
	return codec.Hash(canon), nil
}

// CheckEligibility applies spec.md §4.7's eligibility rule, returning ok
// and, when not ok, a human-readable reason.
func CheckEligibility(a Analysis, messageCount int) (ok bool, reason string) {
	switch {
	case a.RichScore < MinRichScore:
		return false, "rich score below minimum"
	case a.BusinessScore < MinBusinessScore:
		return false, "business score below minimum"
	case a.ECFScore < MinECFScore:
		return false, "ecf score below minimum"
	case messageCount < MinSessionMessages:
		return false, "session message count below minimum"
	default:
		return true, ""
	}
}

// Create computes the capsule's content hash, populates scoring fields,
// assigns status via CheckEligibility, and persists it. reason is empty
// when the capsule is eligible ("pending"); otherwise it names the
// failing criterion.
func Create(db *store.DB, p CreateParams) (c Capsule, reason string, err error) {
	hash, err := contentHash(p)
	if err != nil {
		return Capsule{}, "", err
	}

	ok, reason := CheckEligibility(p.Analysis, len(p.Messages))
	status := StatusPending
	if !ok {
		status = StatusRejected
	}

	c = Capsule{
		ID: p.ID, SessionID: p.SessionID, OwnerHID: p.OwnerHID,
		RichScore: p.Analysis.RichScore, BusinessScore: p.Analysis.BusinessScore,
		ECFScore: p.Analysis.ECFScore, Motivator: p.Analysis.Motivator, Category: p.Analysis.Category,
		ContentHash: hash, Status: status, CreatedAtMs: p.CreatedAtMs,
	}

	if err := db.InsertCapsule(toRow(c)); err != nil {
		return Capsule{}, "", fmt.Errorf("capsules: persist: %w", err)
	}
	return c, reason, nil
}

// ErrNotPending is returned by Mint when the capsule is not eligible to
// be minted in its current state.
var ErrNotPending = fmt.Errorf("capsules: capsule is not pending")

// MintParams is the input to Mint.
type MintParams struct {
	Chain    *chain.Chain
	DB       *store.DB
	Capsule  Capsule
}

// Mint commits a capsule.mint segment and, on success, marks the capsule
// minted and credits the owner's TVM balance by TVMPerCapsule.
func Mint(p MintParams) (Capsule, error) {
	if p.Capsule.Status != StatusPending {
		return Capsule{}, ErrNotPending
	}
	// Message count was already checked at Create time and is not
	// re-derivable from the persisted capsule; re-check only the score
	// fields, which can have drifted if the owner's session was rescored.
	if p.Capsule.RichScore < MinRichScore || p.Capsule.BusinessScore < MinBusinessScore || p.Capsule.ECFScore < MinECFScore {
		return Capsule{}, fmt.Errorf("capsules: eligibility no longer holds")
	}

	result, err := p.Chain.Commit(segment.TypeCapsuleMint, segment.CapsuleMintPayload{
		CapsuleID: p.Capsule.ID, SessionID: p.Capsule.SessionID,
		RichScore: p.Capsule.RichScore, BusinessScore: p.Capsule.BusinessScore,
		CapsuleHash: p.Capsule.ContentHash,
	}, chain.CommitOptions{})
	if err != nil {
		return Capsule{}, fmt.Errorf("capsules: commit capsule.mint: %w", err)
	}
	if !result.OK {
		return Capsule{}, fmt.Errorf("capsules: commit rejected: %s", result.Reason)
	}

	seq := result.Seq
	txErr := p.DB.WithTx(func(tx *store.Tx) error {
		if err := tx.UpdateCapsuleStatus(p.Capsule.ID, StatusMinted, &seq); err != nil {
			return err
		}
		return tx.IncrementTVMBalance(p.Capsule.OwnerHID, TVMPerCapsule)
	})
	if txErr != nil {
		return Capsule{}, fmt.Errorf("capsules: mark minted and credit tvm balance: %w", txErr)
	}

	p.Capsule.Status = StatusMinted
	p.Capsule.MintSeq = &seq
	return p.Capsule, nil
}

// Similarity computes spec.md §4.7's weighted similarity score in [0,1].
func Similarity(a, b Capsule) float64 {
	var score float64
	if a.Motivator == b.Motivator {
		score += 3
	}
	if a.Category == b.Category {
		score += 2
	}
	score += 2 * (1 - math.Abs(a.RichScore-b.RichScore)/100)
	score += 2 * (1 - math.Abs(a.BusinessScore-b.BusinessScore)/100)
	score += math.Max(0, 1-math.Abs(a.ECFScore-b.ECFScore))
	return score / 10
}

// MostSimilar returns the minted capsule most similar to candidate and
// its score, used by the recyclability check described in spec.md
// §4.7's last sentence.
func MostSimilar(candidate Capsule, minted []Capsule) (best Capsule, score float64) {
	for _, m := range minted {
		s := Similarity(candidate, m)
		if s > score {
			best, score = m, s
		}
	}
	return best, score
}

func toRow(c Capsule) store.CapsuleRow {
	return store.CapsuleRow{
		ID: c.ID, SessionID: c.SessionID, OwnerHID: c.OwnerHID,
		RichScore: c.RichScore, BusinessScore: c.BusinessScore, ECFScore: c.ECFScore,
		Motivator: c.Motivator, Category: c.Category, ContentHash: c.ContentHash,
		Status: c.Status, CreatedAtMs: c.CreatedAtMs, MintSeq: c.MintSeq,
	}
}
