package capsules

import (
	"path/filepath"
	"testing"

	"balancechain/internal/caps"
	"balancechain/internal/chain"
	"balancechain/internal/codec"
	"balancechain/internal/segment"
	"balancechain/internal/store"
)

func newTestChain(t *testing.T) (*chain.Chain, *store.DB, segment.Author) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chain.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	priv, err := codec.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	pub := codec.EncodePublicKey(&priv.PublicKey)
	hid, err := codec.DeriveHID(pub)
	if err != nil {
		t.Fatalf("DeriveHID failed: %v", err)
	}
	author := segment.Author{HID: hid, PubKey: pub}

	c, err := chain.New(db, caps.New(db), chain.NewStaticSigner(author, priv), chain.Options{SkipLiveness: true})
	if err != nil {
		t.Fatalf("chain.New failed: %v", err)
	}
	return c, db, author
}

func manyMessages(n int) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = Message{Text: "msg"}
	}
	return out
}

func TestCreateEligibleCapsuleIsPending(t *testing.T) {
	_, db, author := newTestChain(t)

	c, reason, err := Create(db, CreateParams{
		ID: "cap-1", SessionID: "sess-1", OwnerHID: author.HID,
		Messages: manyMessages(12),
		Analysis: Analysis{Motivator: "greed", Category: "wheat", RichScore: 85, BusinessScore: 80, ECFScore: 0.5},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.Status != StatusPending || reason != "" {
		t.Errorf("Create = %+v, reason=%q, want pending with no reason", c, reason)
	}
}

func TestCreateIneligibleCapsuleIsRejected(t *testing.T) {
	_, db, author := newTestChain(t)

	c, reason, err := Create(db, CreateParams{
		ID: "cap-2", SessionID: "sess-2", OwnerHID: author.HID,
		Messages: manyMessages(3),
		Analysis: Analysis{Motivator: "greed", Category: "wheat", RichScore: 85, BusinessScore: 80, ECFScore: 0.5},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.Status != StatusRejected || reason == "" {
		t.Errorf("Create = %+v, reason=%q, want rejected with a reason", c, reason)
	}
}

func TestMintCreditsTVMBalanceOnSuccess(t *testing.T) {
	chn, db, author := newTestChain(t)

	c, _, err := Create(db, CreateParams{
		ID: "cap-3", SessionID: "sess-3", OwnerHID: author.HID,
		Messages: manyMessages(12),
		Analysis: Analysis{Motivator: "greed", Category: "wheat", RichScore: 85, BusinessScore: 80, ECFScore: 0.5},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	minted, err := Mint(MintParams{Chain: chn, DB: db, Capsule: c})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if minted.Status != StatusMinted || minted.MintSeq == nil {
		t.Fatalf("Mint result = %+v, want minted with a mint seq", minted)
	}

	balance, err := db.GetTVMBalance(author.HID)
	if err != nil || balance != TVMPerCapsule {
		t.Fatalf("GetTVMBalance = %v, %v, want %v", balance, err, TVMPerCapsule)
	}
}

func TestMintRefusesNonPendingCapsule(t *testing.T) {
	chn, db, _ := newTestChain(t)

	rejected := Capsule{ID: "cap-4", Status: StatusRejected}
	if _, err := Mint(MintParams{Chain: chn, DB: db, Capsule: rejected}); err != ErrNotPending {
		t.Errorf("Mint on rejected capsule = %v, want ErrNotPending", err)
	}
}

func TestSimilarityIdenticalCapsulesIsOne(t *testing.T) {
	a := Capsule{Motivator: "greed", Category: "wheat", RichScore: 85, BusinessScore: 80, ECFScore: 0.5}
	if s := Similarity(a, a); s != 1 {
		t.Errorf("Similarity(a,a) = %v, want 1", s)
	}
}

func TestMostSimilarPicksHighestScore(t *testing.T) {
	candidate := Capsule{Motivator: "greed", Category: "wheat", RichScore: 85, BusinessScore: 80, ECFScore: 0.5}
	near := Capsule{Motivator: "greed", Category: "wheat", RichScore: 84, BusinessScore: 79, ECFScore: 0.5}
	far := Capsule{Motivator: "fear", Category: "gold", RichScore: 10, BusinessScore: 10, ECFScore: 0.9}

	best, score := MostSimilar(candidate, []Capsule{far, near})
	if best.RichScore != near.RichScore {
		t.Errorf("MostSimilar picked %+v, want the near one", best)
	}
	if score < SimilarityThreshold {
		t.Errorf("score = %v, want >= %v", score, SimilarityThreshold)
	}
}
