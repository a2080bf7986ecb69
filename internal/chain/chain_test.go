package chain

import (
	"path/filepath"
	"testing"
	"time"

	"balancechain/internal/caps"
	"balancechain/internal/codec"
	"balancechain/internal/segment"
	"balancechain/internal/store"
	"balancechain/internal/validator"
)

func newTestChain(t *testing.T) (*Chain, *store.DB, segment.Author) {
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

	c, err := New(db, caps.New(db), NewStaticSigner(author, priv), Options{SkipLiveness: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, db, author
}

func TestCommitFirstSegment(t *testing.T) {
	c, db, _ := newTestChain(t)

	result, err := c.Commit(segment.TypeChatUser, segment.ChatUserPayload{
		ChatID: "hakim", Text: "hello", Role: "user",
	}, CommitOptions{})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !result.OK || result.Seq != 1 {
		t.Fatalf("Commit result = %+v, want ok seq=1", result)
	}

	head, err := db.ChainHead()
	if err != nil || head != result.Head {
		t.Fatalf("ChainHead() = %q, %v, want %q", head, err, result.Head)
	}
	length, err := db.ChainLen()
	if err != nil || length != 1 {
		t.Fatalf("ChainLen() = %d, %v, want 1", length, err)
	}
}

func TestCommitChainsSequentialSegments(t *testing.T) {
	c, _, _ := newTestChain(t)

	first, err := c.Commit(segment.TypeChatUser, segment.ChatUserPayload{ChatID: "hakim", Text: "a", Role: "user"}, CommitOptions{})
	if err != nil || !first.OK {
		t.Fatalf("first commit failed: %v, %+v", err, first)
	}

	// Same author: wait out the minimum block interval so rule 3 passes.
	time.Sleep(validator.MinBlockIntervalMs * time.Millisecond)

	second, err := c.Commit(segment.TypeAIAdvice, segment.AIAdvicePayload{ChatID: "hakim", Text: "b", Role: "assistant"}, CommitOptions{})
	if err != nil || !second.OK {
		t.Fatalf("second commit failed: %v, %+v", err, second)
	}
	if second.Seq != 2 {
		t.Errorf("second.Seq = %d, want 2", second.Seq)
	}
}

func TestCommitAppliesScoreProjection(t *testing.T) {
	c, _, _ := newTestChain(t)

	result, err := c.Commit(segment.TypeBizOutcome, segment.BizOutcomePayload{
		Outcome: segment.OutcomeSuccess, DecisionSeq: 1,
	}, CommitOptions{})
	if err != nil || !result.OK {
		t.Fatalf("commit failed: %v, %+v", err, result)
	}

	scores := c.Scores()
	if scores.RichScore != 5 || scores.BusinessScore != 3 {
		t.Errorf("Scores() = %+v, want richScore=5 businessScore=3", scores)
	}
}

func TestCommitBuildsMessageProjection(t *testing.T) {
	c, _, _ := newTestChain(t)

	if _, err := c.Commit(segment.TypeChatUser, segment.ChatUserPayload{ChatID: "hakim", Text: "hello", Role: "user"}, CommitOptions{}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	entries := c.Messages().ByPeer["hakim"]
	if len(entries) != 1 || entries[0].Direction != "out" {
		t.Fatalf("Messages().ByPeer[hakim] = %+v, want one out entry", entries)
	}
}

func TestRebuildProjectionsMatchesLiveState(t *testing.T) {
	c, _, _ := newTestChain(t)

	if _, err := c.Commit(segment.TypeChatUser, segment.ChatUserPayload{ChatID: "hakim", Text: "hello", Role: "user"}, CommitOptions{}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, err := c.Commit(segment.TypeBizOutcome, segment.BizOutcomePayload{Outcome: segment.OutcomeSuccess, DecisionSeq: 1}, CommitOptions{}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	liveScores := c.Scores()

	if err := c.RebuildProjections(); err != nil {
		t.Fatalf("RebuildProjections failed: %v", err)
	}

	rebuiltScores := c.Scores()
	if rebuiltScores != liveScores {
		t.Errorf("rebuilt scores = %+v, want %+v", rebuiltScores, liveScores)
	}
	if len(c.Messages().ByPeer["hakim"]) != 1 {
		t.Errorf("rebuilt message view missing hakim entry")
	}
}
