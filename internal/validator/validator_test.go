package validator

import (
	"crypto/ecdsa"
	"encoding/json"
	"path/filepath"
	"testing"

	"balancechain/internal/codec"
	"balancechain/internal/segment"
	"balancechain/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chain.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestIdentity(t *testing.T) (segment.Author, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := codec.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	pub := codec.EncodePublicKey(&priv.PublicKey)
	hid, err := codec.DeriveHID(pub)
	if err != nil {
		t.Fatalf("DeriveHID failed: %v", err)
	}
	return segment.Author{HID: hid, PubKey: pub}, priv
}

func buildSigned(t *testing.T, author segment.Author, priv *ecdsa.PrivateKey, currentOwner, prevHash string, seq int64) *segment.Segment {
	t.Helper()
	s, err := segment.Build(author, currentOwner, prevHash, seq, segment.TypeChatUser, segment.ChatUserPayload{
		ChatID: "c", Text: "hello", Role: "user",
	}, segment.BuildOptions{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := segment.Sign(s, priv); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return s
}

func TestRuleSequenceRejectsWrongSeq(t *testing.T) {
	db := openTestDB(t)
	author, priv := newTestIdentity(t)

	s := buildSigned(t, author, priv, author.HID, codec.GenesisHash, 2)

	if err := Validate(db, s, Options{SkipLiveness: true}); err == nil {
		t.Fatal("expected bad_seq failure")
	}
}

func TestRuleHistoryHashRejectsWrongPrevHash(t *testing.T) {
	db := openTestDB(t)
	author, priv := newTestIdentity(t)

	s := buildSigned(t, author, priv, author.HID, "not-genesis", 1)

	if err := Validate(db, s, Options{SkipLiveness: true}); err == nil {
		t.Fatal("expected bad_prev_hash failure")
	}
}

func TestRuleSignatureRejectsTamperedPayload(t *testing.T) {
	db := openTestDB(t)
	author, priv := newTestIdentity(t)

	s := buildSigned(t, author, priv, author.HID, codec.GenesisHash, 1)
	s.Payload = []byte(`{"chatId":"c","text":"tampered","role":"user"}`)

	if err := Validate(db, s, Options{SkipLiveness: true}); err == nil {
		t.Fatal("expected bad_signature failure after payload tamper")
	}
}

func TestValidSegmentPasses(t *testing.T) {
	db := openTestDB(t)
	author, priv := newTestIdentity(t)

	s := buildSigned(t, author, priv, author.HID, codec.GenesisHash, 1)

	if err := Validate(db, s, Options{SkipLiveness: true}); err != nil {
		t.Fatalf("expected valid segment to pass, got: %v", err)
	}
}

func TestRuleNonceRejectsReplay(t *testing.T) {
	db := openTestDB(t)
	author, priv := newTestIdentity(t)

	s := buildSigned(t, author, priv, author.HID, codec.GenesisHash, 1)

	if err := db.WithTx(func(tx *store.Tx) error {
		return tx.InsertNonce(s.Nonce, s.TimestampMs)
	}); err != nil {
		t.Fatalf("InsertNonce failed: %v", err)
	}

	if err := Validate(db, s, Options{SkipLiveness: true}); err == nil {
		t.Fatal("expected replay_nonce failure")
	}
}

func TestRuleOwnerTransitionRequiresPreviousOwner(t *testing.T) {
	db := openTestDB(t)
	author, priv := newTestIdentity(t)

	s, err := segment.Build(author, author.HID, codec.GenesisHash, 1, segment.TypeTVMTransfer, segment.TVMTransferPayload{Amount: 1}, segment.BuildOptions{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := segment.Sign(s, priv); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if err := Validate(db, s, Options{SkipLiveness: true}); err == nil {
		t.Fatal("expected missing_previous_owner failure")
	}
}

func TestRuleRateLimitRejectsFastSuccessor(t *testing.T) {
	db := openTestDB(t)
	author, priv := newTestIdentity(t)

	first := buildSigned(t, author, priv, author.HID, codec.GenesisHash, 1)
	head, err := segment.BlockHash(first)
	if err != nil {
		t.Fatalf("BlockHash failed: %v", err)
	}

	raw, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := db.WithTx(func(tx *store.Tx) error {
		if err := tx.InsertSegment(store.StoredSegment{
			Seq: 1, Type: string(first.Type), TimestampMs: first.TimestampMs,
			Nonce: first.Nonce, PrevHash: first.PrevHash, BlockHash: head, JSON: raw,
		}); err != nil {
			return err
		}
		if err := tx.InsertNonce(first.Nonce, first.TimestampMs); err != nil {
			return err
		}
		if err := tx.SetChainHead(head); err != nil {
			return err
		}
		return tx.SetChainLen(1)
	}); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}

	second := buildSigned(t, author, priv, author.HID, head, 2)
	second.TimestampMs = first.TimestampMs + 1
	if _, err := segment.Sign(second, priv); err != nil {
		t.Fatalf("re-sign failed: %v", err)
	}

	if err := Validate(db, second, Options{SkipLiveness: true}); err == nil {
		t.Fatal("expected rate_limit failure")
	}
}
