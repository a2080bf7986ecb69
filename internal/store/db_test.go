package store

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestChainHeadDefaultsToGenesis(t *testing.T) {
	db := openTestDB(t)

	head, err := db.ChainHead()
	if err != nil {
		t.Fatalf("ChainHead failed: %v", err)
	}
	if head != "GENESIS" {
		t.Errorf("ChainHead() = %q, want GENESIS", head)
	}

	length, err := db.ChainLen()
	if err != nil {
		t.Fatalf("ChainLen failed: %v", err)
	}
	if length != 0 {
		t.Errorf("ChainLen() = %d, want 0", length)
	}
}

func TestWithTxCommitsAllOrNothing(t *testing.T) {
	db := openTestDB(t)

	err := db.WithTx(func(tx *Tx) error {
		if err := tx.InsertSegment(StoredSegment{Seq: 1, Type: "chat.user", TimestampMs: 1000, Nonce: "n1", PrevHash: "GENESIS", BlockHash: "h1", JSON: []byte(`{}`)}); err != nil {
			return err
		}
		return tx.SetChainHead("h1")
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	head, _ := db.ChainHead()
	if head != "h1" {
		t.Errorf("ChainHead() = %q, want h1", head)
	}

	seg, ok, err := db.GetSegment(1)
	if err != nil || !ok {
		t.Fatalf("GetSegment(1) = %v, %v, %v", seg, ok, err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)

	err := db.WithTx(func(tx *Tx) error {
		if err := tx.InsertSegment(StoredSegment{Seq: 1, Type: "chat.user", TimestampMs: 1000, Nonce: "n1", PrevHash: "GENESIS", BlockHash: "h1", JSON: []byte(`{}`)}); err != nil {
			return err
		}
		return errSentinel
	})
	if err == nil {
		t.Fatal("WithTx should have returned the injected error")
	}

	_, ok, _ := db.GetSegment(1)
	if ok {
		t.Error("segment should not be visible after rollback")
	}
}

var errSentinel = &sentinelErr{"injected failure"}

type sentinelErr struct{ msg string }

func (e *sentinelErr) Error() string { return e.msg }

func TestNonceUniqueness(t *testing.T) {
	db := openTestDB(t)

	if err := db.WithTx(func(tx *Tx) error { return tx.InsertNonce("abc", 1) }); err != nil {
		t.Fatalf("insert nonce failed: %v", err)
	}

	exists, err := db.NonceExists("abc")
	if err != nil || !exists {
		t.Fatalf("NonceExists(abc) = %v, %v, want true, nil", exists, err)
	}

	exists, err = db.NonceExists("missing")
	if err != nil || exists {
		t.Fatalf("NonceExists(missing) = %v, %v, want false, nil", exists, err)
	}
}

func TestCapsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if err := db.PutCaps(CapsRow{Period: "daily", HID: "HID-AAAA0000", Counter: 5, ResetAtMs: 9999}); err != nil {
		t.Fatalf("PutCaps failed: %v", err)
	}

	row, ok, err := db.GetCaps("daily", "HID-AAAA0000")
	if err != nil || !ok {
		t.Fatalf("GetCaps = %v, %v, %v", row, ok, err)
	}
	if row.Counter != 5 || row.ResetAtMs != 9999 {
		t.Errorf("GetCaps = %+v, want counter=5 resetAt=9999", row)
	}
}

func TestCapsuleLifecycle(t *testing.T) {
	db := openTestDB(t)

	c := CapsuleRow{
		ID: "cap-1", SessionID: "sess-1", OwnerHID: "HID-AAAA0000",
		RichScore: 85, BusinessScore: 80, ECFScore: 0.5,
		Motivator: "greed", Category: "wheat", ContentHash: "h",
		Status: "pending", CreatedAtMs: 1,
	}
	if err := db.InsertCapsule(c); err != nil {
		t.Fatalf("InsertCapsule failed: %v", err)
	}

	got, ok, err := db.GetCapsule("cap-1")
	if err != nil || !ok || got.Status != "pending" {
		t.Fatalf("GetCapsule = %+v, %v, %v", got, ok, err)
	}

	seq := int64(7)
	if err := db.UpdateCapsuleStatus("cap-1", "minted", &seq); err != nil {
		t.Fatalf("UpdateCapsuleStatus failed: %v", err)
	}

	minted, err := db.MintedCapsulesForOwner("HID-AAAA0000")
	if err != nil || len(minted) != 1 || *minted[0].MintSeq != 7 {
		t.Fatalf("MintedCapsulesForOwner = %+v, %v", minted, err)
	}
}

func TestTVMBalanceOnlyAdds(t *testing.T) {
	db := openTestDB(t)

	if err := db.IncrementTVMBalance("HID-AAAA0000", 1.0); err != nil {
		t.Fatalf("IncrementTVMBalance failed: %v", err)
	}
	if err := db.IncrementTVMBalance("HID-AAAA0000", 1.0); err != nil {
		t.Fatalf("IncrementTVMBalance failed: %v", err)
	}

	balance, err := db.GetTVMBalance("HID-AAAA0000")
	if err != nil || balance != 2.0 {
		t.Fatalf("GetTVMBalance = %v, %v, want 2.0", balance, err)
	}
}
