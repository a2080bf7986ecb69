package segment

import (
	"testing"

	"balancechain/internal/codec"
)

func testAuthor(t *testing.T) Author {
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
	return Author{HID: hid, PubKey: pub}
}

func TestBuildAndSignRoundTrip(t *testing.T) {
	author := testAuthor(t)

	s, err := Build(author, author.HID, codec.GenesisHash, 1, TypeChatUser, ChatUserPayload{
		ChatID: "hakim", Text: "hello", Role: "user",
	}, BuildOptions{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if s.Seq != 1 || s.PrevHash != codec.GenesisHash || s.Version != ProtocolVersion {
		t.Errorf("unexpected segment fields: %+v", s)
	}
	if len(s.Nonce) != 32 {
		t.Errorf("Nonce length = %d, want 32 hex chars", len(s.Nonce))
	}
}

func TestSignableExcludesSignature(t *testing.T) {
	author := testAuthor(t)
	s, _ := Build(author, author.HID, codec.GenesisHash, 1, TypeChatUser, ChatUserPayload{ChatID: "c", Text: "t", Role: "user"}, BuildOptions{})

	before, err := Signable(s)
	if err != nil {
		t.Fatalf("Signable failed: %v", err)
	}
	s.Signature = "not-yet-a-real-signature"
	after, err := Signable(s)
	if err != nil {
		t.Fatalf("Signable failed: %v", err)
	}
	if before != after {
		t.Error("Signable output changed when signature field was set; it must be excluded")
	}
}

func TestSegmentID(t *testing.T) {
	author := testAuthor(t)
	s, _ := Build(author, author.HID, codec.GenesisHash, 5, TypeChatUser, ChatUserPayload{ChatID: "c", Text: "t", Role: "user"}, BuildOptions{})
	s.Nonce = "abcdef0123456789abcdef0123456789"[:32]

	got := s.ID()
	want := "5:" + s.Nonce
	if got != want {
		t.Errorf("ID() = %q, want %q", got, want)
	}
}

func TestValidateStructureRejectsMissingSignature(t *testing.T) {
	author := testAuthor(t)
	s, _ := Build(author, author.HID, codec.GenesisHash, 1, TypeChatUser, ChatUserPayload{ChatID: "c", Text: "t", Role: "user"}, BuildOptions{})

	if err := ValidateStructure(s); err == nil {
		t.Error("ValidateStructure should reject an unsigned segment (empty signature field)")
	}
}

func TestValidateStructureRejectsBadOwnerPrefix(t *testing.T) {
	author := testAuthor(t)
	s, _ := Build(author, "not-an-hid", codec.GenesisHash, 1, TypeChatUser, ChatUserPayload{ChatID: "c", Text: "t", Role: "user"}, BuildOptions{})
	s.Signature = "placeholder"

	if err := ValidateStructure(s); err == nil {
		t.Error("ValidateStructure should reject current_owner not starting with HID-")
	}
}
