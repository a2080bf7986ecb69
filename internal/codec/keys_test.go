package codec

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}

	signable := `{"seq":1,"type":"chat.user"}`
	sig, err := Sign(priv, signable)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if !Verify(&priv.PublicKey, signable, sig) {
		t.Fatal("Verify rejected a valid signature")
	}
}

func TestVerifyRejectsTamperedSignable(t *testing.T) {
	priv, _ := GenerateKeypair()
	signable := `{"seq":1}`
	sig, _ := Sign(priv, signable)

	if Verify(&priv.PublicKey, `{"seq":2}`, sig) {
		t.Fatal("Verify accepted a tampered signable")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	priv, _ := GenerateKeypair()
	signable := `{"seq":1}`
	sig, _ := Sign(priv, signable)

	tampered := []byte(sig)
	tampered[len(tampered)-1] ^= 0x01
	if Verify(&priv.PublicKey, signable, string(tampered)) {
		t.Fatal("Verify accepted a tampered signature")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	priv, _ := GenerateKeypair()
	portable := EncodePublicKey(&priv.PublicKey)

	decoded, err := DecodePublicKey(portable)
	if err != nil {
		t.Fatalf("DecodePublicKey failed: %v", err)
	}

	if decoded.X.Cmp(priv.PublicKey.X) != 0 || decoded.Y.Cmp(priv.PublicKey.Y) != 0 {
		t.Fatal("decoded public key does not match original")
	}
}

func TestDeriveHIDFormat(t *testing.T) {
	priv, _ := GenerateKeypair()
	pk := EncodePublicKey(&priv.PublicKey)

	hid, err := DeriveHID(pk)
	if err != nil {
		t.Fatalf("DeriveHID failed: %v", err)
	}

	if len(hid) != len("HID-")+8 {
		t.Errorf("HID %q has unexpected length", hid)
	}
	if hid[:4] != "HID-" {
		t.Errorf("HID %q missing prefix", hid)
	}

	again, err := DeriveHID(pk)
	if err != nil {
		t.Fatalf("DeriveHID failed: %v", err)
	}
	if hid != again {
		t.Errorf("DeriveHID not stable: %q vs %q", hid, again)
	}
}
