package recovery

import (
	"bytes"
	"testing"
)

func TestAddSlotRecover_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	masterKey := []byte("0123456789abcdef0123456789abcdef")
	slot, err := AddSlot(1, pub, masterKey)
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	if slot.SlotID != 1 {
		t.Errorf("SlotID: got %d, want 1", slot.SlotID)
	}

	recovered, err := Recover(priv, slot)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !bytes.Equal(recovered, masterKey) {
		t.Error("Recover did not reproduce the original master key")
	}
}

func TestRecover_WrongPrivateKeyFails(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	_, otherPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	slot, err := AddSlot(2, pub, []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}

	if _, err := Recover(otherPriv, slot); err == nil {
		t.Error("expected Recover to fail with a mismatched private key")
	}
}
