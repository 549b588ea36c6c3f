package fec

import "testing"

func TestProtectReconstructRoundTrip(t *testing.T) {
	data := []byte("hmac-algorithm=sha256\nencrypted=0\ncompressed=0\n")

	shards, _, err := Protect(data, 4, 2)
	if err != nil {
		t.Fatalf("Protect failed: %v", err)
	}
	if len(shards) != 6 {
		t.Fatalf("expected 6 shards, got %d", len(shards))
	}

	// Drop two shards (the max this k=4,r=2 configuration tolerates).
	shards[1] = nil
	shards[4] = nil

	got, err := Reconstruct(shards, 4, 2, len(data))
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Reconstruct = %q, want %q", got, data)
	}
}

func TestProtectRejectsBadParameters(t *testing.T) {
	if _, _, err := Protect([]byte("x"), 0, 1); err == nil {
		t.Error("expected error for k=0")
	}
	if _, _, err := Protect([]byte("x"), 1, 0); err == nil {
		t.Error("expected error for r=0")
	}
}
