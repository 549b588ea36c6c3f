package headercodec

import (
	"os/exec"
	"testing"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
)

func requireOpenSSL(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("openssl"); err != nil {
		t.Skip("openssl not available")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	requireOpenSSL(t)

	h := backuptypes.BackupHeader{
		HMACAlgorithm:   "sha256",
		CryptoAlgorithm: "aes-256-cbc",
		Encrypted:       true,
		Compressed:      false,
	}
	headerBytes, hmacLine, err := Write(h, "passphrase-value")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, algo, err := Read(headerBytes, hmacLine, "sha1", "passphrase-value")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if algo != "sha256" {
		t.Errorf("adopted algorithm = %q, want sha256", algo)
	}
	if got.CryptoAlgorithm != "aes-256-cbc" || !got.Encrypted || got.Compressed {
		t.Errorf("decoded header mismatch: %+v", got)
	}
}

func TestReadAutodetectsNonDefaultAlgorithm(t *testing.T) {
	requireOpenSSL(t)

	h := backuptypes.BackupHeader{HMACAlgorithm: "sha1"}
	headerBytes, hmacLine, err := Write(h, "secret")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// defaultAlgorithm guessed wrong; Read must still find sha1 by trying
	// every algorithm the digest tool enumerates.
	_, algo, err := Read(headerBytes, hmacLine, "sha512", "secret")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if algo != "sha1" {
		t.Errorf("adopted algorithm = %q, want sha1", algo)
	}
}

func TestReadRejectsWrongPassphrase(t *testing.T) {
	requireOpenSSL(t)

	h := backuptypes.BackupHeader{HMACAlgorithm: "sha256"}
	headerBytes, hmacLine, err := Write(h, "right-passphrase")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, _, err := Read(headerBytes, hmacLine, "sha256", "wrong-passphrase"); err == nil {
		t.Error("expected CorruptHeader for wrong passphrase, got nil")
	}
}

func TestReadRejectsMalformedHeaderLine(t *testing.T) {
	if _, _, err := Read([]byte("not-a-valid-line-without-equals\n"), []byte("sha256(stdin)= abc\n"), "sha256", "x"); err == nil {
		t.Error("expected CorruptHeader for malformed header line")
	}
}
