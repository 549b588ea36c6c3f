package digesttool

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/zeebo/blake3"
)

func requireOpenSSL(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("openssl"); err != nil {
		t.Skip("openssl not available in this environment")
	}
}

func TestDigesterSumReader(t *testing.T) {
	requireOpenSSL(t)

	d := NewDigester()
	tok, err := d.SumReader("sha256", "correcthorsebatterystaple", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("SumReader failed: %v", err)
	}
	if len(tok) != 64 {
		t.Errorf("expected 64 hex chars for sha256, got %d (%q)", len(tok), tok)
	}
}

func TestDigesterDeterministic(t *testing.T) {
	requireOpenSSL(t)

	d := NewDigester()
	a, err := d.SumReader("sha1", "pw", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("first SumReader failed: %v", err)
	}
	b, err := d.SumReader("sha1", "pw", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("second SumReader failed: %v", err)
	}
	if a != b {
		t.Errorf("expected deterministic HMAC, got %q vs %q", a, b)
	}
}

func TestStageMatchesSumReader(t *testing.T) {
	requireOpenSSL(t)

	d := NewDigester()
	want, err := d.SumReader("sha256", "pw", strings.NewReader("streamed-chunk-bytes"))
	if err != nil {
		t.Fatalf("SumReader failed: %v", err)
	}

	stage, err := d.StartStage("sha256", "pw")
	if err != nil {
		t.Fatalf("StartStage failed: %v", err)
	}
	if _, err := stage.Write([]byte("streamed-chunk-bytes")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := stage.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if got != want {
		t.Errorf("streamed stage = %q, one-shot = %q", got, want)
	}
}

// TestBlake3IndependentDigest checks that the independent, pure-Go blake3
// digest yields 32 bytes for a fixture. No other test uses it, and it never
// participates in the production HMAC-gate, which always goes through the
// external tool (§4.C invariant).
func TestBlake3IndependentDigest(t *testing.T) {
	h := blake3.New()
	h.Write([]byte("fixture"))
	if len(h.Sum(nil)) != 32 {
		t.Error("expected 32-byte blake3 digest")
	}
}
