package ledger

import (
	"path/filepath"
	"testing"
)

func TestMarkSentAndWasSent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.boltdb")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	sent, err := l.WasSent("run-1", "vm1/private.img.000")
	if err != nil {
		t.Fatalf("WasSent: %v", err)
	}
	if sent {
		t.Fatal("expected not-yet-sent chunk to report false")
	}

	if err := l.MarkSent("run-1", "vm1/private.img.000"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	sent, err = l.WasSent("run-1", "vm1/private.img.000")
	if err != nil {
		t.Fatalf("WasSent: %v", err)
	}
	if !sent {
		t.Error("expected chunk to report sent after MarkSent")
	}

	// A different run's identically-named chunk is independent.
	sent, err = l.WasSent("run-2", "vm1/private.img.000")
	if err != nil {
		t.Fatalf("WasSent: %v", err)
	}
	if sent {
		t.Error("expected run-2's chunk to be independent of run-1's")
	}
}

func TestForgetRunRemovesOnlyThatRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.boltdb")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.MarkSent("run-1", "a.000"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if err := l.MarkSent("run-2", "a.000"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if err := l.ForgetRun("run-1"); err != nil {
		t.Fatalf("ForgetRun: %v", err)
	}

	sent, _ := l.WasSent("run-1", "a.000")
	if sent {
		t.Error("expected run-1's record to be forgotten")
	}
	sent, _ = l.WasSent("run-2", "a.000")
	if !sent {
		t.Error("expected run-2's record to survive ForgetRun(run-1)")
	}
}

func TestReopenPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.boltdb")

	l1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l1.MarkSent("run-1", "a.000"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if err := l1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer l2.Close()
	sent, err := l2.WasSent("run-1", "a.000")
	if err != nil {
		t.Fatalf("WasSent: %v", err)
	}
	if !sent {
		t.Error("expected MarkSent record to survive a close/reopen cycle")
	}
}
