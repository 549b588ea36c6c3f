package chunkio

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
	"github.com/itinerarium/qubes-core-admin/internal/sendqueue"
)

func requireOpenSSL(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("openssl"); err != nil {
		t.Skip("openssl not available")
	}
}

func TestWriterSplitsIntoChunksAndEnqueues(t *testing.T) {
	requireOpenSSL(t)

	dir := t.TempDir()
	q := sendqueue.New()
	w := NewWriter(dir, "vm1/private.img", "sha256", "hmac-secret", q, nil)
	w.ChunkSize = 16

	src := bytes.NewReader(bytes.Repeat([]byte("x"), 16*2+5))

	releases := 0
	n, err := w.Run(src, func() error { releases++; return nil })
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 chunks, got %d", n)
	}
	if releases != 2 {
		t.Errorf("expected 2 releaseVolume calls, got %d", releases)
	}

	for i := 0; i < 3; i++ {
		name := backuptypes.ChunkName("vm1/private.img", i)
		item := q.Get()
		if item.Done {
			t.Fatalf("unexpected Done at index %d", i)
		}
		if item.Chunk != name {
			t.Errorf("item %d: chunk = %q, want %q", i, item.Chunk, name)
		}
		if item.HMAC != name+backuptypes.HMACSuffix {
			t.Errorf("item %d: hmac = %q, want %q", i, item.HMAC, name+backuptypes.HMACSuffix)
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("chunk file missing: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, name+backuptypes.HMACSuffix)); err != nil {
			t.Errorf("hmac file missing: %v", err)
		}
	}
}

func TestWriterExactMultipleDoesNotLeaveEmptyChunk(t *testing.T) {
	requireOpenSSL(t)

	dir := t.TempDir()
	q := sendqueue.New()
	w := NewWriter(dir, "vm1/private.img", "sha256", "hmac-secret", q, nil)
	w.ChunkSize = 16

	src := bytes.NewReader(bytes.Repeat([]byte("y"), 32))

	n, err := w.Run(src, func() error { return nil })
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 chunks for an exact multiple, got %d", n)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "vm1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 4 { // 2 chunk files + 2 .hmac files
		t.Errorf("expected 4 files on disk, got %d", len(entries))
	}
}
