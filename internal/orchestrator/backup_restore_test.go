package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
)

// requireBackupTools skips the test when either external tool the pipeline
// shells out to (tar for archiving, openssl for the HMAC gate) is missing,
// matching requireTar in internal/archive/packer_test.go and requireOpenSSL
// in internal/digesttool/digest_test.go.
func requireBackupTools(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available in this environment")
	}
	if _, err := exec.LookPath("openssl"); err != nil {
		t.Skip("openssl not available in this environment")
	}
}

const testPassphrase = "correct-horse-battery-staple-long-enough"

// writeFixtureVM creates srcRoot/vm1/private.img containing payload and
// returns a one-entry BackupPlan naming it under the "vm1/" archive subdir.
func writeFixtureVM(t *testing.T, srcRoot string, payload []byte) backuptypes.BackupPlan {
	t.Helper()
	vmDir := filepath.Join(srcRoot, "vm1")
	if err := os.MkdirAll(vmDir, 0o755); err != nil {
		t.Fatalf("fixture mkdir: %v", err)
	}
	imgPath := filepath.Join(vmDir, "private.img")
	if err := os.WriteFile(imgPath, payload, 0o644); err != nil {
		t.Fatalf("fixture write: %v", err)
	}
	return backuptypes.BackupPlan{
		Entries: []backuptypes.BackupEntry{
			{SourcePath: imgPath, ArchiveSubdir: "vm1/", SizeBytes: int64(len(payload))},
		},
		HMACAlgorithm: "sha256",
		Passphrase:    testPassphrase,
	}
}

func runBackup(t *testing.T, plan backuptypes.BackupPlan) string {
	t.Helper()
	archivePath := filepath.Join(t.TempDir(), "archive.tar")
	out, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("creating archive file: %v", err)
	}
	o := New(nil)
	if err := o.Backup(context.Background(), plan, out); err != nil {
		out.Close()
		t.Fatalf("Backup failed: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("closing archive file: %v", err)
	}
	return archivePath
}

// TestBackupRestoreRoundTrip drives a real Backup followed by a real
// Restore over an unencrypted, uncompressed single-VM plan and checks the
// restored bytes match the source exactly (spec.md §8 plaintext round
// trip).
func TestBackupRestoreRoundTrip(t *testing.T) {
	requireBackupTools(t)

	srcRoot := t.TempDir()
	payload := []byte("round-trip payload bytes for private.img")
	plan := writeFixtureVM(t, srcRoot, payload)

	archivePath := runBackup(t, plan)

	destDir := t.TempDir()
	restorePlan := backuptypes.RestorePlan{
		Actions:            map[string]backuptypes.VMAction{"vm1": backuptypes.ActionRestore},
		ExpectedTotalBytes: int64(len(payload)),
		VMCount:            1,
	}

	o := New(nil)
	if err := o.Restore(context.Background(), archivePath, destDir, plan.Passphrase, restorePlan); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "vm1", "private.img"))
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("restored content = %q, want %q", got, payload)
	}
}

// TestVerifyAcceptsGenuineArchive exercises Verify (the read-only sibling
// of Restore) over the same archive, confirming the HMAC gate passes
// without ever touching destDir.
func TestVerifyAcceptsGenuineArchive(t *testing.T) {
	requireBackupTools(t)

	srcRoot := t.TempDir()
	payload := []byte("verify-only payload bytes for private.img")
	plan := writeFixtureVM(t, srcRoot, payload)

	archivePath := runBackup(t, plan)

	restorePlan := backuptypes.RestorePlan{
		Actions:            map[string]backuptypes.VMAction{"vm1": backuptypes.ActionRestore},
		ExpectedTotalBytes: int64(len(payload)),
		VMCount:            1,
	}

	o := New(nil)
	if err := o.Verify(context.Background(), archivePath, plan.Passphrase, restorePlan); err != nil {
		t.Fatalf("Verify failed on a genuine archive: %v", err)
	}
}

// TestRestoreAbortsOnTamperedChunk flips one byte of the plaintext payload
// inside an otherwise-genuine archive and checks Restore rejects it via
// the HMAC gate instead of extracting corrupted bytes (§4.C, spec.md §8
// tampered-chunk-aborts-the-run).
func TestRestoreAbortsOnTamperedChunk(t *testing.T) {
	requireBackupTools(t)

	srcRoot := t.TempDir()
	payload := []byte("tamper-detection payload, long enough to be unambiguous")
	plan := writeFixtureVM(t, srcRoot, payload)

	archivePath := runBackup(t, plan)

	archiveBytes, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	idx := bytes.Index(archiveBytes, payload)
	if idx < 0 {
		t.Fatal("expected to find the plaintext payload inside the unencrypted archive")
	}
	archiveBytes[idx] ^= 0xff
	if err := os.WriteFile(archivePath, archiveBytes, 0o644); err != nil {
		t.Fatalf("writing tampered archive: %v", err)
	}

	destDir := t.TempDir()
	restorePlan := backuptypes.RestorePlan{
		Actions:            map[string]backuptypes.VMAction{"vm1": backuptypes.ActionRestore},
		ExpectedTotalBytes: int64(len(payload)),
		VMCount:            1,
	}

	o := New(nil)
	err = o.Restore(context.Background(), archivePath, destDir, plan.Passphrase, restorePlan)
	if err == nil {
		t.Fatal("expected Restore to reject a tampered chunk")
	}
	var authErr *backuptypes.AuthFailure
	if !errors.As(err, &authErr) {
		t.Errorf("expected an AuthFailure, got %T: %v", err, err)
	}
}

// TestRestoreDiscardsChunksOutsidePlan backs up two VMs but restores only
// one of them, checking the other VM's chunks are silently discarded
// rather than extracted or causing an error (§4.H "names outside the plan
// are discarded").
func TestRestoreDiscardsChunksOutsidePlan(t *testing.T) {
	requireBackupTools(t)

	srcRoot := t.TempDir()
	payload1 := []byte("vm1 private image content")
	payload2 := []byte("vm2 private image content, a different VM entirely")

	vm1Dir := filepath.Join(srcRoot, "vm1")
	vm2Dir := filepath.Join(srcRoot, "vm2")
	if err := os.MkdirAll(vm1Dir, 0o755); err != nil {
		t.Fatalf("fixture mkdir: %v", err)
	}
	if err := os.MkdirAll(vm2Dir, 0o755); err != nil {
		t.Fatalf("fixture mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(vm1Dir, "private.img"), payload1, 0o644); err != nil {
		t.Fatalf("fixture write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(vm2Dir, "private.img"), payload2, 0o644); err != nil {
		t.Fatalf("fixture write: %v", err)
	}

	plan := backuptypes.BackupPlan{
		Entries: []backuptypes.BackupEntry{
			{SourcePath: filepath.Join(vm1Dir, "private.img"), ArchiveSubdir: "vm1/", SizeBytes: int64(len(payload1))},
			{SourcePath: filepath.Join(vm2Dir, "private.img"), ArchiveSubdir: "vm2/", SizeBytes: int64(len(payload2))},
		},
		HMACAlgorithm: "sha256",
		Passphrase:    testPassphrase,
	}

	archivePath := runBackup(t, plan)

	destDir := t.TempDir()
	restorePlan := backuptypes.RestorePlan{
		Actions:            map[string]backuptypes.VMAction{"vm1": backuptypes.ActionRestore, "vm2": backuptypes.ActionSkipExcluded},
		ExpectedTotalBytes: int64(len(payload1) + len(payload2)),
		VMCount:            2,
	}

	o := New(nil)
	if err := o.Restore(context.Background(), archivePath, destDir, plan.Passphrase, restorePlan); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "vm1", "private.img"))
	if err != nil {
		t.Fatalf("reading restored vm1 file: %v", err)
	}
	if !bytes.Equal(got, payload1) {
		t.Errorf("restored vm1 content = %q, want %q", got, payload1)
	}

	if _, err := os.Stat(filepath.Join(destDir, "vm2")); !os.IsNotExist(err) {
		t.Errorf("expected vm2 to be skipped, got stat err %v", err)
	}
}
