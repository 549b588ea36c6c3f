package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestDemultiplexerAnnouncesAndMaterializesMembers(t *testing.T) {
	requireTar(t)

	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "backup-header"), []byte("hmac-algorithm=sha256\n"), 0o644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "backup-header.hmac"), []byte("sha256(stdin)= deadbeef\n"), 0o644); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "outer.tar")
	var packed bytes.Buffer
	if err := Pack(srcDir, "backup-header", &packed); err != nil {
		t.Fatalf("packing header: %v", err)
	}
	if err := Pack(srcDir, "backup-header.hmac", &packed); err != nil {
		t.Fatalf("packing header hmac: %v", err)
	}
	if err := os.WriteFile(archivePath, packed.Bytes(), 0o644); err != nil {
		t.Fatalf("writing outer archive: %v", err)
	}

	destDir := t.TempDir()
	d := &Demultiplexer{
		SourcePath: archivePath,
		DestDir:    destDir,
		MaxBytes:   1 << 20,
		MaxFiles:   HeaderOnlyMaxFiles,
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var names []string
	for {
		name, ok := d.Next()
		if !ok {
			break
		}
		names = append(names, name)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if len(names) != 2 || names[0] != "backup-header" || names[1] != "backup-header.hmac" {
		t.Errorf("announced names = %v, want [backup-header backup-header.hmac]", names)
	}

	for _, name := range names {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Errorf("expected %s to be materialized: %v", name, err)
		}
	}
}
