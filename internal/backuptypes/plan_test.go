package backuptypes

import "testing"

func TestBackupEntryValidate(t *testing.T) {
	cases := []struct {
		name    string
		entry   BackupEntry
		wantErr bool
	}{
		{"empty subdir ok", BackupEntry{SourcePath: "/vm1", SizeBytes: 10, ArchiveSubdir: ""}, false},
		{"trailing slash ok", BackupEntry{SourcePath: "/vm1", SizeBytes: 10, ArchiveSubdir: "vm1/"}, false},
		{"missing trailing slash", BackupEntry{SourcePath: "/vm1", SizeBytes: 10, ArchiveSubdir: "vm1"}, true},
		{"negative size", BackupEntry{SourcePath: "/vm1", SizeBytes: -1, ArchiveSubdir: ""}, true},
	}
	for _, c := range cases {
		err := c.entry.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestBackupPlanValidateRejectsEncryptedAndCompressed(t *testing.T) {
	p := BackupPlan{
		Entries:       []BackupEntry{{SourcePath: "/vm1", SizeBytes: 1, ArchiveSubdir: "vm1/"}},
		Encrypted:     true,
		Compressed:    true,
		HMACAlgorithm: "sha256",
	}
	if err := p.Validate(); err == nil {
		t.Error("expected error for encrypted && compressed")
	}
}

func TestBackupPlanTotalSize(t *testing.T) {
	p := BackupPlan{Entries: []BackupEntry{{SizeBytes: 100}, {SizeBytes: 250}}}
	if got := p.TotalSizeBytes(); got != 350 {
		t.Errorf("TotalSizeBytes() = %d, want 350", got)
	}
}

func TestValidatePassphrase(t *testing.T) {
	if err := ValidatePassphrase("short"); err == nil {
		t.Error("expected error for short passphrase")
	}
	long := "0123456789abcdef0123456789abcdef"
	if err := ValidatePassphrase(long); err != nil {
		t.Errorf("unexpected error for valid passphrase: %v", err)
	}
}

func TestChunkNameHelpers(t *testing.T) {
	name := ChunkName("vm1/private.img", 7)
	if name != "vm1/private.img.007" {
		t.Errorf("ChunkName = %q", name)
	}
	if HMACName(name) != name+".hmac" {
		t.Errorf("HMACName = %q", HMACName(name))
	}
	if !IsFirstChunk("vm1/private.img.000") {
		t.Error("expected .000 to be first chunk")
	}
	logical, ok := LogicalPrefix("vm1/private.img.007")
	if !ok || logical != "vm1/private.img" {
		t.Errorf("LogicalPrefix = %q, %v", logical, ok)
	}
	if _, ok := LogicalPrefix("no-suffix-here"); ok {
		t.Error("expected ok=false for missing suffix")
	}
}

func TestRestorePlanSelected(t *testing.T) {
	p := RestorePlan{Actions: map[string]VMAction{"vm1": ActionRestore, "vm2": ActionSkipExcluded}}
	if !p.Selected("vm1") {
		t.Error("expected vm1 selected")
	}
	if p.Selected("vm2") {
		t.Error("expected vm2 not selected")
	}
	if p.Selected("vm3") {
		t.Error("expected unknown vm not selected")
	}
}
