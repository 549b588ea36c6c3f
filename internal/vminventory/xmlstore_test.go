package vminventory

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsEmptyCollection(t *testing.T) {
	s, err := LoadXMLStore(filepath.Join(t.TempDir(), "qubes.xml"))
	if err != nil {
		t.Fatalf("LoadXMLStore: %v", err)
	}
	vms, err := s.ListIncluded()
	if err != nil {
		t.Fatalf("ListIncluded: %v", err)
	}
	if len(vms) != 0 {
		t.Errorf("expected empty collection, got %v", vms)
	}
}

func TestAddSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qubes.xml")

	s, err := LoadXMLStore(path)
	if err != nil {
		t.Fatalf("LoadXMLStore: %v", err)
	}
	if _, err := s.Add(VmSpec{Name: "work", Template: "fedora-38", NetVM: "sys-firewall"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	reloaded, err := LoadXMLStore(path)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	vms, err := reloaded.ListIncluded()
	if err != nil {
		t.Fatalf("ListIncluded: %v", err)
	}
	if len(vms) != 1 || vms[0].Name != "work" || vms[0].Template != "fedora-38" {
		t.Errorf("reloaded vms = %+v, want one 'work' vm", vms)
	}
}

func TestSaveWithoutLockFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qubes.xml")
	s, err := LoadXMLStore(path)
	if err != nil {
		t.Fatalf("LoadXMLStore: %v", err)
	}
	if err := s.Save(); !errors.Is(err, ErrNotLocked) {
		t.Errorf("Save without Lock: got %v, want ErrNotLocked", err)
	}
}

func TestAddDuplicateNameFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qubes.xml")
	s, err := LoadXMLStore(path)
	if err != nil {
		t.Fatalf("LoadXMLStore: %v", err)
	}
	if _, err := s.Add(VmSpec{Name: "work"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(VmSpec{Name: "work"}); !errors.Is(err, ErrVmAlreadyExists) {
		t.Errorf("duplicate Add: got %v, want ErrVmAlreadyExists", err)
	}
}
