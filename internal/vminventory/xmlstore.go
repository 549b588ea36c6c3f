package vminventory

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	// ErrVmNotFound is returned by lookups against a name absent from the
	// collection.
	ErrVmNotFound = errors.New("vm not found")
	// ErrVmAlreadyExists is returned by Add when the name is already
	// present.
	ErrVmAlreadyExists = errors.New("vm already exists")
	// ErrNotLocked is returned by Save when called without a prior Lock.
	ErrNotLocked = errors.New("inventory not locked")
)

type xmlVm struct {
	Name     string `xml:"name,attr"`
	Template string `xml:"template,attr,omitempty"`
	NetVM    string `xml:"netvm,attr,omitempty"`
	Included bool   `xml:"included,attr"`
}

type xmlDocument struct {
	XMLName         xml.Name `xml:"QubesVmCollection"`
	DefaultTemplate string   `xml:"default_template,attr,omitempty"`
	DefaultNetVM    string   `xml:"default_netvm,attr,omitempty"`
	Vms             []xmlVm  `xml:"Vm"`
}

// XMLStore is a qubes.xml-backed VmInventory: the whole collection lives
// as one XML document at Path, guarded in-process by mu and on-disk by a
// sibling ".lock" file (§6 "lock()/unlock()").
type XMLStore struct {
	Path string

	mu     sync.RWMutex
	doc    xmlDocument
	locked bool
}

// LoadXMLStore reads the document at path. A missing file is not an
// error: it yields an empty collection, matching a fresh qubes.xml.
func LoadXMLStore(path string) (*XMLStore, error) {
	s := &XMLStore{Path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := xml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

func toVm(x xmlVm) Vm {
	return Vm{Name: x.Name, Template: x.Template, NetVM: x.NetVM, Included: x.Included}
}

// ListIncluded returns every Vm whose Included flag is set.
func (s *XMLStore) ListIncluded() ([]Vm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Vm
	for _, x := range s.doc.Vms {
		if x.Included {
			out = append(out, toVm(x))
		}
	}
	return out, nil
}

// DefaultTemplate returns the collection-wide default template name.
func (s *XMLStore) DefaultTemplate() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.DefaultTemplate, nil
}

// DefaultNetVM returns the collection-wide default netvm name.
func (s *XMLStore) DefaultNetVM() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.DefaultNetVM, nil
}

// Add appends a new Vm built from spec, included by default (the shape
// the restore path uses to recreate a VM from a backup entry).
func (s *XMLStore) Add(spec VmSpec) (Vm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.doc.Vms {
		if x.Name == spec.Name {
			return Vm{}, fmt.Errorf("%w: %s", ErrVmAlreadyExists, spec.Name)
		}
	}
	x := xmlVm{Name: spec.Name, Template: spec.Template, NetVM: spec.NetVM, Included: true}
	s.doc.Vms = append(s.doc.Vms, x)
	return toVm(x), nil
}

// Lock takes the exclusive, process-wide lock required before Save (§6).
// Uses O_EXCL creation of a sibling lockfile, matching the teacher's
// bolt-backed store's pattern of guarding writes with a held resource
// rather than an advisory flag.
func (s *XMLStore) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil
	}
	f, err := os.OpenFile(s.Path+".lock", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("locking %s: %w", s.Path, err)
	}
	f.Close()
	s.locked = true
	return nil
}

// Unlock releases the lock taken by Lock.
func (s *XMLStore) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return nil
	}
	if err := os.Remove(s.Path + ".lock"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlocking %s: %w", s.Path, err)
	}
	s.locked = false
	return nil
}

// Save persists the collection to Path. Must be called while locked.
func (s *XMLStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return ErrNotLocked
	}
	data, err := xml.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.Path, err)
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", s.Path, err)
	}
	return nil
}

var _ Inventory = (*XMLStore)(nil)
