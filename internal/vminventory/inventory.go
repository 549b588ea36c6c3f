// Package vminventory implements the VmInventory collaborator (§6): the
// VM collection model and XML persistence that spec.md places out of the
// core's scope, described there only by the interface the core needs
// to build a RestorePlan/BackupPlan. A complete repository still needs a
// concrete body behind that interface; this package supplies one.
package vminventory

// Vm is one entry in the collection: the subset of qubes.xml properties
// the backup/restore core or its callers need to reason about.
type Vm struct {
	Name     string
	Template string
	NetVM    string
	Included bool
}

// VmSpec describes a VM to add to the collection (§6 "add(vm_spec)").
type VmSpec struct {
	Name     string
	Template string
	NetVM    string
}

// Inventory is the VmInventory collaborator contract from §6.
type Inventory interface {
	ListIncluded() ([]Vm, error)
	DefaultTemplate() (string, error)
	DefaultNetVM() (string, error)
	Add(spec VmSpec) (Vm, error)
	Save() error
	Lock() error
	Unlock() error
}
