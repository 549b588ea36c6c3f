package backuptypes

import (
	"fmt"
	"strings"
)

// BackupEntry is one logical file or directory to archive.
type BackupEntry struct {
	// SourcePath is the absolute path on disk of the entry being archived.
	SourcePath string
	// SizeBytes is the recursive on-disk usage of SourcePath, >= 0.
	SizeBytes int64
	// ArchiveSubdir is either empty or ends with "/"; it namespaces the
	// entry inside the archive (e.g. "vm1/").
	ArchiveSubdir string
}

// Validate enforces the ArchiveSubdir shape invariant from §3.
func (e BackupEntry) Validate() error {
	if e.SizeBytes < 0 {
		return fmt.Errorf("%w: %s has negative size %d", ErrPlanInvalid, e.SourcePath, e.SizeBytes)
	}
	if e.ArchiveSubdir != "" && !strings.HasSuffix(e.ArchiveSubdir, "/") {
		return fmt.Errorf("%w: archive_subdir %q for %s must end in \"/\" or be empty", ErrPlanInvalid, e.ArchiveSubdir, e.SourcePath)
	}
	return nil
}

// BackupPlan is the ordered sequence of entries consumed once, in order,
// by the backup pipeline.
type BackupPlan struct {
	Entries []BackupEntry

	// Encrypted and Compressed select the cipher/compressor stages. The
	// combination of both is rejected by Validate per §3.
	Encrypted  bool
	Compressed bool

	// HMACAlgorithm names the digest algorithm used to authenticate every
	// chunk and the header itself.
	HMACAlgorithm string
	// CryptoAlgorithm names the cipher algorithm, meaningful only when
	// Encrypted is true.
	CryptoAlgorithm string

	// Passphrase is the shared secret handed to the external digest/cipher
	// tools. Never written to the header or the archive.
	Passphrase string

	// InventoryXMLPath, when non-empty, names a file with the serialized
	// VM inventory to ship as the fixed "qubes.xml" logical file
	// immediately after the header (§6 items 3-4). Empty skips it.
	InventoryXMLPath string
}

// TotalSizeBytes sums SizeBytes across all entries.
func (p BackupPlan) TotalSizeBytes() int64 {
	var total int64
	for _, e := range p.Entries {
		total += e.SizeBytes
	}
	return total
}

// Validate checks the plan-level invariants from §3 and §4.H: every
// entry's ArchiveSubdir shape, and the encrypted+compressed hard error.
func (p BackupPlan) Validate() error {
	if p.Encrypted && p.Compressed {
		return fmt.Errorf("%w: encrypted and compressed are mutually exclusive", ErrPlanInvalid)
	}
	if p.HMACAlgorithm == "" {
		return fmt.Errorf("%w: hmac algorithm must be set", ErrPlanInvalid)
	}
	for _, e := range p.Entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MinPassphraseLength is the documented minimum for a shared backup
// passphrase (SPEC_FULL §C.5); historically the generated passphrase was a
// 32-character hex string.
const MinPassphraseLength = 32

// ValidatePassphrase enforces the minimum length floor before a backup
// starts. Restoring never validates the passphrase up front — a wrong
// passphrase surfaces as a cipher-stage failure (§8, scenario 3).
func ValidatePassphrase(passphrase string) error {
	if len(passphrase) < MinPassphraseLength {
		return fmt.Errorf("%w: passphrase shorter than %d characters", ErrPlanInvalid, MinPassphraseLength)
	}
	return nil
}

// VMAction is the restore disposition for one VM named in a RestorePlan.
type VMAction int

const (
	ActionRestore VMAction = iota + 1
	ActionSkipExcluded
	ActionSkipAlreadyExists
	ActionSkipMissingTemplate
	ActionSkipMissingNetVM
)

func (a VMAction) String() string {
	switch a {
	case ActionRestore:
		return "restore"
	case ActionSkipExcluded:
		return "skip-excluded"
	case ActionSkipAlreadyExists:
		return "skip-already-exists"
	case ActionSkipMissingTemplate:
		return "skip-missing-template"
	case ActionSkipMissingNetVM:
		return "skip-missing-netvm"
	default:
		return "unknown"
	}
}

// RestoreOptions carries the pass-through, policy-level knobs a RestorePlan
// is built with (SPEC_FULL §C.3). Restore's inventory reconciliation reads
// UseDefaultTemplate, UseDefaultNetVM and UseNoneNetVM; the core does not
// interpret the other fields.
type RestoreOptions struct {
	UseDefaultTemplate          bool
	UseDefaultNetVM             bool
	UseNoneNetVM                bool
	Dom0Home                    bool
	IgnoreDom0UsernameMismatch  bool
	ExcludeList                 []string
	ReplaceTemplate             map[string]string
}

// RestorePlan maps VM name to restore disposition, plus the resolved
// template/netvm remapping and options (§3).
type RestorePlan struct {
	Actions            map[string]VMAction
	TemplateRemapping  map[string]string
	NetVMRemapping     map[string]string
	Options            RestoreOptions

	// ExpectedTotalBytes and VMCount feed the resource-budget calculation
	// in §4.H / §6.
	ExpectedTotalBytes int64
	VMCount            int
}

// Selected reports whether name is marked ActionRestore.
func (p RestorePlan) Selected(name string) bool {
	return p.Actions[name] == ActionRestore
}
