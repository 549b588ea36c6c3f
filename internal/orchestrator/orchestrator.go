package orchestrator

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/itinerarium/qubes-core-admin/internal/keystore"
	"github.com/itinerarium/qubes-core-admin/internal/ledger"
	"github.com/itinerarium/qubes-core-admin/internal/observability"
	"github.com/itinerarium/qubes-core-admin/internal/vminventory"
)

// Orchestrator is the top-level entry point (§4.H): it owns the working
// directory and its named pipe for the lifetime of one Backup or Restore
// call, and wires every leaf component together.
type Orchestrator struct {
	Config *Config
	Log    *observability.Logger
	Metrics *observability.Metrics
	Progress observability.ProgressSink

	// Ledger, if non-nil, records which chunks the send worker has handed
	// to the transport, keyed by run ID (SPEC_FULL §B). The send worker does
	// not consult it before sending, and a run's records are forgotten when
	// the run ends, success or failure. Optional: a fresh in-memory run
	// needs no durability.
	Ledger *ledger.Ledger

	// Inventory is the VmInventory collaborator (§6), consulted by Restore
	// to reconcile the extracted qubes.xml chunk against the caller's plan.
	Inventory vminventory.Inventory

	// KeystoreLockSecret, when non-empty, causes Backup to cache the
	// resolved passphrase at rest under the run's working directory
	// (SPEC_FULL §B), encrypted with this secret. Restore and Verify do not
	// read it; they use the passphrase their caller passes in.
	KeystoreLockSecret string
}

// sharedMetrics registers the Prometheus instruments once per process, so
// that every Orchestrator from New reports through the same instance
// instead of registering the same names on the default registry again.
var sharedMetrics = sync.OnceValue(observability.NewMetrics)

// New returns an Orchestrator with the supplied Config, defaulting the
// logger, metrics and progress sink when nil.
func New(cfg *Config) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		Config:   cfg,
		Log:      observability.NewLogger(os.Stderr),
		Metrics:  sharedMetrics(),
		Progress: observability.NoopProgressSink{},
	}
}

// run bundles the per-call state every Backup/Restore/Verify invocation
// builds: a fresh run ID, its own working directory, and its own derived
// logger — so concurrent calls on the same Orchestrator never share
// mutable state beyond the optional Ledger.
type run struct {
	id      string
	dir     string
	pipe    string
	log     *observability.Logger
	o       *Orchestrator
}

// newRun creates a fresh working directory and mints a run ID (§3
// "Working directory... a fresh, process-private temp directory").
func (o *Orchestrator) newRun(direction string) (*run, error) {
	id := uuid.New().String()
	dir, err := os.MkdirTemp(o.Config.workDirRoot(), "qubes-"+direction+"-")
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	r := &run{
		id:   id,
		dir:  dir,
		pipe: o.Config.pipeName(dir),
		log:  o.Log.WithRun(id),
		o:    o,
	}
	return r, nil
}

// close tears the working directory down unconditionally (§7 "The working
// directory is always removed on exit, success or failure").
func (r *run) close() {
	os.RemoveAll(r.dir)
	if r.o.Ledger != nil {
		_ = r.o.Ledger.ForgetRun(r.id)
	}
}

// resolvePassphrase returns planPassphrase directly when set, opportunistically
// caching it at rest under workDir (SPEC_FULL §B) when KeystoreLockSecret is
// configured; when planPassphrase is empty it recovers the cached value
// instead, which requires KeystoreLockSecret. Only Backup calls it.
func (o *Orchestrator) resolvePassphrase(planPassphrase, workDir string) (string, error) {
	path := keystorePath(workDir)
	if planPassphrase != "" {
		if o.KeystoreLockSecret != "" {
			if err := keystore.Save(path, planPassphrase, o.KeystoreLockSecret); err != nil {
				return "", fmt.Errorf("caching passphrase at rest: %w", err)
			}
		}
		return planPassphrase, nil
	}
	if o.KeystoreLockSecret == "" {
		return "", fmt.Errorf("no passphrase supplied and no keystore configured")
	}
	return keystore.Load(path, o.KeystoreLockSecret)
}

func keystorePath(workDir string) string {
	return workDir + string(os.PathSeparator) + ".passphrase"
}
