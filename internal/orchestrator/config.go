// Package orchestrator ties together PipelineRunner, ChunkWriter,
// ChunkReader, HeaderCodec, ArchiveWriter/Reader and SendQueue into the two
// public operations the rest of the system calls: Backup and Restore (plus
// the verify-only elaboration of Restore, §4.H).
//
// Grounded on the teacher's daemon/config.Config: same flat struct of
// tunables, the same DefaultConfig/LoadConfig split.
package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/itinerarium/qubes-core-admin/internal/chunkio"
	"github.com/itinerarium/qubes-core-admin/internal/pipeline"
	"github.com/itinerarium/qubes-core-admin/internal/sendqueue"
)

// Config holds the tunables a Backup/Restore run is built from (SPEC_FULL
// §A.3).
type Config struct {
	// ChunkSizeBytes overrides chunkio.ChunkSizeBytes; zero means use the
	// package default (100 000 KiB).
	ChunkSizeBytes int64
	// WorkDirRoot is the well-known root under which a fresh, process-private
	// working directory is created for every run (§3).
	WorkDirRoot string
	// DefaultHMACAlgorithm is the reader's first guess in the header
	// autodetect loop (§4.D). Backup does not read it; the writer uses the
	// plan's HMACAlgorithm.
	DefaultHMACAlgorithm string
	// QueueDepth records the SendQueue capacity (§4.G), 10. sendqueue.New
	// always uses sendqueue.Capacity and does not read this field.
	QueueDepth int
	// PipelineBlockSize is PipelineRunner's block size (§4.A, minimum 256 KiB).
	PipelineBlockSize int
	// HeaderFECParity, when > 0, is the number of Reed-Solomon parity shards
	// computed over the header member pair (backup-header + its .hmac),
	// written as extra members immediately following them. Backup also
	// declares the shard count in the header record's fec-parity key.
	// Restore does not read this field: it skips the shard members by name.
	HeaderFECParity int
	// VMFilesPerVM records the "ten archive members per VM" constant from
	// the resource-budget formula (§4.H). archive.MaxFilesForPlan uses its
	// own fixed 10 and does not read this field.
	VMFilesPerVM int
}

// DefaultConfig returns the spec's fixed constants (SPEC_FULL §A.3).
func DefaultConfig() *Config {
	return &Config{
		ChunkSizeBytes:       chunkio.ChunkSizeBytes,
		WorkDirRoot:          os.TempDir(),
		DefaultHMACAlgorithm: "sha512",
		QueueDepth:           sendqueue.Capacity,
		PipelineBlockSize:    pipeline.MinBlockSize,
		HeaderFECParity:      0,
		VMFilesPerVM:         10,
	}
}

// LoadConfig loads configuration from a file. No on-disk config format is
// specified; like the teacher's own LoadConfig this is a documented stub
// that returns the default until a real format is chosen.
func LoadConfig(configPath string) (*Config, error) {
	return DefaultConfig(), nil
}

func (c *Config) chunkSize() int64 {
	if c.ChunkSizeBytes > 0 {
		return c.ChunkSizeBytes
	}
	return chunkio.ChunkSizeBytes
}

func (c *Config) workDirRoot() string {
	if c.WorkDirRoot != "" {
		return c.WorkDirRoot
	}
	return os.TempDir()
}

func (c *Config) pipeName(workDir string) string {
	return filepath.Join(workDir, "stage.pipe")
}
