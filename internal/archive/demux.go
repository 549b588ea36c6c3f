package archive

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
)

// Demultiplexer wraps the local-mode direct-tar path of the restore
// demultiplexer (§4.H: "a direct outer-archive stage in local mode"). The
// untrusted-helper-VM mode instead reads an already-demultiplexed
// filename stream off a Transport, which this package does not wrap — the
// Transport collaborator contract (§6) only names a bidirectional byte
// stream, not a local process.
type Demultiplexer struct {
	// SourcePath is the local backup archive file to read.
	SourcePath string
	// DestDir is where tar materializes announced members.
	DestDir string
	// Members restricts extraction to these archive paths; empty means
	// everything in the archive.
	Members []string
	// MaxBytes and MaxFiles are the safety caps on untrusted input (§4.H,
	// §6), passed as UPDATES_MAX_BYTES / UPDATES_MAX_FILES.
	MaxBytes int64
	MaxFiles int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	names  *bufio.Scanner
}

// HeaderOnlyMaxFiles is the fixed UPDATES_MAX_FILES cap used when
// restoring only the header pair and inventory chunk (§4.H note: "backup
// header, backup-header.hmac, qubes.xml.000, qubes.xml.000.hmac").
const HeaderOnlyMaxFiles = 4

// MaxFilesForPlan computes UPDATES_MAX_FILES per §4.H: two files per
// chunk (data + hmac), ten archive members per VM, doubled for headroom.
func MaxFilesForPlan(vmCount int, expectedTotalBytes int64, chunkSizeBytes int64) int {
	return 2 * (10*vmCount + int(expectedTotalBytes/chunkSizeBytes))
}

// Start launches `tar -ixvf <source> -C <dest> <members...>` with the
// UPDATES_MAX_BYTES/UPDATES_MAX_FILES environment caps.
func (d *Demultiplexer) Start() error {
	// Verbose listing ("v") is how member names are announced on stdout.
	args := append([]string{"-ixvf", d.SourcePath, "-C", d.DestDir}, d.Members...)
	cmd := exec.Command(ToolPath, args...)
	cmd.Env = append(cmd.Environ(),
		fmt.Sprintf("UPDATES_MAX_BYTES=%d", d.MaxBytes),
		fmt.Sprintf("UPDATES_MAX_FILES=%d", d.MaxFiles),
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &backuptypes.StageFailure{Stage: "demultiplexer", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &backuptypes.StageFailure{Stage: "demultiplexer", Err: err}
	}
	d.cmd = cmd
	d.stdout = stdout
	d.names = bufio.NewScanner(stdout)
	return nil
}

// Next returns the next announced member name, or ok=false at end of
// stream.
func (d *Demultiplexer) Next() (name string, ok bool) {
	if !d.names.Scan() {
		return "", false
	}
	return d.names.Text(), true
}

// Wait blocks for tar to exit, reporting a non-zero exit as StageFailure
// naming "demultiplexer" — an untrusted sender exceeding UPDATES_MAX_BYTES
// or UPDATES_MAX_FILES surfaces here.
func (d *Demultiplexer) Wait() error {
	if err := d.cmd.Wait(); err != nil {
		return &backuptypes.StageFailure{Stage: "demultiplexer", Err: err}
	}
	return nil
}

// Kill terminates the process best-effort.
func (d *Demultiplexer) Kill() {
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	if d.cmd != nil {
		_ = d.cmd.Wait()
	}
}
