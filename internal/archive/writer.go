// Package archive drives the outer archive tool (tar) in the three modes
// this system needs: multi-volume create (backup side, §4.E), multi-volume
// extract (restore side, §4.F), and the single-member create-to-stdout
// invocation the send worker uses to push one finished chunk onto the
// transport (§4.G). It also wraps the restore-side demultiplexer that
// materializes an untrusted outer-archive stream into the working
// directory and announces member names on a side channel (§4.H, §6).
//
// Grounded on the teacher's daemon/transport package for the
// Start/Wait/Kill shape around a long-lived external process, and on
// internal/pipeline.Stage for the same process-exit bookkeeping; the tar
// invocations themselves are drawn from the distilled implementation's
// tar command lines (backup §4.E "--tape-length 100000", restore §4.F
// "-xMkf").
package archive

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
)

// VolumeLengthBlocks is tar's --tape-length argument, chosen so that a
// volume boundary falls exactly at ChunkSizeBytes (100 000 KiB, tar's
// "blocks" here meaning 1 KiB units per its --tape-length convention).
const VolumeLengthBlocks = 100_000

// ToolPath is the outer archive tool invoked by name throughout this
// package; overridable by tests.
var ToolPath = "tar"

// Writer wraps the outer archive tool in multi-volume create mode for one
// BackupEntry (§4.E). It is restarted for every entry.
type Writer struct {
	// Pipe is the named pipe the tar process writes its multi-volume
	// stream to; ChunkWriter reads the other end.
	Pipe string
	// SourceDir is the entry's parent directory; tar changes into it
	// before archiving so the archive member name is a bare basename.
	SourceDir string
	// MemberName is the basename of the file or directory being archived.
	MemberName string
	// ArchiveSubdir is the namespace prefix applied to the member name
	// inside the archive (may be empty); enforced by backuptypes.BackupEntry
	// to be empty or end in "/".
	ArchiveSubdir string
	// Debug passes tar's stderr output through to this process's stderr
	// instead of discarding it.
	Debug bool

	cmd   *exec.Cmd
	Stdin io.WriteCloser
}

// Start launches tar. Stdin is piped because GNU tar's multi-volume create
// mode prompts for the next volume the same way its extract mode does
// (§4.B "releases the next volume by writing a newline into the outer
// archiver's stdin"); the pipe named by Pipe is tar's own output (its -f
// argument, not a Go pipe).
func (w *Writer) Start() error {
	xform := fmt.Sprintf(`s:^[^/]:%s\0:`, w.ArchiveSubdir)
	args := []string{
		"-Pc", "--sparse",
		"-f", w.Pipe,
		"--tape-length", fmt.Sprintf("%d", VolumeLengthBlocks),
		"-C", w.SourceDir,
		"--xform", xform,
		w.MemberName,
	}
	cmd := exec.Command(ToolPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &backuptypes.StageFailure{Stage: "archive-writer", Err: err}
	}
	if w.Debug {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return &backuptypes.StageFailure{Stage: "archive-writer", Err: err}
	}
	w.cmd = cmd
	w.Stdin = stdin
	return nil
}

// ReleaseVolume writes the newline that lets tar proceed to the next
// volume on Pipe, the create-side counterpart of Reader.AdvanceVolume.
func (w *Writer) ReleaseVolume() error {
	if _, err := w.Stdin.Write([]byte("\n")); err != nil {
		return &backuptypes.TransportError{Err: err}
	}
	return nil
}

// Cmd exposes the underlying process so a pipeline.Runner can poll its
// exit status alongside sibling cipher/compress stages.
func (w *Writer) Cmd() *exec.Cmd { return w.cmd }

// Wait blocks for tar to exit, reporting any non-zero exit as a
// StageFailure naming "archive-writer".
func (w *Writer) Wait() error {
	if err := w.cmd.Wait(); err != nil {
		return &backuptypes.StageFailure{Stage: "archive-writer", Err: err}
	}
	return nil
}

// Kill terminates the process best-effort, used on the abort path.
func (w *Writer) Kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	if w.cmd != nil {
		_ = w.cmd.Wait()
	}
}
