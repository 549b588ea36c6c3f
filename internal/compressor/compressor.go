// Package compressor wraps the external compressor tool (§6: "a compressor
// with standard stdin->stdout semantics"), used on the backup path when a
// plan requests compression without encryption (SPEC_FULL §C.2).
//
// Grounded on internal/digesttool.Cipher/CipherStage's Start/Wait/Kill
// process-lifecycle shape, trimmed down since gzip takes no algorithm or
// passphrase argument.
package compressor

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
)

// ToolPath is the compressor binary invoked by name; overridable by tests.
var ToolPath = "gzip"

// Stage wraps a long-running compressor process streaming compress or
// decompress.
type Stage struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// Start launches `gzip [-d]` per §6; decompress selects -d.
func Start(decompress bool) (*Stage, error) {
	args := []string{"-c"}
	if decompress {
		args = append(args, "-d")
	}
	cmd := exec.Command(ToolPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("compressor stage stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("compressor stage stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &backuptypes.StageFailure{Stage: "compress", Err: err}
	}
	return &Stage{cmd: cmd, Stdin: stdin, Stdout: stdout}, nil
}

// Wait waits for the process, reporting a non-zero exit as a StageFailure
// naming "compress". It does not close Stdin; the caller closes it once
// all input has been written.
func (s *Stage) Wait() error {
	if err := s.cmd.Wait(); err != nil {
		return &backuptypes.StageFailure{Stage: "compress", Err: err}
	}
	return nil
}

// Kill terminates the stage best-effort.
func (s *Stage) Kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

// Cmd exposes the underlying process so a pipeline.Runner can poll its
// exit status alongside sibling archive/cipher stages.
func (s *Stage) Cmd() *exec.Cmd { return s.cmd }
