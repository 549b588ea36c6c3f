// Package pipeline implements PipelineRunner (§4.A): a single-threaded,
// cooperative supervisor over a linear chain of child processes connected
// by pipes. Grounded on the worker/supervisor shape of the teacher's
// daemon/transport scheduler and chunk sender, rewritten from a
// goroutine-pool worker loop to an os/exec process-exit poll loop since
// the stages here are real child processes, not in-process goroutines.
package pipeline

import (
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
)

// MinBlockSize is the minimum read block size mandated by §4.A (">= 256
// KiB").
const MinBlockSize = 256 * 1024

// PollInterval governs how often Supervise checks each monitored stage's
// exit status between block reads; it is not a timeout (§5: no wall-clock
// timeouts), only a cooperative scheduling quantum.
const PollInterval = 20 * time.Millisecond

// Stage names one monitored child process in the chain.
type Stage struct {
	Name string
	Cmd  *exec.Cmd
}

// exited reports whether the stage's process has exited; the returned error
// is always nil. A stage whose Cmd.Wait has not been called returns false.
func (s *Stage) exited() (done bool, err error) {
	if s.Cmd.ProcessState != nil {
		return true, nil
	}
	return false, nil
}

// Runner supervises a linear chain of stages. Stages must already be
// Start()-ed by the caller (the orchestrator owns stdin/stdout wiring);
// Runner only polls exit status and shuttles bytes between inStream and
// outStream, optionally teeing to an authenticator stage's stdin.
type Runner struct {
	Stages []*Stage
	// VMHelperIndex, if >= 0, names the stage whose lifecycle is managed
	// by the caller (§4.A rule 3): the restore-inbound "VM helper" is not
	// required to exit before Supervise returns.
	VMHelperIndex int
	BlockSize     int
}

// NewRunner returns a Runner with no VM-helper stage and the minimum
// block size.
func NewRunner(stages ...*Stage) *Runner {
	return &Runner{Stages: stages, VMHelperIndex: -1, BlockSize: MinBlockSize}
}

// Supervise reads inStream in fixed-size blocks, forwards each block to
// outStream and, if teeTo is non-nil, to an authenticator stage's stdin.
// Between block reads it polls each monitored stage's exit status. See
// §4.A for the full termination contract.
func (r *Runner) Supervise(inStream io.Reader, outStream io.Writer, teeTo io.Writer) error {
	blockSize := r.BlockSize
	if blockSize < MinBlockSize {
		blockSize = MinBlockSize
	}
	buf := make([]byte, blockSize)

	for {
		if failed, name := r.pollExits(); failed {
			return &backuptypes.StageFailure{Stage: name}
		}

		n, readErr := inStream.Read(buf)
		if n > 0 {
			if outStream != nil {
				if _, err := outStream.Write(buf[:n]); err != nil {
					return &backuptypes.TransportError{Err: fmt.Errorf("forwarding to out_stream: %w", err)}
				}
			}
			if teeTo != nil {
				if _, err := teeTo.Write(buf[:n]); err != nil {
					return &backuptypes.TransportError{Err: fmt.Errorf("forwarding to authenticator: %w", err)}
				}
			}
		}

		if readErr == io.EOF || n == 0 {
			// Rule 4: zero bytes while producer lives still returns Ok —
			// the producer is expected to close its output promptly.
			return nil
		}
		if readErr != nil {
			return &backuptypes.TransportError{Err: fmt.Errorf("reading in_stream: %w", readErr)}
		}
	}
}

// pollExits checks every monitored stage (skipping VMHelperIndex) for a
// non-zero exit. Stages whose Cmd.Wait has not yet completed are treated
// as still running; the caller (archive/chunk writer) is responsible for
// calling Wait on a background goroutine and recording ProcessState.
func (r *Runner) pollExits() (failed bool, stageName string) {
	for i, s := range r.Stages {
		if i == r.VMHelperIndex {
			continue
		}
		done, _ := s.exited()
		if !done {
			continue
		}
		if s.Cmd.ProcessState != nil && !s.Cmd.ProcessState.Success() {
			return true, s.Name
		}
	}
	return false, ""
}

// TerminateAll best-effort kills every stage and waits for each, used on
// the abort path (§5 "Cancellation"). Errors are swallowed: by the time
// this runs, the orchestrator already has the first real error to report.
func (r *Runner) TerminateAll() {
	for _, s := range r.Stages {
		if s.Cmd.Process != nil {
			_ = s.Cmd.Process.Kill()
		}
	}
	for _, s := range r.Stages {
		_ = s.Cmd.Wait()
	}
}
