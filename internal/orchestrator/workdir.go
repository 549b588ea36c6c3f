package orchestrator

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// makeFifo creates the named pipe a run's archive/chunk stages rendezvous
// on (§3 "Working directory... owns a named pipe"), grounded on the
// retrieval pack's own unix.Mkfifo usage for special-file creation.
func makeFifo(path string) error {
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return fmt.Errorf("creating named pipe %s: %w", path, err)
	}
	return nil
}
