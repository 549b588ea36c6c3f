// Package backuptypes holds the data model shared by the backup and
// restore pipelines: plans, the header record, and the error taxonomy
// that every other package in this module reports through.
package backuptypes

import (
	"errors"
	"fmt"
)

// ErrPlanInvalid is returned when a BackupPlan fails validation before any
// byte is written to the output stream.
var ErrPlanInvalid = errors.New("plan invalid")

// ErrCorruptHeader is returned when the backup-header record cannot be
// parsed, or no HMAC algorithm verifies its accompanying .hmac file.
var ErrCorruptHeader = errors.New("corrupt header")

// ErrCancelled is returned when the caller requested termination mid-run.
var ErrCancelled = errors.New("cancelled")

// StageFailure reports that a named child stage in the pipeline exited
// non-zero, or otherwise died unexpectedly.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %q failed", e.Stage)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// AuthFailure reports an HMAC mismatch or a malformed HMAC file. Always
// fatal: the chunk that triggered it is never handed to decrypt/extract.
type AuthFailure struct {
	Path string
	Err  error
}

func (e *AuthFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("authentication failed for %s", e.Path)
}

func (e *AuthFailure) Unwrap() error { return e.Err }

// TransportError reports a read/write failure on the outbound or inbound
// byte stream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// PrematureEnd reports that the demultiplexer closed before announcing the
// end-of-stream sentinel, with a named chunk still pending verification.
type PrematureEnd struct {
	LastName string
}

func (e *PrematureEnd) Error() string {
	return fmt.Sprintf("stream ended prematurely after %q", e.LastName)
}

// ExtractError reports that the archive reader exited non-zero on
// finishing a logical file.
type ExtractError struct {
	Logical string
	Err     error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extraction of %q failed: %v", e.Logical, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// HeaderMismatch reports that an announced HMAC filename does not match
// the chunk filename it is supposed to authenticate.
type HeaderMismatch struct {
	Chunk string
	HMAC  string
}

func (e *HeaderMismatch) Error() string {
	return fmt.Sprintf("hmac filename %q does not match chunk %q", e.HMAC, e.Chunk)
}
