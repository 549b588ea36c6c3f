// Package transport implements the Transport collaborator (§6): a
// bidirectional byte stream to the untrusted helper VM, plus its stderr
// and exit status. spec.md specifies this purely as an interface; this
// package supplies two concrete bodies: an in-process pipe transport used
// by tests, and a real-network QUIC
// transport grounded on the teacher's daemon/transport package.
package transport

import "io"

// Transport is the bidirectional byte stream to the untrusted helper VM
// (§6). Constructed from a service-invocation string in the original;
// here callers construct a concrete implementation directly. The
// orchestrator does not take a Transport: Backup writes to a plain
// io.Writer and Restore/Verify read a local archive path.
type Transport interface {
	io.Writer
	// Stdout is the inbound byte stream (the outer archive/demux data).
	Stdout() io.Reader
	// Stderr carries the helper's diagnostic output.
	Stderr() io.Reader
	// Wait blocks until the helper exits or the connection closes,
	// returning its exit/status code.
	Wait() (int, error)
	// Close releases the underlying connection or process.
	Close() error
}
