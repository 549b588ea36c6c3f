package transport

import (
	"bytes"
	"io"
)

// PipeTransport is an in-process Transport backed by in-memory pipes,
// used by tests where there is no real untrusted helper VM to talk to.
type PipeTransport struct {
	stdinReader *io.PipeReader
	stdinWriter *io.PipeWriter
	stdout      io.Reader
	stderr      *bytes.Buffer
	exitCode    int
	waitErr     error
}

// NewPipeTransport returns a PipeTransport whose inbound stream is
// stdout; writes through the Transport go to an internal pipe the caller
// can read back via StdinReader, mirroring how a local direct-tar stage
// stands in for the untrusted helper's stdin/stdout pair.
func NewPipeTransport(stdout io.Reader) *PipeTransport {
	r, w := io.Pipe()
	return &PipeTransport{
		stdinReader: r,
		stdinWriter: w,
		stdout:      stdout,
		stderr:      &bytes.Buffer{},
	}
}

// StdinReader exposes the read end of what was written through Write, for
// a test harness standing in as the "remote" side.
func (p *PipeTransport) StdinReader() io.Reader { return p.stdinReader }

func (p *PipeTransport) Write(b []byte) (int, error) { return p.stdinWriter.Write(b) }
func (p *PipeTransport) Stdout() io.Reader           { return p.stdout }
func (p *PipeTransport) Stderr() io.Reader           { return p.stderr }

// SetResult lets a test harness record the simulated helper's exit code
// and any terminal error before Wait is called.
func (p *PipeTransport) SetResult(code int, err error) {
	p.exitCode = code
	p.waitErr = err
}

func (p *PipeTransport) Wait() (int, error) { return p.exitCode, p.waitErr }

func (p *PipeTransport) Close() error {
	return p.stdinWriter.Close()
}

var _ Transport = (*PipeTransport)(nil)
