package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

// quicConfig mirrors the teacher's daemon/transport.DialQUIC/ListenQUIC
// tuning: generous receive windows since a chunk is up to 100 MB, and a
// keepalive so an idle restore (waiting on a slow VM) doesn't get dropped.
var quicConfig = &quic.Config{
	KeepAlivePeriod:                10 * time.Second,
	MaxIdleTimeout:                 60 * time.Second,
	InitialStreamReceiveWindow:     8 << 20,
	InitialConnectionReceiveWindow: 128 << 20,
}

// QUICTransport is the real-network Transport body: a single QUIC stream
// carries the outer archive byte stream in both directions (Write and
// Stdout share it), with stderr text copied as raw bytes from a second
// stream.
type QUICTransport struct {
	conn        *quic.Conn
	dataStream  *quic.Stream
	errorStream *quic.Stream
	stderrBuf   *bytes.Buffer
}

// DialQUICTransport connects to a helper listening at addr and opens the
// data and error streams in the order AcceptQUICTransport expects them.
func DialQUICTransport(ctx context.Context, addr string, tlsConfig *tls.Config) (*QUICTransport, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	dataStream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening data stream: %w", err)
	}
	errStream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening error stream: %w", err)
	}
	return &QUICTransport{conn: conn, dataStream: dataStream, errorStream: errStream, stderrBuf: &bytes.Buffer{}}, nil
}

// AcceptQUICTransport accepts a connection on listener and its two
// streams, the server-side counterpart of DialQUICTransport.
func AcceptQUICTransport(ctx context.Context, listener *quic.Listener) (*QUICTransport, error) {
	conn, err := listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accepting connection: %w", err)
	}
	dataStream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accepting data stream: %w", err)
	}
	errStream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accepting error stream: %w", err)
	}
	return &QUICTransport{conn: conn, dataStream: dataStream, errorStream: errStream, stderrBuf: &bytes.Buffer{}}, nil
}

// ListenQUICTransport starts a QUIC listener at addr, the server-side
// counterpart of DialQUICTransport's client.
func ListenQUICTransport(addr string, tlsConfig *tls.Config) (*quic.Listener, error) {
	return quic.ListenAddr(addr, tlsConfig, quicConfig)
}

func (t *QUICTransport) Write(b []byte) (int, error) { return t.dataStream.Write(b) }
func (t *QUICTransport) Stdout() io.Reader           { return t.dataStream }

// Stderr drains the error stream into stderrBuf lazily on first read,
// since the error stream is a small, bounded diagnostic channel rather
// than something callers read incrementally during the transfer.
func (t *QUICTransport) Stderr() io.Reader {
	if t.stderrBuf.Len() == 0 {
		io.Copy(t.stderrBuf, t.errorStream)
	}
	return t.stderrBuf
}

// Wait closes the local write side and blocks until the peer closes the
// connection, reporting its application error code as the exit status.
func (t *QUICTransport) Wait() (int, error) {
	t.dataStream.Close()
	<-t.conn.Context().Done()
	var appErr *quic.ApplicationError
	if err := context.Cause(t.conn.Context()); err != nil {
		if asAppErr(err, &appErr) {
			return int(appErr.ErrorCode), nil
		}
		return -1, err
	}
	return 0, nil
}

func (t *QUICTransport) Close() error {
	return t.conn.CloseWithError(0, "transport closed")
}

func asAppErr(err error, target **quic.ApplicationError) bool {
	ae, ok := err.(*quic.ApplicationError)
	if !ok {
		return false
	}
	*target = ae
	return true
}

var _ Transport = (*QUICTransport)(nil)
