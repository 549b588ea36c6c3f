// Reader side of the chunkio package: ChunkReader (§4.C), the
// demultiplexer-facing verifier that recomputes and checks each chunk's
// HMAC before any byte of it is handed to the extraction pipeline.
//
// Grounded on daemon/manager/verification.go's compute-then-compare
// pattern, rewritten against an external digesttool.Digester instead of an
// in-process hasher, and on daemon/transport/chunk_sender.go's per-volume
// bookkeeping for when to start a new logical file versus continue the
// current one.
package chunkio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
	"github.com/itinerarium/qubes-core-admin/internal/digesttool"
	"github.com/itinerarium/qubes-core-admin/internal/observability"
)

// LogicalFileSink receives the verified, decrypted/decompressed bytes of
// one logical file. NewLogicalFile is called on ".000", EndLogicalFile on
// the next ".000" or on end-of-stream; it must wait for the underlying
// archive reader and return its exit status (§4.C steps 3/6).
type LogicalFileSink interface {
	// NewLogicalFile starts feeding a new logical file, named logical.
	NewLogicalFile(logical string) (io.WriteCloser, error)
	// EndLogicalFile closes the current logical file's writer and waits
	// for the archive reader, returning ExtractError on non-zero exit.
	EndLogicalFile() error
}

// Reader verifies (chunk, hmac) pairs announced by an untrusted
// demultiplexer and feeds authenticated bytes to a LogicalFileSink. This
// is the component embodying the central security invariant of the whole
// system (§4.C): no byte of a chunk reaches Sink until its HMAC verifies.
type Reader struct {
	WorkDir   string
	Algorithm string
	Passphrase string
	Sink      LogicalFileSink
	Log       *observability.Logger
	Digester  *digesttool.Digester

	// AdvanceVolume, if non-nil, is called before feeding every chunk past
	// the first ".000" of the current logical file — the restore-side
	// mirror of chunkio.Writer's releaseVolume, telling the archive reader
	// to mount its next volume (§4.F, §9 "Volume boundary signalling").
	AdvanceVolume func() error

	currentLogical string
	currentWriter  io.WriteCloser
	haveLogical    bool
}

// NewReader returns a Reader with a default Digester.
func NewReader(workDir, algorithm, passphrase string, sink LogicalFileSink, log *observability.Logger) *Reader {
	return &Reader{
		WorkDir:    workDir,
		Algorithm:  algorithm,
		Passphrase: passphrase,
		Sink:       sink,
		Log:        log,
		Digester:   digesttool.NewDigester(),
	}
}

// Accept processes one (chunkName, hmacName) pair announced by the
// demultiplexer; both names are relative to r.WorkDir, where the files have
// already been materialized.
func (r *Reader) Accept(chunkName, hmacName string) error {
	if hmacName != backuptypes.HMACName(chunkName) {
		return &backuptypes.HeaderMismatch{Chunk: chunkName, HMAC: hmacName}
	}

	chunkPath := filepath.Join(r.WorkDir, chunkName)
	hmacPath := filepath.Join(r.WorkDir, hmacName)

	if err := r.verify(chunkPath, hmacPath, chunkName); err != nil {
		return err
	}
	os.Remove(hmacPath)
	if r.Log != nil {
		r.Log.ChunkVerified(chunkName)
	}

	logical, ok := backuptypes.LogicalPrefix(chunkName)
	if !ok {
		return fmt.Errorf("chunk name %q has no logical prefix", chunkName)
	}

	if backuptypes.IsFirstChunk(chunkName) {
		if r.haveLogical {
			if err := r.closeLogical(); err != nil {
				return err
			}
		}
		w, err := r.Sink.NewLogicalFile(logical)
		if err != nil {
			return err
		}
		r.currentLogical = logical
		r.currentWriter = w
		r.haveLogical = true
		return r.feed(chunkPath, w)
	}

	if !r.haveLogical || logical != r.currentLogical {
		// A non-.000 chunk whose prefix doesn't match the active logical
		// file: chunks of different logical files were interleaved out of
		// order (§8 "Chunk ordering").
		return &backuptypes.ExtractError{Logical: logical, Err: fmt.Errorf("out-of-order chunk %q while feeding %q", chunkName, r.currentLogical)}
	}

	if r.AdvanceVolume != nil {
		if err := r.AdvanceVolume(); err != nil {
			return err
		}
	}
	return r.feed(chunkPath, r.currentWriter)
}

// closeLogical closes the writer for the currently active logical file and
// waits for the archive reader via Sink.EndLogicalFile.
func (r *Reader) closeLogical() error {
	if err := r.currentWriter.Close(); err != nil {
		return fmt.Errorf("closing logical file %q: %w", r.currentLogical, err)
	}
	if err := r.Sink.EndLogicalFile(); err != nil {
		return err
	}
	r.currentWriter = nil
	r.haveLogical = false
	return nil
}

// feed writes chunkPath's bytes into w, the writer NewLogicalFile handed
// back for the active logical file, for every chunk of that file, then
// removes the chunk file.
func (r *Reader) feed(chunkPath string, w io.WriteCloser) error {
	f, err := os.Open(chunkPath)
	if err != nil {
		return fmt.Errorf("opening chunk %s: %w", chunkPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("feeding chunk %s: %w", chunkPath, err)
	}
	os.Remove(chunkPath)
	return nil
}

// verify recomputes the HMAC of chunkPath and compares it against the
// authenticator stored in hmacPath, per the parser in §3/§6.
func (r *Reader) verify(chunkPath, hmacPath, chunkName string) error {
	raw, err := os.ReadFile(hmacPath)
	if err != nil {
		return &backuptypes.AuthFailure{Path: hmacPath, Err: err}
	}
	want, err := backuptypes.ParseAuthenticator(string(raw))
	if err != nil {
		return &backuptypes.AuthFailure{Path: hmacPath, Err: err}
	}

	f, err := os.Open(chunkPath)
	if err != nil {
		return &backuptypes.AuthFailure{Path: chunkPath, Err: err}
	}
	defer f.Close()

	got, err := r.Digester.SumReader(r.Algorithm, r.Passphrase, f)
	if err != nil {
		return &backuptypes.AuthFailure{Path: chunkPath, Err: err}
	}

	if got != want {
		return &backuptypes.AuthFailure{Path: hmacPath, Err: fmt.Errorf("hmac mismatch for %s", chunkName)}
	}
	return nil
}

// Finish must be called once the demultiplexer signals end-of-stream: it
// closes out the active logical file (if any) and requires the archive
// reader's exit code to be 0.
func (r *Reader) Finish() error {
	if r.haveLogical {
		return r.closeLogical()
	}
	return nil
}
