// Package chunkio implements ChunkWriter and ChunkReader (§4.B, §4.C):
// the split-into-fixed-size-chunks layer that sits between the
// archive/cipher/compress chain and the outbound/inbound transport.
//
// Grounded on the teacher's internal/chunker package (streaming chunker
// over an io.Reader, chunk-by-chunk hashing) and daemon/manager's
// verification pattern (compute-then-compare-then-trust), rewritten so
// the digest comes from an external tool (internal/digesttool) instead of
// an in-process blake3.Hasher.
package chunkio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
	"github.com/itinerarium/qubes-core-admin/internal/digesttool"
	"github.com/itinerarium/qubes-core-admin/internal/observability"
	"github.com/itinerarium/qubes-core-admin/internal/sendqueue"
)

// ChunkSizeBytes is the fixed chunk size from §4.B: 100 000 KiB.
const ChunkSizeBytes = 100_000 * 1024

// Writer splits a byte stream into fixed-size chunks on disk, computing an
// HMAC alongside each chunk, and enqueuing (chunk, hmac) pairs to a
// sendqueue.Queue.
type Writer struct {
	TargetDir string
	Logical   string
	Algorithm string
	Passphrase string
	Queue     *sendqueue.Queue
	Log       *observability.Logger
	Digester  *digesttool.Digester

	// ChunkSize overrides ChunkSizeBytes; zero means use the default. Tests
	// set this to a small value to exercise multi-chunk splitting without
	// generating hundreds of megabytes of fixture data.
	ChunkSize int64
}

// NewWriter returns a Writer with a default Digester.
func NewWriter(targetDir, logical, algorithm, passphrase string, q *sendqueue.Queue, log *observability.Logger) *Writer {
	return &Writer{
		TargetDir:  targetDir,
		Logical:    logical,
		Algorithm:  algorithm,
		Passphrase: passphrase,
		Queue:      q,
		Log:        log,
		Digester:   digesttool.NewDigester(),
	}
}

// Run consumes src, the already-processed (optionally encrypted/
// compressed) byte stream for one logical file, splitting it into
// ChunkSizeBytes chunks. releaseVolume is called after every chunk except
// possibly the last, to write the newline that lets the outer archiver
// (§6) proceed to the next volume. It returns the number of chunks
// written.
func (w *Writer) Run(src io.Reader, releaseVolume func() error) (int, error) {
	chunkSize := w.ChunkSize
	if chunkSize == 0 {
		chunkSize = ChunkSizeBytes
	}

	idx := 0
	for {
		chunkName := backuptypes.ChunkName(w.Logical, idx)
		chunkPath := filepath.Join(w.TargetDir, chunkName)

		if err := os.MkdirAll(filepath.Dir(chunkPath), 0o755); err != nil {
			return idx, fmt.Errorf("creating chunk directory for %s: %w", chunkPath, err)
		}

		f, err := os.Create(chunkPath)
		if err != nil {
			return idx, fmt.Errorf("creating chunk file %s: %w", chunkPath, err)
		}

		stage, err := w.Digester.StartStage(w.Algorithm, w.Passphrase)
		if err != nil {
			f.Close()
			return idx, err
		}

		written, copyErr := io.CopyN(io.MultiWriter(f, stage), src, chunkSize)

		closeErr := f.Close()
		if closeErr != nil && copyErr == nil {
			copyErr = closeErr
		}

		hexDigest, finishErr := stage.Finish()
		if finishErr != nil {
			os.Remove(chunkPath)
			return idx, finishErr
		}

		if written == 0 && copyErr == io.EOF {
			// Nothing left to chunk; the previous chunk (if any) was final.
			os.Remove(chunkPath)
			return idx, nil
		}

		hmacPath := chunkPath + backuptypes.HMACSuffix
		if err := os.WriteFile(hmacPath, []byte(fmt.Sprintf("%s(stdin)= %s\n", w.Algorithm, hexDigest)), 0o644); err != nil {
			return idx, fmt.Errorf("writing %s: %w", hmacPath, err)
		}

		if w.Log != nil {
			w.Log.ChunkWritten(chunkName, int(written))
		}
		w.Queue.Put(chunkName, backuptypes.HMACName(chunkName))
		idx++

		if copyErr == io.EOF || written < chunkSize {
			// Final chunk: source is exhausted.
			return idx, nil
		}
		if copyErr != nil {
			return idx, fmt.Errorf("reading chunk %d of %s: %w", idx, w.Logical, copyErr)
		}

		if releaseVolume != nil {
			if err := releaseVolume(); err != nil {
				return idx, fmt.Errorf("releasing volume after chunk %d: %w", idx-1, err)
			}
		}
	}
}
