package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/itinerarium/qubes-core-admin/internal/archive"
	"github.com/itinerarium/qubes-core-admin/internal/ledger"
	"github.com/itinerarium/qubes-core-admin/internal/observability"
	"github.com/itinerarium/qubes-core-admin/internal/sendqueue"
)

// sendWorker drains q, packing each (chunk, hmac) pair through the outer
// archive tool's single-member create-to-stdout mode and writing the
// result to out, the transport's outbound byte stream (§4.G). It is the
// sole consumer of q and, alongside the control thread writing chunk
// files, the only other agent that mutates the working directory (§5).
func sendWorker(workDir string, q *sendqueue.Queue, out io.Writer, runID string, ledg *ledger.Ledger, log *observability.Logger) error {
	for {
		item := q.Get()
		if item.Done {
			return nil
		}
		if err := sendOne(workDir, item.Chunk, out); err != nil {
			return err
		}
		if item.HMAC != "" {
			if err := sendOne(workDir, item.HMAC, out); err != nil {
				return err
			}
		}
		if ledg != nil {
			if err := ledg.MarkSent(runID, item.Chunk); err != nil {
				log.Error(fmt.Sprintf("ledger MarkSent failed for %s: %v", item.Chunk, err))
			}
		}
	}
}

// sendOne packs one member and deletes it on success (§3 "SendQueue takes
// ownership of chunk files and deletes them after transmission").
func sendOne(workDir, member string, out io.Writer) error {
	if err := archive.Pack(workDir, member, out); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(workDir, member)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing sent member %s: %w", member, err)
	}
	return nil
}
