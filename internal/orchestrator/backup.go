package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/itinerarium/qubes-core-admin/internal/archive"
	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
	"github.com/itinerarium/qubes-core-admin/internal/chunkio"
	"github.com/itinerarium/qubes-core-admin/internal/compressor"
	"github.com/itinerarium/qubes-core-admin/internal/digesttool"
	"github.com/itinerarium/qubes-core-admin/internal/headercodec"
	"github.com/itinerarium/qubes-core-admin/internal/observability"
	"github.com/itinerarium/qubes-core-admin/internal/pipeline"
	"github.com/itinerarium/qubes-core-admin/internal/sendqueue"
)

// Backup validates plan, builds the header, archives every entry in order,
// and streams the resulting outer archive to dest (§4.H "Backup").
func (o *Orchestrator) Backup(ctx context.Context, plan backuptypes.BackupPlan, dest io.Writer) (err error) {
	if verr := plan.Validate(); verr != nil {
		return verr
	}

	ctx, span := observability.Tracer.Start(ctx, "Backup")
	defer span.End()

	r, rerr := o.newRun("backup")
	if rerr != nil {
		return rerr
	}
	defer r.close()

	passphrase, rerr := o.resolvePassphrase(plan.Passphrase, r.dir)
	if rerr != nil {
		return rerr
	}
	if verr := backuptypes.ValidatePassphrase(passphrase); verr != nil {
		return verr
	}

	if ferr := makeFifo(r.pipe); ferr != nil {
		return ferr
	}

	start := time.Now()
	r.log.RunStarted("backup", len(plan.Entries), plan.TotalSizeBytes())
	defer func() {
		if err != nil {
			r.log.RunFailed("backup", err)
			o.Metrics.RunsTotal.WithLabelValues("backup", "failure").Inc()
			if sf, ok := asStageFailure(err); ok {
				o.Metrics.StageFailuresTotal.WithLabelValues(sf.Stage).Inc()
			}
			return
		}
		r.log.RunCompleted("backup", time.Since(start))
		o.Metrics.RunsTotal.WithLabelValues("backup", "success").Inc()
		o.Metrics.BytesArchivedTotal.WithLabelValues("backup").Add(float64(plan.TotalSizeBytes()))
	}()

	queue := sendqueue.New()
	sendErrCh := make(chan error, 1)
	go func() { sendErrCh <- sendWorker(r.dir, queue, dest, r.id, o.Ledger, r.log) }()

	if herr := o.writeHeader(r, plan, passphrase, queue); herr != nil {
		queue.Finish()
		<-sendErrCh
		return herr
	}

	if plan.InventoryXMLPath != "" {
		if ierr := o.backupInventoryXML(ctx, r, plan, passphrase, queue); ierr != nil {
			queue.Finish()
			<-sendErrCh
			return ierr
		}
	}

	for _, entry := range plan.Entries {
		if eerr := o.backupEntry(ctx, r, plan, entry, passphrase, queue); eerr != nil {
			queue.Finish()
			<-sendErrCh
			return eerr
		}
	}

	queue.Finish()
	if serr := <-sendErrCh; serr != nil {
		return serr
	}
	return nil
}

// writeHeader implements §4.D's write side: serialize backup-header,
// compute its authenticator, optionally protect the pair with Reed-Solomon
// parity shards, and enqueue every resulting member before any data chunk.
func (o *Orchestrator) writeHeader(r *run, plan backuptypes.BackupPlan, passphrase string, queue *sendqueue.Queue) error {
	header := backuptypes.BackupHeader{
		HMACAlgorithm:   plan.HMACAlgorithm,
		CryptoAlgorithm: plan.CryptoAlgorithm,
		Encrypted:       plan.Encrypted,
		Compressed:      plan.Compressed,
		FECParity:       o.Config.HeaderFECParity,
	}
	headerBytes, hmacLine, err := headercodec.Write(header, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(r.dir, headercodec.HeaderFilename), headerBytes, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", headercodec.HeaderFilename, err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, headercodec.HMACFilename), hmacLine, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", headercodec.HMACFilename, err)
	}
	queue.Put(headercodec.HeaderFilename, headercodec.HMACFilename)

	if o.Config.HeaderFECParity > 0 {
		combined := append(append([]byte{}, headerBytes...), hmacLine...)
		names, shards, err := protectHeaderBytes(combined, o.Config.HeaderFECParity)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(r.dir, name), shards[name], 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", name, err)
			}
			queue.Put(name, "")
		}
	}
	return nil
}

// inventoryLogicalName is the fixed logical-file name of the serialized VM
// inventory, §6 items 3-4.
const inventoryLogicalName = "qubes.xml"

// stageWaiter is the common shape of digesttool.CipherStage and
// compressor.Stage: something backupInventoryXML can join without caring
// which external tool it wraps.
type stageWaiter interface {
	Wait() error
}

// backupInventoryXML ships plan.InventoryXMLPath as the fixed "qubes.xml"
// logical file, through the same optional cipher/compress stage as a
// regular entry but without an ArchiveWriter, since the inventory is flat
// XML content rather than a filesystem path to preserve (§6 items 3-4).
func (o *Orchestrator) backupInventoryXML(ctx context.Context, r *run, plan backuptypes.BackupPlan, passphrase string, queue *sendqueue.Queue) error {
	_, span := observability.Tracer.Start(ctx, "backupInventoryXML")
	defer span.End()

	f, err := os.Open(plan.InventoryXMLPath)
	if err != nil {
		return fmt.Errorf("opening inventory xml: %w", err)
	}
	defer f.Close()

	var finalReader io.Reader = f
	var stage stageWaiter

	switch {
	case plan.Encrypted:
		cs, err := digesttool.NewCipher().Start(plan.CryptoAlgorithm, passphrase, false)
		if err != nil {
			return err
		}
		go func() {
			io.Copy(cs.Stdin, f)
			cs.Stdin.Close()
		}()
		finalReader = cs.Stdout
		stage = cs
	case plan.Compressed:
		cs, err := compressor.Start(false)
		if err != nil {
			return err
		}
		go func() {
			io.Copy(cs.Stdin, f)
			cs.Stdin.Close()
		}()
		finalReader = cs.Stdout
		stage = cs
	}

	chunkWriter := chunkio.NewWriter(r.dir, inventoryLogicalName, plan.HMACAlgorithm, passphrase, queue, r.log)
	chunkWriter.ChunkSize = o.Config.chunkSize()
	_, chunkErr := chunkWriter.Run(finalReader, func() error { return nil })

	if stage != nil {
		if serr := stage.Wait(); serr != nil && chunkErr == nil {
			chunkErr = serr
		}
	}
	return chunkErr
}

// backupEntry drives one BackupEntry through ArchiveWriter, the optional
// cipher/compress stage, and ChunkWriter (§4.E, §4.B).
func (o *Orchestrator) backupEntry(ctx context.Context, r *run, plan backuptypes.BackupPlan, entry backuptypes.BackupEntry, passphrase string, queue *sendqueue.Queue) error {
	_, span := observability.Tracer.Start(ctx, "backupEntry")
	defer span.End()

	logical := logicalNameForEntry(entry)

	aw := &archive.Writer{
		Pipe:          r.pipe,
		SourceDir:     filepath.Dir(entry.SourcePath),
		MemberName:    filepath.Base(entry.SourcePath),
		ArchiveSubdir: entry.ArchiveSubdir,
	}
	if err := aw.Start(); err != nil {
		return err
	}

	pipeFile, err := os.OpenFile(r.pipe, os.O_RDONLY, 0)
	if err != nil {
		if aw.Cmd().Process != nil {
			aw.Cmd().Process.Kill()
		}
		return &backuptypes.StageFailure{Stage: "archive-writer", Err: err}
	}

	stages := []*pipeline.Stage{{Name: "archive-writer", Cmd: aw.Cmd()}}
	awResult := make(chan error, 1)
	go func() { awResult <- aw.Wait() }()

	var finalReader io.Reader = pipeFile
	var extraCmdWaiter func() error
	var extraProcessKiller func()
	extraResult := make(chan error, 1)

	switch {
	case plan.Encrypted:
		cs, err := digesttool.NewCipher().Start(plan.CryptoAlgorithm, passphrase, false)
		if err != nil {
			aw.Cmd().Process.Kill()
			<-awResult
			return err
		}
		go func() {
			io.Copy(cs.Stdin, pipeFile)
			cs.Stdin.Close()
		}()
		finalReader = cs.Stdout
		stages = append(stages, &pipeline.Stage{Name: "crypto", Cmd: cs.Cmd()})
		extraCmdWaiter = cs.Wait
		extraProcessKiller = func() {
			if cs.Cmd().Process != nil {
				cs.Cmd().Process.Kill()
			}
		}
	case plan.Compressed:
		cs, err := compressor.Start(false)
		if err != nil {
			aw.Cmd().Process.Kill()
			<-awResult
			return err
		}
		go func() {
			io.Copy(cs.Stdin, pipeFile)
			cs.Stdin.Close()
		}()
		finalReader = cs.Stdout
		stages = append(stages, &pipeline.Stage{Name: "compress", Cmd: cs.Cmd()})
		extraCmdWaiter = cs.Wait
		extraProcessKiller = func() {
			if cs.Cmd().Process != nil {
				cs.Cmd().Process.Kill()
			}
		}
	}
	if extraCmdWaiter != nil {
		go func() { extraResult <- extraCmdWaiter() }()
	} else {
		extraResult <- nil
	}

	runner := pipeline.NewRunner(stages...)
	runner.BlockSize = o.Config.PipelineBlockSize

	pr, pw := io.Pipe()
	go func() {
		serr := runner.Supervise(finalReader, pw, nil)
		pw.CloseWithError(serr)
	}()

	chunkWriter := chunkio.NewWriter(r.dir, logical, plan.HMACAlgorithm, passphrase, queue, r.log)
	chunkWriter.ChunkSize = o.Config.chunkSize()
	_, chunkErr := chunkWriter.Run(pr, aw.ReleaseVolume)

	pipeFile.Close()
	if chunkErr != nil {
		if aw.Cmd().Process != nil {
			aw.Cmd().Process.Kill()
		}
		if extraProcessKiller != nil {
			extraProcessKiller()
		}
	}

	awErr := <-awResult
	extraErr := <-extraResult

	for _, e := range []error{chunkErr, awErr, extraErr} {
		if e != nil {
			return e
		}
	}
	return nil
}

// logicalNameForEntry derives the logical-file name ChunkWriter names its
// chunks after: the entry's ArchiveSubdir prepended to its basename (e.g.
// "vm1/private.img"), matching the outer archive member path tar itself
// uses (§4.E "path-transform prefix <archive_subdir>") so the restore side
// can recover both the extraction path and the owning VM name from it.
func logicalNameForEntry(entry backuptypes.BackupEntry) string {
	base := filepath.Base(entry.SourcePath)
	if entry.ArchiveSubdir == "" {
		return base
	}
	return entry.ArchiveSubdir + base
}

func asStageFailure(err error) (*backuptypes.StageFailure, bool) {
	var sf *backuptypes.StageFailure
	ok := errors.As(err, &sf)
	return sf, ok
}
