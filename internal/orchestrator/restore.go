package orchestrator

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/itinerarium/qubes-core-admin/internal/archive"
	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
	"github.com/itinerarium/qubes-core-admin/internal/chunkio"
	"github.com/itinerarium/qubes-core-admin/internal/compressor"
	"github.com/itinerarium/qubes-core-admin/internal/digesttool"
	"github.com/itinerarium/qubes-core-admin/internal/headercodec"
	"github.com/itinerarium/qubes-core-admin/internal/observability"
	"github.com/itinerarium/qubes-core-admin/internal/vminventory"
)

// Restore implements §4.H's restore algorithm: detect the format version,
// delegate version 1 to a filesystem copy, and run the full demultiplex →
// verify → extract pipeline for version 2.
func (o *Orchestrator) Restore(ctx context.Context, sourcePath, destDir, passphrase string, plan backuptypes.RestorePlan) error {
	if isVersion1(sourcePath) {
		return restoreVersion1(sourcePath, destDir)
	}
	return o.restoreVersion2(ctx, sourcePath, destDir, passphrase, plan, false)
}

// Verify runs the identical demultiplex → verify pipeline as Restore but
// discards every chunk's bytes instead of feeding them to extraction
// (SPEC_FULL §C.4): a read-only authenticity check of a backup stream.
func (o *Orchestrator) Verify(ctx context.Context, sourcePath, passphrase string, plan backuptypes.RestorePlan) error {
	if isVersion1(sourcePath) {
		return nil
	}
	return o.restoreVersion2(ctx, sourcePath, "", passphrase, plan, true)
}

// isVersion1 detects the legacy flat-directory format (§4.H): a directory
// containing qubes.xml directly, with no outer archive framing.
func isVersion1(sourcePath string) bool {
	info, err := os.Stat(sourcePath)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(sourcePath, "qubes.xml"))
	return err == nil
}

// restoreVersion1 copies a legacy flat-directory backup straight to
// destDir. Version 1 carries no chunk/HMAC framing to verify (§3
// Non-goals: "does not guarantee forward compatibility of format version
// 1... version 1 is detected and delegated").
func restoreVersion1(sourcePath, destDir string) error {
	return filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourcePath, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
		if err != nil {
			return err
		}
		defer dst.Close()
		_, err = io.Copy(dst, src)
		return err
	})
}

// restoreVersion2 drives the demultiplexer, header auto-detection,
// ChunkReader verification and (unless verifyOnly) extraction/inventory
// reconciliation for one restore or verify run (§4.H "Restore").
func (o *Orchestrator) restoreVersion2(ctx context.Context, sourcePath, destDir, passphrase string, plan backuptypes.RestorePlan, verifyOnly bool) (err error) {
	direction := "restore"
	if verifyOnly {
		direction = "verify"
	}

	_, span := observability.Tracer.Start(ctx, direction)
	defer span.End()

	r, rerr := o.newRun(direction)
	if rerr != nil {
		return rerr
	}
	defer r.close()

	if !verifyOnly {
		if merr := os.MkdirAll(destDir, 0o755); merr != nil {
			return fmt.Errorf("creating destination directory: %w", merr)
		}
	}

	if ferr := makeFifo(r.pipe); ferr != nil {
		return ferr
	}

	start := time.Now()
	r.log.RunStarted(direction, len(plan.Actions), plan.ExpectedTotalBytes)
	defer func() {
		if err != nil {
			r.log.RunFailed(direction, err)
			o.Metrics.RunsTotal.WithLabelValues(direction, "failure").Inc()
			if sf, ok := asStageFailure(err); ok {
				o.Metrics.StageFailuresTotal.WithLabelValues(sf.Stage).Inc()
			}
			return
		}
		r.log.RunCompleted(direction, time.Since(start))
		o.Metrics.RunsTotal.WithLabelValues(direction, "success").Inc()
	}()

	maxFiles := archive.MaxFilesForPlan(plan.VMCount, plan.ExpectedTotalBytes, o.Config.chunkSize())
	demux := &archive.Demultiplexer{
		SourcePath: sourcePath,
		DestDir:    r.dir,
		MaxBytes:   plan.ExpectedTotalBytes,
		MaxFiles:   maxFiles,
	}
	if derr := demux.Start(); derr != nil {
		return derr
	}
	demuxWaited := false
	defer func() {
		if err != nil && !demuxWaited {
			demux.Kill()
		}
	}()

	headerName, ok := demux.Next()
	if !ok {
		return &backuptypes.PrematureEnd{}
	}
	if headerName != headercodec.HeaderFilename {
		return fmt.Errorf("%w: expected %q first, saw %q", backuptypes.ErrCorruptHeader, headercodec.HeaderFilename, headerName)
	}
	hmacName, ok := demux.Next()
	if !ok {
		return &backuptypes.PrematureEnd{LastName: headerName}
	}
	if hmacName != headercodec.HMACFilename {
		return fmt.Errorf("%w: expected %q second, saw %q", backuptypes.ErrCorruptHeader, headercodec.HMACFilename, hmacName)
	}

	headerBytes, rerr := os.ReadFile(filepath.Join(r.dir, headerName))
	if rerr != nil {
		return &backuptypes.AuthFailure{Path: headerName, Err: rerr}
	}
	hmacBytes, rerr := os.ReadFile(filepath.Join(r.dir, hmacName))
	if rerr != nil {
		return &backuptypes.AuthFailure{Path: hmacName, Err: rerr}
	}
	os.Remove(filepath.Join(r.dir, headerName))
	os.Remove(filepath.Join(r.dir, hmacName))

	header, algo, herr := headercodec.Read(headerBytes, hmacBytes, o.Config.DefaultHMACAlgorithm, passphrase)
	if herr != nil {
		return herr
	}
	header.HMACAlgorithm = algo

	// Skip any Reed-Solomon parity shards emitted alongside the header
	// (headerfec.go); their presence is self-describing by filename, so
	// this does not need to know the configured parity count up front.
	nextName, ok := demux.Next()
	for ok && strings.HasPrefix(nextName, headerFECShardPrefix) {
		os.Remove(filepath.Join(r.dir, nextName))
		nextName, ok = demux.Next()
	}

	sink := &restoreSink{
		run:        r,
		destDir:    destDir,
		header:     header,
		passphrase: passphrase,
		verifyOnly: verifyOnly,
	}

	chunkReader := chunkio.NewReader(r.dir, header.HMACAlgorithm, passphrase, sink, r.log)
	chunkReader.AdvanceVolume = sink.advanceVolume

	for ok {
		name := nextName
		hmacAnnounced, ok2 := demux.Next()
		if !ok2 {
			return &backuptypes.PrematureEnd{LastName: name}
		}

		if !chunkBelongsToPlan(name, plan) {
			os.Remove(filepath.Join(r.dir, name))
			os.Remove(filepath.Join(r.dir, hmacAnnounced))
			nextName, ok = demux.Next()
			continue
		}

		if aerr := chunkReader.Accept(name, hmacAnnounced); aerr != nil {
			sink.abort()
			return aerr
		}

		nextName, ok = demux.Next()
	}

	if ferr := chunkReader.Finish(); ferr != nil {
		return ferr
	}

	if derr := demux.Wait(); derr != nil {
		demuxWaited = true
		return derr
	}
	demuxWaited = true

	if !verifyOnly && o.Inventory != nil {
		if ierr := o.reconcileInventory(plan); ierr != nil {
			return ierr
		}
	}
	return nil
}

// chunkBelongsToPlan reports whether chunkName's logical file should be
// verified and, outside verify-only mode, extracted: the fixed inventory
// logical always belongs, everything else belongs only if its owning VM
// (the first path segment of its logical name) is marked ActionRestore
// (§4.H "names outside the plan are discarded").
func chunkBelongsToPlan(chunkName string, plan backuptypes.RestorePlan) bool {
	logical, ok := backuptypes.LogicalPrefix(chunkName)
	if !ok {
		return false
	}
	if logical == inventoryLogicalName {
		return true
	}
	vmName := logical
	if idx := strings.Index(logical, "/"); idx >= 0 {
		vmName = logical[:idx]
	}
	return plan.Selected(vmName)
}

// reconcileInventory applies plan's VM actions to the VmInventory
// collaborator once every selected VM's files have been restored (§6
// "the core only calls these... to reconcile after extraction").
func (o *Orchestrator) reconcileInventory(plan backuptypes.RestorePlan) error {
	if err := o.Inventory.Lock(); err != nil {
		return fmt.Errorf("locking inventory: %w", err)
	}
	defer o.Inventory.Unlock()

	for name, action := range plan.Actions {
		if action != backuptypes.ActionRestore {
			continue
		}
		template := plan.TemplateRemapping[name]
		if template == "" && plan.Options.UseDefaultTemplate {
			t, err := o.Inventory.DefaultTemplate()
			if err != nil {
				return fmt.Errorf("resolving default template for %s: %w", name, err)
			}
			template = t
		}
		netvm := plan.NetVMRemapping[name]
		if netvm == "" && !plan.Options.UseNoneNetVM && plan.Options.UseDefaultNetVM {
			n, err := o.Inventory.DefaultNetVM()
			if err != nil {
				return fmt.Errorf("resolving default netvm for %s: %w", name, err)
			}
			netvm = n
		}
		if _, err := o.Inventory.Add(vminventory.VmSpec{Name: name, Template: template, NetVM: netvm}); err != nil {
			return fmt.Errorf("adding restored vm %s: %w", name, err)
		}
	}
	return o.Inventory.Save()
}

// restoreSink implements chunkio.LogicalFileSink (§4.C, §4.F). For the
// fixed "qubes.xml" logical it writes straight to a plain file under the
// run's working directory; for every other logical it drives a fresh
// archive.Reader through the named pipe, with an optional decrypt/
// decompress stage in between mirroring backupEntry's forward chain in
// reverse. In verify-only mode it discards every logical's bytes without
// touching the cipher, compressor or archive tools at all.
type restoreSink struct {
	run        *run
	destDir    string
	header     backuptypes.BackupHeader
	passphrase string
	verifyOnly bool

	activeReader *archive.Reader
	waiters      []func() error
	killers      []func()
}

func (s *restoreSink) advanceVolume() error {
	if s.activeReader == nil {
		return nil
	}
	return s.activeReader.AdvanceVolume()
}

// NewLogicalFile satisfies chunkio.LogicalFileSink.
func (s *restoreSink) NewLogicalFile(logical string) (io.WriteCloser, error) {
	s.waiters = nil
	s.killers = nil
	s.activeReader = nil

	if s.verifyOnly {
		return discardWriteCloser{}, nil
	}
	if logical == inventoryLogicalName {
		return s.newInventoryWriter()
	}
	return s.newExtractWriter(logical)
}

func (s *restoreSink) newInventoryWriter() (io.WriteCloser, error) {
	path := filepath.Join(s.run.dir, inventoryLogicalName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", inventoryLogicalName, err)
	}

	w, waiter, err := s.wrapDecryptChain(f, f.Close)
	if err != nil {
		f.Close()
		return nil, err
	}
	if waiter != nil {
		s.waiters = append(s.waiters, waiter)
	}
	return w, nil
}

func (s *restoreSink) newExtractWriter(logical string) (io.WriteCloser, error) {
	rd := &archive.Reader{
		Pipe:       s.run.pipe,
		DestDir:    s.destDir,
		MemberPath: logical,
	}
	if err := rd.Start(); err != nil {
		return nil, err
	}
	s.activeReader = rd
	s.waiters = append(s.waiters, rd.Wait)
	s.killers = append(s.killers, rd.Kill)

	pipeFile, err := os.OpenFile(s.run.pipe, os.O_WRONLY, 0)
	if err != nil {
		return nil, &backuptypes.StageFailure{Stage: "archive-reader", Err: err}
	}

	w, waiter, err := s.wrapDecryptChain(pipeFile, pipeFile.Close)
	if err != nil {
		pipeFile.Close()
		return nil, err
	}
	if waiter != nil {
		s.waiters = append(s.waiters, waiter)
	}
	return w, nil
}

// wrapDecryptChain builds the reverse of backupEntry's forward chain: the
// returned writer accepts wire bytes (ciphertext, compressed bytes, or
// plain bytes), runs them through the header's declared cipher/compressor
// in reverse, and feeds the resulting plaintext into sink. sinkClose runs
// once the chain has flushed everything into sink, whether or not a stage
// was needed at all.
func (s *restoreSink) wrapDecryptChain(sink io.Writer, sinkClose func() error) (io.WriteCloser, func() error, error) {
	switch {
	case s.header.Encrypted:
		cs, err := digesttool.NewCipher().Start(s.header.CryptoAlgorithm, s.passphrase, true)
		if err != nil {
			return nil, nil, err
		}
		s.killers = append(s.killers, func() {
			if cs.Cmd().Process != nil {
				cs.Cmd().Process.Kill()
			}
		})
		writer, waiter := pumpStage(cs.Stdin, cs.Stdout, cs.Wait, sink, sinkClose)
		return writer, waiter, nil
	case s.header.Compressed:
		cs, err := compressor.Start(true)
		if err != nil {
			return nil, nil, err
		}
		s.killers = append(s.killers, func() {
			if cs.Cmd().Process != nil {
				cs.Cmd().Process.Kill()
			}
		})
		writer, waiter := pumpStage(cs.Stdin, cs.Stdout, cs.Wait, sink, sinkClose)
		return writer, waiter, nil
	default:
		return writeCloserFunc{Writer: sink, closeFn: sinkClose}, nil, nil
	}
}

// pumpStage copies a decrypt/decompress stage's stdout into sink in the
// background and returns the stage's stdin (for the caller to write wire
// bytes into) alongside a waiter that joins both the external process and
// the background copy, in that order, surfacing whichever failed first.
func pumpStage(stdin io.WriteCloser, stdout io.Reader, wait func() error, sink io.Writer, sinkClose func() error) (io.WriteCloser, func() error) {
	copyDone := make(chan error, 1)
	go func() {
		_, cerr := io.Copy(sink, stdout)
		if cerr2 := sinkClose(); cerr == nil {
			cerr = cerr2
		}
		copyDone <- cerr
	}()
	waiter := func() error {
		waitErr := wait()
		copyErr := <-copyDone
		if waitErr != nil {
			return waitErr
		}
		return copyErr
	}
	return stdin, waiter
}

// EndLogicalFile satisfies chunkio.LogicalFileSink: joins the archive
// reader (if any) and the decrypt/decompress stage (if any) for the
// logical file just finished.
func (s *restoreSink) EndLogicalFile() error {
	var first error
	for _, wait := range s.waiters {
		if werr := wait(); werr != nil && first == nil {
			first = werr
		}
	}
	s.waiters = nil
	s.killers = nil
	s.activeReader = nil
	return first
}

// abort terminates every child process started for the logical file in
// progress, best-effort, after a verification or stage failure.
func (s *restoreSink) abort() {
	for _, kill := range s.killers {
		kill()
	}
	s.killers = nil
}

type writeCloserFunc struct {
	io.Writer
	closeFn func() error
}

func (w writeCloserFunc) Close() error { return w.closeFn() }

type discardWriteCloser struct{}

func (discardWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriteCloser) Close() error                { return nil }
