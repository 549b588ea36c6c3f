// Package observability carries the ambient logging, metrics, and tracing
// stack (SPEC_FULL §A.1), adapted directly from the teacher's
// internal/observability package: same zerolog wrapper shape, event-named
// helper methods instead of ad hoc field-setting at call sites, now naming
// backup/restore events instead of file-transfer events.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging. It implements the spec's
// Log collaborator (§6): Info(line) and Error(line).
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger scoped to one run of this
// module.
func NewLogger(output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", "qubes-backup-core").
		Logger()

	return &Logger{logger: logger}
}

// WithRun adds a run_id field, the identifier minted once per
// Orchestrator.Backup/Restore call (internal/orchestrator).
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{logger: l.logger.With().Str("run_id", runID).Logger()}
}

// WithVM adds a vm field for restore-side per-VM logging.
func (l *Logger) WithVM(vm string) *Logger {
	return &Logger{logger: l.logger.With().Str("vm", vm).Logger()}
}

// Info implements Log.info(line).
func (l *Logger) Info(line string) { l.logger.Info().Msg(line) }

// Error implements Log.error(line).
func (l *Logger) Error(line string) { l.logger.Error().Msg(line) }

// Debug logs a debug-level line, used for the high-frequency chunk events
// below.
func (l *Logger) Debug(line string) { l.logger.Debug().Msg(line) }

// ChunkWritten logs a completed chunk write (§4.B).
func (l *Logger) ChunkWritten(chunkName string, sizeBytes int) {
	l.logger.Debug().
		Str("chunk", chunkName).
		Int("size_bytes", sizeBytes).
		Msg("chunk written")
}

// ChunkVerified logs a successful HMAC verification (§4.C).
func (l *Logger) ChunkVerified(chunkName string) {
	l.logger.Debug().Str("chunk", chunkName).Msg("chunk verified")
}

// ChunkDropped logs a chunk announced outside the restore plan's
// selection (§8 scenario 6).
func (l *Logger) ChunkDropped(chunkName string) {
	l.logger.Info().Str("chunk", chunkName).Msg("chunk dropped: not in restore plan")
}

// StageExited logs a child stage's exit, successful or not.
func (l *Logger) StageExited(stage string, err error) {
	if err != nil {
		l.logger.Error().Str("stage", stage).Err(err).Msg("stage exited with error")
		return
	}
	l.logger.Debug().Str("stage", stage).Msg("stage exited cleanly")
}

// HeaderAlgorithmAdopted logs which HMAC algorithm the autodetect loop
// (§4.D) settled on.
func (l *Logger) HeaderAlgorithmAdopted(algorithm string) {
	l.logger.Info().Str("hmac_algorithm", algorithm).Msg("header algorithm adopted")
}

// RunStarted logs the start of a backup or restore run.
func (l *Logger) RunStarted(direction string, entryCount int, totalBytes int64) {
	l.logger.Info().
		Str("direction", direction).
		Int("entries", entryCount).
		Int64("total_bytes", totalBytes).
		Msg("run started")
}

// RunCompleted logs a successful run.
func (l *Logger) RunCompleted(direction string, duration time.Duration) {
	l.logger.Info().
		Str("direction", direction).
		Float64("duration_seconds", duration.Seconds()).
		Msg("run completed")
}

// RunFailed logs the one-line error summary required by §7
// ("User-visible behavior"): error kind plus failing stage/path.
func (l *Logger) RunFailed(direction string, err error) {
	l.logger.Error().
		Str("direction", direction).
		Err(err).
		Msg("run failed")
}
