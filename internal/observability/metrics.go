package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the backup/restore core,
// trimmed from the teacher's much larger daemon Metrics struct down to
// what this core itself can observe (no QUIC/crypto-handshake metrics;
// internal/transport, where the quic-go Transport implementation lives,
// records none either).
type Metrics struct {
	ChunksWrittenTotal  prometheus.Counter
	ChunksVerifiedTotal prometheus.Counter
	AuthFailuresTotal   *prometheus.CounterVec
	StageFailuresTotal  *prometheus.CounterVec
	BytesArchivedTotal  *prometheus.CounterVec
	RunsTotal           *prometheus.CounterVec
}

// NewMetrics registers and returns a fresh Metrics instance against the
// default registry, mirroring promauto.New* usage in the teacher's
// NewMetrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksWrittenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qubes_backup_chunks_written_total",
			Help: "Total chunks written to the working directory.",
		}),
		ChunksVerifiedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "qubes_backup_chunks_verified_total",
			Help: "Total chunks whose HMAC verified successfully on restore.",
		}),
		AuthFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qubes_backup_auth_failures_total",
			Help: "Total HMAC authentication failures, by cause.",
		}, []string{"cause"}),
		StageFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qubes_backup_stage_failures_total",
			Help: "Total child-stage failures, by stage name.",
		}, []string{"stage"}),
		BytesArchivedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qubes_backup_bytes_total",
			Help: "Total bytes moved through the pipeline, by direction.",
		}, []string{"direction"}),
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "qubes_backup_runs_total",
			Help: "Total backup/restore runs, by direction and outcome.",
		}, []string{"direction", "outcome"}),
	}
}
