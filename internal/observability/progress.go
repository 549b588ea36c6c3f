package observability

import (
	"golang.org/x/time/rate"
)

// ProgressSink is the spec's ProgressSink collaborator (§6):
// report(percent_int). No user-visible callback may be invoked from
// inside an I/O wait other than this one (§5).
type ProgressSink interface {
	Report(percent int)
}

// NoopProgressSink discards all reports, used where the caller does not
// care (e.g. Orchestrator.Verify, SPEC_FULL §C.4).
type NoopProgressSink struct{}

// Report implements ProgressSink.
func (NoopProgressSink) Report(int) {}

// RateLimitedSink wraps another ProgressSink and coalesces calls so a fast
// chunker cannot flood the UI/log with a report on every byte read —
// grounded on the teacher's bootstrap token-bucket rate limiter
// (golang.org/x/time/rate), repurposed from HTTP request throttling to
// progress-callback throttling.
type RateLimitedSink struct {
	inner   ProgressSink
	limiter *rate.Limiter
	last    int
}

// NewRateLimitedSink returns a sink that forwards to inner at most
// eventsPerSecond times per second, always forwarding the first 0% and
// final 100% report regardless of rate.
func NewRateLimitedSink(inner ProgressSink, eventsPerSecond float64) *RateLimitedSink {
	return &RateLimitedSink{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), 1),
		last:    -1,
	}
}

// Report implements ProgressSink, dropping reports the limiter rejects
// unless percent is 0, 100, or unchanged from the last forwarded value.
func (s *RateLimitedSink) Report(percent int) {
	if percent == 0 || percent == 100 || percent == s.last {
		s.last = percent
		s.inner.Report(percent)
		return
	}
	if s.limiter.Allow() {
		s.last = percent
		s.inner.Report(percent)
	}
}
