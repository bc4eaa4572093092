// Package telemetry defines the TelemetrySink capability (§2 external
// collaborators): a passive signal emitter the merge pipeline and doctor
// sweep call into, never gating on its result.
package telemetry

import "github.com/lumenflow-dev/lumenflow/pkg/logger"

var log = logger.New("lumenflow:telemetry")

// Signal is a single passive event emitted by the engine, e.g. a lane
// completing or a zombie WU being flagged.
type Signal struct {
	Name   string
	WUID   string
	Lane   string
	Fields map[string]any
}

// Sink receives Signals. Implementations must never block the caller for
// long nor return an error the engine is expected to act on — per §2's
// "Non-goals" framing, telemetry is a best-effort collaborator.
type Sink interface {
	Emit(Signal)
}

// NoopSink discards every signal; the default when no sink is configured.
type NoopSink struct{}

func (NoopSink) Emit(Signal) {}

// LogSink logs every signal at debug level via pkg/logger, useful for
// local runs and tests that want to observe what the engine would have
// sent without wiring a real collector.
type LogSink struct{}

func (LogSink) Emit(s Signal) {
	log.Printf("signal %s wu=%s lane=%s fields=%v", s.Name, s.WUID, s.Lane, s.Fields)
}
