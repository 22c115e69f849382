// Package metrics exposes engine counters through the OpenTelemetry metric
// API. No exporter is wired here; hosts that want the numbers attach their
// own provider.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Engine holds the counters recorded by the session engine.
type Engine struct {
	sessionsStarted   metric.Int64Counter
	sessionsCompleted metric.Int64Counter
	fallbacks         metric.Int64Counter
	replicationMerges metric.Int64Counter
}

// NewEngine registers the engine instruments on the global meter provider.
func NewEngine() *Engine {
	meter := otel.Meter("github.com/linkup-app/linkup")

	started, _ := meter.Int64Counter("linkup.sessions.started",
		metric.WithDescription("Recording sessions started"))
	completed, _ := meter.Int64Counter("linkup.sessions.completed",
		metric.WithDescription("Connection records committed"))
	fallbacks, _ := meter.Int64Counter("linkup.remote.fallbacks",
		metric.WithDescription("Remote calls recovered with deterministic fallback content"))
	merges, _ := meter.Int64Counter("linkup.replication.merges",
		metric.WithDescription("Records merged from the replication channel"))

	return &Engine{
		sessionsStarted:   started,
		sessionsCompleted: completed,
		fallbacks:         fallbacks,
		replicationMerges: merges,
	}
}

// SessionStarted records one started recording session.
func (e *Engine) SessionStarted(ctx context.Context, mode string) {
	e.sessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// SessionCompleted records one committed connection.
func (e *Engine) SessionCompleted(ctx context.Context) {
	e.sessionsCompleted.Add(ctx, 1)
}

// Fallback records one remote call recovered via local fallback content.
func (e *Engine) Fallback(ctx context.Context, service string) {
	e.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// ReplicationMerge records one record merged from the replication channel.
func (e *Engine) ReplicationMerge(ctx context.Context, namespace string) {
	e.replicationMerges.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}
