package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Relay directions
const (
	DirectionInbound  = "client_to_upstream"
	DirectionOutbound = "upstream_to_client"
)

// Metrics records relay counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeSessions   metric.Int64UpDownCounter
	frames           metric.Int64Counter
	cancellations    metric.Int64Counter
	upstreamFailures metric.Int64Counter
}

// NewMetrics registers the relay instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	activeSessions, err := meter.Int64UpDownCounter("relay.sessions.active",
		metric.WithDescription("Client sessions currently relaying"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions counter: %w", err)
	}

	frames, err := meter.Int64Counter("relay.frames",
		metric.WithDescription("Frames forwarded between client and upstream"))
	if err != nil {
		return nil, fmt.Errorf("failed to create frames counter: %w", err)
	}

	cancellations, err := meter.Int64Counter("relay.responses.cancelled",
		metric.WithDescription("response.cancel commands sent upstream"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cancellations counter: %w", err)
	}

	upstreamFailures, err := meter.Int64Counter("relay.upstream.failures",
		metric.WithDescription("Upstream connect or setup failures"))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream failures counter: %w", err)
	}

	return &Metrics{
		activeSessions:   activeSessions,
		frames:           frames,
		cancellations:    cancellations,
		upstreamFailures: upstreamFailures,
	}, nil
}

func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}

// FrameRelayed counts one forwarded frame, keyed by direction and the type
// written to the receiving side.
func (m *Metrics) FrameRelayed(ctx context.Context, direction, eventType string) {
	if m == nil {
		return
	}
	m.frames.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("type", eventType),
	))
}

// ResponseCancelled counts cancel commands; reason is "interruption" or "client".
func (m *Metrics) ResponseCancelled(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) UpstreamFailed(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.upstreamFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
