package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

/* Recorder counts intake requests and processing attempts
 * It implements webhook.Observer so the service reports every attempt.
 */
type Recorder struct {
	received metric.Int64Counter
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

func NewRecorder(meter metric.Meter) (*Recorder, error) {
	received, err := meter.Int64Counter(
		"webhook.received",
		metric.WithDescription("Webhook deliveries accepted by the intake endpoint"),
		metric.WithUnit("{webhooks}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}

	attempts, err := meter.Int64Counter(
		"webhook.processing.attempts",
		metric.WithDescription("Processing attempts by outcome"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attempts counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"webhook.processing.duration",
		metric.WithDescription("Time spent in a processing attempt"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &Recorder{received: received, attempts: attempts, duration: duration}, nil
}

// Received counts an accepted delivery; duplicate deliveries are tagged
func (r *Recorder) Received(ctx context.Context, platform webhook.Platform, duplicate bool) {
	r.received.Add(ctx, 1, metric.WithAttributes(
		attribute.String("webhook.platform", platform.String()),
		attribute.Bool("webhook.duplicate", duplicate),
	))
}

func (r *Recorder) Observe(ctx context.Context, record webhook.Record, outcome webhook.Outcome, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("webhook.platform", record.Platform.String()),
		attribute.String("webhook.event_type", record.EventType),
		attribute.String("webhook.outcome", outcome.String()),
	)
	r.attempts.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)
}

var _ webhook.Observer = (*Recorder)(nil)
