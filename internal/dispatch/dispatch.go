// Package dispatch delivers committed ride events to interested parties:
// connected driver apps, a webhook, the event bus and the audit store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, ev models.RideEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev models.RideEvent) error

func (f PublisherFunc) Publish(ctx context.Context, ev models.RideEvent) error { return f(ctx, ev) }

type sink struct {
	name string
	pub  Publisher
}

// Fanout publishes every event to all registered sinks. A failing sink does
// not stop delivery to the others.
type Fanout struct {
	sinks  []sink
	logger *slog.Logger
}

func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{logger: logger}
}

// Add registers a sink. Not safe to call concurrently with Publish.
func (f *Fanout) Add(name string, p Publisher) *Fanout {
	f.sinks = append(f.sinks, sink{name: name, pub: p})
	return f
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Publish(ctx context.Context, ev models.RideEvent) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.pub.Publish(ctx, ev)
		switch {
		case err == nil:
			observability.EventsPublishedTotal.WithLabelValues(s.name, "ok").Inc()
		case errors.Is(err, ErrNoSession):
			observability.EventsPublishedTotal.WithLabelValues(s.name, "skipped").Inc()
		default:
			observability.EventsPublishedTotal.WithLabelValues(s.name, "error").Inc()
			f.logger.Warn("ride event delivery failed", "sink", s.name, "type", ev.Type, "ride_id", ev.RideID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
