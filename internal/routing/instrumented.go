package routing

import (
	"context"
	"time"

	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/observability"
)

// Instrumented records request counts and latency for every oracle call.
type Instrumented struct {
	next Oracle
}

func NewInstrumented(next Oracle) *Instrumented {
	return &Instrumented{next: next}
}

func observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.OracleRequestsTotal.WithLabelValues(op, outcome).Inc()
	observability.OracleRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (i *Instrumented) DirectRoute(ctx context.Context, start, end models.Coord) (models.Route, error) {
	t := time.Now()
	r, err := i.next.DirectRoute(ctx, start, end)
	observe("direct", t, err)
	return r, err
}

func (i *Instrumented) OptimizedRoute(ctx context.Context, coords []models.Coord) (models.Route, error) {
	t := time.Now()
	r, err := i.next.OptimizedRoute(ctx, coords)
	observe("optimized", t, err)
	return r, err
}

func (i *Instrumented) RoadSnap(ctx context.Context, coords []models.Coord) ([]models.Coord, error) {
	t := time.Now()
	r, err := i.next.RoadSnap(ctx, coords)
	observe("snap", t, err)
	return r, err
}
