// Package routingtest provides a scriptable routing.Oracle for tests.
package routingtest

import (
	"context"
	"sync"

	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/routing"
)

// Stub answers oracle calls from the configured functions and counts them.
// A nil function answers with a straight-line route: DirectDuration for
// direct routes, and input-order waypoints for optimised ones.
type Stub struct {
	mu sync.Mutex

	Direct    func(start, end models.Coord) (models.Route, error)
	Optimized func(coords []models.Coord) (models.Route, error)
	Snap      func(coords []models.Coord) ([]models.Coord, error)

	DirectDuration float64
	DirectDistance float64

	DirectCalls    int
	OptimizedCalls int
	SnapCalls      int
}

var _ routing.Oracle = (*Stub)(nil)

func (s *Stub) DirectRoute(ctx context.Context, start, end models.Coord) (models.Route, error) {
	s.mu.Lock()
	s.DirectCalls++
	fn := s.Direct
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return models.Route{}, err
	}
	if fn != nil {
		return fn(start, end)
	}
	return routing.SoloRoute(models.Route{
		DistanceKm:  s.DirectDistance,
		DurationMin: s.DirectDuration,
		Geometry:    []models.Coord{start, end},
	}), nil
}

func (s *Stub) OptimizedRoute(ctx context.Context, coords []models.Coord) (models.Route, error) {
	if len(coords) < routing.MinWaypoints || len(coords) > routing.MaxWaypoints {
		return models.Route{}, routing.ErrWaypointCount
	}
	s.mu.Lock()
	s.OptimizedCalls++
	fn := s.Optimized
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return models.Route{}, err
	}
	if fn != nil {
		return fn(coords)
	}
	return InputOrderRoute(coords, s.DirectDistance, s.DirectDuration), nil
}

func (s *Stub) RoadSnap(ctx context.Context, coords []models.Coord) ([]models.Coord, error) {
	s.mu.Lock()
	s.SnapCalls++
	fn := s.Snap
	s.mu.Unlock()
	if fn != nil {
		return fn(coords)
	}
	return append([]models.Coord(nil), coords...), nil
}

func (s *Stub) Calls() (direct, optimized, snap int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DirectCalls, s.OptimizedCalls, s.SnapCalls
}

// InputOrderRoute builds a route visiting coords in input order with the
// duration split evenly across legs.
func InputOrderRoute(coords []models.Coord, distanceKm, durationMin float64) models.Route {
	n := len(coords)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	legs := make([]float64, n-1)
	for i := range legs {
		legs[i] = durationMin / float64(n-1)
	}
	return models.Route{
		DistanceKm:    distanceKm,
		DurationMin:   durationMin,
		Geometry:      append([]models.Coord(nil), coords...),
		WaypointOrder: order,
		LegDurations:  legs,
	}
}
