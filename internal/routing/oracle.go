// Package routing is the client side of the routing oracle: direct routes,
// multi-stop optimised routes and road snapping. Distances are kilometres,
// durations minutes, coordinates (lat, lon).
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/commute-pool/internal/models"
)

const (
	MinWaypoints = 2
	MaxWaypoints = 12
)

var (
	// ErrRouteUnavailable wraps every oracle failure: transport errors, no
	// route, malformed responses, mismatching waypoint or leg counts.
	ErrRouteUnavailable = errors.New("route unavailable")
	// ErrWaypointCount is returned without contacting the oracle when an
	// optimised route is requested for fewer than 2 or more than 12 stops.
	ErrWaypointCount = fmt.Errorf("%w: waypoint count must be between %d and %d", ErrRouteUnavailable, MinWaypoints, MaxWaypoints)
)

// Oracle is the routing service the matching core consumes.
type Oracle interface {
	DirectRoute(ctx context.Context, start, end models.Coord) (models.Route, error)
	// OptimizedRoute keeps the first coordinate as source and the last as
	// destination and lets the oracle order the rest.
	OptimizedRoute(ctx context.Context, coords []models.Coord) (models.Route, error)
	// RoadSnap is best effort; callers keep their geometry when it fails.
	RoadSnap(ctx context.Context, coords []models.Coord) ([]models.Coord, error)
}

func checkWaypointCount(n int) error {
	if n < MinWaypoints || n > MaxWaypoints {
		return fmt.Errorf("%w (got %d)", ErrWaypointCount, n)
	}
	return nil
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRouteUnavailable, fmt.Sprintf(format, args...))
}

// SoloRoute turns a direct route into a two-stop route record.
func SoloRoute(r models.Route) models.Route {
	r.WaypointOrder = []int{0, 1}
	r.LegDurations = []float64{r.DurationMin}
	return r
}

// ValidVisitOrder reports whether order is a permutation of 0..n-1 that
// starts at 0 and ends at n-1.
func ValidVisitOrder(order []int, n int) bool {
	if len(order) != n || n < 2 || order[0] != 0 || order[n-1] != n-1 {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}

// downsample keeps at most limit points by taking every step-th point.
func downsample(coords []models.Coord, limit int) []models.Coord {
	if len(coords) <= limit {
		return coords
	}
	step := len(coords)/limit + 1
	out := make([]models.Coord, 0, limit)
	for i := 0; i < len(coords) && len(out) < limit; i += step {
		out = append(out, coords[i])
	}
	return out
}
