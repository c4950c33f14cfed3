// Package matcher scores how well a rider fits a driver's current ride and
// ranks candidate riders.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/example/commute-pool/internal/geo"
	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/observability"
	"github.com/example/commute-pool/internal/routing"
)

const (
	TimeWeight      = 0.7
	ProximityWeight = 0.2
	DistanceWeight  = 0.1

	// ProximityRadiusKm is the distance from the route at which the
	// proximity sub-score reaches zero.
	ProximityRadiusKm = 50.0
)

// Breakdown explains a score. Reason is set whenever Score is 0 because a
// precondition failed.
type Breakdown struct {
	Score          float64 `json:"score"`
	TimeScore      float64 `json:"time_score"`
	ProximityScore float64 `json:"proximity_score"`
	DistanceScore  float64 `json:"distance_score"`
	// ProximityKm is +Inf when the ride has no geometry.
	ProximityKm float64 `json:"-"`
	DetourMin   float64 `json:"detour_min"`
	DetourKm    float64 `json:"detour_km"`
	Reason      string  `json:"reason,omitempty"`

	Route *models.Route `json:"-"`
}

type Calculator struct {
	Oracle routing.Oracle
	Logger *slog.Logger
}

func (c *Calculator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Evaluate scores candidate against ride. assigned reports whether the
// candidate already belongs to any ride. The ride is only read; the
// optimised route queried here is speculative and returned in the
// breakdown. Failures never propagate, they produce a zero score.
func (c *Calculator) Evaluate(ctx context.Context, ride *models.Ride, candidate *models.User, assigned bool) (b Breakdown) {
	defer func() {
		observability.MatchScore.Observe(b.Score)
	}()

	if !ride.Driver.SharesWorkplace(candidate) {
		b.Reason = fmt.Sprintf("workplace %s differs from %s", candidate.WorkplaceName, ride.Driver.WorkplaceName)
		return b
	}
	if assigned {
		b.Reason = "rider already has a ride"
		return b
	}

	b.ProximityKm = geo.MinDistanceKm(candidate.Home, ride.MatchedGeometry)

	route, err := c.Oracle.OptimizedRoute(ctx, ride.Coordinates(candidate))
	if err != nil {
		c.logger().Debug("score: oracle failed", "driver_id", ride.Driver.ID, "rider_id", candidate.ID, "error", err)
		b.Reason = fmt.Sprintf("no route: %v", err)
		return b
	}
	b.Route = &route
	if route.DurationMin > ride.MaxAllowedDuration() {
		b.Reason = fmt.Sprintf("route of %.1f minutes exceeds the %.1f minute budget", route.DurationMin, ride.MaxAllowedDuration())
		return b
	}

	b.DetourMin = route.DurationMin - ride.DirectDuration
	b.DetourKm = route.DistanceKm - ride.Route.DistanceKm

	if maxDetour := ride.Driver.Driver.MaxDetourMinutes; maxDetour > 0 {
		b.TimeScore = floor0(1 - b.DetourMin/maxDetour)
	}
	b.ProximityScore = floor0(1 - b.ProximityKm/ProximityRadiusKm)
	if cur := ride.Route.DistanceKm; cur > 0 {
		b.DistanceScore = floor0(1 - b.DetourKm/cur)
	}

	s := TimeWeight*b.TimeScore + ProximityWeight*b.ProximityScore + DistanceWeight*b.DistanceScore
	if math.IsNaN(s) {
		b.Reason = "score is not a number"
		return b
	}
	b.Score = math.Min(math.Max(s, 0), 1)
	return b
}

func floor0(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// Candidate is a rider considered for a ride. InRide marks riders already
// in the ride being inspected.
type Candidate struct {
	Rider     *models.User
	InRide    bool
	Breakdown Breakdown
}

func (c Candidate) Score() float64 { return c.Breakdown.Score }

// Rank orders candidates by score, best first, then by name and id.
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score() != b.Score() {
			return a.Score() > b.Score()
		}
		if a.Rider.Name != b.Rider.Name {
			return a.Rider.Name < b.Rider.Name
		}
		return a.Rider.ID < b.Rider.ID
	})
}
