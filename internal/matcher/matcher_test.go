package matcher

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/example/commute-pool/internal/logging"
	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/routing"
	"github.com/example/commute-pool/internal/routing/routingtest"
)

var stihl = models.Coord{Lat: 48.8315, Lon: 9.3095}

func testRide() *models.Ride {
	driver := &models.User{
		ID: "d1", Name: "Dora", Home: models.Coord{Lat: 48.80, Lon: 9.10},
		Workplace: stihl, WorkplaceName: "STIHL", Role: models.RoleDriver,
		Driver: &models.DriverProfile{MaxDetourMinutes: 30, MaxRiders: 2},
	}
	return &models.Ride{
		ID:     "ride-d1",
		Driver: driver,
		Route: routing.SoloRoute(models.Route{
			DistanceKm: 20, DurationMin: 20,
			Geometry: []models.Coord{driver.Home, stihl},
		}),
		MatchedGeometry: []models.Coord{driver.Home, stihl},
		DirectDuration:  20,
	}
}

func rider(id, name string, home models.Coord) *models.User {
	return &models.User{
		ID: id, Name: name, Home: home, Workplace: stihl, WorkplaceName: "STIHL",
		Role: models.RoleRider, Rider: &models.RiderProfile{},
	}
}

func newCalc(stub *routingtest.Stub) *Calculator {
	return &Calculator{Oracle: stub, Logger: logging.Discard()}
}

func fixedRoute(distance, duration float64) func([]models.Coord) (models.Route, error) {
	return func(coords []models.Coord) (models.Route, error) {
		return routingtest.InputOrderRoute(coords, distance, duration), nil
	}
}

func TestWorkplaceMismatchScoresZeroWithoutOracle(t *testing.T) {
	stub := &routingtest.Stub{}
	r := rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10})
	r.WorkplaceName = "MERCEDES"
	r.Workplace = models.Coord{Lat: 48.7833, Lon: 9.2250}

	b := newCalc(stub).Evaluate(context.Background(), testRide(), r, false)
	if b.Score != 0 || b.Reason == "" {
		t.Fatalf("expected zero score with reason, got %+v", b)
	}
	if _, opt, _ := stub.Calls(); opt != 0 {
		t.Fatalf("oracle must not be queried on workplace mismatch")
	}
}

func TestSameNameDifferentCoordinateIsMismatch(t *testing.T) {
	stub := &routingtest.Stub{}
	r := rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10})
	r.Workplace = models.Coord{Lat: 1, Lon: 1}
	if s := newCalc(stub).Evaluate(context.Background(), testRide(), r, false).Score; s != 0 {
		t.Fatalf("expected 0, got %f", s)
	}
}

func TestAssignedRiderScoresZeroWithoutOracle(t *testing.T) {
	stub := &routingtest.Stub{}
	r := rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10})
	if s := newCalc(stub).Evaluate(context.Background(), testRide(), r, true).Score; s != 0 {
		t.Fatalf("expected 0, got %f", s)
	}
	if _, opt, _ := stub.Calls(); opt != 0 {
		t.Fatalf("oracle must not be queried for assigned riders")
	}
}

func TestScoreWeightsSubScores(t *testing.T) {
	// detour 15 of 30 -> time 0.5; rider on the route -> proximity 1;
	// 4 extra km on 20 -> distance 0.8
	stub := &routingtest.Stub{Optimized: fixedRoute(24, 35)}
	r := rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10})

	b := newCalc(stub).Evaluate(context.Background(), testRide(), r, false)
	want := 0.7*0.5 + 0.2*1 + 0.1*0.8
	if math.Abs(b.Score-want) > 1e-9 {
		t.Fatalf("score = %f, want %f (%+v)", b.Score, want, b)
	}
	if b.DetourMin != 15 || b.DetourKm != 4 || b.Route == nil {
		t.Fatalf("unexpected breakdown %+v", b)
	}
}

func TestScoreQueriesDriverRidersCandidateWorkplace(t *testing.T) {
	ride := testRide()
	existing := rider("r0", "Ada", models.Coord{Lat: 48.81, Lon: 9.15})
	ride.Riders = []*models.User{existing}
	cand := rider("r1", "Rita", models.Coord{Lat: 48.82, Lon: 9.20})

	var seen []models.Coord
	stub := &routingtest.Stub{Optimized: func(coords []models.Coord) (models.Route, error) {
		seen = coords
		return routingtest.InputOrderRoute(coords, 22, 30), nil
	}}
	newCalc(stub).Evaluate(context.Background(), ride, cand, false)

	want := []models.Coord{ride.Driver.Home, existing.Home, cand.Home, stihl}
	if len(seen) != len(want) {
		t.Fatalf("coords = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("coords = %v, want %v", seen, want)
		}
	}
	if len(ride.Riders) != 1 {
		t.Fatalf("scoring must not mutate the ride")
	}
}

func TestScoreZeroWhenOverBudget(t *testing.T) {
	stub := &routingtest.Stub{Optimized: fixedRoute(30, 51)}
	r := rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10})
	b := newCalc(stub).Evaluate(context.Background(), testRide(), r, false)
	if b.Score != 0 || b.Reason == "" {
		t.Fatalf("expected zero with reason, got %+v", b)
	}
}

func TestScoreAtExactBudgetIsNotRejected(t *testing.T) {
	stub := &routingtest.Stub{Optimized: fixedRoute(20, 50)}
	r := rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10})
	b := newCalc(stub).Evaluate(context.Background(), testRide(), r, false)
	// time score 0, proximity 1, distance 1
	if math.Abs(b.Score-0.3) > 1e-9 {
		t.Fatalf("expected 0.3, got %+v", b)
	}
}

func TestScoreZeroOnOracleFailure(t *testing.T) {
	stub := &routingtest.Stub{Optimized: func([]models.Coord) (models.Route, error) {
		return models.Route{}, routing.ErrRouteUnavailable
	}}
	r := rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10})
	if s := newCalc(stub).Evaluate(context.Background(), testRide(), r, false).Score; s != 0 {
		t.Fatalf("expected 0, got %f", s)
	}
}

func TestScoreZeroWhenRideIsFull(t *testing.T) {
	// 12 stops is the oracle maximum; an 11th rider cannot be routed
	ride := testRide()
	ride.Driver.Driver.MaxRiders = 20
	for i := 0; i < 10; i++ {
		ride.Riders = append(ride.Riders, rider("x", "X", models.Coord{Lat: 48.8, Lon: 9.1}))
	}
	stub := &routingtest.Stub{}
	s := newCalc(stub).Evaluate(context.Background(), ride, rider("r1", "Rita", models.Coord{Lat: 48.8, Lon: 9.1}), false).Score
	if s != 0 {
		t.Fatalf("expected 0, got %f", s)
	}
}

func TestZeroMaxDetourGivesZeroTimeScore(t *testing.T) {
	ride := testRide()
	ride.Driver.Driver.MaxDetourMinutes = 0
	stub := &routingtest.Stub{Optimized: fixedRoute(20, 20)}
	b := newCalc(stub).Evaluate(context.Background(), ride, rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10}), false)
	if b.TimeScore != 0 || math.Abs(b.Score-0.3) > 1e-9 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
}

func TestEmptyGeometryGivesZeroProximity(t *testing.T) {
	ride := testRide()
	ride.MatchedGeometry = nil
	stub := &routingtest.Stub{Optimized: fixedRoute(20, 20)}
	b := newCalc(stub).Evaluate(context.Background(), ride, rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10}), false)
	if !math.IsInf(b.ProximityKm, 1) || b.ProximityScore != 0 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
}

func TestScoreAlwaysInUnitRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		dist := rng.Float64()*60 - 10
		dur := rng.Float64()*80 - 10
		stub := &routingtest.Stub{Optimized: fixedRoute(dist, dur)}
		ride := testRide()
		ride.Route.DistanceKm = rng.Float64() * 30
		home := models.Coord{Lat: 48 + rng.Float64(), Lon: 9 + rng.Float64()}
		s := newCalc(stub).Evaluate(context.Background(), ride, rider("r", "R", home), false).Score
		if s < 0 || s > 1 || math.IsNaN(s) {
			t.Fatalf("score %f out of range (dist=%f dur=%f)", s, dist, dur)
		}
	}
}

func TestRankOrdersByScoreThenName(t *testing.T) {
	cands := []Candidate{
		{Rider: &models.User{ID: "3", Name: "Carl"}, Breakdown: Breakdown{Score: 0.5}},
		{Rider: &models.User{ID: "1", Name: "Bea"}, Breakdown: Breakdown{Score: 0.9}},
		{Rider: &models.User{ID: "2", Name: "Anna"}, Breakdown: Breakdown{Score: 0.5}},
		{Rider: &models.User{ID: "4", Name: "Zed"}, InRide: true},
	}
	Rank(cands)
	want := []string{"Bea", "Anna", "Carl", "Zed"}
	for i, c := range cands {
		if c.Rider.Name != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, c.Rider.Name, want[i])
		}
	}
}

func TestCanceledContextScoresZero(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub := &routingtest.Stub{}
	b := newCalc(stub).Evaluate(ctx, testRide(), rider("r1", "Rita", models.Coord{Lat: 48.80, Lon: 9.10}), false)
	if b.Score != 0 || !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatalf("expected zero score, got %+v", b)
	}
}
