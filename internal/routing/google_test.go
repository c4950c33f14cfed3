package routing

import (
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"googlemaps.github.io/maps"
)

func TestFullVisitOrder(t *testing.T) {
	cases := []struct {
		name         string
		intermediate []int
		n            int
		want         []int
	}{
		{"solo", nil, 2, []int{0, 1}},
		{"single waypoint omitted", nil, 3, []int{0, 1, 2}},
		{"single waypoint", []int{0}, 3, []int{0, 1, 2}},
		{"reordered", []int{2, 0, 1}, 5, []int{0, 3, 1, 2, 4}},
	}
	for _, tc := range cases {
		got, err := fullVisitOrder(tc.intermediate, tc.n)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if !slices.Equal(got, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFullVisitOrderRejectsMismatch(t *testing.T) {
	for _, in := range [][]int{{0}, {0, 0}, {0, 5}} {
		if _, err := fullVisitOrder(in, 4); !errors.Is(err, ErrRouteUnavailable) {
			t.Errorf("fullVisitOrder(%v): expected ErrRouteUnavailable, got %v", in, err)
		}
	}
}

func TestRouteFromGoogleSumsLegs(t *testing.T) {
	route := maps.Route{
		OverviewPolyline: maps.Polyline{Points: maps.Encode([]maps.LatLng{{Lat: 48.8, Lng: 9.1}, {Lat: 48.83, Lng: 9.31}})},
		Legs: []*maps.Leg{
			{Distance: maps.Distance{Meters: 5000}, Duration: 10 * time.Minute},
			{Distance: maps.Distance{Meters: 15000}, Duration: 20 * time.Minute},
		},
	}
	r, err := routeFromGoogle(route)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.DistanceKm != 20 || r.DurationMin != 30 {
		t.Fatalf("unexpected totals %+v", r)
	}
	if !slices.Equal(r.LegDurations, []float64{10, 20}) {
		t.Fatalf("unexpected legs %v", r.LegDurations)
	}
	if len(r.Geometry) != 2 || math.Abs(r.Geometry[0].Lat-48.8) > 1e-6 || math.Abs(r.Geometry[0].Lon-9.1) > 1e-6 {
		t.Fatalf("unexpected geometry %v", r.Geometry)
	}
}

func TestValidVisitOrder(t *testing.T) {
	if !ValidVisitOrder([]int{0, 2, 1, 3}, 4) {
		t.Fatalf("expected valid")
	}
	for _, bad := range [][]int{{1, 0, 2, 3}, {0, 1, 3, 2}, {0, 1, 1, 3}, {0, 1, 3}} {
		if ValidVisitOrder(bad, 4) {
			t.Errorf("expected %v to be invalid", bad)
		}
	}
}
