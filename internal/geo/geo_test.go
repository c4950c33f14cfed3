package geo

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/commute-pool/internal/models"
	"github.com/redis/go-redis/v9"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestPlanarKmUsesFlatDegrees(t *testing.T) {
	d := PlanarKm(models.Coord{Lat: 48, Lon: 9}, models.Coord{Lat: 48.3, Lon: 9.4})
	if math.Abs(d-55.5) > 1e-9 {
		t.Fatalf("expected 0.5 deg * 111 = 55.5 km, got %f", d)
	}
}

func TestMinDistanceKm(t *testing.T) {
	line := []models.Coord{{Lat: 48, Lon: 9}, {Lat: 48.1, Lon: 9}, {Lat: 48.2, Lon: 9}}
	d := MinDistanceKm(models.Coord{Lat: 48.1, Lon: 9.1}, line)
	if math.Abs(d-11.1) > 1e-9 {
		t.Fatalf("expected 11.1 km, got %f", d)
	}
	if !math.IsInf(MinDistanceKm(models.Coord{}, nil), 1) {
		t.Fatalf("empty line must be infinitely far")
	}
}

var (
	center = models.Coord{Lat: 48.80, Lon: 9.10}
	near   = models.Coord{Lat: 48.81, Lon: 9.10} // ~1.1 km
	mid    = models.Coord{Lat: 48.83, Lon: 9.10} // ~3.3 km
	far    = models.Coord{Lat: 49.30, Lon: 9.10} // ~55 km
)

func exerciseGeo(t *testing.T, g Geo) {
	t.Helper()
	ctx := context.Background()
	for id, c := range map[string]models.Coord{"near": near, "mid": mid, "far": far} {
		if err := g.Upsert(ctx, "STIHL", id, c); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if err := g.Upsert(ctx, "MERCEDES", "other", near); err != nil {
		t.Fatalf("upsert other: %v", err)
	}

	got, err := g.Nearby(ctx, "STIHL", center, 10, 0)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if !slices.Equal(got, []string{"near", "mid"}) {
		t.Fatalf("expected [near mid], got %v", got)
	}

	got, _ = g.Nearby(ctx, "STIHL", center, 10, 1)
	if !slices.Equal(got, []string{"near"}) {
		t.Fatalf("limit not applied: %v", got)
	}

	got, _ = g.Nearby(ctx, "STIHL", center, 0, 0)
	if !slices.Equal(got, []string{"near", "mid", "far"}) {
		t.Fatalf("expected all members closest first without radius, got %v", got)
	}
	got, _ = g.Nearby(ctx, "STIHL", far, 0, 2)
	if !slices.Equal(got, []string{"far", "mid"}) {
		t.Fatalf("expected distance order from the far end, got %v", got)
	}

	if err := g.Remove(ctx, "STIHL", "near"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ = g.Nearby(ctx, "STIHL", center, 10, 0)
	if !slices.Equal(got, []string{"mid"}) {
		t.Fatalf("expected [mid] after remove, got %v", got)
	}

	got, _ = g.Nearby(ctx, "UNKNOWN", center, 10, 0)
	if len(got) != 0 {
		t.Fatalf("expected empty result for unknown workplace, got %v", got)
	}
}

func TestIndexNearby(t *testing.T) {
	exerciseGeo(t, NewIndex())
}

func TestRedisGeoNearby(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	exerciseGeo(t, NewRedisGeo(client, "riders_geo"))

	if !s.Exists("riders_geo:MERCEDES") {
		t.Fatalf("expected per-workplace key")
	}
}
