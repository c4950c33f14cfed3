package routing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/routing"
	"github.com/example/commute-pool/internal/routing/routingtest"
)

var (
	a = models.Coord{Lat: 48.80, Lon: 9.10}
	b = models.Coord{Lat: 48.81, Lon: 9.15}
	c = models.Coord{Lat: 48.83, Lon: 9.31}
)

func TestCachedOracleServesRepeatLookups(t *testing.T) {
	stub := &routingtest.Stub{DirectDuration: 20, DirectDistance: 18}
	o := routing.NewCachedOracle(stub, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := o.DirectRoute(ctx, a, c); err != nil {
			t.Fatalf("direct: %v", err)
		}
		if _, err := o.OptimizedRoute(ctx, []models.Coord{a, b, c}); err != nil {
			t.Fatalf("optimized: %v", err)
		}
	}
	direct, optimized, _ := stub.Calls()
	if direct != 1 || optimized != 1 {
		t.Fatalf("expected one upstream call each, got direct=%d optimized=%d", direct, optimized)
	}
}

func TestCachedOracleDoesNotCacheFailures(t *testing.T) {
	fail := true
	stub := &routingtest.Stub{Direct: func(start, end models.Coord) (models.Route, error) {
		if fail {
			return models.Route{}, routing.ErrRouteUnavailable
		}
		return routing.SoloRoute(models.Route{DurationMin: 20}), nil
	}}
	o := routing.NewCachedOracle(stub, time.Minute)

	if _, err := o.DirectRoute(context.Background(), a, c); !errors.Is(err, routing.ErrRouteUnavailable) {
		t.Fatalf("expected failure, got %v", err)
	}
	fail = false
	r, err := o.DirectRoute(context.Background(), a, c)
	if err != nil || r.DurationMin != 20 {
		t.Fatalf("expected fresh lookup, got %+v %v", r, err)
	}
}

func TestCachedOracleReturnsCopies(t *testing.T) {
	stub := &routingtest.Stub{DirectDuration: 20}
	o := routing.NewCachedOracle(stub, time.Minute)
	r1, _ := o.DirectRoute(context.Background(), a, c)
	r1.WaypointOrder[0] = 42
	r2, _ := o.DirectRoute(context.Background(), a, c)
	if r2.WaypointOrder[0] != 0 {
		t.Fatalf("cache entry was mutated through a returned route")
	}
}

func TestCachedOracleChecksWaypointCountFirst(t *testing.T) {
	stub := &routingtest.Stub{}
	o := routing.NewCachedOracle(stub, time.Minute)
	if _, err := o.OptimizedRoute(context.Background(), []models.Coord{a}); !errors.Is(err, routing.ErrWaypointCount) {
		t.Fatalf("expected ErrWaypointCount, got %v", err)
	}
	if _, optimized, _ := stub.Calls(); optimized != 0 {
		t.Fatalf("expected no upstream call")
	}
}

func TestCacheExpires(t *testing.T) {
	cache := routing.NewCache(10 * time.Millisecond)
	cache.Set("k", models.Route{DurationMin: 1})
	if _, ok := cache.Get("k"); !ok {
		t.Fatalf("expected hit")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get("k"); ok {
		t.Fatalf("expected expiry")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry not evicted")
	}
}

func TestCacheSweepsExpiredEntriesOnSet(t *testing.T) {
	cache := routing.NewCache(10 * time.Millisecond)
	for _, k := range []string{"k1", "k2", "k3"} {
		cache.Set(k, models.Route{DurationMin: 1})
	}
	time.Sleep(20 * time.Millisecond)
	cache.Set("k4", models.Route{DurationMin: 1})
	if n := cache.Len(); n != 1 {
		t.Fatalf("expected unread expired keys to be swept, %d entries left", n)
	}
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	cache := routing.NewCacheWithLimit(time.Hour, 2)
	cache.Set("k1", models.Route{DurationMin: 1})
	time.Sleep(time.Millisecond)
	cache.Set("k2", models.Route{DurationMin: 2})
	time.Sleep(time.Millisecond)
	cache.Set("k3", models.Route{DurationMin: 3})

	if n := cache.Len(); n != 2 {
		t.Fatalf("expected cap of 2, got %d", n)
	}
	if _, ok := cache.Get("k1"); ok {
		t.Fatalf("expected oldest entry evicted")
	}
	if r, ok := cache.Get("k3"); !ok || r.DurationMin != 3 {
		t.Fatalf("expected newest entry kept")
	}
	// overwriting a key at capacity evicts nothing
	cache.Set("k2", models.Route{DurationMin: 4})
	if _, ok := cache.Get("k3"); !ok || cache.Len() != 2 {
		t.Fatalf("overwrite must not evict")
	}
}

func TestInstrumentedPassesThrough(t *testing.T) {
	stub := &routingtest.Stub{DirectDuration: 20}
	o := routing.NewInstrumented(stub)
	r, err := o.DirectRoute(context.Background(), a, c)
	if err != nil || r.DurationMin != 20 {
		t.Fatalf("unexpected result %+v %v", r, err)
	}
	if _, err := o.RoadSnap(context.Background(), []models.Coord{a, c}); err != nil {
		t.Fatalf("snap: %v", err)
	}
	if _, _, snap := stub.Calls(); snap != 1 {
		t.Fatalf("expected snap to reach stub")
	}
}
