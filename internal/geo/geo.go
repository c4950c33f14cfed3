package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/commute-pool/internal/models"
)

// KmPerDegree is the flat conversion used for proximity scoring. It is a
// planar approximation, not a geodesic distance.
const KmPerDegree = 111.0

// PlanarKm is the Euclidean distance between a and b in degree space,
// scaled by KmPerDegree.
func PlanarKm(a, b models.Coord) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lon-b.Lon) * KmPerDegree
}

// MinDistanceKm returns the planar distance from p to the closest point of
// line, or +Inf for an empty line.
func MinDistanceKm(p models.Coord, line []models.Coord) float64 {
	best := math.Inf(1)
	for _, q := range line {
		if d := PlanarKm(p, q); d < best {
			best = d
		}
	}
	return best
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Geo indexes rider homes per workplace so candidate listing can skip
// riders living far from a driver.
type Geo interface {
	Upsert(ctx context.Context, workplace, id string, home models.Coord) error
	Remove(ctx context.Context, workplace, id string) error
	// Nearby returns member ids closest first. radiusKm <= 0 means no
	// radius bound and limit <= 0 means no count bound.
	Nearby(ctx context.Context, workplace string, center models.Coord, radiusKm float64, limit int) ([]string, error)
}

// Index is the in-process Geo used when Redis is not configured.
type Index struct {
	mu    sync.RWMutex
	homes map[string]map[string]models.Coord
}

func NewIndex() *Index {
	return &Index{homes: make(map[string]map[string]models.Coord)}
}

func (g *Index) Upsert(_ context.Context, workplace, id string, home models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.homes[workplace]
	if !ok {
		m = make(map[string]models.Coord)
		g.homes[workplace] = m
	}
	m[id] = home
	return nil
}

func (g *Index) Remove(_ context.Context, workplace, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.homes[workplace], id)
	return nil
}

// naive scan; a workplace has at most a few thousand commuters
func (g *Index) Nearby(_ context.Context, workplace string, center models.Coord, radiusKm float64, limit int) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   string
		dist float64
	}
	arr := make([]pair, 0, len(g.homes[workplace]))
	for id, home := range g.homes[workplace] {
		dist := Haversine(center.Lat, center.Lon, home.Lat, home.Lon) / 1000
		if radiusKm > 0 && dist > radiusKm {
			continue
		}
		arr = append(arr, pair{id, dist})
	}
	n := len(arr)
	if limit > 0 && limit < n {
		n = limit
	}
	// partial selection sort for top-N; ties broken by id for stable output
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist || (arr[j].dist == arr[minIdx].dist && arr[j].id < arr[minIdx].id) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].id)
	}
	return out, nil
}
