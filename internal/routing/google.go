package routing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"googlemaps.github.io/maps"

	"github.com/example/commute-pool/internal/models"
)

const maxSnapPoints = 100

// GoogleClient implements Oracle on the Google Maps Directions and Roads
// APIs. Google speaks lat,lng natively, so no axis swap happens here.
type GoogleClient struct {
	client *maps.Client
}

// NewGoogleClient creates a GoogleClient with the given API key.
func NewGoogleClient(apiKey string, timeout time.Duration) (*GoogleClient, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey), maps.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleClient{client: client}, nil
}

func (g *GoogleClient) DirectRoute(ctx context.Context, start, end models.Coord) (models.Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLngString(start),
		Destination: latLngString(end),
		Mode:        maps.TravelModeDriving,
	}
	route, err := g.directions(ctx, r)
	if err != nil {
		return models.Route{}, err
	}
	out, err := routeFromGoogle(route)
	if err != nil {
		return models.Route{}, err
	}
	return SoloRoute(out), nil
}

func (g *GoogleClient) OptimizedRoute(ctx context.Context, coords []models.Coord) (models.Route, error) {
	if err := checkWaypointCount(len(coords)); err != nil {
		return models.Route{}, err
	}
	n := len(coords)
	waypoints := make([]string, 0, n-2)
	for _, c := range coords[1 : n-1] {
		waypoints = append(waypoints, latLngString(c))
	}
	r := &maps.DirectionsRequest{
		Origin:      latLngString(coords[0]),
		Destination: latLngString(coords[n-1]),
		Waypoints:   waypoints,
		Optimize:    len(waypoints) > 1,
		Mode:        maps.TravelModeDriving,
	}
	route, err := g.directions(ctx, r)
	if err != nil {
		return models.Route{}, err
	}
	order, err := fullVisitOrder(route.WaypointOrder, n)
	if err != nil {
		return models.Route{}, err
	}
	if len(route.Legs) != n-1 {
		return models.Route{}, unavailable("leg count %d does not match %d stops", len(route.Legs), n)
	}
	out, err := routeFromGoogle(route)
	if err != nil {
		return models.Route{}, err
	}
	out.WaypointOrder = order
	return out, nil
}

func (g *GoogleClient) RoadSnap(ctx context.Context, coords []models.Coord) ([]models.Coord, error) {
	if len(coords) < 2 {
		return nil, unavailable("road snapping needs at least 2 coordinates")
	}
	coords = downsample(coords, maxSnapPoints)
	path := make([]maps.LatLng, len(coords))
	for i, c := range coords {
		path[i] = maps.LatLng{Lat: c.Lat, Lng: c.Lon}
	}
	resp, err := g.client.SnapToRoad(ctx, &maps.SnapToRoadRequest{Path: path, Interpolate: true})
	if err != nil {
		return nil, fmt.Errorf("%w: roads api: %w", ErrRouteUnavailable, err)
	}
	if len(resp.SnappedPoints) == 0 {
		return nil, unavailable("no snapped points")
	}
	out := make([]models.Coord, len(resp.SnappedPoints))
	for i, p := range resp.SnappedPoints {
		out[i] = models.Coord{Lat: p.Location.Lat, Lon: p.Location.Lng}
	}
	return out, nil
}

func (g *GoogleClient) directions(ctx context.Context, r *maps.DirectionsRequest) (maps.Route, error) {
	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return maps.Route{}, fmt.Errorf("%w: maps api: %w", ErrRouteUnavailable, err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return maps.Route{}, unavailable("no route found")
	}
	return routes[0], nil
}

func routeFromGoogle(route maps.Route) (models.Route, error) {
	points, err := route.OverviewPolyline.Decode()
	if err != nil {
		return models.Route{}, unavailable("decode polyline: %v", err)
	}
	var out models.Route
	out.LegDurations = make([]float64, len(route.Legs))
	for i, leg := range route.Legs {
		out.DistanceKm += float64(leg.Distance.Meters) / 1000
		out.DurationMin += leg.Duration.Minutes()
		out.LegDurations[i] = leg.Duration.Minutes()
	}
	out.Geometry = make([]models.Coord, len(points))
	for i, p := range points {
		out.Geometry[i] = models.Coord{Lat: p.Lat, Lon: p.Lng}
	}
	return out, nil
}

// fullVisitOrder expands Google's order of intermediate waypoints into a
// visiting sequence over all n stops.
func fullVisitOrder(intermediate []int, n int) ([]int, error) {
	if n == 2 && len(intermediate) == 0 {
		return []int{0, 1}, nil
	}
	// Google omits the order when there is a single waypoint.
	if n == 3 && len(intermediate) == 0 {
		return []int{0, 1, 2}, nil
	}
	if len(intermediate) != n-2 {
		return nil, unavailable("waypoint order length %d does not match %d waypoints", len(intermediate), n-2)
	}
	order := make([]int, 0, n)
	order = append(order, 0)
	for _, w := range intermediate {
		order = append(order, w+1)
	}
	order = append(order, n-1)
	if !ValidVisitOrder(order, n) {
		return nil, unavailable("invalid waypoint order %v", intermediate)
	}
	return order, nil
}

func latLngString(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}
