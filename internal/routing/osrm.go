package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/commute-pool/internal/models"
)

const (
	matchRadiusMeters = 50
	maxMatchPoints    = 100
)

// OSRMClient talks to an OSRM server, or to Mapbox, which serves the same
// wire format under different paths. Coordinates cross the wire as
// lon,lat and are swapped back on every response.
type OSRMClient struct {
	Endpoint    string
	RoutePath   string
	TripPath    string
	MatchPath   string
	AccessToken string
	Client      *http.Client
}

func NewOSRMClient(endpoint, profile string, timeout time.Duration) *OSRMClient {
	return &OSRMClient{
		Endpoint:  strings.TrimRight(endpoint, "/"),
		RoutePath: "/route/v1/" + profile,
		TripPath:  "/trip/v1/" + profile,
		MatchPath: "/match/v1/" + profile,
		Client:    &http.Client{Timeout: timeout},
	}
}

// NewMapboxClient targets the Mapbox Directions, Optimization and Map
// Matching APIs.
func NewMapboxClient(endpoint, accessToken string, timeout time.Duration) *OSRMClient {
	if endpoint == "" {
		endpoint = "https://api.mapbox.com"
	}
	return &OSRMClient{
		Endpoint:    strings.TrimRight(endpoint, "/"),
		RoutePath:   "/directions/v5/mapbox/driving-traffic",
		TripPath:    "/optimized-trips/v1/mapbox/driving-traffic",
		MatchPath:   "/matching/v5/mapbox/driving",
		AccessToken: accessToken,
		Client:      &http.Client{Timeout: timeout},
	}
}

type osrmGeometry struct {
	Coordinates [][]float64 `json:"coordinates"`
}

type osrmLeg struct {
	Duration float64 `json:"duration"`
	Distance float64 `json:"distance"`
}

type osrmRoute struct {
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Geometry osrmGeometry `json:"geometry"`
	Legs     []osrmLeg    `json:"legs"`
}

type osrmResponse struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Routes    []osrmRoute `json:"routes"`
	Trips     []osrmRoute `json:"trips"`
	Matchings []osrmRoute `json:"matchings"`
	Waypoints []struct {
		WaypointIndex int `json:"waypoint_index"`
		TripsIndex    int `json:"trips_index"`
	} `json:"waypoints"`
}

// DirectRoute queries the route service between two points.
func (o *OSRMClient) DirectRoute(ctx context.Context, start, end models.Coord) (models.Route, error) {
	q := url.Values{"geometries": {"geojson"}, "overview": {"full"}}
	var out osrmResponse
	if err := o.get(ctx, o.RoutePath, []models.Coord{start, end}, q, &out); err != nil {
		return models.Route{}, err
	}
	if len(out.Routes) == 0 {
		return models.Route{}, unavailable("no route found")
	}
	r := out.Routes[0]
	geom, err := fromLonLat(r.Geometry.Coordinates)
	if err != nil {
		return models.Route{}, err
	}
	return SoloRoute(models.Route{
		DistanceKm:  r.Distance / 1000,
		DurationMin: r.Duration / 60,
		Geometry:    geom,
	}), nil
}

// OptimizedRoute queries the trip service with the first coordinate as
// source and the last as destination.
func (o *OSRMClient) OptimizedRoute(ctx context.Context, coords []models.Coord) (models.Route, error) {
	if err := checkWaypointCount(len(coords)); err != nil {
		return models.Route{}, err
	}
	q := url.Values{
		"geometries":  {"geojson"},
		"overview":    {"full"},
		"source":      {"first"},
		"destination": {"last"},
		"roundtrip":   {"false"},
	}
	var out osrmResponse
	if err := o.get(ctx, o.TripPath, coords, q, &out); err != nil {
		return models.Route{}, err
	}
	if len(out.Trips) == 0 {
		return models.Route{}, unavailable("no trip found")
	}
	n := len(coords)
	if len(out.Waypoints) != n {
		return models.Route{}, unavailable("waypoint count %d does not match %d coordinates", len(out.Waypoints), n)
	}
	// waypoints are listed in input order; waypoint_index is the position
	// of that input in the trip. Invert into a visiting sequence.
	order := make([]int, n)
	for i := range order {
		order[i] = -1
	}
	for input, wp := range out.Waypoints {
		if wp.WaypointIndex < 0 || wp.WaypointIndex >= n || order[wp.WaypointIndex] != -1 {
			return models.Route{}, unavailable("invalid waypoint index %d", wp.WaypointIndex)
		}
		order[wp.WaypointIndex] = input
	}
	if !ValidVisitOrder(order, n) {
		return models.Route{}, unavailable("trip does not start at source and end at destination: %v", order)
	}

	trip := out.Trips[0]
	if len(trip.Legs) != n-1 {
		return models.Route{}, unavailable("leg count %d does not match %d stops", len(trip.Legs), n)
	}
	geom, err := fromLonLat(trip.Geometry.Coordinates)
	if err != nil {
		return models.Route{}, err
	}
	legs := make([]float64, len(trip.Legs))
	for i, l := range trip.Legs {
		legs[i] = l.Duration / 60
	}
	return models.Route{
		DistanceKm:    trip.Distance / 1000,
		DurationMin:   trip.Duration / 60,
		Geometry:      geom,
		WaypointOrder: order,
		LegDurations:  legs,
	}, nil
}

// RoadSnap map-matches coords onto the road network. Inputs longer than
// 100 points are thinned first.
func (o *OSRMClient) RoadSnap(ctx context.Context, coords []models.Coord) ([]models.Coord, error) {
	if len(coords) < 2 {
		return nil, unavailable("map matching needs at least 2 coordinates")
	}
	coords = downsample(coords, maxMatchPoints)
	radiuses := make([]string, len(coords))
	for i := range radiuses {
		radiuses[i] = fmt.Sprint(matchRadiusMeters)
	}
	q := url.Values{
		"geometries": {"geojson"},
		"overview":   {"full"},
		"radiuses":   {strings.Join(radiuses, ";")},
	}
	var out osrmResponse
	if err := o.get(ctx, o.MatchPath, coords, q, &out); err != nil {
		return nil, err
	}
	if len(out.Matchings) == 0 {
		return nil, unavailable("no matching found")
	}
	return fromLonLat(out.Matchings[0].Geometry.Coordinates)
}

func (o *OSRMClient) get(ctx context.Context, path string, coords []models.Coord, q url.Values, out *osrmResponse) error {
	if o.AccessToken != "" {
		q.Set("access_token", o.AccessToken)
	}
	u := fmt.Sprintf("%s%s/%s?%s", o.Endpoint, path, lonLatPath(coords), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return unavailable("decode %s response (status %d): %v", path, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !strings.EqualFold(out.Code, "Ok") {
		return unavailable("%s returned status %d code %q %s", path, resp.StatusCode, out.Code, out.Message)
	}
	return nil
}

// lonLatPath renders coords in the oracle's lon,lat order.
func lonLatPath(coords []models.Coord) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = fmt.Sprintf("%.6f,%.6f", c.Lon, c.Lat)
	}
	return strings.Join(parts, ";")
}

// fromLonLat converts a GeoJSON coordinate list back to (lat, lon).
func fromLonLat(raw [][]float64) ([]models.Coord, error) {
	out := make([]models.Coord, len(raw))
	for i, p := range raw {
		if len(p) < 2 {
			return nil, unavailable("malformed geometry point %d", i)
		}
		out[i] = models.Coord{Lat: p[1], Lon: p[0]}
	}
	return out, nil
}
