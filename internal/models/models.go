package models

import (
	"slices"
	"time"
)

// Coord is a (latitude, longitude) pair in degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Role string

const (
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

// DriverProfile holds the fields only a driver carries.
type DriverProfile struct {
	MaxDetourMinutes float64 `json:"max_detour_minutes"`
	MaxRiders        int     `json:"max_riders"`
}

// RiderProfile holds the fields only a rider carries. DirectRoute is the
// rider's own home->workplace route, used for previews; it is nil when it
// was not precomputed.
type RiderProfile struct {
	DirectRoute *Route `json:"direct_route,omitempty"`
}

// User is a commuter. Exactly one of Driver or Rider is set, matching Role.
// Users are immutable once constructed; ride membership lives in the
// assignment engine, not here.
type User struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Home          Coord          `json:"home"`
	Workplace     Coord          `json:"workplace"`
	WorkplaceName string         `json:"workplace_name"`
	Role          Role           `json:"role"`
	Driver        *DriverProfile `json:"driver,omitempty"`
	Rider         *RiderProfile  `json:"rider,omitempty"`
}

// SharesWorkplace reports whether u and o commute to the same workplace.
func (u *User) SharesWorkplace(o *User) bool {
	return u.WorkplaceName == o.WorkplaceName && u.Workplace == o.Workplace
}

type Route struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
	Geometry    []Coord `json:"geometry"`
	// WaypointOrder is the visiting sequence: WaypointOrder[k] is the input
	// index of the k-th visited stop.
	WaypointOrder []int     `json:"waypoint_order"`
	LegDurations  []float64 `json:"leg_durations"`
}

func (r Route) Clone() Route {
	r.Geometry = slices.Clone(r.Geometry)
	r.WaypointOrder = slices.Clone(r.WaypointOrder)
	r.LegDurations = slices.Clone(r.LegDurations)
	return r
}

// Ride is a driver's trip to work together with the riders picked up on
// the way. Driver and Riders point at immutable user records.
type Ride struct {
	ID              string    `json:"id"`
	Driver          *User     `json:"-"`
	Riders          []*User   `json:"-"`
	Route           Route     `json:"route"`
	MatchedGeometry []Coord   `json:"matched_geometry"`
	DirectDuration  float64   `json:"direct_duration_min"`
	Detour          float64   `json:"detour_min"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Detour is the extra travel time over the direct duration, never negative.
func Detour(duration, direct float64) float64 {
	if duration > direct {
		return duration - direct
	}
	return 0
}

func (r *Ride) Start() Coord       { return r.Driver.Home }
func (r *Ride) Destination() Coord { return r.Driver.Workplace }

// MaxAllowedDuration is the longest route the driver accepts.
func (r *Ride) MaxAllowedDuration() float64 {
	return r.DirectDuration + r.Driver.Driver.MaxDetourMinutes
}

// Coordinates returns driver home, each rider home followed by extra, and
// the workplace, in input order.
func (r *Ride) Coordinates(extra ...*User) []Coord {
	out := make([]Coord, 0, len(r.Riders)+len(extra)+2)
	out = append(out, r.Start())
	for _, u := range r.Riders {
		out = append(out, u.Home)
	}
	for _, u := range extra {
		out = append(out, u.Home)
	}
	return append(out, r.Destination())
}

func (r *Ride) HasRider(id string) bool {
	return r.riderIndex(id) >= 0
}

func (r *Ride) riderIndex(id string) int {
	return slices.IndexFunc(r.Riders, func(u *User) bool { return u.ID == id })
}

// Without returns the rider list with the given rider removed.
func (r *Ride) Without(id string) []*User {
	i := r.riderIndex(id)
	if i < 0 {
		return slices.Clone(r.Riders)
	}
	return slices.Delete(slices.Clone(r.Riders), i, i+1)
}

func (r *Ride) RiderIDs() []string {
	ids := make([]string, len(r.Riders))
	for i, u := range r.Riders {
		ids[i] = u.ID
	}
	return ids
}

// Clone returns a deep copy that shares only the immutable user records.
func (r Ride) Clone() Ride {
	r.Riders = slices.Clone(r.Riders)
	r.Route = r.Route.Clone()
	r.MatchedGeometry = slices.Clone(r.MatchedGeometry)
	return r
}

type EventType string

const (
	EventRideCreated  EventType = "ride_created"
	EventRiderAdded   EventType = "rider_added"
	EventRiderRemoved EventType = "rider_removed"
)

// RideEvent describes a committed ride transition.
type RideEvent struct {
	Type          EventType `json:"type"`
	RideID        string    `json:"ride_id"`
	DriverID      string    `json:"driver_id"`
	RiderID       string    `json:"rider_id,omitempty"`
	RiderIDs      []string  `json:"rider_ids"`
	DistanceKm    float64   `json:"distance_km"`
	DurationMin   float64   `json:"duration_min"`
	DetourMin     float64   `json:"detour_min"`
	WaypointOrder []int     `json:"waypoint_order"`
	Version       int       `json:"version"`
	At            time.Time `json:"at"`
}

// NewRideEvent snapshots ride into an event of type t.
func NewRideEvent(t EventType, ride *Ride, riderID string) RideEvent {
	return RideEvent{
		Type:          t,
		RideID:        ride.ID,
		DriverID:      ride.Driver.ID,
		RiderID:       riderID,
		RiderIDs:      ride.RiderIDs(),
		DistanceKm:    ride.Route.DistanceKm,
		DurationMin:   ride.Route.DurationMin,
		DetourMin:     ride.Detour,
		WaypointOrder: slices.Clone(ride.Route.WaypointOrder),
		Version:       ride.Version,
		At:            ride.UpdatedAt,
	}
}
