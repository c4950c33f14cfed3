// Package report turns a ride into the record shown to users: stops in
// visiting order, per-leg durations, warnings and recent declines.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/example/commute-pool/internal/models"
)

type StopRole string

const (
	RoleDriver    StopRole = "Driver"
	RoleRider     StopRole = "Rider"
	RoleWorkplace StopRole = "Workplace"
)

type Stop struct {
	ID    string       `json:"id,omitempty"`
	Name  string       `json:"name"`
	Role  StopRole     `json:"role"`
	Coord models.Coord `json:"coord"`
}

type Leg struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	DurationMin float64 `json:"duration_min"`
}

type Record struct {
	RideID            string         `json:"ride_id"`
	DriverID          string         `json:"driver_id"`
	Driver            string         `json:"driver"`
	Workplace         string         `json:"workplace"`
	WorkplaceCoord    models.Coord   `json:"workplace_coord"`
	MaxRiders         int            `json:"max_riders"`
	MaxDetourMinutes  float64        `json:"max_detour_minutes"`
	Riders            []string       `json:"riders"`
	DistanceKm        float64        `json:"distance_km"`
	DurationMin       float64        `json:"duration_min"`
	DetourMin         float64        `json:"detour_min"`
	DirectDurationMin float64        `json:"direct_duration_min"`
	Stops             []Stop         `json:"stops"`
	Legs              []Leg          `json:"legs"`
	Warnings          []string       `json:"warnings,omitempty"`
	MatchedGeometry   []models.Coord `json:"matched_geometry"`
	Declines          []string       `json:"declines,omitempty"`
	Version           int            `json:"version"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func inputStops(ride *models.Ride) []Stop {
	stops := make([]Stop, 0, len(ride.Riders)+2)
	stops = append(stops, Stop{ID: ride.Driver.ID, Name: ride.Driver.Name, Role: RoleDriver, Coord: ride.Start()})
	for _, r := range ride.Riders {
		stops = append(stops, Stop{ID: r.ID, Name: r.Name, Role: RoleRider, Coord: r.Home})
	}
	return append(stops, Stop{Name: ride.Driver.WorkplaceName, Role: RoleWorkplace, Coord: ride.Destination()})
}

// OrderedStops returns the ride's stops in visiting order. When the
// waypoint order is not a permutation of the stops it returns input order
// and false.
func OrderedStops(ride *models.Ride) ([]Stop, bool) {
	stops := inputStops(ride)
	order := ride.Route.WaypointOrder
	if len(order) != len(stops) {
		return stops, false
	}
	seen := make([]bool, len(stops))
	out := make([]Stop, len(stops))
	for k, idx := range order {
		if idx < 0 || idx >= len(stops) || seen[idx] {
			return stops, false
		}
		seen[idx] = true
		out[k] = stops[idx]
	}
	return out, true
}

// Legs pairs consecutive stops with the leg durations. Extra durations or
// stops on either side are ignored.
func Legs(stops []Stop, durations []float64) []Leg {
	n := len(stops) - 1
	if len(durations) < n {
		n = len(durations)
	}
	if n < 0 {
		n = 0
	}
	out := make([]Leg, n)
	for i := 0; i < n; i++ {
		out[i] = Leg{From: stops[i].Name, To: stops[i+1].Name, DurationMin: durations[i]}
	}
	return out
}

// Build projects ride into a Record. ride should be a copy; nothing here
// writes to it.
func Build(ride models.Ride, declines []string) Record {
	stops, ok := OrderedStops(&ride)
	var warnings []string
	if !ok {
		warnings = append(warnings, fmt.Sprintf("waypoint order %v does not match %d stops; showing input order",
			ride.Route.WaypointOrder, len(stops)))
	}
	if want := len(stops) - 1; len(ride.Route.LegDurations) != want {
		warnings = append(warnings, fmt.Sprintf("%d leg durations for %d legs", len(ride.Route.LegDurations), want))
	}
	return Record{
		RideID:            ride.ID,
		DriverID:          ride.Driver.ID,
		Driver:            ride.Driver.Name,
		Workplace:         ride.Driver.WorkplaceName,
		WorkplaceCoord:    ride.Driver.Workplace,
		MaxRiders:         ride.Driver.Driver.MaxRiders,
		MaxDetourMinutes:  ride.Driver.Driver.MaxDetourMinutes,
		Riders:            riderNames(&ride),
		DistanceKm:        ride.Route.DistanceKm,
		DurationMin:       ride.Route.DurationMin,
		DetourMin:         ride.Detour,
		DirectDurationMin: ride.DirectDuration,
		Stops:             stops,
		Legs:              Legs(stops, ride.Route.LegDurations),
		Warnings:          warnings,
		MatchedGeometry:   ride.MatchedGeometry,
		Declines:          declines,
		Version:           ride.Version,
		UpdatedAt:         ride.UpdatedAt,
	}
}

func riderNames(ride *models.Ride) []string {
	out := make([]string, len(ride.Riders))
	for i, r := range ride.Riders {
		out[i] = r.Name
	}
	return out
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Lat, c.Lon)
}

// WriteText renders the record as a plain-text ride summary.
func WriteText(w io.Writer, rec Record) error {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&b, "%s\nRide Summary for %s\n%s\n\n", rule, rec.Driver, rule)

	riders := "None"
	if len(rec.Riders) > 0 {
		riders = strings.Join(rec.Riders, ", ")
	}
	b.WriteString("General Information:\n")
	fmt.Fprintf(&b, "- Driver: %s\n", rec.Driver)
	fmt.Fprintf(&b, "- Workplace: %s %s\n", rec.Workplace, fmtCoord(rec.WorkplaceCoord))
	fmt.Fprintf(&b, "- Max Riders: %d\n", rec.MaxRiders)
	fmt.Fprintf(&b, "- Max Detour: %.2f minutes\n", rec.MaxDetourMinutes)
	fmt.Fprintf(&b, "- Riders: %s\n", riders)
	fmt.Fprintf(&b, "- Total Distance: %.2f km\n", rec.DistanceKm)
	fmt.Fprintf(&b, "- Total Duration: %.2f minutes\n", rec.DurationMin)
	fmt.Fprintf(&b, "- Detour: %.2f minutes\n", rec.DetourMin)
	fmt.Fprintf(&b, "- Direct Duration (no riders): %.2f minutes\n\n", rec.DirectDurationMin)

	b.WriteString("Pickup Order:\n")
	for i, s := range rec.Stops {
		fmt.Fprintf(&b, "%d. %s (%s) at %s\n", i+1, s.Name, s.Role, fmtCoord(s.Coord))
	}
	b.WriteString("\nSegment Durations:\n")
	for _, l := range rec.Legs {
		fmt.Fprintf(&b, "- %s to %s: %.2f minutes\n", l.From, l.To, l.DurationMin)
	}
	b.WriteString("\n")

	if len(rec.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range rec.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}
	if len(rec.Declines) > 0 {
		b.WriteString("Failed Assignment Attempts:\n")
		for _, d := range rec.Declines {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Journal collects decline reasons per driver until they are read.
type Journal struct {
	mu      sync.Mutex
	entries map[string][]string
}

func NewJournal() *Journal {
	return &Journal{entries: make(map[string][]string)}
}

func (j *Journal) Add(driverID, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[driverID] = append(j.entries[driverID], reason)
}

// Drain returns and clears the reasons recorded for driverID.
func (j *Journal) Drain(driverID string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.entries[driverID]
	delete(j.entries, driverID)
	return out
}
