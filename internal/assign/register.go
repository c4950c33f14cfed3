package assign

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/observability"
	"github.com/example/commute-pool/internal/routing"
)

type DriverInput struct {
	Name             string       `json:"name"`
	Home             models.Coord `json:"home"`
	Workplace        string       `json:"workplace"`
	MaxDetourMinutes float64      `json:"max_detour_minutes"`
	MaxRiders        int          `json:"max_riders"`
}

type RiderInput struct {
	Name      string       `json:"name"`
	Home      models.Coord `json:"home"`
	Workplace string       `json:"workplace"`
}

// Failure records a batch input that could not be constructed.
type Failure struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Err   error  `json:"-"`
}

type DriverBatch struct {
	Rides    []models.Ride
	Failures []Failure
}

type RiderBatch struct {
	Riders   []models.User
	Failures []Failure
}

func validCoord(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (e *Engine) validateCommon(name string, home models.Coord, workplace string) (models.Coord, *Decline) {
	if strings.TrimSpace(name) == "" {
		return models.Coord{}, decline(KindInvalidInput, ErrInvalidInput, "name is required")
	}
	if !validCoord(home) {
		return models.Coord{}, decline(KindInvalidInput, ErrInvalidInput, "home of %s is out of range", name)
	}
	wp, ok := e.opts.Workplaces.Lookup(workplace)
	if !ok {
		return models.Coord{}, decline(KindInvalidInput, ErrInvalidInput, "unknown workplace %q for %s", workplace, name)
	}
	return wp, nil
}

// RegisterDriver constructs a driver with its solo ride. Nothing is
// registered unless the direct route to work can be computed.
func (e *Engine) RegisterDriver(ctx context.Context, in DriverInput) (models.Ride, error) {
	ride, err := e.buildDriver(ctx, in)
	if err != nil {
		if d, ok := AsDecline(err); ok {
			e.recordDecline("register_driver", d, "name", in.Name)
		}
		return models.Ride{}, err
	}

	e.mu.Lock()
	e.drivers[ride.Driver.ID] = ride.Driver
	e.slots[ride.Driver.ID] = &slot{ride: ride.Clone()}
	e.mu.Unlock()

	observability.DriversActive.Inc()
	observability.AssignmentsTotal.WithLabelValues("register_driver", "ok").Inc()
	e.logger.Info("driver registered", "driver_id", ride.Driver.ID, "name", ride.Driver.Name,
		"workplace", ride.Driver.WorkplaceName, "direct_min", ride.DirectDuration)
	e.publish(ctx, models.NewRideEvent(models.EventRideCreated, &ride, ""))
	return ride, nil
}

func (e *Engine) buildDriver(ctx context.Context, in DriverInput) (models.Ride, error) {
	wp, d := e.validateCommon(in.Name, in.Home, in.Workplace)
	if d != nil {
		return models.Ride{}, d
	}
	if in.MaxDetourMinutes < 0 {
		return models.Ride{}, decline(KindInvalidInput, ErrInvalidInput, "max detour of %s must not be negative", in.Name)
	}
	if in.MaxRiders < 0 {
		return models.Ride{}, decline(KindInvalidInput, ErrInvalidInput, "max riders of %s must not be negative", in.Name)
	}

	direct, err := e.opts.Oracle.DirectRoute(ctx, in.Home, wp)
	if err != nil {
		return models.Ride{}, decline(KindConstructionFailure, routeErr(err), "Failed to create driver %s: %v", in.Name, err)
	}

	user := &models.User{
		ID:            e.opts.NewID(),
		Name:          in.Name,
		Home:          in.Home,
		Workplace:     wp,
		WorkplaceName: in.Workplace,
		Role:          models.RoleDriver,
		Driver:        &models.DriverProfile{MaxDetourMinutes: in.MaxDetourMinutes, MaxRiders: in.MaxRiders},
	}
	now := e.opts.Now()
	route := routing.SoloRoute(direct)
	return models.Ride{
		ID:              e.opts.NewID(),
		Driver:          user,
		Route:           route,
		MatchedGeometry: append([]models.Coord(nil), route.Geometry...),
		DirectDuration:  route.DurationMin,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// RegisterRider constructs a rider and indexes its home. When direct
// routes are enabled a rider whose route cannot be computed is rejected.
func (e *Engine) RegisterRider(ctx context.Context, in RiderInput) (models.User, error) {
	user, err := e.buildRider(ctx, in)
	if err != nil {
		if d, ok := AsDecline(err); ok {
			e.recordDecline("register_rider", d, "name", in.Name)
		}
		return models.User{}, err
	}

	e.mu.Lock()
	e.riders[user.ID] = user
	e.mu.Unlock()

	if e.opts.Geo != nil {
		if err := e.opts.Geo.Upsert(ctx, user.WorkplaceName, user.ID, user.Home); err != nil {
			e.logger.Warn("index rider home failed", "rider_id", user.ID, "error", err)
		}
	}
	observability.AssignmentsTotal.WithLabelValues("register_rider", "ok").Inc()
	e.logger.Info("rider registered", "rider_id", user.ID, "name", user.Name, "workplace", user.WorkplaceName)
	return *user, nil
}

// UnregisterRider forgets a rider and drops its home from the geo index.
// A rider who is in a ride, or being added to one, must be removed from
// it first.
func (e *Engine) UnregisterRider(ctx context.Context, riderID string) error {
	e.mu.Lock()
	rider, ok := e.riders[riderID]
	if !ok {
		e.mu.Unlock()
		return ErrRiderNotFound
	}
	e.relMu.Lock()
	driverID, assigned := e.current[riderID]
	if !assigned {
		driverID, assigned = e.pending[riderID]
	}
	if !assigned {
		delete(e.riders, riderID)
	}
	e.relMu.Unlock()
	e.mu.Unlock()

	if assigned {
		d := decline(KindConstraintViolation, ErrAlreadyAssigned,
			"Rider %s is in the ride of driver %s and cannot be unregistered", rider.Name, driverID)
		e.recordDecline("unregister_rider", d, "rider_id", riderID)
		return d
	}
	if e.opts.Geo != nil {
		if err := e.opts.Geo.Remove(ctx, rider.WorkplaceName, riderID); err != nil {
			e.logger.Warn("unindex rider home failed", "rider_id", riderID, "error", err)
		}
	}
	observability.AssignmentsTotal.WithLabelValues("unregister_rider", "ok").Inc()
	e.logger.Info("rider unregistered", "rider_id", riderID, "name", rider.Name)
	return nil
}

func (e *Engine) buildRider(ctx context.Context, in RiderInput) (*models.User, error) {
	wp, d := e.validateCommon(in.Name, in.Home, in.Workplace)
	if d != nil {
		return nil, d
	}
	profile := &models.RiderProfile{}
	if e.opts.RiderDirectRoutes {
		direct, err := e.opts.Oracle.DirectRoute(ctx, in.Home, wp)
		if err != nil {
			return nil, decline(KindConstructionFailure, routeErr(err), "Failed to create rider %s: %v", in.Name, err)
		}
		r := routing.SoloRoute(direct)
		profile.DirectRoute = &r
	}
	return &models.User{
		ID:            e.opts.NewID(),
		Name:          in.Name,
		Home:          in.Home,
		Workplace:     wp,
		WorkplaceName: in.Workplace,
		Role:          models.RoleRider,
		Rider:         profile,
	}, nil
}

// RegisterDrivers registers drivers concurrently. A failed input is
// reported and skipped; it never affects the others.
func (e *Engine) RegisterDrivers(ctx context.Context, inputs []DriverInput) DriverBatch {
	rides := make([]*models.Ride, len(inputs))
	errs := make([]error, len(inputs))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			r, err := e.RegisterDriver(ctx, in)
			if err != nil {
				errs[i] = err
				return nil
			}
			rides[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	var out DriverBatch
	for i := range inputs {
		if errs[i] != nil {
			e.logger.Warn("skipping driver", "index", i, "name", inputs[i].Name, "error", errs[i])
			out.Failures = append(out.Failures, Failure{Index: i, Name: inputs[i].Name, Err: errs[i]})
			continue
		}
		out.Rides = append(out.Rides, *rides[i])
	}
	return out
}

// RegisterRiders is RegisterDrivers for riders.
func (e *Engine) RegisterRiders(ctx context.Context, inputs []RiderInput) RiderBatch {
	users := make([]*models.User, len(inputs))
	errs := make([]error, len(inputs))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			u, err := e.RegisterRider(ctx, in)
			if err != nil {
				errs[i] = err
				return nil
			}
			users[i] = &u
			return nil
		})
	}
	_ = g.Wait()

	var out RiderBatch
	for i := range inputs {
		if errs[i] != nil {
			e.logger.Warn("skipping rider", "index", i, "name", inputs[i].Name, "error", errs[i])
			out.Failures = append(out.Failures, Failure{Index: i, Name: inputs[i].Name, Err: errs[i]})
			continue
		}
		out.Riders = append(out.Riders, *users[i])
	}
	return out
}
