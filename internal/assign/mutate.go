package assign

import (
	"context"

	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/observability"
	"github.com/example/commute-pool/internal/routing"
)

// AddRider adds the rider to the driver's ride. Checks run in order:
// workplace, existing assignment, capacity, then the optimised route
// against the detour budget. A route exactly at the budget is accepted.
// On any decline the ride and the rider relation are unchanged.
func (e *Engine) AddRider(ctx context.Context, driverID, riderID string) (models.Ride, error) {
	driver, s, err := e.slotFor(driverID)
	if err != nil {
		return models.Ride{}, err
	}
	rider, err := e.lookupRider(riderID)
	if err != nil {
		return models.Ride{}, err
	}

	ride, err := e.addLocked(ctx, s, driver, rider)
	if err != nil {
		if d, ok := AsDecline(err); ok {
			e.recordDecline("add", d, "driver_id", driverID, "rider_id", riderID)
		}
		return models.Ride{}, err
	}

	observability.AssignmentsTotal.WithLabelValues("add", "ok").Inc()
	observability.RidersAssigned.Inc()
	e.logger.Info("rider added", "driver_id", driverID, "rider_id", riderID,
		"riders", len(ride.Riders), "duration_min", ride.Route.DurationMin, "detour_min", ride.Detour)
	e.publish(ctx, models.NewRideEvent(models.EventRiderAdded, &ride, riderID))
	return ride, nil
}

func (e *Engine) addLocked(ctx context.Context, s *slot, driver, rider *models.User) (models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride := &s.ride

	if !driver.SharesWorkplace(rider) {
		return models.Ride{}, decline(KindConstraintViolation, ErrWorkplaceMismatch,
			"Rider %s does not match workplace %s", rider.Name, driver.WorkplaceName)
	}
	if d := e.claim(rider, driver.ID); d != nil {
		return models.Ride{}, d
	}
	committed := false
	defer func() {
		if !committed {
			e.release(rider.ID)
		}
	}()

	if len(ride.Riders) >= driver.Driver.MaxRiders {
		return models.Ride{}, decline(KindConstraintViolation, ErrRideFull,
			"Driver %s's ride is full (max %d riders)", driver.Name, driver.Driver.MaxRiders)
	}

	route, err := e.opts.Oracle.OptimizedRoute(ctx, ride.Coordinates(rider))
	if err != nil {
		return models.Ride{}, decline(KindRouteUnavailable, routeErr(err),
			"No route available for adding %s: %v", rider.Name, err)
	}
	if d := checkOrder(route, len(ride.Riders)+3, "adding", rider); d != nil {
		return models.Ride{}, d
	}
	if route.DurationMin > ride.MaxAllowedDuration() {
		return models.Ride{}, decline(KindConstraintViolation, ErrDetourExceeded,
			"Adding %s exceeds max detour of %g minutes", rider.Name, driver.Driver.MaxDetourMinutes)
	}
	matched := e.snap(ctx, route.Geometry)

	e.relMu.Lock()
	e.current[rider.ID] = driver.ID
	delete(e.pending, rider.ID)
	ride.Riders = append(ride.Riders[:len(ride.Riders):len(ride.Riders)], rider)
	e.commitRoute(ride, route, matched)
	e.relMu.Unlock()
	committed = true

	return ride.Clone(), nil
}

// RemoveRider takes the rider out of the driver's ride and recomputes the
// route for whoever remains. An empty ride goes back to the driver's
// direct route with unsnapped geometry, the same shape it had when the
// driver was registered.
func (e *Engine) RemoveRider(ctx context.Context, driverID, riderID string) (models.Ride, error) {
	driver, s, err := e.slotFor(driverID)
	if err != nil {
		return models.Ride{}, err
	}
	rider, err := e.lookupRider(riderID)
	if err != nil {
		return models.Ride{}, err
	}

	ride, err := e.removeLocked(ctx, s, driver, rider)
	if err != nil {
		if d, ok := AsDecline(err); ok {
			e.recordDecline("remove", d, "driver_id", driverID, "rider_id", riderID)
		}
		return models.Ride{}, err
	}

	observability.AssignmentsTotal.WithLabelValues("remove", "ok").Inc()
	observability.RidersAssigned.Dec()
	e.logger.Info("rider removed", "driver_id", driverID, "rider_id", riderID,
		"riders", len(ride.Riders), "duration_min", ride.Route.DurationMin, "detour_min", ride.Detour)
	e.publish(ctx, models.NewRideEvent(models.EventRiderRemoved, &ride, riderID))
	return ride, nil
}

func (e *Engine) removeLocked(ctx context.Context, s *slot, driver, rider *models.User) (models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride := &s.ride

	if !ride.HasRider(rider.ID) {
		return models.Ride{}, decline(KindConstraintViolation, ErrNotInRide,
			"Rider %s is not in %s's ride", rider.Name, driver.Name)
	}
	remaining := ride.Without(rider.ID)

	var (
		route   models.Route
		matched []models.Coord
	)
	if len(remaining) == 0 {
		direct, err := e.opts.Oracle.DirectRoute(ctx, ride.Start(), ride.Destination())
		if err != nil {
			return models.Ride{}, decline(KindRouteUnavailable, routeErr(err),
				"No route available for removing %s: %v", rider.Name, err)
		}
		route = routing.SoloRoute(direct)
		matched = append([]models.Coord(nil), route.Geometry...)
	} else {
		reduced := models.Ride{Driver: driver, Riders: remaining}
		r, err := e.opts.Oracle.OptimizedRoute(ctx, reduced.Coordinates())
		if err != nil {
			return models.Ride{}, decline(KindRouteUnavailable, routeErr(err),
				"No route available for removing %s: %v", rider.Name, err)
		}
		if d := checkOrder(r, len(remaining)+2, "removing", rider); d != nil {
			return models.Ride{}, d
		}
		route = r
		matched = e.snap(ctx, route.Geometry)
	}

	e.relMu.Lock()
	if e.current[rider.ID] == driver.ID {
		delete(e.current, rider.ID)
	}
	ride.Riders = remaining
	e.commitRoute(ride, route, matched)
	e.relMu.Unlock()

	return ride.Clone(), nil
}

// checkOrder declines a route whose visiting order does not cover the n
// stops it was asked for; committing it would leave stops unreported.
func checkOrder(route models.Route, n int, op string, rider *models.User) *Decline {
	if routing.ValidVisitOrder(route.WaypointOrder, n) {
		return nil
	}
	return decline(KindDataInconsistency, ErrInconsistentRoute,
		"Route for %s %s has waypoint order %v for %d stops", op, rider.Name, route.WaypointOrder, n)
}

func (e *Engine) commitRoute(ride *models.Ride, route models.Route, matched []models.Coord) {
	ride.Route = route
	ride.MatchedGeometry = matched
	ride.Detour = models.Detour(route.DurationMin, ride.DirectDuration)
	ride.Version++
	ride.UpdatedAt = e.opts.Now()
}
