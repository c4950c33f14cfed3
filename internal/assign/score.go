package assign

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/example/commute-pool/internal/matcher"
	"github.com/example/commute-pool/internal/models"
)

// Score rates how well the rider fits the driver's current ride, in [0,1].
// It never changes any state.
func (e *Engine) Score(ctx context.Context, driverID, riderID string) (float64, error) {
	b, err := e.Evaluate(ctx, driverID, riderID)
	return b.Score, err
}

// Evaluate is Score with the sub-scores and zero reason.
func (e *Engine) Evaluate(ctx context.Context, driverID, riderID string) (matcher.Breakdown, error) {
	_, s, err := e.slotFor(driverID)
	if err != nil {
		return matcher.Breakdown{}, err
	}
	rider, err := e.lookupRider(riderID)
	if err != nil {
		return matcher.Breakdown{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.calc.Evaluate(ctx, &s.ride, rider, e.isAssigned(riderID)), nil
}

// Candidates lists the riders a driver could pick: same workplace and
// either unassigned or already in this ride. Riders already in the ride
// are flagged and score 0. The list is ranked best first.
func (e *Engine) Candidates(ctx context.Context, driverID string) ([]matcher.Candidate, error) {
	driver, s, err := e.slotFor(driverID)
	if err != nil {
		return nil, err
	}
	pool := e.candidatePool(ctx, driver)

	s.mu.RLock()
	defer s.mu.RUnlock()
	ride := &s.ride

	// in-ride riders are listed even when the geo index left them out
	for _, r := range ride.Riders {
		if !containsUser(pool, r.ID) {
			pool = append(pool, r)
		}
	}

	type entry struct {
		rider  *models.User
		inRide bool
	}
	entries := make([]entry, 0, len(pool))
	e.relMu.Lock()
	for _, r := range pool {
		if !driver.SharesWorkplace(r) {
			continue
		}
		owner, assigned := e.current[r.ID]
		if assigned && owner != driverID {
			continue
		}
		entries = append(entries, entry{rider: r, inRide: assigned})
	}
	e.relMu.Unlock()

	out := make([]matcher.Candidate, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, en := range entries {
		i, en := i, en
		g.Go(func() error {
			out[i] = matcher.Candidate{
				Rider:     en.rider,
				InRide:    en.inRide,
				Breakdown: e.calc.Evaluate(gctx, ride, en.rider, en.inRide),
			}
			return nil
		})
	}
	_ = g.Wait()

	matcher.Rank(out)
	if limit := e.opts.CandidateLimit; limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsUser(us []*models.User, id string) bool {
	for _, u := range us {
		if u.ID == id {
			return true
		}
	}
	return false
}

// candidatePool returns riders of the driver's workplace, narrowed by the
// geo index radius when one is configured. Index failures fall back to a
// scan. The pool is not truncated: riders of other rides are only dropped
// later, so CandidateLimit applies after that filter.
func (e *Engine) candidatePool(ctx context.Context, driver *models.User) []*models.User {
	if e.opts.Geo != nil {
		ids, err := e.opts.Geo.Nearby(ctx, driver.WorkplaceName, driver.Home, e.opts.CandidateRadiusKm, 0)
		if err == nil {
			e.mu.RLock()
			defer e.mu.RUnlock()
			out := make([]*models.User, 0, len(ids))
			for _, id := range ids {
				if r, ok := e.riders[id]; ok {
					out = append(out, r)
				}
			}
			return out
		}
		e.logger.Warn("geo lookup failed, scanning all riders", "driver_id", driver.ID, "error", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.User, 0, len(e.riders))
	for _, r := range e.riders {
		if r.WorkplaceName == driver.WorkplaceName {
			out = append(out, r)
		}
	}
	return out
}

// CheckInvariants verifies every ride against its driver's limits and the
// rider relation. It locks all rides for reading, so it sees a consistent
// snapshot.
func (e *Engine) CheckInvariants() error {
	e.mu.RLock()
	ids := make([]string, 0, len(e.slots))
	for id := range e.slots {
		ids = append(ids, id)
	}
	slots := make(map[string]*slot, len(e.slots))
	for id, s := range e.slots {
		slots[id] = s
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		slots[id].mu.RLock()
		defer slots[id].mu.RUnlock()
	}
	e.relMu.Lock()
	defer e.relMu.Unlock()

	var errs []error
	members := make(map[string]string)
	for _, id := range ids {
		ride := &slots[id].ride
		prof := ride.Driver.Driver
		if n := len(ride.Riders); n > prof.MaxRiders {
			errs = append(errs, fmt.Errorf("ride %s: %d riders exceeds max %d", ride.ID, n, prof.MaxRiders))
		}
		if want := models.Detour(ride.Route.DurationMin, ride.DirectDuration); ride.Detour != want || ride.Detour < 0 {
			errs = append(errs, fmt.Errorf("ride %s: detour %f, want %f", ride.ID, ride.Detour, want))
		}
		for _, r := range ride.Riders {
			if !ride.Driver.SharesWorkplace(r) {
				errs = append(errs, fmt.Errorf("ride %s: rider %s has a different workplace", ride.ID, r.ID))
			}
			if other, dup := members[r.ID]; dup {
				errs = append(errs, fmt.Errorf("rider %s is in rides of %s and %s", r.ID, other, id))
			}
			members[r.ID] = id
			if e.current[r.ID] != id {
				errs = append(errs, fmt.Errorf("rider %s is in ride of %s but relation points at %q", r.ID, id, e.current[r.ID]))
			}
		}
	}
	for riderID, driverID := range e.current {
		if members[riderID] != driverID {
			errs = append(errs, fmt.Errorf("relation maps rider %s to %s but the ride does not list it", riderID, driverID))
		}
	}
	return errors.Join(errs...)
}
