// Package assign owns drivers, riders and their rides. It builds solo rides,
// adds and removes riders under each driver's detour budget and capacity,
// and keeps the rider to ride relation consistent with every ride's rider
// list.
//
// Each ride is guarded by its own RWMutex: add and remove hold the write
// lock from validation through the oracle call to commit, scoring holds
// the read lock. The rider relation has a separate mutex that is always
// taken last.
package assign

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/commute-pool/internal/geo"
	"github.com/example/commute-pool/internal/matcher"
	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/observability"
	"github.com/example/commute-pool/internal/routing"
)

// Publisher receives ride events after they are committed.
type Publisher interface {
	Publish(ctx context.Context, ev models.RideEvent) error
}

type Options struct {
	Workplaces models.WorkplaceRegistry
	Oracle     routing.Oracle
	// Geo is optional; when set, rider homes are indexed and candidate
	// listing asks it for riders near the driver's home.
	Geo       geo.Geo
	Publisher Publisher
	Logger    *slog.Logger

	// RiderDirectRoutes precomputes each rider's own home to work route
	// at registration.
	RiderDirectRoutes bool
	CandidateRadiusKm float64
	CandidateLimit    int
	Concurrency       int

	Now   func() time.Time
	NewID func() string
}

type slot struct {
	mu   sync.RWMutex
	ride models.Ride
}

type Engine struct {
	opts   Options
	calc   *matcher.Calculator
	logger *slog.Logger

	mu      sync.RWMutex
	drivers map[string]*models.User
	riders  map[string]*models.User
	slots   map[string]*slot

	relMu   sync.Mutex
	current map[string]string // rider id -> driver id
	pending map[string]string // rider id -> driver id with an add in flight
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Workplaces == nil {
		opts.Workplaces = models.WorkplaceRegistry{}
	}
	return &Engine{
		opts:    opts,
		calc:    &matcher.Calculator{Oracle: opts.Oracle, Logger: opts.Logger},
		logger:  opts.Logger,
		drivers: make(map[string]*models.User),
		riders:  make(map[string]*models.User),
		slots:   make(map[string]*slot),
		current: make(map[string]string),
		pending: make(map[string]string),
	}
}

func (e *Engine) Workplaces() models.WorkplaceRegistry { return e.opts.Workplaces }

func (e *Engine) slotFor(driverID string) (*models.User, *slot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.drivers[driverID]
	if !ok {
		return nil, nil, ErrDriverNotFound
	}
	return d, e.slots[driverID], nil
}

func (e *Engine) lookupRider(riderID string) (*models.User, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.riders[riderID]
	if !ok {
		return nil, ErrRiderNotFound
	}
	return r, nil
}

// Driver returns the driver's user record.
func (e *Engine) Driver(id string) (models.User, error) {
	d, _, err := e.slotFor(id)
	if err != nil {
		return models.User{}, err
	}
	return *d, nil
}

func (e *Engine) Rider(id string) (models.User, error) {
	r, err := e.lookupRider(id)
	if err != nil {
		return models.User{}, err
	}
	return *r, nil
}

// Drivers returns all drivers ordered by name.
func (e *Engine) Drivers() []models.User {
	e.mu.RLock()
	out := make([]models.User, 0, len(e.drivers))
	for _, d := range e.drivers {
		out = append(out, *d)
	}
	e.mu.RUnlock()
	sortUsers(out)
	return out
}

// Riders returns all riders ordered by name.
func (e *Engine) Riders() []models.User {
	e.mu.RLock()
	out := make([]models.User, 0, len(e.riders))
	for _, r := range e.riders {
		out = append(out, *r)
	}
	e.mu.RUnlock()
	sortUsers(out)
	return out
}

func sortUsers(us []models.User) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].Name != us[j].Name {
			return us[i].Name < us[j].Name
		}
		return us[i].ID < us[j].ID
	})
}

// Ride returns a copy of the driver's ride.
func (e *Engine) Ride(driverID string) (models.Ride, error) {
	_, s, err := e.slotFor(driverID)
	if err != nil {
		return models.Ride{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ride.Clone(), nil
}

// Rides returns copies of all rides ordered by driver name.
func (e *Engine) Rides() []models.Ride {
	drivers := e.Drivers()
	out := make([]models.Ride, 0, len(drivers))
	for _, d := range drivers {
		if r, err := e.Ride(d.ID); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// CurrentRide returns the ride the rider belongs to, if any.
func (e *Engine) CurrentRide(riderID string) (models.Ride, bool, error) {
	if _, err := e.lookupRider(riderID); err != nil {
		return models.Ride{}, false, err
	}
	e.relMu.Lock()
	driverID, ok := e.current[riderID]
	e.relMu.Unlock()
	if !ok {
		return models.Ride{}, false, nil
	}
	ride, err := e.Ride(driverID)
	if err != nil || !ride.HasRider(riderID) {
		// removed between the two lookups
		return models.Ride{}, false, nil
	}
	return ride, true, nil
}

func (e *Engine) isAssigned(riderID string) bool {
	e.relMu.Lock()
	defer e.relMu.Unlock()
	_, ok := e.current[riderID]
	return ok
}

// claim marks the rider as being added to driverID's ride. It fails when
// the rider already belongs to a ride, another add is in flight, or the
// rider was unregistered after the caller looked it up.
func (e *Engine) claim(rider *models.User, driverID string) *Decline {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.relMu.Lock()
	defer e.relMu.Unlock()
	if _, ok := e.riders[rider.ID]; !ok {
		return decline(KindConstraintViolation, ErrRiderNotFound, "Rider %s is no longer registered", rider.Name)
	}
	if _, ok := e.current[rider.ID]; ok {
		return decline(KindConstraintViolation, ErrAlreadyAssigned, "Rider %s already has a ride", rider.Name)
	}
	if other, ok := e.pending[rider.ID]; ok && other != driverID {
		return decline(KindConstraintViolation, ErrAlreadyAssigned, "Rider %s is being assigned to another ride", rider.Name)
	}
	e.pending[rider.ID] = driverID
	return nil
}

func (e *Engine) release(riderID string) {
	e.relMu.Lock()
	delete(e.pending, riderID)
	e.relMu.Unlock()
}

func (e *Engine) publish(ctx context.Context, ev models.RideEvent) {
	if e.opts.Publisher == nil {
		return
	}
	if err := e.opts.Publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("publish ride event failed", "type", ev.Type, "ride_id", ev.RideID, "error", err)
	}
}

func (e *Engine) recordDecline(op string, d *Decline, attrs ...any) {
	observability.AssignmentsTotal.WithLabelValues(op, "declined").Inc()
	observability.DeclinesTotal.WithLabelValues(d.Kind.String()).Inc()
	e.logger.Info("declined", append([]any{"op", op, "kind", d.Kind.String(), "reason", d.Reason}, attrs...)...)
}

// snap road-snaps geometry, keeping the input when snapping fails.
func (e *Engine) snap(ctx context.Context, geometry []models.Coord) []models.Coord {
	if len(geometry) < 2 {
		return append([]models.Coord(nil), geometry...)
	}
	snapped, err := e.opts.Oracle.RoadSnap(ctx, geometry)
	if err != nil || len(snapped) == 0 {
		e.logger.Warn("road snap failed, keeping route geometry", "error", err)
		return append([]models.Coord(nil), geometry...)
	}
	return snapped
}
