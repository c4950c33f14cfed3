package assign

import (
	"errors"
	"fmt"

	"github.com/example/commute-pool/internal/routing"
)

// Kind classifies why an operation was declined.
type Kind int

const (
	KindRouteUnavailable Kind = iota + 1
	KindConstraintViolation
	KindDataInconsistency
	KindConstructionFailure
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindRouteUnavailable:
		return "route_unavailable"
	case KindConstraintViolation:
		return "constraint_violation"
	case KindDataInconsistency:
		return "data_inconsistency"
	case KindConstructionFailure:
		return "construction_failure"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

var (
	ErrWorkplaceMismatch = errors.New("workplace mismatch")
	ErrAlreadyAssigned   = errors.New("rider already assigned")
	ErrRideFull          = errors.New("ride is full")
	ErrDetourExceeded    = errors.New("max detour exceeded")
	ErrNotInRide         = errors.New("rider not in ride")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInconsistentRoute = errors.New("route does not visit every stop once")

	ErrDriverNotFound = errors.New("driver not found")
	ErrRiderNotFound  = errors.New("rider not found")
)

// Decline is returned when an operation is refused. Reason is the
// human-readable message shown to users; Err is the cause for errors.Is.
type Decline struct {
	Kind   Kind
	Reason string
	Err    error
}

func (d *Decline) Error() string { return d.Reason }

func (d *Decline) Unwrap() error { return d.Err }

func decline(kind Kind, cause error, format string, args ...any) *Decline {
	return &Decline{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: cause}
}

// AsDecline extracts a *Decline from err.
func AsDecline(err error) (*Decline, bool) {
	var d *Decline
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// routeErr makes sure err matches routing.ErrRouteUnavailable; context
// cancellation surfaces from the oracle unwrapped.
func routeErr(err error) error {
	if errors.Is(err, routing.ErrRouteUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", routing.ErrRouteUnavailable, err)
}
