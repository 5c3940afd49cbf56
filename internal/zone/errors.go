package zone

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

var (
	// ErrWarmingUp is returned by Scan until every zone window has filled.
	// It is not a failure: callers keep feeding cycles but must not act on
	// the occupancy state yet.
	ErrWarmingUp = errors.New("zone windows still filling")

	// ErrRangingTimeout matches every TimeoutError. Range sources return it
	// (possibly wrapped) when no reading became ready in time.
	ErrRangingTimeout = errors.New("ranging timed out")
)

// TimeoutError reports a zone whose reading was not ready before the
// ranging timeout. The zone's window was left untouched.
type TimeoutError struct {
	Zone    occupancy.Zone
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("zone %d: ranging timed out after %v", e.Zone.Number(), e.Timeout)
}

// Is lets errors.Is(err, ErrRangingTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrRangingTimeout
}

// ReadError wraps any other failure of a range source for one zone.
type ReadError struct {
	Zone occupancy.Zone
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("zone %d: range read failed: %v", e.Zone.Number(), e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
