// Package crossing turns a sequence of occupancy state codes into entries and
// exits. A crossing is only counted after the full sequence
// single zone -> threshold (both zones) -> opposite single zone. Touching the
// threshold and retreating, or jumping between zones without passing through
// the threshold, counts nothing.
package crossing

import (
	"errors"
	"fmt"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// ErrInvalidState is returned for a state code outside 0..3. It indicates a
// broken estimator contract and is never fatal.
var ErrInvalidState = errors.New("invalid occupancy state")

// Direction of a completed crossing.
type Direction int

const (
	None Direction = iota
	// Entered is an outer -> threshold -> inner transit.
	Entered
	// Exited is an inner -> threshold -> outer transit.
	Exited
)

func (d Direction) String() string {
	switch d {
	case Entered:
		return "entered"
	case Exited:
		return "exited"
	default:
		return "none"
	}
}

// Delta is the count change caused by a crossing in this direction.
func (d Direction) Delta() int {
	switch d {
	case Entered:
		return 1
	case Exited:
		return -1
	}
	return 0
}

// Change describes a count change caused by the state machine.
type Change struct {
	Previous  int
	Count     int
	Direction Direction
	// State is the code whose arrival completed the crossing.
	State     occupancy.StateCode
}

// Delta is Count - Previous.
func (c Change) Delta() int { return c.Count - c.Previous }

// Notifier receives every count change made by the state machine. SetCount
// overrides are not notified.
type Notifier interface {
	CountChanged(Change)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Change)

// CountChanged calls f.
func (f NotifierFunc) CountChanged(c Change) { f(c) }

// LogNotifier writes one line per count change.
type LogNotifier struct{}

// CountChanged logs "Occupancy increased to N" or "Occupancy decreased to N".
func (LogNotifier) CountChanged(c Change) {
	verb := "increased to"
	if c.Count < c.Previous {
		verb = "decreased to"
	}
	monitoring.Logf("Occupancy %s %d", verb, c.Count)
}

// Counter is the crossing state machine plus the net occupancy count. It is
// not safe for concurrent use.
type Counter struct {
	previous    occupancy.StateCode // last state that was not Threshold
	atThreshold bool
	last        occupancy.StateCode
	count       int
	limit       int
	notifiers   []Notifier
}

// NewCounter returns a counter at zero with the given occupancy limit.
func NewCounter(limit int, notifiers ...Notifier) *Counter {
	return &Counter{limit: limit, notifiers: notifiers}
}

// AddNotifier registers n for subsequent count changes.
func (c *Counter) AddNotifier(n Notifier) {
	c.notifiers = append(c.notifiers, n)
}

// Observe feeds the next state code. Repeating the last code is a no-op.
// The returned Change has Direction None when the count did not move.
func (c *Counter) Observe(code occupancy.StateCode) (Change, error) {
	change := Change{Previous: c.count, Count: c.count, State: code}
	if !code.Valid() {
		monitoring.Logf("Error in occupancy state: %d", int(code))
		return change, fmt.Errorf("%w: %d", ErrInvalidState, int(code))
	}
	if code == c.last {
		return change, nil
	}
	c.last = code

	switch code {
	case occupancy.Clear:
		c.previous = occupancy.Clear
		c.atThreshold = false

	case occupancy.InnerOnly:
		if c.atThreshold && c.previous == occupancy.OuterOnly {
			change.Direction = Entered
		}
		c.atThreshold = false
		c.previous = occupancy.InnerOnly

	case occupancy.OuterOnly:
		if c.atThreshold && c.previous == occupancy.InnerOnly {
			change.Direction = Exited
		}
		c.atThreshold = false
		c.previous = occupancy.OuterOnly

	case occupancy.Threshold:
		c.atThreshold = true
	}

	if change.Direction == None {
		return change, nil
	}
	c.count += change.Direction.Delta()
	change.Count = c.count
	for _, n := range c.notifiers {
		n.CountChanged(change)
	}
	return change, nil
}

// ResetSequence forgets any crossing in progress. The count and limit are
// kept.
func (c *Counter) ResetSequence() {
	c.previous = occupancy.Clear
	c.atThreshold = false
	c.last = occupancy.Clear
}

// Count returns the net occupancy count.
func (c *Counter) Count() int { return c.count }

// SetCount overrides the count, e.g. to seed a known baseline at startup. It
// bypasses the state machine and does not notify.
func (c *Counter) SetCount(v int) { c.count = v }

// Limit returns the configured occupancy limit. The limit never affects
// counting.
func (c *Counter) Limit() int { return c.limit }

// SetLimit replaces the occupancy limit.
func (c *Counter) SetLimit(v int) { c.limit = v }

// OverLimit reports whether the count exceeds the limit.
func (c *Counter) OverLimit() bool { return c.count > c.limit }

// AtThreshold reports whether the last observed state was Threshold.
func (c *Counter) AtThreshold() bool { return c.atThreshold }

// Previous returns the last single-zone state observed (Clear, InnerOnly or
// OuterOnly).
func (c *Counter) Previous() occupancy.StateCode { return c.previous }
