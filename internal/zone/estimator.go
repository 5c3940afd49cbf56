// Package zone turns raw per-zone range samples into a stable occupancy
// classification. Each zone keeps a sliding window of recent samples; the
// zone is occupied when the window minimum lies strictly between the door
// and person thresholds.
//
// The minimum (rather than a mean or median) is used so that a short close
// return from someone passing through is not averaged away. The cost is that
// a zone reads clear only after the low samples have aged out of the window.
package zone

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

const (
	// NoReturn is the raw sample value for "no valid return" (no target or
	// out of range).
	NoReturn = -1

	// FarField is what a NoReturn sample is stored as. It is larger than any
	// real range so it never hides a close return and is never occupied.
	FarField = math.MaxInt32
)

// RangeSource provides one raw range sample per zone per call. It returns
// millimetres or NoReturn. A reading that is not ready before ctx expires
// must be reported as ErrRangingTimeout or the context error.
type RangeSource interface {
	Range(ctx context.Context, z occupancy.Zone) (int, error)
}

// RangeSourceFunc adapts a function to RangeSource.
type RangeSourceFunc func(ctx context.Context, z occupancy.Zone) (int, error)

// Range calls f.
func (f RangeSourceFunc) Range(ctx context.Context, z occupancy.Zone) (int, error) {
	return f(ctx, z)
}

// Thresholds bound the distance band that counts as a person.
type Thresholds struct {
	// DoorMM rejects near-zero returns from a closed door or an obstruction.
	DoorMM   int
	// PersonMM rejects the background (floor, far wall).
	PersonMM int
}

// Occupied reports DoorMM < min < PersonMM. Values equal to either
// threshold are not occupied.
func (t Thresholds) Occupied(minMM int) bool {
	return minMM > t.DoorMM && minMM < t.PersonMM
}

// Config holds the estimator parameters.
type Config struct {
	Thresholds     Thresholds
	WindowSize     int
	RangingTimeout time.Duration
}

// ZoneState is the classification of one zone after a sample was ingested.
type ZoneState struct {
	Zone occupancy.Zone `json:"zone"`

	// Min is the window minimum, or NoReturn when every sample in the
	// window had no return.
	Min      int  `json:"min_mm"`
	Occupied bool `json:"occupied"`
	// Ready is false while the window is still filling. Occupied is
	// always false until then.
	Ready    bool `json:"ready"`
	Samples  int  `json:"samples"`
	NoReturn bool `json:"no_return"`
}

// Cycle is the result of one scan of both zones.
type Cycle struct {
	Zones    [2]ZoneState
	Previous occupancy.StateCode
	State    occupancy.StateCode
	// Changed is true when State differs from the previous successful cycle.
	Changed  bool
}

// Estimator owns one window per zone. It is not safe for concurrent use;
// the doorway monitor serialises access to it.
type Estimator struct {
	cfg     Config
	windows [2]*Window
	last    [2]int
	hasLast [2]bool
	state   occupancy.StateCode
}

// NewEstimator validates cfg and returns an estimator with empty windows.
func NewEstimator(cfg Config) (*Estimator, error) {
	if cfg.WindowSize < 1 {
		return nil, fmt.Errorf("window size must be at least 1, got %d", cfg.WindowSize)
	}
	if cfg.Thresholds.DoorMM < 0 {
		return nil, fmt.Errorf("door threshold must be non-negative, got %d", cfg.Thresholds.DoorMM)
	}
	if cfg.Thresholds.DoorMM >= cfg.Thresholds.PersonMM {
		return nil, fmt.Errorf("door threshold %dmm must be below person threshold %dmm",
			cfg.Thresholds.DoorMM, cfg.Thresholds.PersonMM)
	}
	e := &Estimator{cfg: cfg}
	for i := range e.windows {
		e.windows[i] = NewWindow(cfg.WindowSize)
	}
	return e, nil
}

// Config returns the estimator configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Ingest inserts one raw sample for zone z and classifies the zone.
func (e *Estimator) Ingest(z occupancy.Zone, raw int) (ZoneState, error) {
	if !z.Valid() {
		return ZoneState{}, fmt.Errorf("invalid zone index %d", int(z))
	}
	if raw < 0 {
		raw = NoReturn
	}
	e.last[z] = raw
	e.hasLast[z] = true

	stored := raw
	if raw == NoReturn {
		stored = FarField
	}
	w := e.windows[z]
	w.Push(stored)
	return e.zoneState(z), nil
}

func (e *Estimator) zoneState(z occupancy.Zone) ZoneState {
	w := e.windows[z]
	st := ZoneState{Zone: z, Samples: w.Len(), Ready: w.Full()}
	low, ok := w.Min()
	if !ok {
		st.Min = NoReturn
		st.NoReturn = true
		return st
	}
	if low == FarField {
		st.Min = NoReturn
		st.NoReturn = true
	} else {
		st.Min = low
	}
	if st.Ready {
		st.Occupied = e.cfg.Thresholds.Occupied(low)
	}
	return st
}

// Scan ranges both zones in order and ingests each reading. A timeout or read
// failure aborts the cycle: the failing zone is left unmodified while a zone
// already read in this cycle stays inserted. The state code is only updated
// by cycles that complete with both windows full; before that Scan returns
// ErrWarmingUp alongside the partial cycle.
func (e *Estimator) Scan(ctx context.Context, src RangeSource) (Cycle, error) {
	cycle := Cycle{Previous: e.state, State: e.state}
	for _, z := range occupancy.Zones {
		raw, err := e.rangeZone(ctx, src, z)
		if err != nil {
			return cycle, err
		}
		st, err := e.Ingest(z, raw)
		if err != nil {
			return cycle, err
		}
		cycle.Zones[z] = st
		monitoring.Debugf("zone%d raw=%dmm min=%dmm occupied=%v", z.Number(), raw, st.Min, st.Occupied)
	}

	if !cycle.Zones[occupancy.Inner].Ready || !cycle.Zones[occupancy.Outer].Ready {
		return cycle, ErrWarmingUp
	}

	cycle.State = occupancy.Combine(cycle.Zones[occupancy.Inner].Occupied, cycle.Zones[occupancy.Outer].Occupied)
	cycle.Changed = cycle.State != e.state
	if cycle.Changed {
		monitoring.Debugf("occupancy state changed from %d to %d (%dmm / %dmm)",
			e.state, cycle.State, cycle.Zones[occupancy.Inner].Min, cycle.Zones[occupancy.Outer].Min)
	}
	e.state = cycle.State
	return cycle, nil
}

func (e *Estimator) rangeZone(ctx context.Context, src RangeSource, z occupancy.Zone) (int, error) {
	rctx := ctx
	if e.cfg.RangingTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.cfg.RangingTimeout)
		defer cancel()
	}

	raw, err := src.Range(rctx, z)
	switch {
	case err == nil:
		return raw, nil
	case ctx.Err() != nil:
		// the caller is shutting down, not a sensor problem
		return 0, ctx.Err()
	case errors.Is(err, ErrRangingTimeout), errors.Is(err, context.DeadlineExceeded):
		return 0, &TimeoutError{Zone: z, Timeout: e.cfg.RangingTimeout}
	default:
		return 0, &ReadError{Zone: z, Err: err}
	}
}

// State returns the occupancy code of the last completed cycle.
func (e *Estimator) State() occupancy.StateCode { return e.state }

// Ready reports whether both windows are full.
func (e *Estimator) Ready() bool {
	return e.windows[occupancy.Inner].Full() && e.windows[occupancy.Outer].Full()
}

// ZoneState returns the current classification of z without ingesting.
func (e *Estimator) ZoneState(z occupancy.Zone) ZoneState {
	if !z.Valid() {
		return ZoneState{Zone: z, Min: NoReturn, NoReturn: true}
	}
	return e.zoneState(z)
}

// LastDistance returns the last raw sample ingested for z.
func (e *Estimator) LastDistance(z occupancy.Zone) (int, bool) {
	if !z.Valid() {
		return 0, false
	}
	return e.last[z], e.hasLast[z]
}

// Reset empties both windows and forgets the state code, restarting warm-up.
func (e *Estimator) Reset() {
	for i := range e.windows {
		e.windows[i].Reset()
		e.last[i] = 0
		e.hasLast[i] = false
	}
	e.state = occupancy.Clear
}
