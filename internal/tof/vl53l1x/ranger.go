package vl53l1x

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

const defaultPollInterval = time.Millisecond

// Ranger measures the two doorway zones with a single sensor by moving the
// region of interest between two optical centers before each measurement.
type Ranger struct {
	Dev            *Dev
	// OpticalCenters indexed by occupancy.Zone.
	OpticalCenters [2]uint8
	ROIWidth       int
	ROIHeight      int
	// Settle is the pause between reprogramming the ROI and starting.
	Settle         time.Duration
	// Timeout bounds the data-ready wait. Zero relies on the context alone.
	Timeout        time.Duration
	PollInterval   time.Duration
	Clock          timeutil.Clock
}

// Range implements zone.RangeSource.
func (r *Ranger) Range(ctx context.Context, z occupancy.Zone) (int, error) {
	if !z.Valid() {
		return 0, fmt.Errorf("vl53l1x: invalid zone %d", int(z))
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	poll := r.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	if err := r.Dev.StopRanging(); err != nil {
		return 0, err
	}
	if err := r.Dev.ClearInterrupt(); err != nil {
		return 0, err
	}
	if err := r.Dev.SetROI(r.ROIWidth, r.ROIHeight, r.OpticalCenters[z]); err != nil {
		return 0, err
	}
	if r.Settle > 0 {
		clock.Sleep(r.Settle)
	}
	if err := r.Dev.StartRanging(); err != nil {
		return 0, err
	}

	started := clock.Now()
	for {
		ready, err := r.Dev.DataReady()
		if err != nil {
			return 0, err
		}
		if ready {
			break
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if r.Timeout > 0 && clock.Since(started) > r.Timeout {
			return 0, fmt.Errorf("vl53l1x zone %d: %w", z.Number(), zone.ErrRangingTimeout)
		}
		clock.Sleep(poll)
	}

	mm, err := r.Dev.Distance()
	if err != nil {
		return 0, err
	}
	status, err := r.Dev.RangeStatus()
	if err != nil {
		return 0, err
	}
	if !status.HasTarget() {
		return zone.NoReturn, nil
	}
	return int(mm), nil
}
