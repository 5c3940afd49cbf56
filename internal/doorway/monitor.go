// Package doorway runs the counting loop: it scans the sensor, feeds state
// changes into the crossing counter and journals what happened. Monitor is
// the only concurrency boundary; the estimator and counter it owns are
// single-threaded.
package doorway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.report/internal/crossing"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

var (
	// ErrNotClear is returned by Calibrate when someone stays in the doorway
	// for every calibration attempt.
	ErrNotClear = errors.New("doorway not clear")

	// ErrSensorUnresponsive is returned by Run after too many consecutive
	// failed cycles. The caller is expected to reset the sensor.
	ErrSensorUnresponsive = errors.New("sensor unresponsive")
)

// Config holds the loop timing.
type Config struct {
	PollInterval          time.Duration
	CalibrationRetryDelay time.Duration
	// CalibrationAttempts is the number of clear-doorway checks before
	// giving up. Values below 1 mean one.
	CalibrationAttempts int
	// MaxConsecutiveFailures stops Run after this many failed cycles in a
	// row. Zero means never.
	MaxConsecutiveFailures int
}

// Snapshot is a consistent view of the monitor.
type Snapshot struct {
	Count       int                 `json:"count"`
	Limit       int                 `json:"limit"`
	State       occupancy.StateCode `json:"state"`
	AtThreshold bool                `json:"at_threshold"`
	OverLimit   bool                `json:"over_limit"`
	Ready       bool                `json:"ready"`
	Calibrated  bool                `json:"calibrated"`
	Zones       [2]zone.ZoneState   `json:"zones"`
	Cycles      uint64              `json:"cycles"`
	Failures    uint64              `json:"failures"`
	LastError   string              `json:"last_error,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Monitor owns an estimator, a counter and the range source feeding them.
//
// Scanning and state are locked separately so that HTTP readers are never
// held up by a slow sensor.
type Monitor struct {
	// Clock and Recorder must be set before the first Step.
	Clock    timeutil.Clock
	Recorder Recorder

	cfg Config
	src zone.RangeSource

	scanMu sync.Mutex
	est    *zone.Estimator

	mu         sync.Mutex
	counter    *crossing.Counter
	overLimit  bool
	calibrated bool
	lastCycle  zone.Cycle
	diag       [2]zone.Diagnostics
	cycles     uint64
	failures   uint64
	lastErr    error
	updatedAt  time.Time
}

// NewMonitor returns a monitor over est and counter reading from src.
func NewMonitor(est *zone.Estimator, counter *crossing.Counter, src zone.RangeSource, cfg Config) *Monitor {
	m := &Monitor{
		Clock:   timeutil.RealClock{},
		cfg:     cfg,
		src:     src,
		est:     est,
		counter: counter,
		diag:    est.Diagnostics(),
	}
	m.overLimit = counter.OverLimit()
	return m
}

// scan runs one estimator cycle and refreshes the cached view. It does not
// touch the counter.
func (m *Monitor) scan(ctx context.Context) (zone.Cycle, error) {
	m.scanMu.Lock()
	cycle, err := m.est.Scan(ctx, m.src)
	diag := m.est.Diagnostics()
	m.scanMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
	m.diag = diag
	m.updatedAt = m.Clock.Now()
	if err != nil && ctx.Err() != nil {
		// shutting down, not a sensor failure
		return cycle, err
	}
	if err != nil && !errors.Is(err, zone.ErrWarmingUp) {
		m.failures++
		m.lastErr = err
		return cycle, err
	}
	m.lastErr = nil
	m.lastCycle = cycle
	return cycle, err
}

// Step performs one scan cycle. A state change is fed to the counter and
// journaled, together with any crossing it completes. Step returns
// zone.ErrWarmingUp until both windows are full; the counter is not fed
// until then.
func (m *Monitor) Step(ctx context.Context) (zone.Cycle, error) {
	cycle, err := m.scan(ctx)
	if err != nil || !cycle.Changed {
		return cycle, err
	}
	now := m.Clock.Now()

	m.mu.Lock()
	change, obsErr := m.counter.Observe(cycle.State)
	limit := m.counter.Limit()
	var exceeded bool
	if change.Direction != crossing.None {
		over := m.counter.OverLimit()
		exceeded = over && !m.overLimit
		m.overLimit = over
	}
	m.mu.Unlock()

	if obsErr != nil {
		return cycle, obsErr
	}
	if exceeded {
		monitoring.Logf("Occupancy limit of %d exceeded (%d)", limit, change.Count)
	}

	if m.Recorder == nil {
		return cycle, nil
	}
	t := Transition{
		At:      now,
		From:    cycle.Previous,
		To:      cycle.State,
		InnerMM: cycle.Zones[occupancy.Inner].Min,
		OuterMM: cycle.Zones[occupancy.Outer].Min,
	}
	if err := m.Recorder.RecordTransition(ctx, t); err != nil {
		monitoring.Logf("failed to record transition %d->%d: %v", t.From, t.To, err)
	}
	if change.Direction != crossing.None {
		c := Crossing{At: now, Direction: change.Direction, Count: change.Count, Limit: limit}
		if err := m.Recorder.RecordCrossing(ctx, c); err != nil {
			monitoring.Logf("failed to record crossing: %v", err)
		}
	}
	return cycle, nil
}

// Calibrate fills both windows and then requires the doorway to read Clear.
// When it does not, the windows are refilled after the retry delay and the
// check repeated, up to the configured number of attempts. The counter is
// not fed while calibrating; a successful calibration drops any crossing
// the counter had in progress, since the states it saw are no longer
// adjacent to the ones that follow.
func (m *Monitor) Calibrate(ctx context.Context) error {
	attempts := max(m.cfg.CalibrationAttempts, 1)
	for attempt := 1; ; attempt++ {
		cycle, err := m.settle(ctx)
		if err != nil {
			return err
		}
		inner, outer := cycle.Zones[occupancy.Inner].Min, cycle.Zones[occupancy.Outer].Min
		if cycle.State == occupancy.Clear {
			monitoring.Logf("zones clear at %dmm / %dmm", inner, outer)
			m.mu.Lock()
			m.counter.ResetSequence()
			m.calibrated = true
			m.mu.Unlock()
			return nil
		}
		monitoring.Logf("doorway not clear during calibration (state %d, %dmm / %dmm), attempt %d of %d",
			cycle.State, inner, outer, attempt, attempts)
		if attempt >= attempts {
			return fmt.Errorf("%w: state %d after %d attempts", ErrNotClear, cycle.State, attempts)
		}
		if err := m.wait(ctx, m.cfg.CalibrationRetryDelay); err != nil {
			return err
		}
		// samples from before the delay are stale; refill from scratch
		m.scanMu.Lock()
		m.est.Reset()
		m.scanMu.Unlock()
	}
}

// settle scans until a cycle completes with both windows full.
func (m *Monitor) settle(ctx context.Context) (zone.Cycle, error) {
	failures := 0
	for {
		cycle, err := m.scan(ctx)
		switch {
		case err == nil:
			return cycle, nil
		case errors.Is(err, zone.ErrWarmingUp):
			failures = 0
		case ctx.Err() != nil:
			return cycle, ctx.Err()
		default:
			failures++
			monitoring.Logf("calibration cycle failed: %v", err)
			if err := m.checkFailures(failures, err); err != nil {
				return cycle, err
			}
		}
		if err := m.wait(ctx, m.cfg.PollInterval); err != nil {
			return cycle, err
		}
	}
}

// Run steps the monitor every poll interval until ctx is done. Failed
// cycles are logged and retried; see Config.MaxConsecutiveFailures.
func (m *Monitor) Run(ctx context.Context) error {
	failures := 0
	for {
		_, err := m.Step(ctx)
		switch {
		case err == nil, errors.Is(err, zone.ErrWarmingUp):
			failures = 0
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, crossing.ErrInvalidState):
			// already logged by the counter
		default:
			failures++
			monitoring.Logf("cycle failed: %v", err)
			if err := m.checkFailures(failures, err); err != nil {
				return err
			}
		}
		if err := m.wait(ctx, m.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (m *Monitor) checkFailures(n int, last error) error {
	if m.cfg.MaxConsecutiveFailures > 0 && n >= m.cfg.MaxConsecutiveFailures {
		return fmt.Errorf("%w after %d consecutive failures: %w", ErrSensorUnresponsive, n, last)
	}
	return nil
}

func (m *Monitor) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.Clock.After(d):
		return nil
	}
}

// Count returns the net occupancy count.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter.Count()
}

// SetCount overrides the count and journals the override with source as
// its origin ("startup", "api", ...).
func (m *Monitor) SetCount(ctx context.Context, count int, source string) error {
	m.mu.Lock()
	previous := m.counter.Count()
	m.counter.SetCount(count)
	m.overLimit = m.counter.OverLimit()
	m.mu.Unlock()

	monitoring.Logf("Occupancy set to %d by %s", count, source)
	if m.Recorder == nil {
		return nil
	}
	o := Override{At: m.Clock.Now(), Previous: previous, Count: count, Source: source}
	if err := m.Recorder.RecordCountOverride(ctx, o); err != nil {
		return fmt.Errorf("failed to record count override: %w", err)
	}
	return nil
}

// Limit returns the occupancy limit.
func (m *Monitor) Limit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter.Limit()
}

// SetLimit replaces the occupancy limit.
func (m *Monitor) SetLimit(limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter.SetLimit(limit)
	m.overLimit = m.counter.OverLimit()
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Count:       m.counter.Count(),
		Limit:       m.counter.Limit(),
		State:       m.lastCycle.State,
		AtThreshold: m.counter.AtThreshold(),
		OverLimit:   m.counter.OverLimit(),
		Ready:       m.diag[occupancy.Inner].Ready && m.diag[occupancy.Outer].Ready,
		Calibrated:  m.calibrated,
		Cycles:      m.cycles,
		Failures:    m.failures,
		UpdatedAt:   m.updatedAt,
	}
	for _, z := range occupancy.Zones {
		s.Zones[z] = m.diag[z].ZoneState
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Diagnostics returns the per-zone window statistics as of the last cycle.
func (m *Monitor) Diagnostics() [2]zone.Diagnostics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.diag
}
