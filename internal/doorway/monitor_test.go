package doorway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/crossing"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/testutil"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/tof"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

var (
	nobody  = tof.Frame{{MM: 1600}, {MM: 1600}}
	outer   = tof.Frame{{MM: 1600}, {MM: 800}}
	both    = tof.Frame{{MM: 800}, {MM: 800}}
	inner   = tof.Frame{{MM: 800}, {MM: 1600}}
	timeout = tof.Frame{{Timeout: true}, {MM: 1600}}
)

type memRecorder struct {
	mu          sync.Mutex
	transitions []Transition
	crossings   []Crossing
	overrides   []Override
	err         error
}

func (r *memRecorder) RecordTransition(_ context.Context, t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	return r.err
}

func (r *memRecorder) RecordCrossing(_ context.Context, c Crossing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crossings = append(r.crossings, c)
	return r.err
}

func (r *memRecorder) RecordCountOverride(_ context.Context, o Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = append(r.overrides, o)
	return r.err
}

func newTestMonitor(t *testing.T, window, limit int, cfg Config, frames ...tof.Frame) (*Monitor, *memRecorder, *timeutil.MockClock) {
	t.Helper()
	est, err := zone.NewEstimator(zone.Config{
		Thresholds: zone.Thresholds{DoorMM: 300, PersonMM: 1400},
		WindowSize: window,
	})
	require.NoError(t, err)
	m := NewMonitor(est, crossing.NewCounter(limit, crossing.LogNotifier{}), tof.NewReplay(frames), cfg)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	rec := &memRecorder{}
	m.Clock = clock
	m.Recorder = rec
	return m, rec, clock
}

func steps(t *testing.T, m *Monitor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := m.Step(context.Background())
		if errors.Is(err, zone.ErrWarmingUp) {
			continue
		}
		require.NoError(t, err, "step %d", i)
	}
}

func TestMonitor_Entry(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	m, rec, _ := newTestMonitor(t, 1, 10, Config{}, nobody, outer, both, inner, nobody)

	steps(t, m, 5)

	assert.Equal(t, 1, m.Count())
	require.Len(t, rec.crossings, 1)
	assert.Equal(t, crossing.Entered, rec.crossings[0].Direction)
	assert.Equal(t, 1, rec.crossings[0].Count)
	assert.Equal(t, 10, rec.crossings[0].Limit)

	var codes []occupancy.StateCode
	for _, tr := range rec.transitions {
		codes = append(codes, tr.To)
	}
	assert.Equal(t, []occupancy.StateCode{2, 3, 1, 0}, codes)
	assert.Equal(t, 1600, rec.transitions[0].InnerMM)
	assert.Equal(t, 800, rec.transitions[0].OuterMM)
	assert.True(t, logs.Contains("Occupancy increased to 1"))
}

func TestMonitor_Exit(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	m, rec, _ := newTestMonitor(t, 1, 10, Config{}, nobody, inner, both, outer, nobody)
	require.NoError(t, m.SetCount(context.Background(), 2, "test"))

	steps(t, m, 5)

	assert.Equal(t, 1, m.Count())
	require.Len(t, rec.crossings, 1)
	assert.Equal(t, crossing.Exited, rec.crossings[0].Direction)
	assert.True(t, logs.Contains("Occupancy decreased to 1"))
}

func TestMonitor_RetreatDoesNotCount(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 1, 10, Config{}, nobody, outer, both, outer, nobody)
	steps(t, m, 5)
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, rec.crossings)
	assert.Len(t, rec.transitions, 4)
}

func TestMonitor_LimitExceededNotice(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	m, _, _ := newTestMonitor(t, 1, 1, Config{},
		nobody, outer, both, inner, nobody,
		outer, both, inner, nobody,
		outer, both, inner, nobody,
	)
	steps(t, m, 13)

	assert.Equal(t, 3, m.Count())
	var notices int
	for _, line := range logs.Lines() {
		if line == "Occupancy limit of 1 exceeded (2)" {
			notices++
		}
	}
	assert.Equal(t, 1, notices, "notice is raised once when the limit is first exceeded")
	assert.True(t, m.Snapshot().OverLimit)
}

func TestMonitor_WarmUpDoesNotCount(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 3, 10, Config{}, outer, both, inner, nobody)
	for i := 0; i < 2; i++ {
		_, err := m.Step(context.Background())
		assert.ErrorIs(t, err, zone.ErrWarmingUp)
	}
	assert.False(t, m.Snapshot().Ready)
	assert.Empty(t, rec.transitions)
}

func TestMonitor_TimeoutKeepsState(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 1, 10, Config{}, outer, timeout, both, inner, nobody)
	steps(t, m, 1)

	_, err := m.Step(context.Background())
	var te *zone.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, occupancy.Inner, te.Zone)

	snap := m.Snapshot()
	assert.Equal(t, occupancy.OuterOnly, snap.State)
	assert.Equal(t, uint64(1), snap.Failures)
	assert.NotEmpty(t, snap.LastError)

	steps(t, m, 3)
	assert.Equal(t, 1, m.Count(), "a failed cycle does not break a crossing in progress")
	assert.Empty(t, m.Snapshot().LastError)
	assert.Len(t, rec.transitions, 4)
}

func TestMonitor_RecorderErrorsAreLogged(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	m, rec, _ := newTestMonitor(t, 1, 10, Config{}, nobody, outer, both, inner, nobody)
	rec.err = errors.New("disk full")

	steps(t, m, 5)
	assert.Equal(t, 1, m.Count())
	assert.True(t, logs.Contains("failed to record crossing: disk full"))

	err := m.SetCount(context.Background(), 4, "api")
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 4, m.Count(), "count is set even when journaling fails")
}

func TestMonitor_SetCountAndLimit(t *testing.T) {
	m, rec, clock := newTestMonitor(t, 1, 10, Config{})

	require.NoError(t, m.SetCount(context.Background(), 12, "api"))
	require.Len(t, rec.overrides, 1)
	assert.Equal(t, Override{At: clock.Now(), Previous: 0, Count: 12, Source: "api"}, rec.overrides[0])

	snap := m.Snapshot()
	assert.Equal(t, 12, snap.Count)
	assert.True(t, snap.OverLimit)

	m.SetLimit(20)
	assert.Equal(t, 20, m.Limit())
	assert.False(t, m.Snapshot().OverLimit)
}

func TestMonitor_Calibrate(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	m, _, clock := newTestMonitor(t, 3, 10, Config{PollInterval: 50 * time.Millisecond}, nobody, nobody, nobody)

	require.NoError(t, m.Calibrate(context.Background()))
	assert.True(t, m.Snapshot().Calibrated)
	assert.True(t, logs.Contains("zones clear at 1600mm / 1600mm"))
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clock.Sleeps())
}

func TestMonitor_CalibrateRetries(t *testing.T) {
	m, _, clock := newTestMonitor(t, 3, 10,
		Config{CalibrationAttempts: 2, CalibrationRetryDelay: 10 * time.Second},
		outer, outer, outer, nobody, nobody, nobody)

	require.NoError(t, m.Calibrate(context.Background()))
	assert.Contains(t, clock.Sleeps(), 10*time.Second)
	assert.Equal(t, 0, m.Count(), "calibration never feeds the counter")
}

func TestMonitor_CalibrateNotClear(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	m, _, _ := newTestMonitor(t, 3, 10,
		Config{CalibrationAttempts: 2, CalibrationRetryDelay: 10 * time.Second},
		outer, outer, outer, outer, outer, outer)

	err := m.Calibrate(context.Background())
	assert.ErrorIs(t, err, ErrNotClear)
	assert.False(t, m.Snapshot().Calibrated)
	assert.True(t, logs.Contains("attempt 2 of 2"))
}

func TestMonitor_RecalibrateForgetsPartialCrossing(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	m, rec, _ := newTestMonitor(t, 1, 10, Config{},
		nobody, inner, both, nobody, outer, nobody)

	require.NoError(t, m.Calibrate(context.Background()))
	steps(t, m, 2)
	require.True(t, m.Snapshot().AtThreshold)

	// sensor reset mid-crossing, doorway clear again afterwards
	require.NoError(t, m.Calibrate(context.Background()))
	assert.False(t, m.Snapshot().AtThreshold)
	steps(t, m, 2)

	assert.Equal(t, 0, m.Count())
	assert.Empty(t, rec.crossings)
	assert.False(t, logs.Contains("decreased to"))
}

func TestMonitor_CalibrateUnresponsive(t *testing.T) {
	m, _, _ := newTestMonitor(t, 3, 10, Config{MaxConsecutiveFailures: 2}, timeout, timeout)
	err := m.Calibrate(context.Background())
	assert.ErrorIs(t, err, ErrSensorUnresponsive)
}

func TestMonitor_RunStopsWhenUnresponsive(t *testing.T) {
	testutil.CaptureLogs(t)
	m, _, clock := newTestMonitor(t, 1, 10,
		Config{PollInterval: 50 * time.Millisecond, MaxConsecutiveFailures: 3},
		nobody, outer, timeout, timeout, both, timeout, timeout, timeout)

	err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrSensorUnresponsive)
	assert.ErrorIs(t, err, zone.ErrRangingTimeout)
	assert.Len(t, clock.Sleeps(), 7)
	assert.Equal(t, occupancy.Threshold, m.Snapshot().State)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	est, err := zone.NewEstimator(zone.Config{Thresholds: zone.Thresholds{DoorMM: 300, PersonMM: 1400}, WindowSize: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	src := zone.RangeSourceFunc(func(ctx context.Context, z occupancy.Zone) (int, error) {
		calls++
		if calls == 20 {
			cancel()
			return 0, ctx.Err()
		}
		return 1600, nil
	})
	m := NewMonitor(est, crossing.NewCounter(10), src, Config{PollInterval: time.Second})
	m.Clock = timeutil.NewMockClock(time.Unix(0, 0))

	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
	assert.Equal(t, uint64(10), m.Snapshot().Cycles)
}

func TestMonitor_ConcurrentReaders(t *testing.T) {
	testutil.CaptureLogs(t)
	est, err := zone.NewEstimator(zone.Config{Thresholds: zone.Thresholds{DoorMM: 300, PersonMM: 1400}, WindowSize: 1})
	require.NoError(t, err)
	src := tof.NewReplay([]tof.Frame{nobody, outer, both, inner})
	src.Loop = true
	m := NewMonitor(est, crossing.NewCounter(1000, crossing.LogNotifier{}), src, Config{PollInterval: time.Millisecond})
	m.Clock = timeutil.NewMockClock(time.Unix(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = m.Snapshot()
				_ = m.Diagnostics()
				m.SetLimit(1000 + j)
			}
		}()
	}
	wg.Wait()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, m.Count(), 0)
}
