package tof

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

func TestParseReplay(t *testing.T) {
	r, err := ParseReplay(strings.NewReader(`
# header
812, 1600
-,1550   # no return inner
timeout,900
700,TIMEOUT
`))
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []Frame{
		{{MM: 812}, {MM: 1600}},
		{{MM: zone.NoReturn}, {MM: 1550}},
		{{Timeout: true}, {MM: 900}},
		{{MM: 700}, {Timeout: true}},
	}, r.frames)
}

func TestParseReplay_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "# nothing\n\n", "no cycles"},
		{"one field", "100\n", "line 1: expected inner,outer"},
		{"three fields", "1,2,3\n", "expected inner,outer"},
		{"garbage", "100,abc\n", `line 1: invalid distance "abc"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReplay(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReplay_Range(t *testing.T) {
	r := NewReplay([]Frame{
		{{MM: 812}, {MM: 1600}},
		{{Timeout: true}, {MM: 900}},
		{{MM: 700}, {Timeout: true}},
		{{MM: zone.NoReturn}, {MM: 1550}},
	})
	ctx := context.Background()

	mm, err := r.Range(ctx, occupancy.Inner)
	require.NoError(t, err)
	assert.Equal(t, 812, mm)
	mm, err = r.Range(ctx, occupancy.Outer)
	require.NoError(t, err)
	assert.Equal(t, 1600, mm)

	_, err = r.Range(ctx, occupancy.Inner)
	assert.ErrorIs(t, err, zone.ErrRangingTimeout)

	mm, err = r.Range(ctx, occupancy.Inner)
	require.NoError(t, err)
	assert.Equal(t, 700, mm)
	_, err = r.Range(ctx, occupancy.Outer)
	assert.ErrorIs(t, err, zone.ErrRangingTimeout)

	mm, err = r.Range(ctx, occupancy.Inner)
	require.NoError(t, err)
	assert.Equal(t, zone.NoReturn, mm)
	_, err = r.Range(ctx, occupancy.Outer)
	require.NoError(t, err)

	_, err = r.Range(ctx, occupancy.Inner)
	assert.ErrorIs(t, err, ErrExhausted)

	r.Rewind()
	mm, err = r.Range(ctx, occupancy.Inner)
	require.NoError(t, err)
	assert.Equal(t, 812, mm)
}

func TestReplay_Loop(t *testing.T) {
	r := NewReplay([]Frame{{{MM: 1}, {MM: 2}}})
	r.Loop = true
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mm, err := r.Range(ctx, occupancy.Inner)
		require.NoError(t, err)
		assert.Equal(t, 1, mm)
		mm, err = r.Range(ctx, occupancy.Outer)
		require.NoError(t, err)
		assert.Equal(t, 2, mm)
	}
}

func TestReplay_CancelledContext(t *testing.T) {
	r := NewReplay([]Frame{{{MM: 1}, {MM: 2}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Range(ctx, occupancy.Inner)
	assert.ErrorIs(t, err, context.Canceled)
}

// The walk-in fixture drives a full entry through the estimator.
func TestReplay_Fixture(t *testing.T) {
	r, err := LoadReplay(filepath.Join("testdata", "walk_in.csv"))
	require.NoError(t, err)

	est, err := zone.NewEstimator(zone.Config{
		Thresholds: zone.Thresholds{DoorMM: 300, PersonMM: 1400},
		WindowSize: 3,
	})
	require.NoError(t, err)

	var codes []occupancy.StateCode
	for i := 0; i < r.Len(); i++ {
		cycle, err := est.Scan(context.Background(), r)
		if errors.Is(err, zone.ErrWarmingUp) {
			continue
		}
		require.NoError(t, err)
		if cycle.Changed {
			codes = append(codes, cycle.State)
		}
	}
	assert.Equal(t, []occupancy.StateCode{
		occupancy.OuterOnly, occupancy.Threshold, occupancy.InnerOnly, occupancy.Clear,
	}, codes)
}
