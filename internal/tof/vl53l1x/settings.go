package vl53l1x

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

const (
	regVHVTimeoutMacropLoopBound = 0x0008
	regVHVConfigInit             = 0x000B
	regDefaultConfigStart        = 0x002D
	regPhasecalTimeoutMacrop     = 0x004B
	regTimeoutMacropAHi          = 0x005E
	regVCSELPeriodA              = 0x0060
	regTimeoutMacropBHi          = 0x0061
	regVCSELPeriodB              = 0x0063
	regSigmaThresh               = 0x0064
	regMinCountRateRtnLimitMCPS  = 0x0066
	regValidPhaseHigh            = 0x0069
	regWOISD0                    = 0x0078
	regInitialPhaseSD0           = 0x007A
)

// defaultConfig is written to 0x002D..0x0087 by Init. It selects long
// distance mode and an active-high interrupt.
var defaultConfig = [...]byte{
	0x00, 0x00, 0x00, 0x01, 0x02, 0x00, 0x02, 0x08, // 0x2D
	0x00, 0x08, 0x10, 0x01, 0x01, 0x00, 0x00, 0x00, // 0x35
	0x00, 0xFF, 0x00, 0x0F, 0x00, 0x00, 0x00, 0x00, // 0x3D
	0x00, 0x20, 0x0B, 0x00, 0x00, 0x02, 0x0A, 0x21, // 0x45
	0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00, 0xC8, // 0x4D
	0x00, 0x00, 0x38, 0xFF, 0x01, 0x00, 0x08, 0x00, // 0x55
	0x00, 0x01, 0xCC, 0x0F, 0x01, 0xF1, 0x0D, 0x01, // 0x5D
	0x68, 0x00, 0x80, 0x08, 0xB8, 0x00, 0x00, 0x00, // 0x65
	0x00, 0x0F, 0x89, 0x00, 0x00, 0x00, 0x00, 0x00, // 0x6D
	0x00, 0x01, 0x0F, 0x0D, 0x0E, 0x0E, 0x00, 0x00, // 0x75
	0x00, 0x02, 0xC7, 0xFF, 0x9B, 0x00, 0x00, 0x00, // 0x7D
	0x01, 0x00, 0x00, // 0x85
}

// DistanceMode trades maximum range for ambient light immunity.
type DistanceMode uint8

const (
	// DistanceShort reaches about 1.3m and copes best with sunlight.
	DistanceShort DistanceMode = 1
	// DistanceLong reaches about 4m in the dark.
	DistanceLong DistanceMode = 2
)

func (m DistanceMode) String() string {
	switch m {
	case DistanceShort:
		return "short"
	case DistanceLong:
		return "long"
	}
	return fmt.Sprintf("DistanceMode(%d)", uint8(m))
}

// ParseDistanceMode accepts "short" or "long".
func ParseDistanceMode(s string) (DistanceMode, error) {
	switch strings.ToLower(s) {
	case "short":
		return DistanceShort, nil
	case "long":
		return DistanceLong, nil
	}
	return 0, fmt.Errorf("vl53l1x: unknown distance mode %q", s)
}

// distanceModeRegs are the per-mode timing values, in write order.
var distanceModeRegs = map[DistanceMode]struct {
	phasecal, vcselA, vcselB, validPhase uint8
	woiSD0, initialPhaseSD0             uint16
}{
	DistanceShort: {0x14, 0x07, 0x05, 0x38, 0x0705, 0x0606},
	DistanceLong:  {0x0A, 0x0F, 0x0D, 0xB8, 0x0F0D, 0x0E0E},
}

// timingBudgets maps a budget to the macro-period timeouts A and B for each
// distance mode. 15ms is only reachable in short mode.
var timingBudgets = map[DistanceMode]map[time.Duration][2]uint16{
	DistanceShort: {
		15 * time.Millisecond:  {0x001D, 0x0027},
		20 * time.Millisecond:  {0x0051, 0x006E},
		33 * time.Millisecond:  {0x00D6, 0x006E},
		50 * time.Millisecond:  {0x01AE, 0x01E8},
		100 * time.Millisecond: {0x02E1, 0x0388},
		200 * time.Millisecond: {0x03E1, 0x0496},
		500 * time.Millisecond: {0x0591, 0x05C1},
	},
	DistanceLong: {
		20 * time.Millisecond:  {0x001E, 0x0022},
		33 * time.Millisecond:  {0x0060, 0x006E},
		50 * time.Millisecond:  {0x00AD, 0x00C6},
		100 * time.Millisecond: {0x01CC, 0x01EA},
		200 * time.Millisecond: {0x02D9, 0x02F8},
		500 * time.Millisecond: {0x048F, 0x04A4},
	},
}

const (
	maxSigmaThresholdMM    = 0xFFFF >> 2
	maxSignalThresholdKcps = 0xFFFF << 3
)

// Settings is the ranging configuration applied after Init.
type Settings struct {
	DistanceMode DistanceMode
	TimingBudget time.Duration
	// SigmaThresholdMM rejects ranges whose estimated spread is wider.
	SigmaThresholdMM int
	// SignalThresholdKcps rejects ranges with a weaker return.
	SignalThresholdKcps int
}

// Validate checks s against what the device accepts.
func (s Settings) Validate() error {
	budgets, ok := timingBudgets[s.DistanceMode]
	if !ok {
		return fmt.Errorf("vl53l1x: unknown distance mode %d", uint8(s.DistanceMode))
	}
	if _, ok := budgets[s.TimingBudget]; !ok {
		return fmt.Errorf("vl53l1x: timing budget %s is not supported in %s mode", s.TimingBudget, s.DistanceMode)
	}
	if s.SigmaThresholdMM < 0 || s.SigmaThresholdMM > maxSigmaThresholdMM {
		return fmt.Errorf("vl53l1x: sigma threshold %dmm out of range 0..%d", s.SigmaThresholdMM, maxSigmaThresholdMM)
	}
	if s.SignalThresholdKcps < 0 || s.SignalThresholdKcps > maxSignalThresholdKcps {
		return fmt.Errorf("vl53l1x: signal threshold %dkcps out of range 0..%d", s.SignalThresholdKcps, maxSignalThresholdKcps)
	}
	return nil
}

// Init loads the default configuration and runs one measurement so the
// device calibrates its VHV, then leaves ranging stopped. The device must
// have booted. A nil clock uses the wall clock.
func (d *Dev) Init(ctx context.Context, clock timeutil.Clock, interval time.Duration) error {
	buf := make([]byte, 0, 2+len(defaultConfig))
	buf = append(buf, regDefaultConfigStart>>8, regDefaultConfigStart&0xFF)
	buf = append(buf, defaultConfig[:]...)
	if err := d.m.Conn.Tx(buf, nil); err != nil {
		return fmt.Errorf("vl53l1x: failed to write default configuration: %w", err)
	}
	// the block sets GPIO_HV_MUX__CTRL, so polarity follows it
	d.polarity = 1 - (defaultConfig[regGPIOHVMuxCtrl-regDefaultConfigStart]&0x10)>>4
	d.mode = DistanceLong

	if err := d.StartRanging(); err != nil {
		return err
	}
	if err := poll(ctx, clock, interval, "first measurement", d.DataReady); err != nil {
		return err
	}
	if err := d.ClearInterrupt(); err != nil {
		return err
	}
	if err := d.StopRanging(); err != nil {
		return err
	}
	// two bounds, start VHV from the previous temperature
	if err := d.m.WriteUint8(regVHVTimeoutMacropLoopBound, 0x09); err != nil {
		return err
	}
	return d.m.WriteUint8(regVHVConfigInit, 0x00)
}

// Configure applies s in the order the device needs: the timing budget
// depends on the distance mode.
func (d *Dev) Configure(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := d.SetDistanceMode(s.DistanceMode); err != nil {
		return err
	}
	if err := d.SetTimingBudget(s.TimingBudget); err != nil {
		return err
	}
	if err := d.SetSigmaThreshold(s.SigmaThresholdMM); err != nil {
		return err
	}
	return d.SetSignalThreshold(s.SignalThresholdKcps)
}

// SetDistanceMode selects short or long range. Call SetTimingBudget
// afterwards; the budget registers are mode specific.
func (d *Dev) SetDistanceMode(mode DistanceMode) error {
	r, ok := distanceModeRegs[mode]
	if !ok {
		return fmt.Errorf("vl53l1x: unknown distance mode %d", uint8(mode))
	}
	for _, w := range []struct {
		reg uint16
		v   uint8
	}{
		{regPhasecalTimeoutMacrop, r.phasecal},
		{regVCSELPeriodA, r.vcselA},
		{regVCSELPeriodB, r.vcselB},
		{regValidPhaseHigh, r.validPhase},
	} {
		if err := d.m.WriteUint8(w.reg, w.v); err != nil {
			return fmt.Errorf("vl53l1x: failed to set %s mode: %w", mode, err)
		}
	}
	if err := d.m.WriteUint16(regWOISD0, r.woiSD0); err != nil {
		return fmt.Errorf("vl53l1x: failed to set %s mode: %w", mode, err)
	}
	if err := d.m.WriteUint16(regInitialPhaseSD0, r.initialPhaseSD0); err != nil {
		return fmt.Errorf("vl53l1x: failed to set %s mode: %w", mode, err)
	}
	d.mode = mode
	return nil
}

// DistanceMode returns the last mode set, or zero before Init or
// SetDistanceMode.
func (d *Dev) DistanceMode() DistanceMode { return d.mode }

// SetTimingBudget sets the time spent on each measurement. Only the budgets
// the device has timeout tables for are accepted.
func (d *Dev) SetTimingBudget(budget time.Duration) error {
	budgets, ok := timingBudgets[d.mode]
	if !ok {
		return fmt.Errorf("vl53l1x: distance mode must be set before the timing budget")
	}
	t, ok := budgets[budget]
	if !ok {
		return fmt.Errorf("vl53l1x: timing budget %s is not supported in %s mode", budget, d.mode)
	}
	if err := d.m.WriteUint16(regTimeoutMacropAHi, t[0]); err != nil {
		return err
	}
	return d.m.WriteUint16(regTimeoutMacropBHi, t[1])
}

// SetSigmaThreshold sets the largest acceptable range spread in mm.
func (d *Dev) SetSigmaThreshold(mm int) error {
	if mm < 0 || mm > maxSigmaThresholdMM {
		return fmt.Errorf("vl53l1x: sigma threshold %dmm out of range 0..%d", mm, maxSigmaThresholdMM)
	}
	return d.m.WriteUint16(regSigmaThresh, uint16(mm<<2))
}

// SetSignalThreshold sets the weakest acceptable return in kcps. The
// register holds kcps/8.
func (d *Dev) SetSignalThreshold(kcps int) error {
	if kcps < 0 || kcps > maxSignalThresholdKcps {
		return fmt.Errorf("vl53l1x: signal threshold %dkcps out of range 0..%d", kcps, maxSignalThresholdKcps)
	}
	return d.m.WriteUint16(regMinCountRateRtnLimitMCPS, uint16(kcps>>3))
}
