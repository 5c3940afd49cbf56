// Package vl53l1x drives an ST VL53L1X time-of-flight sensor over I2C using
// periph.io. Only the operations the doorway counter needs are implemented:
// boot and default configuration, distance mode, timing budget and range
// thresholds, region-of-interest selection, start/stop, data-ready polling
// and reading the range.
package vl53l1x

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/mmr"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// DefaultAddress is the factory I2C address.
const DefaultAddress = 0x29

const modelID = 0xEACC

// Register indexes (16-bit, big-endian on the wire).
const (
	regGPIOHVMuxCtrl       = 0x0030
	regGPIOTioHVStatus     = 0x0031
	regROICentreSPAD       = 0x007F
	regROIGlobalXYSize     = 0x0080
	regInterruptClear      = 0x0086
	regModeStart           = 0x0087
	regRangeStatus         = 0x0089
	regRangeMM             = 0x0096
	regFirmwareSystemState = 0x00E5
	regModelID             = 0x010F
)

const (
	modeStartRanging = 0x40
	modeStopRanging  = 0x00
)

// RangeStatus is the decoded result status of the last measurement.
type RangeStatus uint8

const (
	StatusValid       RangeStatus = 0
	StatusSigmaFail   RangeStatus = 1
	StatusSignalFail  RangeStatus = 2
	StatusOutOfBounds RangeStatus = 4
	StatusWrapAround  RangeStatus = 7
	StatusUnknown     RangeStatus = 255
)

// rawStatus maps RESULT__RANGE_STATUS & 0x1F to a RangeStatus.
var rawStatus = [24]RangeStatus{
	255, 255, 255, 5, 2, 4, 1, 7, 3, 0,
	255, 255, 9, 13, 255, 255, 255, 255, 10, 6,
	255, 255, 11, 12,
}

// HasTarget reports whether the measured distance belongs to a real target.
// Sigma failures are kept: the range is usable, only its spread is high.
func (s RangeStatus) HasTarget() bool {
	return s == StatusValid || s == StatusSigmaFail
}

// Dev is a handle to one sensor.
type Dev struct {
	m        mmr.Dev16
	addr     uint16
	polarity uint8
	mode     DistanceMode
}

// New checks the model id of the sensor at addr and reads its interrupt
// polarity.
func New(bus i2c.Bus, addr uint16) (*Dev, error) {
	d := &Dev{
		m:    mmr.Dev16{Conn: &i2c.Dev{Bus: bus, Addr: addr}, Order: binary.BigEndian},
		addr: addr,
	}
	id, err := d.m.ReadUint16(regModelID)
	if err != nil {
		return nil, fmt.Errorf("vl53l1x: failed to read model id: %w", err)
	}
	if id != modelID {
		return nil, fmt.Errorf("vl53l1x: unexpected model id 0x%04X at address 0x%02X", id, addr)
	}
	mux, err := d.m.ReadUint8(regGPIOHVMuxCtrl)
	if err != nil {
		return nil, fmt.Errorf("vl53l1x: failed to read interrupt polarity: %w", err)
	}
	// active high unless bit 4 is set
	d.polarity = 1 - (mux&0x10)>>4
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("VL53L1X{0x%02X}", d.addr)
}

// Booted reports whether the firmware finished booting.
func (d *Dev) Booted() (bool, error) {
	v, err := d.m.ReadUint8(regFirmwareSystemState)
	if err != nil {
		return false, err
	}
	return v&0x01 == 0x01, nil
}

// WaitBooted polls Booted every interval until the firmware is up or ctx is
// done. A nil clock uses the wall clock.
func (d *Dev) WaitBooted(ctx context.Context, clock timeutil.Clock, interval time.Duration) error {
	return poll(ctx, clock, interval, "boot", d.Booted)
}

// poll calls check every interval until it reports true, fails, or ctx is
// done.
func poll(ctx context.Context, clock timeutil.Clock, interval time.Duration, what string, check func() (bool, error)) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	for {
		ok, err := check()
		if err != nil {
			return fmt.Errorf("vl53l1x: waiting for %s: %w", what, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("vl53l1x: waiting for %s: %w", what, ctx.Err())
		case <-clock.After(interval):
		}
	}
}

// StartRanging starts continuous ranging.
func (d *Dev) StartRanging() error {
	return d.m.WriteUint8(regModeStart, modeStartRanging)
}

// StopRanging stops ranging.
func (d *Dev) StopRanging() error {
	return d.m.WriteUint8(regModeStart, modeStopRanging)
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return d.StopRanging()
}

// ClearInterrupt acknowledges the last measurement.
func (d *Dev) ClearInterrupt() error {
	return d.m.WriteUint8(regInterruptClear, 0x01)
}

// SetROI selects a width x height SPAD region centred on opticalCenter.
// Sizes are clamped to 4..16.
func (d *Dev) SetROI(width, height int, opticalCenter uint8) error {
	width, height = clampROI(width), clampROI(height)
	if err := d.m.WriteUint8(regROICentreSPAD, opticalCenter); err != nil {
		return err
	}
	return d.m.WriteUint8(regROIGlobalXYSize, uint8((height-1)<<4|(width-1)))
}

func clampROI(v int) int {
	switch {
	case v < 4:
		return 4
	case v > 16:
		return 16
	}
	return v
}

// DataReady reports whether a new measurement is available.
func (d *Dev) DataReady() (bool, error) {
	v, err := d.m.ReadUint8(regGPIOTioHVStatus)
	if err != nil {
		return false, err
	}
	return v&0x01 == d.polarity, nil
}

// Distance returns the last measured range in millimetres.
func (d *Dev) Distance() (uint16, error) {
	return d.m.ReadUint16(regRangeMM)
}

// RangeStatus returns the status of the last measurement.
func (d *Dev) RangeStatus() (RangeStatus, error) {
	v, err := d.m.ReadUint8(regRangeStatus)
	if err != nil {
		return StatusUnknown, err
	}
	v &= 0x1F
	if int(v) >= len(rawStatus) {
		return StatusUnknown, nil
	}
	return rawStatus[v], nil
}
