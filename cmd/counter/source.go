package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/tof"
	"github.com/banshee-data/occupancy.report/internal/tof/bridge"
	"github.com/banshee-data/occupancy.report/internal/tof/vl53l1x"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

const (
	bootTimeout      = 2 * time.Second
	bootPollInterval = 10 * time.Millisecond
)

// rangeSource is an opened sensor. mux is the serial bridge, or a
// DisabledSerialMux when the sensor is not on a serial line, so the debug
// routes and shutdown path are the same for every source.
type rangeSource struct {
	zone.RangeSource
	mux   serialmux.SerialMuxInterface
	close func() error
}

func (s *rangeSource) Close() error {
	var err error
	if s.close != nil {
		err = s.close()
	}
	if cerr := s.mux.Close(); err == nil {
		err = cerr
	}
	return err
}

func openSource(ctx context.Context, kind string, cfg *config.CounterConfig, fixturePath string, loop bool) (*rangeSource, error) {
	switch kind {
	case "i2c":
		return openI2C(ctx, cfg.GetSensor())
	case "serial":
		return openSerial(cfg)
	case "replay":
		r, err := tof.LoadReplay(fixturePath)
		if err != nil {
			return nil, err
		}
		r.Loop = loop
		log.Printf("replaying %d cycles from %s", r.Len(), fixturePath)
		return &rangeSource{RangeSource: r, mux: serialmux.NewDisabledSerialMux()}, nil
	default:
		return nil, fmt.Errorf("unknown source %q: expected i2c, serial or replay", kind)
	}
}

func openI2C(ctx context.Context, s *config.SensorConfig) (*rangeSource, error) {
	settings, err := s.Settings()
	if err != nil {
		return nil, err
	}
	dev, bus, err := vl53l1x.Open(s.GetI2CBus(), s.GetI2CAddress())
	if err != nil {
		return nil, err
	}
	clock := timeutil.RealClock{}
	bootCtx, cancel := context.WithTimeout(ctx, bootTimeout)
	defer cancel()
	if err := dev.WaitBooted(bootCtx, clock, bootPollInterval); err != nil {
		bus.Close()
		return nil, fmt.Errorf("sensor did not boot: %w", err)
	}
	if err := dev.Init(bootCtx, clock, bootPollInterval); err != nil {
		bus.Close()
		return nil, fmt.Errorf("sensor init failed: %w", err)
	}
	if err := dev.Configure(settings); err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to configure sensor: %w", err)
	}
	log.Printf("opened %s: %s range, %s timing budget, sigma %dmm, signal %dkcps", dev,
		settings.DistanceMode, settings.TimingBudget, settings.SigmaThresholdMM, settings.SignalThresholdKcps)

	w, h := s.GetROI()
	r := &vl53l1x.Ranger{
		Dev:            dev,
		OpticalCenters: s.GetOpticalCenters(),
		ROIWidth:       w,
		ROIHeight:      h,
		Settle:         s.GetZoneSettle(),
	}
	return &rangeSource{
		RangeSource: r,
		mux:         serialmux.NewDisabledSerialMux(),
		close: func() error {
			if err := dev.StopRanging(); err != nil {
				log.Printf("failed to stop ranging: %v", err)
			}
			return bus.Close()
		},
	}, nil
}

func openSerial(cfg *config.CounterConfig) (*rangeSource, error) {
	sc := cfg.GetSerial()
	m, err := serialmux.NewRealSerialMux(sc.GetPort(), sc.PortOptions())
	if err != nil {
		return nil, err
	}
	s := cfg.GetSensor()
	w, h := s.GetROI()
	m.SetInitCommands(bridge.SetupCommands(w, h, s.GetOpticalCenters())...)
	r := bridge.NewRanger(m)
	return &rangeSource{
		RangeSource: r,
		mux:         m,
		close: func() error {
			r.Close()
			return nil
		},
	}, nil
}
