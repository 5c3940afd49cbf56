package vl53l1x

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Open initialises the periph host drivers, opens the named I2C bus (empty
// selects the first one) and connects to the sensor at addr. The caller must
// close the returned bus.
func Open(busName string, addr uint16) (*Dev, i2c.BusCloser, error) {
	// host.Init is idempotent; repeated calls are no-ops.
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialise periph host: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open i2c bus %q: %w", busName, err)
	}
	dev, err := New(bus, addr)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	return dev, bus, nil
}
