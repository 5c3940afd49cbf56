// Package bridge reads the doorway sensor through a microcontroller on a
// serial line. The microcontroller owns the I2C bus and answers one request
// per zone:
//
//	> R1
//	< Z1,812
//	> R2
//	< Z2,-
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

// ErrClosed is returned when the serial mux shuts down mid-request.
var ErrClosed = errors.New("bridge: serial mux closed")

// Mux is the part of serialmux.SerialMuxInterface the ranger needs.
type Mux interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
	SendCommand(string) error
}

// SetupCommands configures the bridge's region of interest and the optical
// center used for each zone.
func SetupCommands(roiWidth, roiHeight int, centers [2]uint8) []string {
	return []string{
		fmt.Sprintf("ROI %d %d", roiWidth, roiHeight),
		fmt.Sprintf("CENTER %d %d", occupancy.Inner.Number(), centers[occupancy.Inner]),
		fmt.Sprintf("CENTER %d %d", occupancy.Outer.Number(), centers[occupancy.Outer]),
	}
}

// Ranger implements zone.RangeSource over a serial mux. Requests are
// serialised; replies for a zone other than the one requested are ignored.
type Ranger struct {
	mux   Mux
	id    string
	lines chan string

	mu sync.Mutex
}

// NewRanger subscribes to m. Close releases the subscription.
func NewRanger(m Mux) *Ranger {
	id, lines := m.Subscribe()
	return &Ranger{mux: m, id: id, lines: lines}
}

// Close unsubscribes from the mux.
func (r *Ranger) Close() {
	r.mux.Unsubscribe(r.id)
}

// Range implements zone.RangeSource.
func (r *Ranger) Range(ctx context.Context, z occupancy.Zone) (int, error) {
	if !z.Valid() {
		return 0, fmt.Errorf("bridge: invalid zone %d", int(z))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.drain(); err != nil {
		return 0, err
	}
	if err := r.mux.SendCommand(serialmux.RangeCommand(z)); err != nil {
		return 0, fmt.Errorf("bridge: failed to request zone %d: %w", z.Number(), err)
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case line, ok := <-r.lines:
			if !ok {
				return 0, ErrClosed
			}
			switch serialmux.ClassifyPayload(line) {
			case serialmux.EventTypeRange:
				reading, err := serialmux.ParseRangeLine(line)
				if err != nil {
					monitoring.Logf("bridge: ignoring malformed line %q: %v", line, err)
					continue
				}
				if reading.Zone != z {
					continue
				}
				if reading.Timeout {
					return 0, fmt.Errorf("bridge zone %d: %w", z.Number(), zone.ErrRangingTimeout)
				}
				return reading.MM, nil
			case serialmux.EventTypeError:
				return 0, fmt.Errorf("bridge zone %d: %s", z.Number(), strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
			default:
				monitoring.Debugf("bridge: %s", line)
			}
		}
	}
}

// drain discards lines that arrived since the last request so a late reply
// cannot be taken for the answer to this one.
func (r *Ranger) drain() error {
	for {
		select {
		case _, ok := <-r.lines:
			if !ok {
				return ErrClosed
			}
		default:
			return nil
		}
	}
}
