package serialmux

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

const (
	EventTypeRange   = "range"
	EventTypeAck     = "ack"
	EventTypeError   = "error"
	EventTypeInfo    = "info"
	EventTypeUnknown = "unknown"
)

// ErrNotRangeLine is returned by ParseRangeLine for lines of another type.
var ErrNotRangeLine = errors.New("not a range line")

// ClassifyPayload returns the event type of one line from the bridge.
//
//	Z1,812      range reading for zone 1
//	Z2,-        zone 2 saw no target
//	Z1,timeout  zone 1 was not ready in time
//	OK          command accepted
//	ERR ...     command rejected or sensor fault
//	# ...       free-form information (boot banner, firmware version)
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	switch {
	case len(payload) > 2 && payload[0] == 'Z' && strings.Contains(payload, ","):
		return EventTypeRange
	case payload == "OK":
		return EventTypeAck
	case strings.HasPrefix(payload, "ERR"):
		return EventTypeError
	case strings.HasPrefix(payload, "#"):
		return EventTypeInfo
	}
	return EventTypeUnknown
}

// RangeLine is a decoded range reading.
type RangeLine struct {
	Zone    occupancy.Zone
	MM      int
	Timeout bool
}

// ParseRangeLine decodes a "Z<n>,<value>" line. A value of "-" is decoded as
// zone.NoReturn.
func ParseRangeLine(payload string) (RangeLine, error) {
	payload = strings.TrimSpace(payload)
	if ClassifyPayload(payload) != EventTypeRange {
		return RangeLine{}, ErrNotRangeLine
	}
	head, value, _ := strings.Cut(payload[1:], ",")
	n, err := strconv.Atoi(head)
	if err != nil {
		return RangeLine{}, fmt.Errorf("invalid zone in %q", payload)
	}
	z := occupancy.Zone(n - 1)
	if !z.Valid() {
		return RangeLine{}, fmt.Errorf("zone %d out of range in %q", n, payload)
	}

	value = strings.TrimSpace(value)
	switch value {
	case "-":
		return RangeLine{Zone: z, MM: zone.NoReturn}, nil
	case "timeout":
		return RangeLine{Zone: z, Timeout: true}, nil
	}
	mm, err := strconv.Atoi(value)
	if err != nil {
		return RangeLine{}, fmt.Errorf("invalid distance in %q", payload)
	}
	if mm < 0 {
		mm = zone.NoReturn
	}
	return RangeLine{Zone: z, MM: mm}, nil
}

// RangeCommand is the request for one reading of z.
func RangeCommand(z occupancy.Zone) string {
	return fmt.Sprintf("R%d", z.Number())
}
