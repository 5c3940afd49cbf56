// Package occupancy holds the value types shared by the zone estimator and
// the crossing counter. The StateCode is the only thing that flows between
// the two.
package occupancy

import "fmt"

// Zone identifies one of the two sensing regions of the doorway sensor.
type Zone int

const (
	// Inner is zone 1, on the side of the monitored room.
	Inner Zone = iota
	// Outer is zone 2, on the hallway side.
	Outer
)

// Zones lists the zones in scan order.
var Zones = [2]Zone{Inner, Outer}

// Valid reports whether z names one of the two zones.
func (z Zone) Valid() bool {
	return z == Inner || z == Outer
}

// Number returns the 1-based zone number used in logs and on the wire.
func (z Zone) Number() int {
	return int(z) + 1
}

func (z Zone) String() string {
	switch z {
	case Inner:
		return "inner"
	case Outer:
		return "outer"
	default:
		return fmt.Sprintf("zone(%d)", int(z))
	}
}

// StateCode is the combined occupancy of both zones:
// occupied(inner)*1 + occupied(outer)*2.
type StateCode int

const (
	Clear     StateCode = 0
	InnerOnly StateCode = 1
	OuterOnly StateCode = 2
	// Threshold means both zones see a target at once, i.e. someone is
	// standing on the boundary between them.
	Threshold StateCode = 3
)

// Combine builds the state code from the per-zone occupancy flags.
func Combine(inner, outer bool) StateCode {
	var code StateCode
	if inner {
		code += InnerOnly
	}
	if outer {
		code += OuterOnly
	}
	return code
}

// Valid reports whether c is one of the four defined codes.
func (c StateCode) Valid() bool {
	return c >= Clear && c <= Threshold
}

// Occupied reports whether the given zone is occupied in this state.
func (c StateCode) Occupied(z Zone) bool {
	switch z {
	case Inner:
		return c == InnerOnly || c == Threshold
	case Outer:
		return c == OuterOnly || c == Threshold
	}
	return false
}

func (c StateCode) String() string {
	switch c {
	case Clear:
		return "clear"
	case InnerOnly:
		return "inner"
	case OuterOnly:
		return "outer"
	case Threshold:
		return "threshold"
	default:
		return fmt.Sprintf("invalid(%d)", int(c))
	}
}
