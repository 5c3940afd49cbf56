package doorway

import (
	"context"
	"time"

	"github.com/banshee-data/occupancy.report/internal/crossing"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// Transition is a change of the combined occupancy state.
type Transition struct {
	At      time.Time
	From    occupancy.StateCode
	To      occupancy.StateCode
	InnerMM int
	OuterMM int
}

// Crossing is a completed entry or exit.
type Crossing struct {
	At        time.Time
	Direction crossing.Direction
	Count     int
	Limit     int
}

// Override is a manual count change made outside the state machine.
type Override struct {
	At       time.Time
	Previous int
	Count    int
	Source   string
}

// Recorder journals monitor events. Errors are logged by the monitor and
// never stop counting.
type Recorder interface {
	RecordTransition(ctx context.Context, t Transition) error
	RecordCrossing(ctx context.Context, c Crossing) error
	RecordCountOverride(ctx context.Context, o Override) error
}
