package zone

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// Diagnostics summarises one zone window for operators tuning thresholds.
// Mean and StdDev only cover samples that had a return.
type Diagnostics struct {
	ZoneState
	LastMM   int     `json:"last_mm"`
	HasLast  bool    `json:"has_last"`
	Capacity int     `json:"capacity"`
	Returns  int     `json:"returns"`
	MeanMM   float64 `json:"mean_mm"`
	StdDevMM float64 `json:"stddev_mm"`
	DoorMM   int     `json:"door_threshold_mm"`
	PersonMM int     `json:"person_threshold_mm"`
}

// Diagnostics returns window statistics for both zones.
func (e *Estimator) Diagnostics() [2]Diagnostics {
	var out [2]Diagnostics
	for _, z := range occupancy.Zones {
		w := e.windows[z]
		d := Diagnostics{
			ZoneState: e.zoneState(z),
			Capacity:  w.Cap(),
			DoorMM:    e.cfg.Thresholds.DoorMM,
			PersonMM:  e.cfg.Thresholds.PersonMM,
		}
		d.LastMM, d.HasLast = e.LastDistance(z)

		returns := make([]float64, 0, w.Len())
		for _, v := range w.Values() {
			if v != FarField {
				returns = append(returns, float64(v))
			}
		}
		d.Returns = len(returns)
		switch len(returns) {
		case 0:
		case 1:
			d.MeanMM = returns[0]
		default:
			d.MeanMM, d.StdDevMM = stat.MeanStdDev(returns, nil)
		}
		out[z] = d
	}
	return out
}
