package db

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates the crossings in a time range.
type Summary struct {
	Since     time.Time `json:"since"`
	Until     time.Time `json:"until"`
	Entries   int       `json:"entries"`
	Exits     int       `json:"exits"`
	Net       int       `json:"net"`
	PeakCount int       `json:"peak_count"`
	// MeanIntervalSeconds is the mean gap between consecutive crossings.
	// It and StdDevIntervalSeconds are zero with fewer than two crossings.
	MeanIntervalSeconds   float64 `json:"mean_interval_seconds"`
	StdDevIntervalSeconds float64 `json:"stddev_interval_seconds"`
}

// Summarize computes the Summary for [since, until).
func (db *DB) Summarize(ctx context.Context, since, until time.Time) (Summary, error) {
	crossings, err := db.CrossingsBetween(ctx, since, until)
	if err != nil {
		return Summary{}, err
	}
	return summarize(since, until, crossings), nil
}

func summarize(since, until time.Time, crossings []CrossingRecord) Summary {
	s := Summary{Since: since.UTC(), Until: until.UTC()}
	intervals := make([]float64, 0, len(crossings))
	for i, c := range crossings {
		if c.Delta > 0 {
			s.Entries++
		} else {
			s.Exits++
		}
		if i == 0 || c.Count > s.PeakCount {
			s.PeakCount = c.Count
		}
		if i > 0 {
			intervals = append(intervals, c.At.Sub(crossings[i-1].At).Seconds())
		}
	}
	s.Net = s.Entries - s.Exits
	switch len(intervals) {
	case 0:
	case 1:
		s.MeanIntervalSeconds = intervals[0]
	default:
		s.MeanIntervalSeconds, s.StdDevIntervalSeconds = stat.MeanStdDev(intervals, nil)
	}
	return s
}
