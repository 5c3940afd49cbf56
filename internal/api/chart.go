package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// showChart renders the count after each recent crossing as a line chart,
// with the occupancy limit as a second series.
// Query params:
//   - limit (optional; default 500) number of crossings to plot
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	n, ok := queryInt(r, "limit", 500, 5000)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	crossings, err := s.db.RecentCrossings(r.Context(), n)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list crossings: %v", err))
		return
	}

	// RecentCrossings is newest first
	x := make([]string, 0, len(crossings))
	counts := make([]opts.LineData, 0, len(crossings))
	limits := make([]opts.LineData, 0, len(crossings))
	for i := len(crossings) - 1; i >= 0; i-- {
		c := crossings[i]
		x = append(x, c.At.Local().Format(time.DateTime))
		counts = append(counts, opts.LineData{Value: c.Count, Name: c.Direction})
		limits = append(limits, opts.LineData{Value: c.Limit})
	}

	snap := s.monitor.Snapshot()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Occupancy", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Occupancy",
			Subtitle: fmt.Sprintf("now %d of %d, %d crossings", snap.Count, snap.Limit, len(crossings)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "people", Min: 0}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("count", counts).
		AddSeries("limit", limits)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
