package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/smallsmt/internal/httputil"
)

const histogramBins = 20

// AttachAdminRoutes mounts the driver's debug pages under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("driver", "Driver status (JSON)", http.HandlerFunc(s.handleStatus))
	debug.Handle("latency", "Dispatch latency chart", http.HandlerFunc(s.handleLatencyChart))
	debug.Handle("latency.png", "Dispatch latency histogram (PNG)", http.HandlerFunc(s.handleLatencyHistogram))
	debug.Handle("logstats", "Log dispatch statistics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.drv.Stats().LogStats()
		httputil.WriteJSONOK(w, s.drv.Stats().Snapshot())
	}))
}

// handleLatencyChart renders the recent dispatch round trips as a line chart.
func (s *Server) handleLatencyChart(w http.ResponseWriter, r *http.Request) {
	lat := s.drv.Stats().Latencies()
	snap := s.drv.Stats().Snapshot()

	x := make([]int, len(lat))
	y := make([]opts.LineData, len(lat))
	for i, v := range lat {
		x[i] = i + 1
		y[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Dispatch latency",
			Subtitle: fmt.Sprintf("%s  p50 %.2fms  p95 %.2fms  max %.2fms", time.Now().Format(time.RFC3339), snap.P50Ms, snap.P95Ms, snap.MaxMs),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	line.SetXAxis(x).AddSeries("round trip", y)

	page := components.NewPage()
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleLatencyHistogram renders the latency distribution as a PNG.
func (s *Server) handleLatencyHistogram(w http.ResponseWriter, r *http.Request) {
	lat := s.drv.Stats().Latencies()
	if len(lat) == 0 {
		httputil.NotFound(w, "no dispatch latencies recorded")
		return
	}

	p := plot.New()
	p.Title.Text = "Dispatch latency"
	p.X.Label.Text = "ms"
	p.Y.Label.Text = "dispatches"

	h, err := plotter.NewHist(plotter.Values(lat), histogramBins)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("histogram: %v", err))
		return
	}
	p.Add(h)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
