package main

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// renderLatencyChart draws a grouped bar chart of measured latencies, one
// bar group per operation mix, one color per engine.
func renderLatencyChart(results []BenchResult, path string) error {
	ops := make([]string, 0, 4)
	engines := make([]string, 0, 2)
	byKey := make(map[string]int64, len(results))
	for _, r := range results {
		if !contains(ops, r.Operation) {
			ops = append(ops, r.Operation)
		}
		if !contains(engines, r.Engine) {
			engines = append(engines, r.Engine)
		}
		byKey[r.Engine+"/"+r.Operation] = r.LatencyNs
	}
	if len(ops) == 0 {
		return fmt.Errorf("plot: no results to render")
	}

	p := plot.New()
	p.Title.Text = "index latency"
	p.Y.Label.Text = "ns/op"

	barWidth := vg.Points(20)
	for i, engine := range engines {
		vals := make(plotter.Values, 0, len(ops))
		for _, op := range ops {
			vals = append(vals, float64(byKey[engine+"/"+op]))
		}
		bars, err := plotter.NewBarChart(vals, barWidth)
		if err != nil {
			return fmt.Errorf("plot: %w", err)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(i)
		bars.Offset = barWidth*vg.Length(i) - barWidth*vg.Length(len(engines)-1)/2
		p.Add(bars)
		p.Legend.Add(engine, bars)
	}
	p.Legend.Top = true
	p.NominalX(ops...)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("plot: save %s: %w", path, err)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
