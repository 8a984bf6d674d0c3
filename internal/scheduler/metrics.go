package scheduler

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics exports the cumulative counters in the Prometheus text
// format for the node_exporter textfile collector.
func WriteMetrics(path string, st *State) error {
	reg := prometheus.NewRegistry()

	totals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tierlearn",
		Name:      "transitions_total",
		Help:      "Cumulative tier transitions performed by the scheduler.",
	}, []string{"kind"})
	lastRun := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tierlearn",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time each scheduler job last completed.",
	}, []string{"job"})
	reg.MustRegister(totals, lastRun)

	totals.WithLabelValues("promotion").Add(float64(st.Promotions))
	totals.WithLabelValues("demotion").Add(float64(st.Demotions))
	totals.WithLabelValues("compression").Add(float64(st.Compressions))
	totals.WithLabelValues("recall").Add(float64(st.Recalls))
	for job, at := range st.LastRun {
		lastRun.WithLabelValues(job).Set(float64(at.Unix()))
	}

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
