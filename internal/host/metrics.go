package host

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zot/hotmod/internal/engine"
)

// Reload outcomes.
const (
	outcomeOK           = "ok"
	outcomeRestored     = "restored"
	outcomeFatal        = "fatal"
	outcomeBuildError   = "build_error"
	outcomeCompileError = "compile_error"
)

var (
	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotmod_reloads_total",
		Help: "Total change notifications applied, by outcome",
	}, []string{"outcome"})

	reloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hotmod_reload_duration_seconds",
		Help:    "Duration of change notifications that re-instantiated modules",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	modulesInstantiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotmod_modules_instantiated_total",
		Help: "Modules instantiated by reloads, by kind",
	}, []string{"kind"})

	modulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hotmod_modules_loaded",
		Help: "Modules with a live cache entry",
	})
)

// outcome classifies a pass for the reloads counter. Empty means the pass
// did nothing worth counting.
func outcome(report engine.Report, err error) string {
	switch {
	case report.BuildError != "":
		return outcomeBuildError
	case report.Failed && report.Restored:
		return outcomeRestored
	case report.Failed:
		return outcomeFatal
	case report.Changed():
		return outcomeOK
	case err != nil:
		return outcomeCompileError
	}
	return ""
}

func observe(report engine.Report, err error, elapsed time.Duration, loaded int) {
	o := outcome(report, err)
	if o == "" {
		return
	}
	reloadsTotal.WithLabelValues(o).Inc()
	if report.Changed() || report.Failed {
		reloadDuration.Observe(elapsed.Seconds())
	}
	modulesInstantiated.WithLabelValues("added").Add(float64(len(report.Added)))
	modulesInstantiated.WithLabelValues("reloaded").Add(float64(len(report.Reloaded)))
	modulesInstantiated.WithLabelValues("accepted").Add(float64(len(report.Accepted)))
	modulesLoaded.Set(float64(loaded))
}
