package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specsync",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of start attempts by outcome (ok, failed).",
		}, []string{"name", "outcome"},
	)
	serviceCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specsync",
			Subsystem: "service",
			Name:      "crashes_total",
			Help:      "Number of non-zero exits after readiness.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specsync",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of requested stops.",
		}, []string{"name"},
	)
	serviceReadyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "specsync",
			Subsystem: "service",
			Name:      "ready_duration_seconds",
			Help:      "Time from spawn to observed readiness.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	portConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specsync",
			Subsystem: "port",
			Name:      "conflicts_total",
			Help:      "Port conflicts found before start, by outcome (freed, failed).",
		}, []string{"outcome"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specsync",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Number of synchronization attempts by result.",
		}, []string{"result"},
	)
	syncRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "specsync",
			Subsystem: "sync",
			Name:      "retries_total",
			Help:      "Number of scheduled retries.",
		},
	)
	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "specsync",
			Subsystem: "sync",
			Name:      "generation_duration_seconds",
			Help:      "Duration of generate/build/link runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceCrashes, serviceStops, serviceReadyDuration, portConflicts, syncRuns, syncRetries, generationDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string, ok bool) {
	if regOK.Load() {
		outcome := "ok"
		if !ok {
			outcome = "failed"
		}
		serviceStarts.WithLabelValues(name, outcome).Inc()
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		serviceCrashes.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func ObserveReady(name string, seconds float64) {
	if regOK.Load() {
		serviceReadyDuration.WithLabelValues(name).Observe(seconds)
	}
}

func IncPortConflict(freed bool) {
	if regOK.Load() {
		outcome := "freed"
		if !freed {
			outcome = "failed"
		}
		portConflicts.WithLabelValues(outcome).Inc()
	}
}

func IncSync(result string) {
	if regOK.Load() {
		syncRuns.WithLabelValues(result).Inc()
	}
}

func IncRetry() {
	if regOK.Load() {
		syncRetries.Inc()
	}
}

func ObserveGeneration(seconds float64) {
	if regOK.Load() {
		generationDuration.Observe(seconds)
	}
}
