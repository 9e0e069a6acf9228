package notifications

import (
	"errors"
	"time"

	"github.com/bissquit/gocd-slack-relay/internal/gocd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gocdrelay"

var (
	indexEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "index_entries",
			Help:      "Number of builds with an active notification message",
		},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "messages_total",
			Help:      "Messages posted or updated, by operation and outcome",
		},
		[]string{"op", "status"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time spent in messaging provider calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	revisionLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "revision_lookups_total",
			Help:      "Revision lookups against GoCD history, by result",
		},
		[]string{"result"},
	)

	sweepEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sweep_evicted_total",
			Help:      "Index entries removed by the stale-entry sweep",
		},
	)
)

func recordSend(op string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	messagesSent.WithLabelValues(op, status).Inc()
	sendDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func recordLookup(err error) {
	revisionLookups.WithLabelValues(lookupResult(err)).Inc()
}

func lookupResult(err error) string {
	var transportErr *gocd.TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gocd.ErrBuildNotFound):
		return "build_not_found"
	case errors.Is(err, gocd.ErrNoRevisionData):
		return "no_revision"
	case errors.As(err, &transportErr):
		return "transport_error"
	default:
		return "error"
	}
}

func recordSweep(evicted, remaining int) {
	sweepEvictions.Add(float64(evicted))
	indexEntries.Set(float64(remaining))
}
