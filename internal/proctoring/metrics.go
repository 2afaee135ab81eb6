package proctoring

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proctoring",
		Subsystem: "sessions",
		Name:      "started_total",
		Help:      "Total proctored sessions started.",
	})

	sessionsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proctoring",
		Subsystem: "sessions",
		Name:      "ended_total",
		Help:      "Total proctored sessions completed.",
	})

	pausesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctoring",
		Subsystem: "sessions",
		Name:      "pauses_total",
		Help:      "Pause transitions by source.",
	}, []string{"source"}) // "manual", "devices", "heartbeat_timeout"

	resumesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctoring",
		Subsystem: "sessions",
		Name:      "resumes_total",
		Help:      "Resume transitions by trigger.",
	}, []string{"trigger"}) // "manual", "heartbeat"

	violationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctoring",
		Subsystem: "violations",
		Name:      "recorded_total",
		Help:      "Violations appended to the ledger by type and severity.",
	}, []string{"type", "severity"})

	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctoring",
		Subsystem: "events",
		Name:      "ingested_total",
		Help:      "Client events by ingestion outcome.",
	}, []string{"outcome"}) // "accepted", "rejected", "duplicate"

	livenessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctoring",
		Subsystem: "liveness",
		Name:      "checks_total",
		Help:      "Liveness challenge outcomes.",
	}, []string{"outcome"}) // "issued", "verified", "mismatch", "expired", "missing"
)

func init() {
	prometheus.MustRegister(
		sessionsStarted,
		sessionsEnded,
		pausesTotal,
		resumesTotal,
		violationsTotal,
		eventsTotal,
		livenessTotal,
	)
}
