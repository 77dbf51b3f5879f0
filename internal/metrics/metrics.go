// Package metrics exposes prometheus collectors shared across components.
// Names and label shapes follow the ones already in use by the ambient
// packages this module kept from its teacher (procgroup, bus, ratelimit);
// this file is the new home for them since the teacher's own
// internal/metrics package was IPTV-specific and did not survive pruning.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_proc_terminate_total",
		Help: "Signals sent to supervised child process groups, by signal and outcome.",
	}, []string{"signal", "outcome"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_proc_wait_total",
		Help: "Outcomes observed while waiting for a supervised child process to exit.",
	}, []string{"outcome"})

	busDrop = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_bus_drop_total",
		Help: "Messages dropped by the in-process bus because a subscriber's publish context ended.",
	}, []string{"topic", "reason"})

	JobTransition = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_job_transition_total",
		Help: "Job lifecycle transitions, by from-state, to-state and platform.",
	}, []string{"from", "to", "platform"})

	SubprocessExit = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_subprocess_exit_total",
		Help: "Subprocess exits observed by the subprocess runner, by binary and classification outcome.",
	}, []string{"binary", "outcome"})

	AutoschedulerTick = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_autoscheduler_tick_total",
		Help: "Autoscheduler ticks, by outcome (matched, skipped, error).",
	}, []string{"outcome"})

	AutoschedulerJobsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archivist_autoscheduler_jobs_emitted_total",
		Help: "New jobs emitted by the autoscheduler across all ticks.",
	})

	WSClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "archivist_ws_clients_connected",
		Help: "Currently connected websocket clients.",
	})

	WSEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_ws_events_dropped_total",
		Help: "Websocket events dropped because a client's send queue was full or closed.",
	}, []string{"event"})

	BridgeRole = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "archivist_bridge_role",
		Help: "1 if this process currently holds the given role (leader/follower), else 0.",
	}, []string{"role"})

	BridgeIPCReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archivist_bridge_ipc_reconnect_total",
		Help: "Follower reconnect attempts to the leader's IPC socket.",
	})

	ChatMessagesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_chat_messages_written_total",
		Help: "Chat messages appended to an incremental JSON archive, by platform.",
	}, []string{"platform"})

	DatasetReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_dataset_reload_total",
		Help: "Dataset index reload attempts, by outcome (ok, parse_error).",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "archivist_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds, by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "archivist_http_requests_in_flight",
		Help: "Current number of HTTP requests being served.",
	})

	RecordsBuildOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_records_build_total",
		Help: "Records tree rebuild attempts, by outcome (ok, error).",
	}, []string{"outcome"})
)

// IncProcTerminate records a signal delivery attempt to a supervised process group.
func IncProcTerminate(signal, outcome string) {
	procTerminate.WithLabelValues(signal, outcome).Inc()
}

// IncProcWait records the outcome of waiting for a supervised process to exit.
func IncProcWait(outcome string) {
	procWait.WithLabelValues(outcome).Inc()
}

// IncBusDropReason records a message dropped by the in-process bus.
func IncBusDropReason(topic, reason string) {
	busDrop.WithLabelValues(topic, reason).Inc()
}
