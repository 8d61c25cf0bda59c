// Package metrics exposes Prometheus instrumentation for the IMAP/SMTP
// core: command execution counts and latency, injection outcomes, and
// SASL authentication results. Grounded on mjl--mox's
// smtpserver/server.go metric block (promauto.NewCounterVec/
// NewHistogramVec with a Help string naming every label value).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Commands counts every IMAP command whose Execute loop the protocol
	// scheduler runs to completion, by verb and final status ("OK", "NO",
	// "BAD"). Commands rejected before Execute (unknown verb, wrong
	// state, parse error) and SMTP/LMTP commands are not counted.
	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvid_commands_total",
			Help: "Commands executed by the protocol scheduler, by verb and status.",
		},
		[]string{"verb", "status"},
	)

	// CommandDuration measures wall-clock time spent in a command's
	// Execute loop, matching mox's per-command histogram.
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corvid_command_duration_seconds",
			Help:    "Command execution duration in seconds, by verb.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"verb"},
	)

	// Injections is the counter for committed vs. rolled-back message
	// injections. It is registered, but no code in this module increments it.
	Injections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvid_injections_total",
			Help: "Message injections, known values for result: committed, rolledback.",
		},
		[]string{"result"},
	)

	// InjectionDuration is the histogram for one Inject() call end to end.
	// It is registered, but no code in this module observes into it.
	InjectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corvid_injection_duration_seconds",
			Help:    "Time spent in one message injection transaction.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// SASLOutcomes is the counter for authentication attempts by mechanism
	// and result. It is registered, but no code in this module increments it.
	SASLOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvid_sasl_outcomes_total",
			Help: "SASL authentication attempts, known values for result: ok, badcreds, aborted, error.",
		},
		[]string{"mechanism", "result"},
	)

	// Connections is the counter for accepted connections by listener kind
	// (imap, imaps, smtp, lmtp). It is registered, but no code in this
	// module increments it.
	Connections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corvid_connections_total",
			Help: "Accepted connections, by listener kind.",
		},
		[]string{"kind"},
	)
)
