// Package metrics exposes Prometheus counters for the bridge. They are
// registered on the default registry and served from the relay listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts provider processes spawned, by provider.
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_runs_started_total",
		Help: "Provider processes spawned.",
	}, []string{"provider"})

	// RunsFinished counts terminal run outcomes, by provider and outcome
	// (completed, failed, timed_out, superseded).
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_runs_finished_total",
		Help: "Terminal run outcomes.",
	}, []string{"provider", "outcome"})

	// EventsParsed counts canonical events produced by the adapters.
	EventsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_events_parsed_total",
		Help: "Canonical events produced from provider output.",
	}, []string{"provider", "kind"})

	// MalformedLines counts stdout lines that failed to parse.
	MalformedLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_malformed_lines_total",
		Help: "Provider stdout lines that failed to parse.",
	}, []string{"provider"})

	// ApprovalsResolved counts approval outcomes (allow, deny, expired).
	ApprovalsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_approvals_resolved_total",
		Help: "Approval interactions resolved.",
	}, []string{"outcome"})
)

// ApprovalOutcome maps a decision to the metric label, distinguishing human
// denials from expiries.
func ApprovalOutcome(behavior, message string) string {
	if behavior == "allow" {
		return "allow"
	}
	if message == "timed out" {
		return "expired"
	}
	return "deny"
}
