// Package services – signaling metrics.
//
// Transition counters live at the service layer rather than the HTTP layer
// so that they count committed state changes, not requests: a rejected
// precondition or a lost race does not increment anything.
package services

import "github.com/prometheus/client_golang/prometheus"

// callTransitions counts committed call state transitions by event.
var callTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "call_transitions_total",
		Help: "Total number of committed call state transitions.",
	},
	[]string{"event"},
)

func init() {
	prometheus.MustRegister(callTransitions)
}
