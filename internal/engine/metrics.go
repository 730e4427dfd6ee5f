package engine

import "github.com/prometheus/client_golang/prometheus"

// Engine counters, exposed through the default registry so the ops server's
// /metrics endpoint picks them up. Advisory only, not part of the contract.
var (
	forwardPassesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seqnet_forward_passes_total",
		Help: "Number of top-level Evaluate invocations.",
	})
	gradientPassesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seqnet_gradient_passes_total",
		Help: "Number of top-level ComputeGradient invocations.",
	})
	nodeEvaluationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seqnet_node_evaluations_total",
		Help: "Number of per-node forward compute calls, counting every unrolled time position.",
	})
	validationPassesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seqnet_validation_passes_total",
		Help: "Number of shape-inference passes run by the validator.",
	})
)

func init() {
	prometheus.MustRegister(
		forwardPassesTotal,
		gradientPassesTotal,
		nodeEvaluationsTotal,
		validationPassesTotal,
	)
}
