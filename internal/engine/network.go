package engine

import (
	"context"

	"github.com/vk/seqnet/internal/ctxlog"
	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/node"
)

// Network holds the engine-side state for one computation graph: the
// designated root-node categories, discovered recurrent loops, the memoized
// per-root evaluation orders, and the set of roots that have completed
// build + validation.
//
// The graph layer owns the nodes; Network only references them. After any
// structural change to the graph, the owner must call ClearCaches.
type Network struct {
	mbLayout *layout.MBLayout

	features   []node.Node
	criteria   []node.Node
	outputs    []node.Node
	evaluation []node.Node

	recurrentInfo []*RecurrentLoop

	evalOrders map[node.Node][]node.Node
	gradOrders map[node.Node][]node.Node
	built      map[node.Node]struct{}

	inputs     map[node.Node][]node.Node
	learnables map[node.Node][]node.Node
}

// New creates an empty network sharing the given minibatch layout with all
// of its input nodes.
func New(mbLayout *layout.MBLayout) *Network {
	return &Network{
		mbLayout:   mbLayout,
		evalOrders: make(map[node.Node][]node.Node),
		gradOrders: make(map[node.Node][]node.Node),
		built:      make(map[node.Node]struct{}),
		inputs:     make(map[node.Node][]node.Node),
		learnables: make(map[node.Node][]node.Node),
	}
}

// MBLayout returns the network's shared minibatch layout.
func (net *Network) MBLayout() *layout.MBLayout { return net.mbLayout }

// AddFeature registers an input node carrying minibatch data.
func (net *Network) AddFeature(n node.Node) { net.features = append(net.features, n) }

// AddCriterion registers a training-criterion root.
func (net *Network) AddCriterion(n node.Node) { net.criteria = append(net.criteria, n) }

// AddOutput registers an output root.
func (net *Network) AddOutput(n node.Node) { net.outputs = append(net.outputs, n) }

// AddEvaluation registers an evaluation-metric root.
func (net *Network) AddEvaluation(n node.Node) { net.evaluation = append(net.evaluation, n) }

// FeatureNodes returns the registered feature nodes.
func (net *Network) FeatureNodes() []node.Node { return net.features }

// CriterionNodes returns the registered criterion roots.
func (net *Network) CriterionNodes() []node.Node { return net.criteria }

// OutputNodes returns the registered output roots.
func (net *Network) OutputNodes() []node.Node { return net.outputs }

// EvaluationNodes returns the registered evaluation roots.
func (net *Network) EvaluationNodes() []node.Node { return net.evaluation }

// RecurrentLoops returns the loops discovered so far.
func (net *Network) RecurrentLoops() []*RecurrentLoop { return net.recurrentInfo }

// InputNodes returns the input/leaf nodes reachable from root, collected
// during BuildAndValidateSubNetwork.
func (net *Network) InputNodes(root node.Node) []node.Node { return net.inputs[root] }

// LearnableNodes returns the learnable-parameter nodes reachable from root,
// collected during BuildAndValidateSubNetwork.
func (net *Network) LearnableNodes(root node.Node) []node.Node { return net.learnables[root] }

// ClearCaches drops all memoized per-root state: evaluation orders, the
// built set, loop registrations and collected node sets. The graph owner
// must call this after any structural change.
func (net *Network) ClearCaches() {
	for _, l := range net.recurrentInfo {
		for _, n := range l.Nodes {
			n.SetPartOfLoop(false)
		}
	}
	net.recurrentInfo = nil
	net.evalOrders = make(map[node.Node][]node.Node)
	net.gradOrders = make(map[node.Node][]node.Node)
	net.built = make(map[node.Node]struct{})
	net.inputs = make(map[node.Node][]node.Node)
	net.learnables = make(map[node.Node][]node.Node)
}

// ResetEvalTimeStamps marks every node reachable from root as stale, forcing
// recomputation on the next Evaluate. Needed when gradient computation may
// have overwritten value storage shared with gradients.
func (net *Network) ResetEvalTimeStamps(root node.Node) {
	for _, n := range collectNodes(root) {
		n.ResetTimeStamp()
	}
}

// collectNodes returns every node reachable from root, root included, in a
// deterministic depth-first post-order (children before parents).
func collectNodes(root node.Node) []node.Node {
	var out []node.Node
	seen := make(map[node.Node]bool)
	var visit func(n node.Node)
	visit = func(n node.Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, c := range n.Children() {
			visit(c)
		}
		out = append(out, n)
	}
	visit(root)
	return out
}

// collectInputAndLearnableNodes records the leaf categories reachable from
// root for downstream consumers (readers, trainers).
func (net *Network) collectInputAndLearnableNodes(ctx context.Context, root node.Node) {
	var inputs, learnables []node.Node
	for _, n := range collectNodes(root) {
		if !n.IsLeaf() {
			continue
		}
		if n.RequiresParameterUpdate() {
			learnables = append(learnables, n)
		} else {
			inputs = append(inputs, n)
		}
	}
	net.inputs[root] = inputs
	net.learnables[root] = learnables
	ctxlog.FromContext(ctx).Debug("Collected leaf nodes for root.",
		"root", root.Name(), "inputs", len(inputs), "learnables", len(learnables))
}

// LogComputationOrder logs the forward or gradient processing order for a
// root. Purely advisory output.
func (net *Network) LogComputationOrder(ctx context.Context, root node.Node, forward bool) {
	logger := ctxlog.FromContext(ctx)
	order := net.EvalOrder(root)
	if !forward {
		order = net.GradientCalcOrder(root)
	}
	names := make([]string, 0, len(order))
	for _, n := range order {
		names = append(names, n.Name())
	}
	logger.Info("Computation order.", "root", root.Name(), "forward", forward, "order", names)
}
