package engine

import "github.com/vk/seqnet/internal/node"

// EvalOrder returns the forward execution order for root: a depth-first
// post-order over the dependency graph in which every node follows all of its
// children, with the members of each recurrent loop regrouped to be
// contiguous (in intra-loop order) at the last member's position, so the
// loop can be scheduled as one atomic unit.
//
// The order is memoized per root; repeated requests return the cached slice.
// FormRecurrentLoops must have run for this root first, otherwise loop
// members are ordered like plain nodes.
func (net *Network) EvalOrder(root node.Node) []node.Node {
	if order, ok := net.evalOrders[root]; ok {
		return order
	}
	order := reorderLoops(collectNodes(root), net.recurrentInfo)
	net.evalOrders[root] = order
	return order
}

// GradientCalcOrder returns the gradient processing order for root: exactly
// the reverse of EvalOrder, so every parent's contribution is accumulated
// into a node before that node propagates further down. Memoized per root.
func (net *Network) GradientCalcOrder(root node.Node) []node.Node {
	if order, ok := net.gradOrders[root]; ok {
		return order
	}
	eval := net.EvalOrder(root)
	order := make([]node.Node, len(eval))
	for i, n := range eval {
		order[len(eval)-1-i] = n
	}
	net.gradOrders[root] = order
	return order
}

// reorderLoops rewrites a post-order node list so that each loop's members
// appear as one contiguous run, in the loop's fixed intra-step order. The run
// is placed at the position of the loop's last member in the original list:
// post-order finishes the whole strongly connected cluster inside the subtree
// of the member it entered through, so by that point every member's external
// dependency has already been emitted, while all parents still follow.
func reorderLoops(nodes []node.Node, loops []*RecurrentLoop) []node.Node {
	loopOf := make(map[node.Node]*RecurrentLoop)
	lastAt := make(map[*RecurrentLoop]int)
	for _, loop := range loops {
		for _, n := range loop.Nodes {
			loopOf[n] = loop
		}
	}
	for i, n := range nodes {
		if loop := loopOf[n]; loop != nil {
			lastAt[loop] = i
		}
	}

	out := make([]node.Node, 0, len(nodes))
	for i, n := range nodes {
		loop := loopOf[n]
		if loop == nil {
			out = append(out, n)
			continue
		}
		if lastAt[loop] == i {
			out = append(out, loop.Nodes...)
		}
	}
	return out
}
