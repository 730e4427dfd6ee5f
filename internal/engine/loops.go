package engine

import (
	"fmt"

	"context"

	"github.com/vk/seqnet/internal/ctxlog"
	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/node"
)

// RecurrentLoop identifies one maximal cyclic cluster of nodes. Its members
// must be executed one time position at a time, in the fixed intra-step
// order Nodes, stepping through the minibatch in SteppingDirection.
//
// The completion flags are per-invocation state, reset at the start of every
// top-level Evaluate/ComputeGradient call.
type RecurrentLoop struct {
	ID                int
	Nodes             []node.Node
	SteppingDirection layout.Direction

	completedEvaluate bool
	completedGradient bool
}

// FormRecurrentLoops discovers every cyclic cluster among the nodes reachable
// from root and registers each as a RecurrentLoop. Idempotent per root:
// clusters already registered are left untouched.
//
// A cluster that is not anchored by delay nodes agreeing on one stepping
// direction is a fatal configuration error: without a delayed read there is
// no valid order in which its members could execute.
func (net *Network) FormRecurrentLoops(ctx context.Context, root node.Node) error {
	logger := ctxlog.FromContext(ctx)
	nodes := collectNodes(root)

	for _, scc := range stronglyConnectedComponents(nodes) {
		if len(scc) < 2 {
			continue
		}
		if net.loopRegistered(scc) {
			continue
		}

		dir, err := loopSteppingDirection(scc)
		if err != nil {
			return err
		}
		ordered := loopExecutionOrder(scc)
		for _, n := range ordered {
			n.SetPartOfLoop(true)
		}
		loop := &RecurrentLoop{
			ID:                len(net.recurrentInfo) + 1,
			Nodes:             ordered,
			SteppingDirection: dir,
		}
		net.recurrentInfo = append(net.recurrentInfo, loop)

		names := make([]string, 0, len(ordered))
		for _, n := range ordered {
			names = append(names, n.Name())
		}
		logger.Info("Recurrent loop formed.", "loop", loop.ID, "direction", dir.String(), "members", names)
	}
	return nil
}

// findInRecurrentLoops returns the loop n belongs to, or nil.
func (net *Network) findInRecurrentLoops(n node.Node) *RecurrentLoop {
	for _, loop := range net.recurrentInfo {
		for _, m := range loop.Nodes {
			if m == n {
				return loop
			}
		}
	}
	return nil
}

// loopRegistered reports whether a loop with exactly this member set already
// exists. Membership, not order, decides identity.
func (net *Network) loopRegistered(members []node.Node) bool {
	set := make(map[node.Node]bool, len(members))
	for _, n := range members {
		set[n] = true
	}
	for _, loop := range net.recurrentInfo {
		if len(loop.Nodes) != len(members) {
			continue
		}
		all := true
		for _, n := range loop.Nodes {
			if !set[n] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// loopSteppingDirection derives the loop's time-stepping direction from the
// delay operators that anchor it. All delays in one loop must agree.
func loopSteppingDirection(members []node.Node) (layout.Direction, error) {
	var dir layout.Direction
	for _, n := range members {
		d, ok := n.(node.Delay)
		if !ok {
			continue
		}
		if dir == 0 {
			dir = d.SteppingDirection()
		} else if dir != d.SteppingDirection() {
			return 0, fmt.Errorf("%w: loop through node '%s' mixes past-value and future-value delays, no consistent stepping direction exists", ErrConfig, n.Name())
		}
	}
	if dir == 0 {
		return 0, fmt.Errorf("%w: cyclic dependency through node '%s' contains no delay operator", ErrConfig, members[0].Name())
	}
	return dir, nil
}

// loopExecutionOrder fixes the intra-step execution order of a loop body:
// a depth-first post-order over the members where delay nodes contribute no
// dependency on their in-loop children, since a delayed read consumes the
// previous time position's value, not the current one.
func loopExecutionOrder(members []node.Node) []node.Node {
	inLoop := make(map[node.Node]bool, len(members))
	for _, n := range members {
		inLoop[n] = true
	}
	var ordered []node.Node
	visited := make(map[node.Node]bool, len(members))
	var visit func(n node.Node)
	visit = func(n node.Node) {
		if visited[n] {
			return
		}
		visited[n] = true
		if _, isDelay := n.(node.Delay); !isDelay {
			for _, c := range n.Children() {
				if inLoop[c] {
					visit(c)
				}
			}
		}
		ordered = append(ordered, n)
	}
	for _, n := range members {
		visit(n)
	}
	return ordered
}

// loopIsOlderThanInputs reports whether any loop member's cached value is
// stale. Delay nodes are exempt: reading a previous time position is their
// defining property, so their staleness never forces re-evaluation.
func loopIsOlderThanInputs(members []node.Node) bool {
	for _, n := range members {
		if _, isDelay := n.(node.Delay); isDelay {
			continue
		}
		if n.IsOlderThanInputs() {
			return true
		}
	}
	return false
}

// stronglyConnectedComponents runs Tarjan's algorithm over the child edges of
// the given nodes. Components are returned in reverse topological order;
// singleton components cover the acyclic remainder of the graph.
func stronglyConnectedComponents(nodes []node.Node) [][]node.Node {
	index := make(map[node.Node]int)
	lowlink := make(map[node.Node]int)
	onStack := make(map[node.Node]bool)
	var stack []node.Node
	var components [][]node.Node
	next := 0

	var strongConnect func(n node.Node)
	strongConnect = func(n node.Node) {
		index[n] = next
		lowlink[n] = next
		next++
		stack = append(stack, n)
		onStack[n] = true

		for _, c := range n.Children() {
			if _, seen := index[c]; !seen {
				strongConnect(c)
				if lowlink[c] < lowlink[n] {
					lowlink[n] = lowlink[c]
				}
			} else if onStack[c] && index[c] < lowlink[n] {
				lowlink[n] = index[c]
			}
		}

		if lowlink[n] == index[n] {
			var comp []node.Node
			for {
				m := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[m] = false
				comp = append(comp, m)
				if m == n {
					break
				}
			}
			components = append(components, comp)
		}
	}

	for _, n := range nodes {
		if _, seen := index[n]; !seen {
			strongConnect(n)
		}
	}
	return components
}
