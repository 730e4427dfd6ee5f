package engine

import (
	"context"
	"fmt"

	"github.com/vk/seqnet/internal/ctxlog"
	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/node"
)

// Evaluate runs forward propagation for everything the root depends on, in
// the memoized evaluation order. By default a node computes its whole
// minibatch at once (a "map" operation); recurrent loops deviate and are
// unrolled one time position at a time, in the loop's stepping direction.
//
// Staleness timestamps are the sole memoization mechanism: a node whose value
// is not older than its inputs is skipped, receiving only its end-of-
// iteration hook so that invariant checks still run on the cached value.
//
// BuildAndValidateSubNetwork must have completed for this root; calling
// Evaluate on an unbuilt root is a logic error, not a silent recompute.
func (net *Network) Evaluate(ctx context.Context, root node.Node) error {
	logger := ctxlog.FromContext(ctx)
	if !net.BuiltAndValidatedSubNetwork(root) {
		return fmt.Errorf("%w: Evaluate for node '%s': BuildAndValidateSubNetwork has not been called on this node", ErrLogic, root.Name())
	}
	forwardPassesTotal.Inc()

	order := net.EvalOrder(root)
	for _, loop := range net.recurrentInfo {
		loop.completedEvaluate = false
	}

	for _, n := range order {
		recInfo := net.findInRecurrentLoops(n)

		switch {
		// Node participates in a recurrence: process the whole loop frame by
		// frame, treating it as a little nested network.
		case recInfo != nil && !recInfo.completedEvaluate && loopIsOlderThanInputs(recInfo.Nodes):
			if err := net.evaluateLoop(ctx, recInfo); err != nil {
				return err
			}
			recInfo.completedEvaluate = true

		// Not recurrent: map over the entire batch at once, unless the
		// cached value is still fresh.
		case recInfo == nil && n.IsOlderThanInputs():
			logger.Debug("Evaluating node.", "node", n.Name(), "op", n.Operation())
			nodeEvaluationsTotal.Inc()
			n.UpdateFunctionMBSize()
			if !n.IsLeaf() && !n.RequiresPreCompute() {
				if err := n.Validate(true); err != nil {
					return fmt.Errorf("re-validating node '%s': %w", n.Name(), err)
				}
			}
			n.BeginForwardIteration()
			if err := n.ForwardProp(layout.WholeBatch()); err != nil {
				return fmt.Errorf("forward propagation of node '%s': %w", n.Name(), err)
			}
			if n.RequiresMultiSeqHandling() {
				n.MaskMissingValues(layout.WholeBatch())
			}
			if err := n.EndForwardIteration(); err != nil {
				return fmt.Errorf("node '%s': %w", n.Name(), err)
			}
			n.StampUpdated()

		// Cached value reused (or loop already done): still fire the
		// end-of-iteration hook so invariant checks run.
		default:
			if err := n.EndForwardIteration(); err != nil {
				return fmt.Errorf("node '%s': %w", n.Name(), err)
			}
		}
	}
	return nil
}

// evaluateLoop unrolls one recurrent loop over the time positions of the
// minibatch, invoking every member's per-step compute in loop order at each
// position.
func (net *Network) evaluateLoop(ctx context.Context, loop *RecurrentLoop) error {
	ctxlog.FromContext(ctx).Debug("Evaluating recurrent loop.",
		"loop", loop.ID, "direction", loop.SteppingDirection.String())

	mbLayout := loop.Nodes[0].MBLayout()

	// Tell all members the loop is about to commence, checking on the way
	// that every member shares one layout.
	for _, m := range loop.Nodes {
		if mbLayout == nil || m.MBLayout() != mbLayout {
			return fmt.Errorf("%w: all nodes inside a recurrent loop must share an identical layout; mismatch between '%s' and '%s'",
				ErrConfig, m.Name(), loop.Nodes[0].Name())
		}
		m.UpdateFunctionMBSize()
		m.BeginForwardIteration()
	}

	// Buffers may be shared, so re-validate to size the value matrices.
	for _, m := range loop.Nodes {
		if err := m.Validate(true); err != nil {
			return fmt.Errorf("re-validating loop node '%s': %w", m.Name(), err)
		}
	}

	for _, fr := range layout.Frames(mbLayout, loop.SteppingDirection) {
		for _, m := range loop.Nodes {
			nodeEvaluationsTotal.Inc()
			if err := m.ForwardProp(fr); err != nil {
				return fmt.Errorf("forward propagation of loop node '%s' at t=%d: %w", m.Name(), fr.Time(), err)
			}
			if m.RequiresMultiSeqHandling() {
				m.MaskMissingValues(fr)
			}
			m.StampUpdated()
		}
	}

	// Loop is done; delay nodes use this to capture state for the reverse
	// pass.
	for _, m := range loop.Nodes {
		if err := m.EndForwardIteration(); err != nil {
			return fmt.Errorf("loop node '%s': %w", m.Name(), err)
		}
	}
	return nil
}
