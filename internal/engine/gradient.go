package engine

import (
	"context"
	"fmt"

	"github.com/vk/seqnet/internal/ctxlog"
	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/matrix"
	"github.com/vk/seqnet/internal/node"
)

// GradientOptions control one ComputeGradient invocation.
type GradientOptions struct {
	// ResetRootGradientToOne seeds the root's gradient with the unit scalar.
	// Mutually exclusive with RootGradientSeed.
	ResetRootGradientToOne bool
	// RootGradientSeed, if non-nil, is copied into the root's gradient as the
	// starting gradient from the top. Mutually exclusive with
	// ResetRootGradientToOne.
	RootGradientSeed *matrix.Mat
	// ClearGradients zeroes every reachable node's accumulated gradient
	// before the pass.
	ClearGradients bool
	// ResetTimeStampsAfter marks all function values stale once the pass
	// completes. Required when gradient and value storage are aliased, since
	// the pass may then have destroyed cached values.
	ResetTimeStampsAfter bool
}

// ComputeGradient runs forward propagation for the root and then accumulates
// gradients into children by walking the evaluation order in exact reverse:
// a node's gradient is complete only once every parent's contribution has
// been summed into it. Within a recurrent loop, time positions are visited in
// the reverse of the stepping direction and members in reverse loop order, so
// later time steps reach earlier steps' delayed-read operators before those
// propagate further back.
//
// If neither seeding option is set, whatever gradient already accumulated at
// the root from a prior partial computation is used as-is.
func (net *Network) ComputeGradient(ctx context.Context, root node.Node, opts GradientOptions) error {
	logger := ctxlog.FromContext(ctx)
	if opts.ResetRootGradientToOne && opts.RootGradientSeed != nil {
		return fmt.Errorf("%w: ResetRootGradientToOne and RootGradientSeed are mutually exclusive", ErrConfig)
	}

	// A gradient computation is always preceded by a forward pass; values the
	// backward rules read must be current.
	if err := net.Evaluate(ctx, root); err != nil {
		return err
	}
	gradientPassesTotal.Inc()

	if opts.ClearGradients {
		for _, n := range collectNodes(root) {
			if n.NeedsGradient() {
				n.ClearGradient()
			}
		}
	}

	if opts.ResetRootGradientToOne {
		root.Gradient().Resize(1, 1)
		root.Gradient().Fill(1)
	}
	if opts.RootGradientSeed != nil {
		root.Gradient().CopyFrom(opts.RootGradientSeed)
	}

	for _, loop := range net.recurrentInfo {
		loop.completedGradient = false
	}

	for _, n := range net.GradientCalcOrder(root) {
		recInfo := net.findInRecurrentLoops(n)
		if recInfo != nil {
			if !recInfo.completedGradient {
				if err := net.backpropLoop(ctx, recInfo); err != nil {
					return err
				}
				recInfo.completedGradient = true
			}
			continue
		}

		logger.Debug("Computing gradient for node against children.", "node", n.Name(), "op", n.Operation())
		n.BeginBackpropIteration()
		if n.RequiresMultiSeqHandling() {
			// Whole-batch masking is only valid for feed-forward nodes.
			if n.IsPartOfLoop() {
				return fmt.Errorf("%w: whole-batch gradient masking applied to node '%s', which participates in a loop", ErrLogic, n.Name())
			}
			n.MaskMissingGradient(layout.WholeBatch())
		}
		if err := n.Backprop(layout.WholeBatch()); err != nil {
			return fmt.Errorf("gradient of node '%s': %w", n.Name(), err)
		}
		n.EndBackpropIteration()
	}

	// Value and gradient storage may be shared; if so the function values are
	// destroyed now and must be recomputed on the next Evaluate.
	if opts.ResetTimeStampsAfter {
		net.ResetEvalTimeStamps(root)
	}
	return nil
}

// backpropLoop runs the gradient pass of one recurrent loop: reverse time,
// and reverse member order within each time position.
func (net *Network) backpropLoop(ctx context.Context, loop *RecurrentLoop) error {
	ctxlog.FromContext(ctx).Debug("Computing gradient for recurrent loop.",
		"loop", loop.ID, "direction", loop.SteppingDirection.String())

	for _, m := range loop.Nodes {
		m.BeginBackpropIteration()
	}

	mbLayout := loop.Nodes[0].MBLayout()
	frames := layout.Frames(mbLayout, loop.SteppingDirection)
	for i := len(frames) - 1; i >= 0; i-- {
		fr := frames[i]
		for j := len(loop.Nodes) - 1; j >= 0; j-- {
			m := loop.Nodes[j]
			if err := m.VerifyNumParallelSequences(mbLayout.NumParallelSequences()); err != nil {
				return fmt.Errorf("loop node '%s': %w", m.Name(), err)
			}
			if m.RequiresMultiSeqHandling() {
				m.MaskMissingGradient(fr)
			}
			if err := m.Backprop(fr); err != nil {
				return fmt.Errorf("gradient of loop node '%s' at t=%d: %w", m.Name(), fr.Time(), err)
			}
		}
	}

	for _, m := range loop.Nodes {
		m.EndBackpropIteration()
	}
	return nil
}
