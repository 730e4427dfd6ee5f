package engine

import (
	"context"
	"fmt"

	"github.com/vk/seqnet/internal/ctxlog"
	"github.com/vk/seqnet/internal/node"
)

// ValidateNetwork validates the whole network: every criterion, output and
// evaluation root gets its recurrent loops formed (unless fragment validation
// is allowed) and its sub-network validated.
//
// Unless allowFragment is set, the network must contain at least one feature
// node, at least one output node, and, unless allowNoCriterion is set, at
// least one criterion node.
func (net *Network) ValidateNetwork(ctx context.Context, allowFragment, allowNoCriterion bool) error {
	if len(net.features) == 0 && !allowFragment {
		return fmt.Errorf("%w: no feature nodes specified", ErrConfig)
	}

	validateRoots := func(roots []node.Node) error {
		for _, root := range roots {
			if !allowFragment {
				if err := net.FormRecurrentLoops(ctx, root); err != nil {
					return err
				}
			}
			if err := net.ValidateSubNetwork(ctx, root); err != nil {
				return err
			}
		}
		return nil
	}

	if len(net.criteria) > 0 {
		if err := validateRoots(net.criteria); err != nil {
			return err
		}
	} else if !allowNoCriterion && !allowFragment {
		return fmt.Errorf("%w: no criterion nodes specified", ErrConfig)
	}

	if len(net.outputs) > 0 {
		if err := validateRoots(net.outputs); err != nil {
			return err
		}
	} else if !allowFragment {
		return fmt.Errorf("%w: no output nodes specified", ErrConfig)
	}

	return validateRoots(net.evaluation)
}

// ValidateSubNetwork resolves the output shape and layout linkage of every
// node the root depends on, iterating non-final inference passes to a
// fixpoint and then running exactly one hard-checking final pass.
//
// Shape inference may need several passes because a node's output can depend
// on children whose own shape depends on nodes not yet visited in scan order
// (e.g. multi-input merges); iterating until no node is outstanding handles
// arbitrary acyclic dependency shapes without a precomputed reverse ordering.
// There is no iteration cap: a genuinely contradictory graph loops forever,
// and only a regression during the final pass is detected.
func (net *Network) ValidateSubNetwork(ctx context.Context, root node.Node) error {
	logger := ctxlog.FromContext(ctx)

	// Inputs are linked to the externally supplied layout; everything else
	// picks its layout up from its children during Validate.
	for _, n := range collectNodes(root) {
		if n.IsLeaf() && !n.RequiresParameterUpdate() {
			n.LinkToMBLayout(net.mbLayout)
			// Validated before the first minibatch was read: bootstrap an
			// empty layout to one sequence matching the input's width.
			if net.mbLayout.NumCols() == 0 {
				net.mbLayout.Init(1, n.Cols())
			}
		}
	}

	nodes := net.EvalOrder(root)
	for _, n := range nodes {
		n.SetVisited(false)
		n.SetNeedsGradient(n.RequiresParameterUpdate()) // propagated upwards below
	}

	pass := 0
	toValidate := len(nodes)
	for toValidate > 0 {
		pass++
		logger.Debug("Validation pass starting.", "root", root.Name(), "pass", pass, "outstanding", toValidate)
		validationPassesTotal.Inc()
		var err error
		toValidate, err = validateNodes(ctx, nodes, false)
		if err != nil {
			return err
		}
	}
	logger.Debug("Final validation pass.", "root", root.Name(), "passes", pass)
	toValidate, err := validateNodes(ctx, nodes, true)
	if err != nil {
		return err
	}
	if toValidate != 0 {
		return fmt.Errorf("%w: final validation pass returned with %d nodes left to do", ErrLogic, toValidate)
	}

	// Nodes must produce non-zero dimensional data; anything else is assumed
	// to be a user error.
	for _, n := range nodes {
		if n.Rows() == 0 && (n.MBLayout() != nil || n.Cols() == 0) {
			return fmt.Errorf("%w: node '%s' (%s) resolved to 0 elements", ErrConfig, n.Name(), n.Operation())
		}
	}

	nonDefault := 0
	for _, n := range nodes {
		if n.MBLayout() != net.mbLayout {
			nonDefault++
		}
	}
	if nonDefault > 0 {
		logger.Debug("Some nodes do not share the minibatch layout with the input data.",
			"root", root.Name(), "count", nonDefault, "total", len(nodes))
	}
	return nil
}

// dims is the snapshot of a node's output shape taken around Validate.
type dims struct{ rows, cols int }

func dimsOf(n node.Node) dims { return dims{n.Rows(), n.Cols()} }

// validateNodes performs one scan over the node list. In non-final mode each
// node with at least one visited child (or a leaf) runs shape inference; the
// node counts as resolved once its state stopped changing and all children
// are resolved. The returned count is the outstanding work. In final mode any
// change, or a reachable node with unresolved children, is a logic error: the
// fixpoint did not actually converge.
func validateNodes(ctx context.Context, nodes []node.Node, finalPass bool) (int, error) {
	logger := ctxlog.FromContext(ctx)
	todo := 0
	for _, n := range nodes {
		children := n.Children()
		isLeaf := n.IsLeaf()
		hasVisitedChild := false
		allChildrenVisited := true
		for _, c := range children {
			hasVisitedChild = hasVisitedChild || c.Visited()
			allChildrenVisited = allChildrenVisited && c.Visited()
		}

		valid := false
		if hasVisitedChild || isLeaf {
			oldLayout := n.MBLayout()
			oldDims := dimsOf(n)
			oldChildDims := make([]dims, len(children))
			for i, c := range children {
				oldChildDims[i] = dimsOf(c)
			}
			oldImage := n.ImageLayout()
			oldNeedsGradient := n.NeedsGradient()

			if err := n.Validate(finalPass); err != nil {
				return todo, fmt.Errorf("validating node '%s' (%s): %w", n.Name(), n.Operation(), err)
			}
			logger.Debug("Validated node.", "node", n.Name(), "op", n.Operation(),
				"rows", n.Rows(), "cols", n.Cols(), "final", finalPass)
			n.SetVisited(true)

			// Take the opportunity to propagate needs-gradient upwards.
			for _, c := range children {
				if c.NeedsGradient() {
					n.SetNeedsGradient(true)
				}
			}

			unchanged := oldLayout == n.MBLayout() &&
				oldDims == dimsOf(n) &&
				oldImage == n.ImageLayout() &&
				oldNeedsGradient == n.NeedsGradient()
			for i, c := range children {
				unchanged = unchanged && oldChildDims[i] == dimsOf(c)
			}

			if finalPass && !unchanged {
				return todo, fmt.Errorf("%w: node '%s' (%s) changed during final validation", ErrLogic, n.Name(), n.Operation())
			}
			if finalPass && !allChildrenVisited {
				return todo, fmt.Errorf("%w: node '%s' (%s) reached final validation with unvisited children", ErrLogic, n.Name(), n.Operation())
			}
			valid = (allChildrenVisited && unchanged) || isLeaf
		}
		if !valid {
			todo++
		}
	}
	return todo, nil
}

// BuildAndValidateSubNetwork prepares the sub-network this root depends on:
// recurrent-loop detection, input/learnable collection, then validation.
// Idempotent per root; Evaluate requires it to have run.
func (net *Network) BuildAndValidateSubNetwork(ctx context.Context, root node.Node) error {
	if _, done := net.built[root]; done {
		return nil
	}
	if err := net.FormRecurrentLoops(ctx, root); err != nil {
		return err
	}
	net.collectInputAndLearnableNodes(ctx, root)
	if err := net.ValidateSubNetwork(ctx, root); err != nil {
		return err
	}
	net.built[root] = struct{}{}
	return nil
}

// BuiltAndValidatedSubNetwork reports whether BuildAndValidateSubNetwork has
// completed for this root.
func (net *Network) BuiltAndValidatedSubNetwork(root node.Node) bool {
	_, done := net.built[root]
	return done
}
