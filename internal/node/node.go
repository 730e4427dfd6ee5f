// Package node defines the capability contract the execution engine requires
// from every vertex of a computation graph, together with the global
// evaluation timestamp source that drives memoization.
//
// The engine never owns nodes; it only schedules and drives them through this
// interface. Operator semantics live in the ops package (or in any other
// implementation of Node).
package node

import (
	"sync/atomic"

	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/matrix"
)

// evalStamp is the global, strictly increasing evaluation timestamp counter.
var evalStamp atomic.Int64

// NextTimeStamp returns a fresh evaluation timestamp. A node's cached value
// is fresh as long as its own stamp is not older than any of its children's.
func NextTimeStamp() int64 { return evalStamp.Add(1) }

// Node is the minimal polymorphic surface the engine requires from a graph
// vertex. Implementations own their value and gradient buffers; the two may
// alias the same storage, which is why ComputeGradient can be asked to reset
// function-value timestamps after it finishes.
type Node interface {
	// Name identifies the node in diagnostics and error messages.
	Name() string
	// Operation names the operator kind, e.g. "Times" or "PastValue".
	Operation() string
	// Children returns the node's inputs, in operator-defined order.
	Children() []Node
	// IsLeaf reports whether the node has no inputs.
	IsLeaf() bool

	// MBLayout returns the minibatch layout the node is linked to, or nil for
	// nodes whose output carries no sequence structure (e.g. parameters).
	MBLayout() *layout.MBLayout
	// LinkToMBLayout attaches the node to a minibatch layout.
	LinkToMBLayout(*layout.MBLayout)

	// Rows and Cols return the node's current output dimensions.
	Rows() int
	Cols() int
	// ImageLayout returns opaque spatial metadata; the engine only compares
	// it for equality across validation passes.
	ImageLayout() layout.ImageLayout

	// Validate infers the node's output dimensions and layout linkage from
	// its children. In the final pass it must hard-fail on any inconsistency
	// instead of silently adjusting.
	Validate(finalPass bool) error
	// UpdateFunctionMBSize resizes the value buffer for the current
	// minibatch shape.
	UpdateFunctionMBSize()

	// Forward lifecycle. Begin/End are invoked around each whole-batch
	// computation or per-loop iteration; End also runs when a cached value
	// was reused, so invariant checks (e.g. non-finite detection) always run.
	BeginForwardIteration()
	EndForwardIteration() error
	// ForwardProp computes the node's output for the given frame range.
	ForwardProp(fr layout.FrameRange) error

	// Backprop lifecycle, mirroring the forward hooks.
	BeginBackpropIteration()
	EndBackpropIteration()
	// Backprop accumulates this node's gradient into its children for the
	// given frame range.
	Backprop(fr layout.FrameRange) error

	// Value and Gradient expose the node's buffers. The engine touches them
	// only to seed and clear gradients.
	Value() *matrix.Mat
	Gradient() *matrix.Mat
	// ClearGradient sizes the gradient buffer to the output dimensions and
	// zeroes it.
	ClearGradient()

	// Staleness. IsOlderThanInputs reports whether any child carries a newer
	// timestamp than this node's cached value.
	IsOlderThanInputs() bool
	EvalTimeStamp() int64
	StampUpdated()
	ResetTimeStamp()

	// Validation scratch state, reset by the engine per invocation.
	NeedsGradient() bool
	SetNeedsGradient(bool)
	Visited() bool
	SetVisited(bool)

	// Loop membership, assigned during loop formation.
	IsPartOfLoop() bool
	SetPartOfLoop(bool)

	// Masking. Called only when RequiresMultiSeqHandling reports true.
	RequiresMultiSeqHandling() bool
	MaskMissingValues(fr layout.FrameRange)
	MaskMissingGradient(fr layout.FrameRange)

	// RequiresParameterUpdate seeds needs-gradient propagation.
	RequiresParameterUpdate() bool
	// RequiresPreCompute marks nodes whose value is produced externally
	// before evaluation; the engine skips re-validating them mid-pass.
	RequiresPreCompute() bool

	// NumParallelSequences returns the layout's sequence count, or 0 when
	// the node has no layout.
	NumParallelSequences() int
	// VerifyNumParallelSequences checks layout consistency during the
	// gradient pass.
	VerifyNumParallelSequences(expected int) error
}

// Delay marks delayed-read operators. Their defining property is that they
// intentionally read another time position's value: they anchor recurrent
// loops, dictate the loop's stepping direction, and are exempt from the
// staleness check that triggers loop re-evaluation.
type Delay interface {
	Node
	SteppingDirection() layout.Direction
}
