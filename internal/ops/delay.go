package ops

import (
	"fmt"

	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/node"
)

// delayNode is the shared implementation of the delayed-read operators.
// A delay reads its child's value at a neighboring time position: it is
// what turns a cyclic subgraph into a computable recurrence, and it dictates
// the loop's stepping direction. At a minibatch boundary, or when the source
// cell is padding, the configured initial activation is produced instead.
type delayNode struct {
	Base
	initial   float64
	srcOffset int // -1: read the past, +1: read the future
	direction layout.Direction
}

// Bind attaches the delayed input. Delays are constructed before their input
// exists whenever they close a cycle, so binding is a separate step.
func (n *delayNode) Bind(child node.Node) {
	n.children = []node.Node{child}
}

// SteppingDirection reports the loop direction this delay anchors.
func (n *delayNode) SteppingDirection() layout.Direction { return n.direction }

// RequiresMultiSeqHandling is true: delayed reads straddle sequence
// boundaries, so padding cells must be masked.
func (n *delayNode) RequiresMultiSeqHandling() bool { return true }

// Validate infers shape from the delayed child. Delays are meaningless
// without sequence structure, so the final pass requires a layout.
func (n *delayNode) Validate(finalPass bool) error {
	if len(n.children) == 0 {
		return fmt.Errorf("delay node has no bound input")
	}
	c := n.children[0]
	n.inferLayoutFromChildren()
	if finalPass && n.mbLayout == nil {
		return fmt.Errorf("delay node requires a minibatch layout")
	}
	cols := c.Cols()
	if n.mbLayout != nil {
		cols = n.mbLayout.NumCols()
	}
	n.value.Resize(c.Rows(), cols)
	return nil
}

func (n *delayNode) ForwardProp(fr layout.FrameRange) error {
	if fr.IsWholeBatch() {
		for t := 0; t < n.mbLayout.NumTimeSteps(); t++ {
			n.stepForward(t)
		}
		return nil
	}
	n.stepForward(fr.Time())
	return nil
}

func (n *delayNode) stepForward(t int) {
	l := n.mbLayout
	c := n.children[0]
	src := t + n.srcOffset
	for s := 0; s < l.NumParallelSequences(); s++ {
		col := l.ColumnIndex(s, t)
		if src < 0 || src >= l.NumTimeSteps() || l.IsGap(s, src) {
			for r := 0; r < n.value.Rows(); r++ {
				n.value.Set(r, col, n.initial)
			}
			continue
		}
		srcCol := l.ColumnIndex(s, src)
		for r := 0; r < n.value.Rows(); r++ {
			n.value.Set(r, col, c.Value().At(r, srcCol))
		}
	}
}

func (n *delayNode) Backprop(fr layout.FrameRange) error {
	c := n.children[0]
	if !c.NeedsGradient() {
		return nil
	}
	if fr.IsWholeBatch() {
		for t := 0; t < n.mbLayout.NumTimeSteps(); t++ {
			n.stepBackward(t)
		}
		return nil
	}
	n.stepBackward(fr.Time())
	return nil
}

func (n *delayNode) stepBackward(t int) {
	l := n.mbLayout
	c := n.children[0]
	g := ensureGradient(c)
	src := t + n.srcOffset
	if src < 0 || src >= l.NumTimeSteps() {
		return
	}
	for s := 0; s < l.NumParallelSequences(); s++ {
		if l.IsGap(s, src) || l.IsGap(s, t) {
			continue
		}
		col := l.ColumnIndex(s, t)
		srcCol := l.ColumnIndex(s, src)
		for r := 0; r < n.value.Rows(); r++ {
			g.AddAt(r, srcCol, n.gradient.At(r, col))
		}
	}
}

// PastValue reads its input one time position in the past. Loops it anchors
// step forward in time.
type PastValue struct {
	delayNode
}

// NewPastValue creates a past-value delay with the given initial activation.
// The input may be bound later via Bind when it closes a cycle.
func NewPastValue(name string, initial float64, child node.Node) *PastValue {
	n := &PastValue{delayNode{
		Base:      newBase(name, "PastValue"),
		initial:   initial,
		srcOffset: -1,
		direction: layout.Forward,
	}}
	if child != nil {
		n.Bind(child)
	}
	return n
}

// FutureValue reads its input one time position in the future. Loops it
// anchors step backward in time.
type FutureValue struct {
	delayNode
}

// NewFutureValue creates a future-value delay with the given initial
// activation. The input may be bound later via Bind when it closes a cycle.
func NewFutureValue(name string, initial float64, child node.Node) *FutureValue {
	n := &FutureValue{delayNode{
		Base:      newBase(name, "FutureValue"),
		initial:   initial,
		srcOffset: +1,
		direction: layout.Backward,
	}}
	if child != nil {
		n.Bind(child)
	}
	return n
}
