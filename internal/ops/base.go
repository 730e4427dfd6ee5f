package ops

import (
	"fmt"
	"math"

	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/matrix"
	"github.com/vk/seqnet/internal/node"
)

// Base implements the parts of node.Node that are common to all operators.
// Concrete operator types embed it and provide Validate, ForwardProp and
// Backprop.
type Base struct {
	name      string
	operation string
	children  []node.Node

	value    *matrix.Mat
	gradient *matrix.Mat

	mbLayout *layout.MBLayout
	img      layout.ImageLayout

	evalTimeStamp int64

	visited       bool
	needsGradient bool
	partOfLoop    bool
}

func newBase(name, operation string, children ...node.Node) Base {
	return Base{
		name:      name,
		operation: operation,
		children:  children,
		value:     matrix.New(0, 0),
		gradient:  matrix.New(0, 0),
	}
}

func (b *Base) Name() string          { return b.name }
func (b *Base) Operation() string     { return b.operation }
func (b *Base) Children() []node.Node { return b.children }
func (b *Base) IsLeaf() bool          { return len(b.children) == 0 }

func (b *Base) MBLayout() *layout.MBLayout       { return b.mbLayout }
func (b *Base) LinkToMBLayout(l *layout.MBLayout) { b.mbLayout = l }

func (b *Base) Rows() int                       { return b.value.Rows() }
func (b *Base) Cols() int                       { return b.value.Cols() }
func (b *Base) ImageLayout() layout.ImageLayout { return b.img }

func (b *Base) Value() *matrix.Mat    { return b.value }
func (b *Base) Gradient() *matrix.Mat { return b.gradient }

// ClearGradient sizes the gradient buffer to the output dimensions and
// zeroes it.
func (b *Base) ClearGradient() {
	b.gradient.Resize(b.value.Rows(), b.value.Cols())
	b.gradient.Zero()
}

// UpdateFunctionMBSize resizes the value buffer's column dimension to the
// current minibatch. Nodes without a layout keep their fixed dimensions.
func (b *Base) UpdateFunctionMBSize() {
	if b.mbLayout != nil {
		b.value.Resize(b.value.Rows(), b.mbLayout.NumCols())
	}
}

func (b *Base) BeginForwardIteration() {}

// EndForwardIteration checks the function value for non-finite elements.
// It runs even when a cached value was reused, so a NaN produced upstream
// never goes unnoticed.
func (b *Base) EndForwardIteration() error {
	for _, v := range b.value.Data() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("node produced a non-finite value")
		}
	}
	return nil
}

func (b *Base) BeginBackpropIteration() {}
func (b *Base) EndBackpropIteration()  {}

func (b *Base) EvalTimeStamp() int64 { return b.evalTimeStamp }
func (b *Base) StampUpdated()        { b.evalTimeStamp = node.NextTimeStamp() }
func (b *Base) ResetTimeStamp()      { b.evalTimeStamp = 0 }

// IsOlderThanInputs reports whether any child was stamped after this node's
// cached value.
func (b *Base) IsOlderThanInputs() bool {
	for _, c := range b.children {
		if c.EvalTimeStamp() > b.evalTimeStamp {
			return true
		}
	}
	return false
}

func (b *Base) NeedsGradient() bool      { return b.needsGradient }
func (b *Base) SetNeedsGradient(v bool)  { b.needsGradient = v }
func (b *Base) Visited() bool            { return b.visited }
func (b *Base) SetVisited(v bool)        { b.visited = v }
func (b *Base) IsPartOfLoop() bool       { return b.partOfLoop }
func (b *Base) SetPartOfLoop(v bool)     { b.partOfLoop = v }

func (b *Base) RequiresMultiSeqHandling() bool { return false }
func (b *Base) RequiresParameterUpdate() bool  { return false }
func (b *Base) RequiresPreCompute() bool       { return false }

// MaskMissingValues zeroes the value columns of padding cells in the range.
func (b *Base) MaskMissingValues(fr layout.FrameRange) {
	maskColumns(b.value, b.mbLayout, fr)
}

// MaskMissingGradient zeroes the gradient columns of padding cells in the range.
func (b *Base) MaskMissingGradient(fr layout.FrameRange) {
	maskColumns(b.gradient, b.mbLayout, fr)
}

func (b *Base) NumParallelSequences() int {
	if b.mbLayout == nil {
		return 0
	}
	return b.mbLayout.NumParallelSequences()
}

func (b *Base) VerifyNumParallelSequences(expected int) error {
	if b.mbLayout != nil && b.mbLayout.NumParallelSequences() != expected {
		return fmt.Errorf("layout carries %d parallel sequences, expected %d",
			b.mbLayout.NumParallelSequences(), expected)
	}
	return nil
}

// frameCols returns the half-open column range the frame range covers on
// this node's buffers.
func (b *Base) frameCols(fr layout.FrameRange) (int, int) {
	if fr.IsWholeBatch() || b.mbLayout == nil {
		return 0, b.value.Cols()
	}
	s := b.mbLayout.NumParallelSequences()
	return fr.Time() * s, (fr.Time() + 1) * s
}

// inferLayoutFromChildren adopts the first non-nil child layout.
func (b *Base) inferLayoutFromChildren() {
	if b.mbLayout != nil {
		return
	}
	for _, c := range b.children {
		if c.MBLayout() != nil {
			b.mbLayout = c.MBLayout()
			return
		}
	}
}

func maskColumns(m *matrix.Mat, l *layout.MBLayout, fr layout.FrameRange) {
	if l == nil || !l.HasGaps() || m.Cols() != l.NumCols() {
		return
	}
	t0, t1 := 0, l.NumTimeSteps()
	if !fr.IsWholeBatch() {
		t0, t1 = fr.Time(), fr.Time()+1
	}
	for t := t0; t < t1; t++ {
		for s := 0; s < l.NumParallelSequences(); s++ {
			if l.IsGap(s, t) {
				m.ZeroColumn(l.ColumnIndex(s, t))
			}
		}
	}
}

// ensureGradient sizes a node's gradient buffer to its output dimensions
// before accumulation, preserving already accumulated contents when the
// dimensions already match.
func ensureGradient(n node.Node) *matrix.Mat {
	g := n.Gradient()
	g.Resize(n.Rows(), n.Cols())
	return g
}
