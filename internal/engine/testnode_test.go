package engine

import (
	"fmt"

	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/matrix"
	"github.com/vk/seqnet/internal/node"
)

// testNode is a scriptable node.Node that records how the engine drives it:
// which frames its forward and backward passes were asked to compute, how
// often it was validated, and the order of lifecycle hooks.
type testNode struct {
	name      string
	operation string
	children  []node.Node
	rows      int

	value    *matrix.Mat
	gradient *matrix.Mat

	mbLayout *layout.MBLayout
	img      layout.ImageLayout

	stamp         int64
	visited       bool
	needsGradient bool
	partOfLoop    bool

	learnable bool
	multiSeq  bool

	forwardFrames  []layout.FrameRange
	backpropFrames []layout.FrameRange
	validateCalls  int
	endForward     int

	forwardErr  error
	validateErr error
}

func newTestLeaf(name string, rows, cols int) *testNode {
	n := &testNode{name: name, operation: "TestInput", rows: rows,
		value: matrix.New(rows, cols), gradient: matrix.New(0, 0)}
	n.StampUpdated()
	return n
}

func newTestParam(name string, rows, cols int) *testNode {
	n := &testNode{name: name, operation: "TestParameter", rows: rows,
		value: matrix.New(rows, cols), gradient: matrix.New(0, 0), learnable: true}
	n.StampUpdated()
	return n
}

func newTestNode(name string, rows int, children ...node.Node) *testNode {
	return &testNode{name: name, operation: "TestOp", rows: rows, children: children,
		value: matrix.New(0, 0), gradient: matrix.New(0, 0)}
}

func (n *testNode) Name() string          { return n.name }
func (n *testNode) Operation() string     { return n.operation }
func (n *testNode) Children() []node.Node { return n.children }
func (n *testNode) IsLeaf() bool          { return len(n.children) == 0 }

func (n *testNode) MBLayout() *layout.MBLayout        { return n.mbLayout }
func (n *testNode) LinkToMBLayout(l *layout.MBLayout) { n.mbLayout = l }

func (n *testNode) Rows() int                       { return n.value.Rows() }
func (n *testNode) Cols() int                       { return n.value.Cols() }
func (n *testNode) ImageLayout() layout.ImageLayout { return n.img }

func (n *testNode) Validate(finalPass bool) error {
	n.validateCalls++
	if n.validateErr != nil {
		return n.validateErr
	}
	if n.IsLeaf() {
		if n.mbLayout != nil && n.mbLayout.NumCols() > 0 {
			n.value.Resize(n.rows, n.mbLayout.NumCols())
		}
		return nil
	}
	if n.mbLayout == nil {
		for _, c := range n.children {
			if c.MBLayout() != nil {
				n.mbLayout = c.MBLayout()
				break
			}
		}
	}
	n.value.Resize(n.rows, n.children[0].Cols())
	return nil
}

func (n *testNode) UpdateFunctionMBSize() {
	if n.mbLayout != nil {
		n.value.Resize(n.value.Rows(), n.mbLayout.NumCols())
	}
}

func (n *testNode) BeginForwardIteration() {}
func (n *testNode) EndForwardIteration() error {
	n.endForward++
	return nil
}

func (n *testNode) ForwardProp(fr layout.FrameRange) error {
	if n.forwardErr != nil {
		return n.forwardErr
	}
	n.forwardFrames = append(n.forwardFrames, fr)
	return nil
}

func (n *testNode) BeginBackpropIteration() {}
func (n *testNode) EndBackpropIteration()  {}

func (n *testNode) Backprop(fr layout.FrameRange) error {
	n.backpropFrames = append(n.backpropFrames, fr)
	return nil
}

func (n *testNode) Value() *matrix.Mat    { return n.value }
func (n *testNode) Gradient() *matrix.Mat { return n.gradient }
func (n *testNode) ClearGradient() {
	n.gradient.Resize(n.value.Rows(), n.value.Cols())
	n.gradient.Zero()
}

func (n *testNode) IsOlderThanInputs() bool {
	for _, c := range n.children {
		if c.EvalTimeStamp() > n.stamp {
			return true
		}
	}
	return false
}

func (n *testNode) EvalTimeStamp() int64 { return n.stamp }
func (n *testNode) StampUpdated()        { n.stamp = node.NextTimeStamp() }
func (n *testNode) ResetTimeStamp()      { n.stamp = 0 }

func (n *testNode) NeedsGradient() bool     { return n.needsGradient }
func (n *testNode) SetNeedsGradient(v bool) { n.needsGradient = v }
func (n *testNode) Visited() bool           { return n.visited }
func (n *testNode) SetVisited(v bool)       { n.visited = v }
func (n *testNode) IsPartOfLoop() bool      { return n.partOfLoop }
func (n *testNode) SetPartOfLoop(v bool)    { n.partOfLoop = v }

func (n *testNode) RequiresMultiSeqHandling() bool        { return n.multiSeq }
func (n *testNode) MaskMissingValues(fr layout.FrameRange) {}
func (n *testNode) MaskMissingGradient(fr layout.FrameRange) {
}

func (n *testNode) RequiresParameterUpdate() bool { return n.learnable }
func (n *testNode) RequiresPreCompute() bool      { return false }

func (n *testNode) NumParallelSequences() int {
	if n.mbLayout == nil {
		return 0
	}
	return n.mbLayout.NumParallelSequences()
}

func (n *testNode) VerifyNumParallelSequences(expected int) error {
	if n.mbLayout != nil && n.mbLayout.NumParallelSequences() != expected {
		return fmt.Errorf("layout carries %d parallel sequences, expected %d",
			n.mbLayout.NumParallelSequences(), expected)
	}
	return nil
}

// testDelay is a testNode that also satisfies node.Delay, anchoring recurrent
// loops in engine tests. Its child may be bound after construction to close a
// cycle.
type testDelay struct {
	testNode
	direction layout.Direction
}

func newTestDelay(name string, rows int, dir layout.Direction) *testDelay {
	return &testDelay{
		testNode: testNode{name: name, operation: "TestDelay", rows: rows,
			value: matrix.New(0, 0), gradient: matrix.New(0, 0)},
		direction: dir,
	}
}

func (d *testDelay) Bind(child node.Node) { d.children = []node.Node{child} }

func (d *testDelay) SteppingDirection() layout.Direction { return d.direction }

// frameTimes flattens recorded frames into their time positions; a whole-batch
// frame is reported as -1.
func frameTimes(frames []layout.FrameRange) []int {
	out := make([]int, len(frames))
	for i, fr := range frames {
		if fr.IsWholeBatch() {
			out[i] = -1
		} else {
			out[i] = fr.Time()
		}
	}
	return out
}

// nodeNames maps nodes to their names for order assertions.
func nodeNames(nodes []node.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}
