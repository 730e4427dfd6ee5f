package ops

import (
	"fmt"

	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/matrix"
	"github.com/vk/seqnet/internal/node"
)

// SumElements reduces its child to a 1×1 scalar by summing every non-padding
// element. Reductions across the batch carry no sequence structure of their
// own, so the node has no minibatch layout.
type SumElements struct {
	Base
}

// NewSumElements creates a sum-reduction over x.
func NewSumElements(name string, x node.Node) *SumElements {
	return &SumElements{newBase(name, "SumElements", x)}
}

func (n *SumElements) Validate(finalPass bool) error {
	n.value.Resize(1, 1)
	return nil
}

func (n *SumElements) ForwardProp(fr layout.FrameRange) error {
	x := n.children[0]
	var sum float64
	forEachLiveColumn(x, func(c int) {
		for r := 0; r < x.Rows(); r++ {
			sum += x.Value().At(r, c)
		}
	})
	n.value.Set(0, 0, sum)
	return nil
}

func (n *SumElements) Backprop(fr layout.FrameRange) error {
	x := n.children[0]
	if !x.NeedsGradient() {
		return nil
	}
	g := ensureGradient(x)
	seed := n.gradient.At(0, 0)
	forEachLiveColumn(x, func(c int) {
		for r := 0; r < x.Rows(); r++ {
			g.AddAt(r, c, seed)
		}
	})
	return nil
}

// SquareError reduces two children to the 1×1 sum of squared differences
// over every non-padding column.
type SquareError struct {
	Base
}

// NewSquareError creates a squared-error criterion between prediction a and
// target b.
func NewSquareError(name string, a, b node.Node) *SquareError {
	return &SquareError{newBase(name, "SquareError", a, b)}
}

func (n *SquareError) Validate(finalPass bool) error {
	a, b := n.children[0], n.children[1]
	if finalPass && (a.Rows() != b.Rows() || a.Cols() != b.Cols()) {
		return fmt.Errorf("operand mismatch: %dx%d vs %dx%d", a.Rows(), a.Cols(), b.Rows(), b.Cols())
	}
	n.value.Resize(1, 1)
	return nil
}

func (n *SquareError) ForwardProp(fr layout.FrameRange) error {
	a, b := n.children[0], n.children[1]
	var sum float64
	forEachLiveColumn(a, func(c int) {
		for r := 0; r < a.Rows(); r++ {
			d := a.Value().At(r, c) - b.Value().At(r, c)
			sum += d * d
		}
	})
	n.value.Set(0, 0, sum)
	return nil
}

func (n *SquareError) Backprop(fr layout.FrameRange) error {
	a, b := n.children[0], n.children[1]
	seed := n.gradient.At(0, 0)
	var ga, gb *matrix.Mat
	if a.NeedsGradient() {
		ga = ensureGradient(a)
	}
	if b.NeedsGradient() {
		gb = ensureGradient(b)
	}
	if ga == nil && gb == nil {
		return nil
	}
	forEachLiveColumn(a, func(c int) {
		for r := 0; r < a.Rows(); r++ {
			d := 2 * seed * (a.Value().At(r, c) - b.Value().At(r, c))
			if ga != nil {
				ga.AddAt(r, c, d)
			}
			if gb != nil {
				gb.AddAt(r, c, -d)
			}
		}
	})
	return nil
}

// forEachLiveColumn visits every column of n that is not a padding cell of
// its layout. Nodes without a layout have every column visited.
func forEachLiveColumn(n node.Node, fn func(c int)) {
	l := n.MBLayout()
	if l == nil || !l.HasGaps() {
		for c := 0; c < n.Cols(); c++ {
			fn(c)
		}
		return
	}
	for t := 0; t < l.NumTimeSteps(); t++ {
		for s := 0; s < l.NumParallelSequences(); s++ {
			if !l.IsGap(s, t) {
				fn(l.ColumnIndex(s, t))
			}
		}
	}
}
