package ops

import (
	"fmt"

	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/matrix"
	"github.com/vk/seqnet/internal/node"
)

// Times computes the matrix product of a weight child and a data child,
// column by column: out[:, j] = W · x[:, j].
type Times struct {
	Base
}

// NewTimes creates a Times node with weight w applied to input x.
func NewTimes(name string, w, x node.Node) *Times {
	return &Times{Base: newBase(name, "Times", w, x)}
}

// Validate infers rows from the weight and columns from the data child; the
// final pass additionally checks the inner dimensions.
func (n *Times) Validate(finalPass bool) error {
	w, x := n.children[0], n.children[1]
	n.inferLayoutFromChildren()
	if finalPass && w.Cols() != x.Rows() {
		return fmt.Errorf("inner dimensions mismatch: %dx%d times %dx%d",
			w.Rows(), w.Cols(), x.Rows(), x.Cols())
	}
	n.value.Resize(w.Rows(), x.Cols())
	return nil
}

func (n *Times) ForwardProp(fr layout.FrameRange) error {
	w, x := n.children[0], n.children[1]
	c0, c1 := n.frameCols(fr)
	return matrix.MulColsInto(n.value, w.Value(), x.Value(), c0, c1)
}

func (n *Times) Backprop(fr layout.FrameRange) error {
	w, x := n.children[0], n.children[1]
	c0, c1 := n.frameCols(fr)
	if w.NeedsGradient() {
		// dW += dOut[:, c0:c1] · x[:, c0:c1]^T
		wg := ensureGradient(w)
		for r := 0; r < w.Rows(); r++ {
			for k := 0; k < w.Cols(); k++ {
				var sum float64
				for c := c0; c < c1; c++ {
					sum += n.gradient.At(r, c) * x.Value().At(k, c)
				}
				wg.AddAt(r, k, sum)
			}
		}
	}
	if x.NeedsGradient() {
		// dX[:, c0:c1] += W^T · dOut[:, c0:c1]
		xg := ensureGradient(x)
		for c := c0; c < c1; c++ {
			for k := 0; k < w.Cols(); k++ {
				var sum float64
				for r := 0; r < w.Rows(); r++ {
					sum += w.Value().At(r, k) * n.gradient.At(r, c)
				}
				xg.AddAt(k, c, sum)
			}
		}
	}
	return nil
}

// Plus computes the elementwise sum of its two children. A child with a
// single column (e.g. a bias parameter) is broadcast across all columns.
type Plus struct {
	Base
}

// NewPlus creates an elementwise addition node.
func NewPlus(name string, a, b node.Node) *Plus {
	return &Plus{Base: newBase(name, "Plus", a, b)}
}

// Validate infers the broadcast output shape; the final pass checks row
// agreement and that column counts match or broadcast.
func (n *Plus) Validate(finalPass bool) error {
	a, b := n.children[0], n.children[1]
	n.inferLayoutFromChildren()
	rows := a.Rows()
	if rows == 0 {
		rows = b.Rows()
	}
	cols := a.Cols()
	if b.Cols() > cols {
		cols = b.Cols()
	}
	if finalPass {
		if a.Rows() != b.Rows() {
			return fmt.Errorf("row mismatch: %d vs %d", a.Rows(), b.Rows())
		}
		if a.Cols() != b.Cols() && a.Cols() != 1 && b.Cols() != 1 {
			return fmt.Errorf("column mismatch without broadcast: %d vs %d", a.Cols(), b.Cols())
		}
	}
	n.value.Resize(rows, cols)
	return nil
}

func (n *Plus) ForwardProp(fr layout.FrameRange) error {
	a, b := n.children[0], n.children[1]
	c0, c1 := n.frameCols(fr)
	for c := c0; c < c1; c++ {
		ca, cb := broadcastCol(a, c), broadcastCol(b, c)
		for r := 0; r < n.value.Rows(); r++ {
			n.value.Set(r, c, a.Value().At(r, ca)+b.Value().At(r, cb))
		}
	}
	return nil
}

func (n *Plus) Backprop(fr layout.FrameRange) error {
	c0, c1 := n.frameCols(fr)
	for _, child := range n.children {
		if !child.NeedsGradient() {
			continue
		}
		g := ensureGradient(child)
		for c := c0; c < c1; c++ {
			cc := broadcastCol(child, c)
			for r := 0; r < n.value.Rows(); r++ {
				g.AddAt(r, cc, n.gradient.At(r, c))
			}
		}
	}
	return nil
}

// broadcastCol maps an output column to the child's column, collapsing to 0
// for single-column children.
func broadcastCol(n node.Node, c int) int {
	if n.Cols() == 1 {
		return 0
	}
	return c
}
