package ops

import (
	"math"

	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/node"
)

// unary carries the shared shape inference of elementwise one-input nodes.
type unary struct {
	Base
}

func (n *unary) Validate(finalPass bool) error {
	c := n.children[0]
	n.inferLayoutFromChildren()
	n.value.Resize(c.Rows(), c.Cols())
	return nil
}

// Sigmoid applies the logistic function elementwise.
type Sigmoid struct {
	unary
}

// NewSigmoid creates a sigmoid activation over x.
func NewSigmoid(name string, x node.Node) *Sigmoid {
	return &Sigmoid{unary{newBase(name, "Sigmoid", x)}}
}

func (n *Sigmoid) ForwardProp(fr layout.FrameRange) error {
	x := n.children[0]
	c0, c1 := n.frameCols(fr)
	for c := c0; c < c1; c++ {
		for r := 0; r < n.value.Rows(); r++ {
			n.value.Set(r, c, 1/(1+math.Exp(-x.Value().At(r, c))))
		}
	}
	return nil
}

// Backprop uses the node's own output: dσ/dx = σ(x)·(1−σ(x)).
func (n *Sigmoid) Backprop(fr layout.FrameRange) error {
	x := n.children[0]
	if !x.NeedsGradient() {
		return nil
	}
	g := ensureGradient(x)
	c0, c1 := n.frameCols(fr)
	for c := c0; c < c1; c++ {
		for r := 0; r < n.value.Rows(); r++ {
			v := n.value.At(r, c)
			g.AddAt(r, c, n.gradient.At(r, c)*v*(1-v))
		}
	}
	return nil
}

// Tanh applies the hyperbolic tangent elementwise.
type Tanh struct {
	unary
}

// NewTanh creates a tanh activation over x.
func NewTanh(name string, x node.Node) *Tanh {
	return &Tanh{unary{newBase(name, "Tanh", x)}}
}

func (n *Tanh) ForwardProp(fr layout.FrameRange) error {
	x := n.children[0]
	c0, c1 := n.frameCols(fr)
	for c := c0; c < c1; c++ {
		for r := 0; r < n.value.Rows(); r++ {
			n.value.Set(r, c, math.Tanh(x.Value().At(r, c)))
		}
	}
	return nil
}

// Backprop uses the node's own output: dtanh/dx = 1−tanh²(x).
func (n *Tanh) Backprop(fr layout.FrameRange) error {
	x := n.children[0]
	if !x.NeedsGradient() {
		return nil
	}
	g := ensureGradient(x)
	c0, c1 := n.frameCols(fr)
	for c := c0; c < c1; c++ {
		for r := 0; r < n.value.Rows(); r++ {
			v := n.value.At(r, c)
			g.AddAt(r, c, n.gradient.At(r, c)*(1-v*v))
		}
	}
	return nil
}
