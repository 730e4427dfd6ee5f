package ops

import (
	"fmt"

	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/matrix"
)

// Input is a leaf node carrying minibatch data supplied by a reader. Its
// row dimension is fixed at construction; its column dimension follows the
// minibatch layout.
type Input struct {
	Base
	rows int
}

// NewInput creates an input node producing rows-dimensional samples.
func NewInput(name string, rows int) *Input {
	n := &Input{Base: newBase(name, "InputValue"), rows: rows}
	n.value.Resize(rows, 0)
	return n
}

// SetValue loads a new minibatch into the node and stamps it, making every
// node above stale.
func (n *Input) SetValue(data *matrix.Mat) error {
	if data.Rows() != n.rows {
		return fmt.Errorf("input '%s' expects %d rows, got %d", n.name, n.rows, data.Rows())
	}
	n.value.CopyFrom(data)
	n.StampUpdated()
	return nil
}

// Validate sizes the input to the linked minibatch layout.
func (n *Input) Validate(finalPass bool) error {
	if n.mbLayout != nil && n.mbLayout.NumCols() > 0 {
		n.value.Resize(n.rows, n.mbLayout.NumCols())
	}
	if finalPass && n.mbLayout == nil {
		return fmt.Errorf("input node is not linked to a minibatch layout")
	}
	return nil
}

// ForwardProp is a no-op: input values are produced externally.
func (n *Input) ForwardProp(fr layout.FrameRange) error { return nil }

// Backprop is a no-op: inputs have no children.
func (n *Input) Backprop(fr layout.FrameRange) error { return nil }

// Parameter is a learnable leaf with fixed dimensions and no minibatch
// layout. It seeds needs-gradient propagation.
type Parameter struct {
	Base
}

// NewParameter creates a zeroed rows×cols learnable parameter.
func NewParameter(name string, rows, cols int) *Parameter {
	n := &Parameter{Base: newBase(name, "LearnableParameter")}
	n.value.Resize(rows, cols)
	n.StampUpdated()
	return n
}

// RequiresParameterUpdate marks the node learnable.
func (n *Parameter) RequiresParameterUpdate() bool { return true }

// Validate is trivial: parameter dimensions are fixed at construction.
func (n *Parameter) Validate(finalPass bool) error {
	if finalPass && n.value.IsEmpty() {
		return fmt.Errorf("parameter has zero elements")
	}
	return nil
}

// ForwardProp is a no-op: the parameter's value is its storage.
func (n *Parameter) ForwardProp(fr layout.FrameRange) error { return nil }

// Backprop is a no-op: parameters have no children.
func (n *Parameter) Backprop(fr layout.FrameRange) error { return nil }
