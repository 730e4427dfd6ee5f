package netdef

import (
	"github.com/hashicorp/hcl/v2"
)

// inputBlock represents an `input` block: a data leaf whose sample dimension
// is fixed and whose column dimension follows the minibatch.
type inputBlock struct {
	Name string `hcl:"name,label"`
	Rows int    `hcl:"rows"`
}

// parameterBlock represents a `parameter` block: a learnable leaf with fixed
// dimensions. init_scale is kept as an expression so the loader can evaluate
// and convert it explicitly.
type parameterBlock struct {
	Name      string         `hcl:"name,label"`
	Rows      int            `hcl:"rows"`
	Cols      int            `hcl:"cols"`
	InitScale hcl.Expression `hcl:"init_scale,optional"`
}

// nodeBlock represents a `node` block: a function node applying op to the
// named inputs. output and evaluation mark the node as a network root.
type nodeBlock struct {
	Name       string   `hcl:"name,label"`
	Op         string   `hcl:"op"`
	Inputs     []string `hcl:"inputs"`
	Output     bool     `hcl:"output,optional"`
	Evaluation bool     `hcl:"evaluation,optional"`
}

// delayBlock represents a `delay` block: a delayed read of another node,
// closing a recurrence. op is PastValue or FutureValue.
type delayBlock struct {
	Name    string  `hcl:"name,label"`
	Op      string  `hcl:"op"`
	Input   string  `hcl:"input"`
	Initial float64 `hcl:"initial,optional"`
}

// criterionBlock represents a `criterion` block: a scalar reduction used as
// a training objective.
type criterionBlock struct {
	Name   string   `hcl:"name,label"`
	Op     string   `hcl:"op"`
	Inputs []string `hcl:"inputs"`
}

// fileRoot decodes all top-level blocks from any description file.
type fileRoot struct {
	Inputs     []*inputBlock     `hcl:"input,block"`
	Parameters []*parameterBlock `hcl:"parameter,block"`
	Nodes      []*nodeBlock      `hcl:"node,block"`
	Delays     []*delayBlock     `hcl:"delay,block"`
	Criteria   []*criterionBlock `hcl:"criterion,block"`
	Remain     hcl.Body          `hcl:",remain"`
}
