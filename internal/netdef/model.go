package netdef

// Model is the format-agnostic representation of a network description,
// merged across all loaded files.
type Model struct {
	Inputs     []*Input
	Parameters []*Parameter
	Nodes      []*Node
	Delays     []*Delay
	Criteria   []*Criterion
}

// Input declares a data leaf.
type Input struct {
	Name string
	Rows int
}

// Parameter declares a learnable leaf. An InitScale of zero leaves the
// parameter zero-initialized.
type Parameter struct {
	Name      string
	Rows      int
	Cols      int
	InitScale float64
}

// Node declares a function node over named inputs.
type Node struct {
	Name       string
	Op         string
	Inputs     []string
	Output     bool
	Evaluation bool
}

// Delay declares a delayed read of another node.
type Delay struct {
	Name    string
	Op      string
	Input   string
	Initial float64
}

// Criterion declares a scalar training objective over named inputs.
type Criterion struct {
	Name   string
	Op     string
	Inputs []string
}
