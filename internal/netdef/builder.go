package netdef

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/vk/seqnet/internal/ctxlog"
	"github.com/vk/seqnet/internal/engine"
	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/node"
	"github.com/vk/seqnet/internal/ops"
)

// binder is a delay operator whose input is attached after construction.
type binder interface {
	node.Node
	Bind(node.Node)
}

// Build turns a Model into a wired network over the given minibatch layout.
// It returns the network together with a name-to-node table so callers can
// feed inputs and read values by name.
//
// Delays may reference nodes that reference them back; they are constructed
// unbound first and bound last, which is what lets a description close a
// recurrence.
func Build(ctx context.Context, model *Model, mbLayout *layout.MBLayout) (*engine.Network, map[string]node.Node, error) {
	logger := ctxlog.FromContext(ctx)

	net := engine.New(mbLayout)
	symbols := make(map[string]node.Node)

	declare := func(name string, n node.Node) error {
		if _, dup := symbols[name]; dup {
			return fmt.Errorf("duplicate node name %q", name)
		}
		symbols[name] = n
		return nil
	}

	rng := rand.New(rand.NewSource(int64(len(model.Parameters))))
	for _, in := range model.Inputs {
		n := ops.NewInput(in.Name, in.Rows)
		if err := declare(in.Name, n); err != nil {
			return nil, nil, err
		}
		net.AddFeature(n)
	}
	for _, p := range model.Parameters {
		n := ops.NewParameter(p.Name, p.Rows, p.Cols)
		if p.InitScale != 0 {
			v := n.Value()
			for r := 0; r < v.Rows(); r++ {
				for c := 0; c < v.Cols(); c++ {
					v.Set(r, c, (2*rng.Float64()-1)*p.InitScale)
				}
			}
		}
		if err := declare(p.Name, n); err != nil {
			return nil, nil, err
		}
	}

	delays := make(map[string]binder, len(model.Delays))
	for _, d := range model.Delays {
		var n binder
		switch d.Op {
		case "PastValue":
			n = ops.NewPastValue(d.Name, d.Initial, nil)
		case "FutureValue":
			n = ops.NewFutureValue(d.Name, d.Initial, nil)
		default:
			return nil, nil, fmt.Errorf("delay %q: unknown op %q", d.Name, d.Op)
		}
		if err := declare(d.Name, n); err != nil {
			return nil, nil, err
		}
		delays[d.Name] = n
	}

	// Function and criterion nodes may be declared in any order; build the
	// ones whose inputs resolve and repeat until no progress remains.
	pendingNodes := append([]*Node(nil), model.Nodes...)
	pendingCrit := append([]*Criterion(nil), model.Criteria...)
	for len(pendingNodes)+len(pendingCrit) > 0 {
		progress := false

		rest := pendingNodes[:0]
		for _, decl := range pendingNodes {
			children, ok := resolve(symbols, decl.Inputs)
			if !ok {
				rest = append(rest, decl)
				continue
			}
			n, err := buildFunctionNode(decl, children)
			if err != nil {
				return nil, nil, err
			}
			if err := declare(decl.Name, n); err != nil {
				return nil, nil, err
			}
			if decl.Output {
				net.AddOutput(n)
			}
			if decl.Evaluation {
				net.AddEvaluation(n)
			}
			progress = true
		}
		pendingNodes = rest

		restCrit := pendingCrit[:0]
		for _, decl := range pendingCrit {
			children, ok := resolve(symbols, decl.Inputs)
			if !ok {
				restCrit = append(restCrit, decl)
				continue
			}
			n, err := buildCriterionNode(decl, children)
			if err != nil {
				return nil, nil, err
			}
			if err := declare(decl.Name, n); err != nil {
				return nil, nil, err
			}
			net.AddCriterion(n)
			progress = true
		}
		pendingCrit = restCrit

		if !progress {
			return nil, nil, fmt.Errorf("unresolved node references: %s", describePending(symbols, pendingNodes, pendingCrit))
		}
	}

	for _, d := range model.Delays {
		src, ok := symbols[d.Input]
		if !ok {
			return nil, nil, fmt.Errorf("delay %q reads undefined node %q", d.Name, d.Input)
		}
		delays[d.Name].Bind(src)
	}

	logger.Debug("Network built from description.",
		"nodes", len(symbols),
		"features", len(net.FeatureNodes()),
		"criteria", len(net.CriterionNodes()),
		"outputs", len(net.OutputNodes()),
	)
	return net, symbols, nil
}

func buildFunctionNode(decl *Node, children []node.Node) (node.Node, error) {
	switch decl.Op {
	case "Times":
		if err := wantArity(decl.Name, decl.Op, children, 2); err != nil {
			return nil, err
		}
		return ops.NewTimes(decl.Name, children[0], children[1]), nil
	case "Plus":
		if err := wantArity(decl.Name, decl.Op, children, 2); err != nil {
			return nil, err
		}
		return ops.NewPlus(decl.Name, children[0], children[1]), nil
	case "Sigmoid":
		if err := wantArity(decl.Name, decl.Op, children, 1); err != nil {
			return nil, err
		}
		return ops.NewSigmoid(decl.Name, children[0]), nil
	case "Tanh":
		if err := wantArity(decl.Name, decl.Op, children, 1); err != nil {
			return nil, err
		}
		return ops.NewTanh(decl.Name, children[0]), nil
	default:
		return nil, fmt.Errorf("node %q: unknown op %q", decl.Name, decl.Op)
	}
}

func buildCriterionNode(decl *Criterion, children []node.Node) (node.Node, error) {
	switch decl.Op {
	case "SumElements":
		if err := wantArity(decl.Name, decl.Op, children, 1); err != nil {
			return nil, err
		}
		return ops.NewSumElements(decl.Name, children[0]), nil
	case "SquareError":
		if err := wantArity(decl.Name, decl.Op, children, 2); err != nil {
			return nil, err
		}
		return ops.NewSquareError(decl.Name, children[0], children[1]), nil
	default:
		return nil, fmt.Errorf("criterion %q: unknown op %q", decl.Name, decl.Op)
	}
}

func wantArity(name, op string, children []node.Node, want int) error {
	if len(children) != want {
		return fmt.Errorf("node %q: op %s takes %d inputs, got %d", name, op, want, len(children))
	}
	return nil
}

func resolve(symbols map[string]node.Node, names []string) ([]node.Node, bool) {
	children := make([]node.Node, len(names))
	for i, name := range names {
		n, ok := symbols[name]
		if !ok {
			return nil, false
		}
		children[i] = n
	}
	return children, true
}

// describePending names the declarations that never resolved and their first
// missing input, for the error message.
func describePending(symbols map[string]node.Node, nodes []*Node, crits []*Criterion) string {
	missing := func(names []string) string {
		for _, name := range names {
			if _, ok := symbols[name]; !ok {
				return name
			}
		}
		return "?"
	}
	s := ""
	for _, n := range nodes {
		if s != "" {
			s += ", "
		}
		s += fmt.Sprintf("%s (missing %s)", n.Name, missing(n.Inputs))
	}
	for _, c := range crits {
		if s != "" {
			s += ", "
		}
		s += fmt.Sprintf("%s (missing %s)", c.Name, missing(c.Inputs))
	}
	return s
}
