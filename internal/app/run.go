package app

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/vk/seqnet/internal/ctxlog"
	"github.com/vk/seqnet/internal/engine"
	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/matrix"
	"github.com/vk/seqnet/internal/netdef"
	"github.com/vk/seqnet/internal/node"
	"github.com/vk/seqnet/internal/ops"
)

// Run executes the main application logic: build the network from the loaded
// description, validate it, feed a synthetic minibatch, evaluate every output
// root and compute gradients for the first criterion.
func (a *App) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("App.Run method started.")

	if a.config.OpsPort > 0 {
		a.startOpsServer(ctx)
		defer a.closeOpsServer(ctx)
	}

	mb := layout.New(a.config.Sequences, a.config.TimeSteps)
	net, symbols, err := netdef.Build(ctx, a.model, mb)
	if err != nil {
		return fmt.Errorf("failed to build network: %w", err)
	}
	logger.Debug("Network built from description.", "node_count", len(symbols))

	if err := net.ValidateNetwork(ctx, false, true); err != nil {
		return fmt.Errorf("network validation failed: %w", err)
	}
	logger.Info("🚀 Network validated, starting evaluation.",
		"sequences", a.config.Sequences, "time_steps", a.config.TimeSteps)

	if err := a.feedInputs(ctx, net); err != nil {
		return err
	}

	roots := append([]node.Node{}, net.OutputNodes()...)
	roots = append(roots, net.EvaluationNodes()...)
	for _, root := range roots {
		if err := net.BuildAndValidateSubNetwork(ctx, root); err != nil {
			return fmt.Errorf("preparing root '%s': %w", root.Name(), err)
		}
		if err := net.Evaluate(ctx, root); err != nil {
			return fmt.Errorf("evaluating root '%s': %w", root.Name(), err)
		}
		logger.Info("Output evaluated.", "node", root.Name(),
			"rows", root.Rows(), "cols", root.Cols(), "sum", root.Value().Sum())
	}

	if len(net.CriterionNodes()) > 0 {
		crit := net.CriterionNodes()[0]
		if err := net.BuildAndValidateSubNetwork(ctx, crit); err != nil {
			return fmt.Errorf("preparing criterion '%s': %w", crit.Name(), err)
		}
		net.LogComputationOrder(ctx, crit, false)
		opts := engine.GradientOptions{ResetRootGradientToOne: true, ClearGradients: true}
		if err := net.ComputeGradient(ctx, crit, opts); err != nil {
			return fmt.Errorf("computing gradient of '%s': %w", crit.Name(), err)
		}
		logger.Info("Criterion gradient computed.",
			"node", crit.Name(), "value", crit.Value().At(0, 0),
			"learnables", len(net.LearnableNodes(crit)))
	}

	logger.Info("🏁 Run finished.")
	logger.Debug("App.Run method finished.")
	return nil
}

// feedInputs loads every feature node with a deterministic synthetic
// minibatch so a description can be exercised without a data reader.
func (a *App) feedInputs(ctx context.Context, net *engine.Network) error {
	logger := ctxlog.FromContext(ctx)
	rng := rand.New(rand.NewSource(int64(net.MBLayout().NumCols())))
	for _, feat := range net.FeatureNodes() {
		in, ok := feat.(*ops.Input)
		if !ok {
			continue
		}
		data := matrix.New(feat.Rows(), net.MBLayout().NumCols())
		for r := 0; r < data.Rows(); r++ {
			for c := 0; c < data.Cols(); c++ {
				data.Set(r, c, 2*rng.Float64()-1)
			}
		}
		if err := in.SetValue(data); err != nil {
			return fmt.Errorf("feeding input '%s': %w", feat.Name(), err)
		}
		logger.Debug("Input fed.", "node", feat.Name(), "rows", data.Rows(), "cols", data.Cols())
	}
	return nil
}
