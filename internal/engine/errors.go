package engine

import "errors"

// The engine's error model is fatal-only: every error aborts the current
// Evaluate/ComputeGradient/Validate call, nothing is retried internally.

// ErrLogic marks violations of the engine's own invariants, e.g. Evaluate
// called before BuildAndValidateSubNetwork, or the final validation pass
// observing a node that still changed. These are not recoverable locally.
var ErrLogic = errors.New("logic error")

// ErrConfig marks structural configuration errors in the user's network,
// e.g. missing feature nodes, mismatched loop layouts, or a node resolving
// to zero output elements.
var ErrConfig = errors.New("configuration error")
