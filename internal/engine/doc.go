// Package engine schedules and drives computation over a dataflow graph of
// operator nodes: topological forward evaluation, reverse-mode gradient
// accumulation, sequential unrolling of recurrent loops over the time
// positions of a minibatch, and the iterative fixpoint validator that
// resolves every node's output shape before any execution is allowed.
//
// The engine is a single logical thread of control. Each node's compute call
// is an opaque, synchronous operation; the engine only guarantees ordering:
// children before parents on the forward pass, parents before children (and
// reverse time inside loops) on the gradient pass.
package engine
