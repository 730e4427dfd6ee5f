package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/seqnet/internal/layout"
)

func TestEvaluate_UnbuiltRootIsLogicError(t *testing.T) {
	t.Parallel()

	net := New(layout.New(1, 2))
	root := newTestNode("root", 1, newTestLeaf("x", 1, 0))

	err := net.Evaluate(context.Background(), root)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLogic)
}

func TestEvaluate_FeedForwardWholeBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := New(layout.New(1, 3))
	x := newTestLeaf("x", 2, 0)
	a := newTestNode("a", 2, x)
	root := newTestNode("root", 1, a)
	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, root))

	require.NoError(t, net.Evaluate(ctx, root))

	assert.Equal(t, []int{-1}, frameTimes(a.forwardFrames), "expected one whole-batch pass")
	assert.Equal(t, []int{-1}, frameTimes(root.forwardFrames))
}

func TestEvaluate_CachedValueSkipsRecompute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := New(layout.New(1, 3))
	x := newTestLeaf("x", 2, 0)
	a := newTestNode("a", 2, x)
	root := newTestNode("root", 1, a)
	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, root))

	require.NoError(t, net.Evaluate(ctx, root))
	endAfterFirst := a.endForward
	require.NoError(t, net.Evaluate(ctx, root))

	assert.Len(t, a.forwardFrames, 1, "cached value must not be recomputed")
	// The end-of-iteration hook still fires so invariant checks run.
	assert.Greater(t, a.endForward, endAfterFirst)
}

func TestEvaluate_NewInputInvalidatesCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := New(layout.New(1, 3))
	x := newTestLeaf("x", 2, 0)
	a := newTestNode("a", 2, x)
	root := newTestNode("root", 1, a)
	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, root))

	require.NoError(t, net.Evaluate(ctx, root))
	x.StampUpdated() // a new minibatch arrived
	require.NoError(t, net.Evaluate(ctx, root))

	assert.Len(t, a.forwardFrames, 2)
}

func TestEvaluate_LoopUnrollsFrameByFrame(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := New(layout.New(1, 3))
	_, d, h, root := buildRecurrence(layout.Forward)
	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, root))

	require.NoError(t, net.Evaluate(ctx, root))

	assert.Equal(t, []int{0, 1, 2}, frameTimes(h.forwardFrames))
	assert.Equal(t, []int{0, 1, 2}, frameTimes(d.forwardFrames))
	// The consumer outside the loop still maps over the whole batch.
	assert.Equal(t, []int{-1}, frameTimes(root.forwardFrames))
}

func TestEvaluate_BackwardLoopUnrollsInReverse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := New(layout.New(1, 3))
	_, _, h, root := buildRecurrence(layout.Backward)
	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, root))

	require.NoError(t, net.Evaluate(ctx, root))

	assert.Equal(t, []int{2, 1, 0}, frameTimes(h.forwardFrames))
}

func TestEvaluate_FreshLoopSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := New(layout.New(1, 3))
	_, _, h, root := buildRecurrence(layout.Forward)
	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, root))

	require.NoError(t, net.Evaluate(ctx, root))
	require.NoError(t, net.Evaluate(ctx, root))

	assert.Len(t, h.forwardFrames, 3, "fresh loop must not be unrolled again")
}

func TestEvaluate_LoopLayoutMismatchIsConfigError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := New(layout.New(1, 3))
	x, d, _, root := buildRecurrence(layout.Forward)
	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, root))

	// Detach one member onto a private layout and force re-evaluation.
	d.LinkToMBLayout(layout.New(2, 2))
	x.StampUpdated()

	err := net.Evaluate(ctx, root)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestEvaluate_ForwardErrorPropagates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := New(layout.New(1, 3))
	x := newTestLeaf("x", 2, 0)
	a := newTestNode("a", 2, x)
	root := newTestNode("root", 1, a)
	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, root))

	a.forwardErr = errors.New("boom")
	err := net.Evaluate(ctx, root)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "a")
}
