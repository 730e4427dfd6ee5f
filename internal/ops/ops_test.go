package ops

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/seqnet/internal/engine"
	"github.com/vk/seqnet/internal/layout"
	"github.com/vk/seqnet/internal/matrix"
)

// feedInput links the node to the layout and loads one minibatch.
func feedInput(t *testing.T, in *Input, l *layout.MBLayout, rows int, vals ...float64) {
	t.Helper()
	in.LinkToMBLayout(l)
	require.NoError(t, in.Validate(false))
	data := matrix.New(rows, l.NumCols())
	copy(data.Data(), vals)
	require.NoError(t, in.SetValue(data))
}

func TestInput_SetValueRejectsWrongRows(t *testing.T) {
	t.Parallel()

	in := NewInput("x", 2)

	err := in.SetValue(matrix.New(3, 1))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 2 rows")
}

func TestInput_FinalValidationRequiresLayout(t *testing.T) {
	t.Parallel()

	in := NewInput("x", 2)

	require.NoError(t, in.Validate(false))
	require.Error(t, in.Validate(true))
}

func TestParameter_IsLearnableAndStamped(t *testing.T) {
	t.Parallel()

	p := NewParameter("w", 2, 3)

	assert.True(t, p.RequiresParameterUpdate())
	assert.Greater(t, p.EvalTimeStamp(), int64(0))
	assert.Equal(t, 2, p.Rows())
	assert.Equal(t, 3, p.Cols())
}

func TestTimes_ForwardAndValidate(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 2)
	x := NewInput("x", 2)
	feedInput(t, x, l, 2, 1, 2, 3, 4) // columns [1,3] and [2,4]
	w := NewParameter("w", 1, 2)
	w.Value().Set(0, 0, 10)
	w.Value().Set(0, 1, 1)

	n := NewTimes("t", w, x)
	require.NoError(t, n.Validate(true))
	require.NoError(t, n.ForwardProp(layout.WholeBatch()))

	assert.Equal(t, 13.0, n.Value().At(0, 0))
	assert.Equal(t, 24.0, n.Value().At(0, 1))
}

func TestTimes_FinalValidationChecksInnerDims(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 1)
	x := NewInput("x", 3)
	feedInput(t, x, l, 3, 1, 2, 3)
	w := NewParameter("w", 1, 2)

	n := NewTimes("t", w, x)
	require.NoError(t, n.Validate(false))
	require.Error(t, n.Validate(true))
}

func TestPlus_BroadcastsBiasColumn(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 3)
	x := NewInput("x", 1)
	feedInput(t, x, l, 1, 1, 2, 3)
	b := NewParameter("b", 1, 1)
	b.Value().Set(0, 0, 10)

	n := NewPlus("p", x, b)
	require.NoError(t, n.Validate(true))
	require.NoError(t, n.ForwardProp(layout.WholeBatch()))

	assert.Equal(t, []float64{11, 12, 13}, n.Value().Data())
}

func TestPlus_FinalValidationRejectsShapeMismatch(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 2)
	a := NewInput("a", 2)
	feedInput(t, a, l, 2, 1, 2, 3, 4)
	b := NewInput("b", 3)
	feedInput(t, b, l, 3, 1, 2, 3, 4, 5, 6)

	n := NewPlus("p", a, b)
	require.Error(t, n.Validate(true))
}

func TestSigmoid_ForwardAndBackprop(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 1)
	x := NewInput("x", 1)
	feedInput(t, x, l, 1, 0)
	x.SetNeedsGradient(true)

	n := NewSigmoid("s", x)
	require.NoError(t, n.Validate(true))
	require.NoError(t, n.ForwardProp(layout.WholeBatch()))
	require.InDelta(t, 0.5, n.Value().At(0, 0), 1e-12)

	n.ClearGradient()
	n.Gradient().Fill(1)
	x.ClearGradient()
	require.NoError(t, n.Backprop(layout.WholeBatch()))

	// dσ/dx at 0 is 0.25.
	assert.InDelta(t, 0.25, x.Gradient().At(0, 0), 1e-12)
}

func TestTanh_BackpropUsesOwnOutput(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 1)
	x := NewInput("x", 1)
	feedInput(t, x, l, 1, 0.5)
	x.SetNeedsGradient(true)

	n := NewTanh("t", x)
	require.NoError(t, n.Validate(true))
	require.NoError(t, n.ForwardProp(layout.WholeBatch()))

	n.ClearGradient()
	n.Gradient().Fill(1)
	x.ClearGradient()
	require.NoError(t, n.Backprop(layout.WholeBatch()))

	v := math.Tanh(0.5)
	assert.InDelta(t, 1-v*v, x.Gradient().At(0, 0), 1e-12)
}

func TestSumElements_SkipsGapColumns(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 3)
	x := NewInput("x", 1)
	feedInput(t, x, l, 1, 1, 2, 4)
	l.MarkGap(0, 1)

	n := NewSumElements("sum", x)
	require.NoError(t, n.Validate(true))
	require.NoError(t, n.ForwardProp(layout.WholeBatch()))

	assert.Equal(t, 5.0, n.Value().At(0, 0))
}

func TestSquareError_ForwardAndBackprop(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 2)
	a := NewInput("a", 1)
	feedInput(t, a, l, 1, 1, 3)
	b := NewInput("b", 1)
	feedInput(t, b, l, 1, 0, 1)
	a.SetNeedsGradient(true)

	n := NewSquareError("se", a, b)
	require.NoError(t, n.Validate(true))
	require.NoError(t, n.ForwardProp(layout.WholeBatch()))
	assert.Equal(t, 5.0, n.Value().At(0, 0)) // 1² + 2²

	n.ClearGradient()
	n.Gradient().Fill(1)
	a.ClearGradient()
	require.NoError(t, n.Backprop(layout.WholeBatch()))

	assert.Equal(t, 2.0, a.Gradient().At(0, 0))
	assert.Equal(t, 4.0, a.Gradient().At(0, 1))
}

func TestPastValue_ForwardUsesInitialAtBoundary(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 3)
	x := NewInput("x", 1)
	feedInput(t, x, l, 1, 10, 20, 30)

	d := NewPastValue("d", -1, x)
	d.LinkToMBLayout(l)
	require.NoError(t, d.Validate(true))
	require.NoError(t, d.ForwardProp(layout.WholeBatch()))

	assert.Equal(t, []float64{-1, 10, 20}, d.Value().Data())
}

func TestFutureValue_ForwardReadsAhead(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 3)
	x := NewInput("x", 1)
	feedInput(t, x, l, 1, 10, 20, 30)

	d := NewFutureValue("d", 0, x)
	d.LinkToMBLayout(l)
	require.NoError(t, d.Validate(true))
	require.NoError(t, d.ForwardProp(layout.WholeBatch()))

	assert.Equal(t, []float64{20, 30, 0}, d.Value().Data())
	assert.Equal(t, layout.Backward, d.SteppingDirection())
}

func TestPastValue_SourceGapProducesInitial(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 3)
	x := NewInput("x", 1)
	feedInput(t, x, l, 1, 10, 20, 30)
	l.MarkGap(0, 1)

	d := NewPastValue("d", 7, x)
	d.LinkToMBLayout(l)
	require.NoError(t, d.Validate(true))
	require.NoError(t, d.ForwardProp(layout.WholeBatch()))

	// t=2 reads t=1, which is padding.
	assert.Equal(t, 7.0, d.Value().At(0, 2))
}

func TestEndForwardIteration_DetectsNonFinite(t *testing.T) {
	t.Parallel()

	l := layout.New(1, 1)
	x := NewInput("x", 1)
	feedInput(t, x, l, 1, math.NaN())

	require.Error(t, x.EndForwardIteration())
}

// TestRecurrence_AnalyticGradient drives a full scalar recurrence
// h_t = w·x_t + h_{t-1} through the engine and checks the loss and the
// parameter gradient against the closed form. With T time steps and
// L = Σ_t h_t, dL/dw = Σ_t (T-t)·x_t.
func TestRecurrence_AnalyticGradient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := layout.New(1, 3)
	net := engine.New(l)

	x := NewInput("x", 1)
	w := NewParameter("w", 1, 1)
	w.Value().Set(0, 0, 2)
	wx := NewTimes("wx", w, x)
	d := NewPastValue("hPrev", 0, nil)
	h := NewPlus("h", wx, d)
	d.Bind(h)
	loss := NewSumElements("loss", h)

	net.AddFeature(x)
	net.AddCriterion(loss)

	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, loss))
	require.Len(t, net.RecurrentLoops(), 1)

	data := matrix.New(1, 3)
	copy(data.Data(), []float64{1, 2, 3})
	require.NoError(t, x.SetValue(data))

	opts := engine.GradientOptions{ResetRootGradientToOne: true, ClearGradients: true}
	require.NoError(t, net.ComputeGradient(ctx, loss, opts))

	// h = [2, 6, 12], L = 20.
	assert.InDelta(t, 2.0, h.Value().At(0, 0), 1e-12)
	assert.InDelta(t, 6.0, h.Value().At(0, 1), 1e-12)
	assert.InDelta(t, 12.0, h.Value().At(0, 2), 1e-12)
	assert.InDelta(t, 20.0, loss.Value().At(0, 0), 1e-12)

	// dL/dw = 3·1 + 2·2 + 1·3 = 10.
	require.False(t, w.Gradient().IsEmpty())
	assert.InDelta(t, 10.0, w.Gradient().At(0, 0), 1e-12)
}

// TestRecurrence_SecondMinibatch re-feeds the input and checks that the loop
// is re-unrolled with the new data.
func TestRecurrence_SecondMinibatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := layout.New(1, 2)
	net := engine.New(l)

	x := NewInput("x", 1)
	w := NewParameter("w", 1, 1)
	w.Value().Set(0, 0, 1)
	wx := NewTimes("wx", w, x)
	d := NewPastValue("hPrev", 0, nil)
	h := NewPlus("h", wx, d)
	d.Bind(h)
	loss := NewSumElements("loss", h)

	net.AddFeature(x)
	net.AddCriterion(loss)
	require.NoError(t, net.BuildAndValidateSubNetwork(ctx, loss))

	feed := func(vals ...float64) {
		data := matrix.New(1, 2)
		copy(data.Data(), vals)
		require.NoError(t, x.SetValue(data))
	}

	feed(1, 1)
	require.NoError(t, net.Evaluate(ctx, loss))
	assert.InDelta(t, 3.0, loss.Value().At(0, 0), 1e-12) // h = [1, 2]

	feed(2, 2)
	require.NoError(t, net.Evaluate(ctx, loss))
	assert.InDelta(t, 6.0, loss.Value().At(0, 0), 1e-12) // h = [2, 4]
}
