package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResize_SameDimsPreservesContents(t *testing.T) {
	t.Parallel()

	m := New(2, 3)
	m.Set(1, 2, 42)

	m.Resize(2, 3)

	assert.Equal(t, 42.0, m.At(1, 2))
}

func TestResize_NewDimsZeroesContents(t *testing.T) {
	t.Parallel()

	m := New(2, 3)
	m.Fill(7)

	m.Resize(3, 2)

	require.Equal(t, 3, m.Rows())
	require.Equal(t, 2, m.Cols())
	assert.Equal(t, 0.0, m.Sum())
}

func TestResize_ShrinkThenGrowWithinCapacity(t *testing.T) {
	t.Parallel()

	m := New(4, 4)
	m.Fill(1)
	m.Resize(1, 2)
	m.Resize(2, 4)

	// Growing back within the original capacity must not resurrect old data.
	assert.Equal(t, 0.0, m.Sum())
}

func TestCopyFrom_AdoptsDimsAndData(t *testing.T) {
	t.Parallel()

	src := New(2, 2)
	src.Set(0, 1, 3)
	dst := New(5, 1)

	dst.CopyFrom(src)

	require.True(t, SameDims(src, dst))
	assert.Equal(t, 3.0, dst.At(0, 1))
}

func TestZeroColumn(t *testing.T) {
	t.Parallel()

	m := New(2, 3)
	m.Fill(5)

	m.ZeroColumn(1)

	assert.Equal(t, 0.0, m.At(0, 1))
	assert.Equal(t, 0.0, m.At(1, 1))
	assert.Equal(t, 5.0, m.At(0, 0))
	assert.Equal(t, 5.0, m.At(1, 2))
}

func TestMulColsInto_RestrictsToColumnRange(t *testing.T) {
	t.Parallel()

	a := New(2, 2)
	a.Set(0, 0, 1)
	a.Set(0, 1, 2)
	a.Set(1, 0, 3)
	a.Set(1, 1, 4)

	b := New(2, 3)
	b.Fill(1)

	dst := New(2, 3)
	dst.Fill(-1)

	err := MulColsInto(dst, a, b, 1, 2)
	require.NoError(t, err)

	// Only column 1 is written.
	assert.Equal(t, 3.0, dst.At(0, 1))
	assert.Equal(t, 7.0, dst.At(1, 1))
	assert.Equal(t, -1.0, dst.At(0, 0))
	assert.Equal(t, -1.0, dst.At(1, 2))
}

func TestMulColsInto_DimensionErrors(t *testing.T) {
	t.Parallel()

	t.Run("inner mismatch", func(t *testing.T) {
		err := MulColsInto(New(2, 2), New(2, 3), New(2, 2), 0, 2)
		require.Error(t, err)
	})

	t.Run("destination mismatch", func(t *testing.T) {
		err := MulColsInto(New(1, 1), New(2, 2), New(2, 2), 0, 2)
		require.Error(t, err)
	})
}
