package layout

import "fmt"

// Direction is the order in which a recurrent loop steps through the time
// positions of a minibatch.
type Direction int

const (
	// Forward steps from the first time position to the last. Loops anchored
	// by a past-value delay run this way.
	Forward Direction = 1
	// Backward steps from the last time position to the first. Loops anchored
	// by a future-value delay run this way.
	Backward Direction = -1
)

// String returns a human-readable name for the direction.
func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ImageLayout is opaque spatial metadata attached to a node's output. The
// engine never interprets it; it is only compared for equality during
// validation.
type ImageLayout struct {
	Width    int
	Height   int
	Channels int
}

// MBLayout describes the sequence structure of one minibatch: how many
// parallel sequences it carries, how many time positions each sequence
// occupies, and which (sequence, time) cells are padding ("gaps").
//
// Columns of a node's value matrix are grouped per time position, with the
// parallel sequences adjacent: column index = t*S + s.
//
// The layout is shared read-only across all nodes of one invocation; only the
// minibatch supplier mutates it, and only before validation.
type MBLayout struct {
	numParallelSequences int
	numTimeSteps         int
	gaps                 []bool // indexed by t*S+s
	numGaps              int
}

// New creates a layout for the given number of parallel sequences and time
// positions, with no gaps.
func New(numParallelSequences, numTimeSteps int) *MBLayout {
	l := &MBLayout{}
	l.Init(numParallelSequences, numTimeSteps)
	return l
}

// Init resets the layout to the given dimensions and clears all gaps.
func (l *MBLayout) Init(numParallelSequences, numTimeSteps int) {
	l.numParallelSequences = numParallelSequences
	l.numTimeSteps = numTimeSteps
	l.gaps = make([]bool, numParallelSequences*numTimeSteps)
	l.numGaps = 0
}

// NumParallelSequences returns the number of sequences laid out side by side.
func (l *MBLayout) NumParallelSequences() int { return l.numParallelSequences }

// NumTimeSteps returns the number of time positions in the minibatch.
func (l *MBLayout) NumTimeSteps() int { return l.numTimeSteps }

// NumCols returns the total number of matrix columns the minibatch occupies.
func (l *MBLayout) NumCols() int { return l.numParallelSequences * l.numTimeSteps }

// ColumnIndex maps a (sequence, time) cell to its flat column index.
func (l *MBLayout) ColumnIndex(s, t int) int { return t*l.numParallelSequences + s }

// MarkGap marks the (sequence, time) cell as padding.
func (l *MBLayout) MarkGap(s, t int) {
	i := l.ColumnIndex(s, t)
	if !l.gaps[i] {
		l.gaps[i] = true
		l.numGaps++
	}
}

// IsGap reports whether the (sequence, time) cell is padding.
func (l *MBLayout) IsGap(s, t int) bool { return l.gaps[l.ColumnIndex(s, t)] }

// HasGaps reports whether any cell of the minibatch is padding.
func (l *MBLayout) HasGaps() bool { return l.numGaps > 0 }
