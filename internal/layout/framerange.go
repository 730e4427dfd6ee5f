package layout

// FrameRange denotes the slice of a minibatch an operation applies to: either
// one discrete time position, or the whole batch at once (the "map" case).
type FrameRange struct {
	t     int
	whole bool
}

// WholeBatch returns a FrameRange covering every time position at once.
func WholeBatch() FrameRange { return FrameRange{whole: true} }

// Frame returns a FrameRange covering the single time position t.
func Frame(t int) FrameRange { return FrameRange{t: t} }

// IsWholeBatch reports whether the range covers the entire minibatch.
func (fr FrameRange) IsWholeBatch() bool { return fr.whole }

// Time returns the single time position the range denotes. Only meaningful
// when IsWholeBatch is false.
func (fr FrameRange) Time() int { return fr.t }

// Frames returns the per-position frame ranges of l in stepping order d.
// Iterating the returned slice in reverse visits the positions in the reverse
// stepping direction, as the gradient pass requires.
func Frames(l *MBLayout, d Direction) []FrameRange {
	n := l.NumTimeSteps()
	frames := make([]FrameRange, 0, n)
	if d == Backward {
		for t := n - 1; t >= 0; t-- {
			frames = append(frames, Frame(t))
		}
	} else {
		for t := 0; t < n; t++ {
			frames = append(frames, Frame(t))
		}
	}
	return frames
}
