package servo

import "golang.org/x/exp/constraints"

// widthBuffer double-buffers the pulse width. current is owned by the
// dispatcher; pending is the one cell shared with producers and is only
// written under a compare-interrupt mask.
type widthBuffer struct {
	current uint32
	pending uint32
}

// latch commits pending and reports the width it replaced
func (b *widthBuffer) latch() (old uint32, changed bool) {
	old = b.current
	b.current = b.pending
	return old, old != b.current
}

// clamp limits v to [lo, hi] and reports whether it had to
func clamp[T constraints.Integer](v, lo, hi T) (T, bool) {
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}
