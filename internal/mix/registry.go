package mix

import (
	"sort"
	"sync"

	"github.com/audiolibrelab/soundlines/internal/line"
)

// registry holds the open lines of a mixer in acquisition order.
type registry struct {
	mu    sync.Mutex
	lines []line.Line
}

// add inserts l by handle sequence. It reports false if l is already
// registered.
func (r *registry) add(l line.Line) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := l.Handle().Seq
	i := sort.Search(len(r.lines), func(i int) bool {
		return r.lines[i].Handle().Seq >= seq
	})
	if i < len(r.lines) && r.lines[i].Handle().Seq == seq {
		return false
	}
	r.lines = append(r.lines, nil)
	copy(r.lines[i+1:], r.lines[i:])
	r.lines[i] = l
	return true
}

func (r *registry) remove(l line.Line) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.lines {
		if x.Handle() == l.Handle() {
			r.lines = append(r.lines[:i], r.lines[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns the registered lines accepted by keep.
func (r *registry) snapshot(keep func(line.Line) bool) []line.Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]line.Line, 0, len(r.lines))
	for _, l := range r.lines {
		if keep == nil || keep(l) {
			out = append(out, l)
		}
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}
