// Package event delivers lifecycle events to listeners in commit order.
package event

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Type is the kind of lifecycle transition an event reports.
type Type int

const (
	Open Type = iota
	Close
	Start
	Stop
)

func (t Type) String() string {
	switch t {
	case Open:
		return "OPEN"
	case Close:
		return "CLOSE"
	case Start:
		return "START"
	case Stop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets events serialize their type by name.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Listener receives events of type E. Implementations must be comparable;
// pointer receivers are.
type Listener[E any] interface {
	Update(e E)
}

type funcListener[E any] struct {
	fn func(E)
}

func (l *funcListener[E]) Update(e E) { l.fn(e) }

// Func adapts a function to a Listener. Each call returns a distinct
// listener that can later be passed to Remove.
func Func[E any](fn func(E)) Listener[E] {
	return &funcListener[E]{fn: fn}
}

type entry[E any] struct {
	l       Listener[E]
	removed atomic.Bool
}

// Dispatcher fans events out to a listener set.
//
// The set is copied on write, so Add and Remove are safe during delivery.
// A listener removed while an event is being delivered may still get that
// event but no later one.
//
// Events are posted while the state they describe is locked and flushed
// after it is released. Posted events are delivered in post order, one at
// a time. Flush returns once every event posted before it has been
// delivered; if another goroutine is delivering, Flush waits for it and
// takes over when it is done. A listener may drive further transitions of
// the same source: the Flush it triggers returns at once and the events
// are delivered after the current one returns.
type Dispatcher[E any] struct {
	mu      sync.Mutex
	entries atomic.Pointer[[]*entry[E]]

	qmu        sync.Mutex
	done       sync.Cond
	queue      []E
	posted     uint64
	delivered  uint64
	delivering bool
	owner      uint64 // goroutine running the delivery loop
}

// Add registers l. Adding a listener twice has no effect.
func (d *Dispatcher[E]) Add(l Listener[E]) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.snapshot()
	for _, e := range cur {
		if e.l == l {
			return
		}
	}
	next := make([]*entry[E], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, &entry[E]{l: l})
	d.entries.Store(&next)
}

// Remove unregisters l. Removing an unknown listener has no effect.
func (d *Dispatcher[E]) Remove(l Listener[E]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.snapshot()
	next := make([]*entry[E], 0, len(cur))
	for _, e := range cur {
		if e.l == l {
			e.removed.Store(true)
			continue
		}
		next = append(next, e)
	}
	if len(next) != len(cur) {
		d.entries.Store(&next)
	}
}

// Len returns the number of registered listeners.
func (d *Dispatcher[E]) Len() int {
	return len(d.snapshot())
}

func (d *Dispatcher[E]) snapshot() []*entry[E] {
	if p := d.entries.Load(); p != nil {
		return *p
	}
	return nil
}

// Post queues e for delivery. Call it while the state change that produced
// e is still locked, then call Flush once that lock is released.
func (d *Dispatcher[E]) Post(e E) {
	d.qmu.Lock()
	d.queue = append(d.queue, e)
	d.posted++
	d.qmu.Unlock()
}

// Flush delivers every posted event and returns once the events posted
// before the call have reached the listeners.
func (d *Dispatcher[E]) Flush() {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if d.done.L == nil {
		d.done.L = &d.qmu
	}

	target := d.posted
	if d.delivering {
		gid := goroutineID()
		if d.owner == gid {
			// Called from a listener: the running loop delivers it next.
			return
		}
		for d.delivering && d.delivered < target {
			d.done.Wait()
		}
	}
	if d.delivered >= target {
		return
	}

	d.delivering = true
	d.owner = goroutineID()
	for len(d.queue) > 0 {
		e := d.pop()
		d.qmu.Unlock()
		d.dispatch(e)
		d.qmu.Lock()
		d.delivered++
		d.done.Broadcast()
	}
	d.delivering = false
	d.owner = 0
	d.done.Broadcast()
}

// Emit posts e and flushes.
func (d *Dispatcher[E]) Emit(e E) {
	d.Post(e)
	d.Flush()
}

// pop must be called with qmu held.
func (d *Dispatcher[E]) pop() E {
	var zero E
	e := d.queue[0]
	d.queue[0] = zero
	d.queue = d.queue[1:]
	return e
}

func (d *Dispatcher[E]) dispatch(e E) {
	for _, en := range d.snapshot() {
		if en.removed.Load() {
			continue
		}
		en.l.Update(e)
	}
}

// goroutineID returns the id the runtime prints in stack traces.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
