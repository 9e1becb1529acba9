package line

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/config"
	"github.com/audiolibrelab/soundlines/internal/event"
)

// u8 is 8 kHz unsigned 8-bit mono: one byte per frame.
var u8 = audio.NewPCM(8000, 8, 1, false, false)

func newDriver(t *testing.T) *audio.NullDriver {
	t.Helper()
	d := audio.NewNullDriver(&config.Config{
		Driver: config.DriverConfig{Speed: 20, TickMs: 2},
		Ports: []config.Port{
			{Name: "MIC", Direction: "source", Volume: config.MaxPortVolume},
			{Name: "SPEAKER", Direction: "target", Volume: config.MaxPortVolume},
		},
	})
	require.NoError(t, d.Connect())
	t.Cleanup(func() { _ = d.Disconnect() })
	return d
}

func sourceInfo() Info {
	src, _ := DataLineInfos(0)
	return src[0]
}

func clipInfo() Info {
	src, _ := DataLineInfos(0)
	return src[1]
}

func targetInfo() Info {
	_, tgt := DataLineInfos(0)
	return tgt[0]
}

func newSource(t *testing.T, d audio.Driver) *SourceLine {
	t.Helper()
	l := NewSourceLine(Options{Info: sourceInfo(), Driver: d, Format: u8})
	t.Cleanup(func() {
		if l.IsOpen() {
			_ = l.Close()
		}
	})
	return l
}

// counter tallies events per type.
type counter struct {
	mu     sync.Mutex
	counts map[event.Type]int
	order  []event.Type
}

func newCounter() *counter {
	return &counter{counts: make(map[event.Type]int)}
}

func (c *counter) Update(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[e.Type]++
	c.order = append(c.order, e.Type)
}

func (c *counter) get(t event.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}

func (c *counter) sequence() []event.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Type(nil), c.order...)
}

type fakeRegistrar struct {
	mu     sync.Mutex
	open   []Line
	refuse bool
	closed bool
}

func (r *fakeRegistrar) CanOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("%w: mixer is closed", audio.ErrIllegalState)
	}
	return nil
}

func (r *fakeRegistrar) LineOpened(l Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuse {
		return errors.New("mixer is closed")
	}
	r.open = append(r.open, l)
	return nil
}

func (r *fakeRegistrar) LineClosed(l Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.open {
		if x == l {
			r.open = append(r.open[:i], r.open[i+1:]...)
			return
		}
	}
}

func (r *fakeRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// async runs fn on a goroutine and returns a channel closed when it returns.
func async(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

func requireReturns(t *testing.T, done <-chan struct{}, within time.Duration, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(within):
		t.Fatalf("%s did not return within %s", what, within)
	}
}

func requireBlocked(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
		t.Fatalf("%s returned while it should block", what)
	case <-time.After(50 * time.Millisecond):
	}
}
