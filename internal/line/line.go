// Package line implements audio lines: playback and capture streams,
// clips and hardware ports, each with an open/start/stop/close lifecycle
// and ordered event notification.
package line

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/event"
)

// State of a line. Stopped and Started are both open.
type State int

const (
	Closed State = iota
	Stopped
	Started
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Started:
		return "STARTED"
	default:
		return "CLOSED"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Handle identifies a line. Seq orders lines by acquisition.
type Handle struct {
	ID  uuid.UUID `json:"id"`
	Seq uint64    `json:"seq"`
}

var sequence atomic.Uint64

func newHandle() Handle {
	return Handle{ID: uuid.New(), Seq: sequence.Add(1)}
}

// Event reports a lifecycle transition of a line.
type Event struct {
	Type          event.Type `json:"type"`
	Line          Line       `json:"-"`
	FramePosition int64      `json:"frame_position"`
}

// Listener receives line events. Listeners run on the goroutine that
// committed the transition, or on the one already delivering events for
// the line; they should return promptly.
type Listener = event.Listener[Event]

// Line is the lifecycle common to every line kind.
type Line interface {
	Handle() Handle
	Info() Info
	Open() error
	Close() error
	IsOpen() bool
	State() State
	AddListener(l Listener)
	RemoveListener(l Listener)
	Controls() []Control
	Control(kind ControlKind) (Control, error)
}

// DataLine is a line that moves audio through a buffer.
type DataLine interface {
	Line
	Start() error
	Stop() error
	IsActive() bool
	Drain() error
	Flush() error
	Available() int
	BufferSize() int
	Format() audio.Format
	FramePosition() int64
	MicrosecondPosition() int64
}

// Registrar is told when lines open and close. CanOpen is asked before a
// line allocates its stream; LineOpened may still refuse the line, which
// fails the open.
type Registrar interface {
	CanOpen() error
	LineOpened(l Line) error
	LineClosed(l Line)
}

// Options configures a new line.
type Options struct {
	Info      Info
	Driver    audio.Driver
	Registrar Registrar

	// Format is used by Open; zero means audio.DefaultFormat.
	Format audio.Format

	// BufferSize is used by Open; zero means DefaultBufferSize.
	BufferSize int
}

// base holds the state machine shared by every line kind.
type base struct {
	handle    Handle
	info      Info
	driver    audio.Driver
	registrar Registrar
	self      Line

	mu        sync.Mutex
	state     State
	listeners event.Dispatcher[Event]
	volume    *VolumeControl
}

func (b *base) init(opts Options, self Line) {
	b.handle = newHandle()
	b.info = opts.Info
	b.driver = opts.Driver
	b.registrar = opts.Registrar
	b.volume = newVolumeControl()
	b.self = self
}

func (b *base) Handle() Handle { return b.handle }

func (b *base) Info() Info { return b.info }

func (b *base) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != Closed
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) AddListener(l Listener) { b.listeners.Add(l) }

func (b *base) RemoveListener(l Listener) { b.listeners.Remove(l) }

func (b *base) Controls() []Control {
	if !b.info.Volume {
		return nil
	}
	return []Control{b.volume}
}

func (b *base) Control(kind ControlKind) (Control, error) {
	if kind == VolumeKind && b.info.Volume {
		return b.volume, nil
	}
	return nil, fmt.Errorf("%w: %s has no %s control", audio.ErrIllegalArgument, b.info.Kind, kind)
}

// Volume returns the volume control of the line.
func (b *base) Volume() *VolumeControl { return b.volume }

// admit must be called with mu held, before any stream or port is opened.
func (b *base) admit() error {
	if b.registrar == nil {
		return nil
	}
	return b.registrar.CanOpen()
}

// register must be called with mu held.
func (b *base) register() error {
	if b.registrar == nil {
		return nil
	}
	return b.registrar.LineOpened(b.self)
}

func (b *base) deregister() {
	if b.registrar != nil {
		b.registrar.LineClosed(b.self)
	}
}

// post queues an event; mu must be held. The caller flushes after
// unlocking.
func (b *base) post(t event.Type, position int64) {
	b.listeners.Post(Event{Type: t, Line: b.self, FramePosition: position})
}

func (b *base) flush() { b.listeners.Flush() }

func (b *base) logTransition(msg string) {
	slog.Debug(msg, "line", b.handle.ID, "kind", b.info.Kind, "name", b.info.Name)
}
