// Package mix provides the mixer: the entry point that hands out lines over
// one sound-server connection and tracks which of them are open.
package mix

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/config"
	"github.com/audiolibrelab/soundlines/internal/event"
	"github.com/audiolibrelab/soundlines/internal/line"
)

// Info describes a mixer.
type Info struct {
	Name        string `json:"name" yaml:"name"`
	Vendor      string `json:"vendor" yaml:"vendor"`
	Description string `json:"description" yaml:"description"`
	Version     string `json:"version" yaml:"version"`
}

// Event reports the mixer opening or closing.
type Event struct {
	Type  event.Type `json:"type"`
	Mixer *Mixer     `json:"-"`
}

type Listener = event.Listener[Event]

type Mixer struct {
	id     uuid.UUID
	info   Info
	cfg    *config.Config
	driver audio.Driver

	sourceInfos []line.Info
	targetInfos []line.Info

	mu      sync.Mutex
	open    bool
	closing bool // set while Close tears down lines and the connection

	registry   registry
	listeners  event.Dispatcher[Event]
	lineEvents event.Dispatcher[line.Event]
	tap        line.Listener
}

// New creates a closed mixer over driver.
func New(cfg *config.Config, driver audio.Driver) *Mixer {
	if cfg == nil {
		cfg = config.Default()
	}
	m := &Mixer{
		id:     uuid.New(),
		cfg:    cfg,
		driver: driver,
		info: Info{
			Name:        cfg.Mixer.Name,
			Vendor:      cfg.Mixer.Vendor,
			Description: cfg.Mixer.Description,
			Version:     cfg.Mixer.Version,
		},
	}
	m.sourceInfos, m.targetInfos = line.DataLineInfos(cfg.Lines.MaxBufferSize)
	m.tap = event.Func(m.lineEvents.Emit)
	return m
}

func (m *Mixer) ID() uuid.UUID { return m.id }

func (m *Mixer) Info() Info { return m.info }

func (m *Mixer) Driver() audio.Driver { return m.driver }

// Open connects to the sound server.
func (m *Mixer) Open() error {
	m.mu.Lock()
	if m.open {
		m.mu.Unlock()
		return fmt.Errorf("%w: mixer %s is already open", audio.ErrIllegalState, m.info.Name)
	}
	if m.closing {
		m.mu.Unlock()
		return fmt.Errorf("%w: mixer %s is closing", audio.ErrIllegalState, m.info.Name)
	}
	if err := m.driver.Connect(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("connect %s driver: %w", m.driver.Name(), err)
	}
	m.open = true
	m.listeners.Post(Event{Type: event.Open, Mixer: m})
	m.mu.Unlock()

	m.listeners.Flush()
	slog.Info("Mixer opened", "mixer", m.info.Name, "id", m.id, "driver", m.driver.Name())
	return nil
}

// Close closes every open line, then disconnects from the sound server.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return fmt.Errorf("%w: mixer %s is not open", audio.ErrIllegalState, m.info.Name)
	}
	m.open = false
	m.closing = true
	m.listeners.Post(Event{Type: event.Close, Mixer: m})
	m.mu.Unlock()

	// Lines take their own lock and then call back into the registrar, so
	// they are closed with mu released.
	var errs []error
	for _, l := range m.registry.snapshot(nil) {
		if err := l.Close(); err != nil && !errors.Is(err, audio.ErrIllegalState) {
			errs = append(errs, fmt.Errorf("close %s: %w", l.Info(), err))
		}
	}
	if err := m.driver.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect %s driver: %w", m.driver.Name(), err))
	}
	m.mu.Lock()
	m.closing = false
	m.mu.Unlock()

	m.listeners.Flush()
	slog.Info("Mixer closed", "mixer", m.info.Name, "id", m.id)
	return errors.Join(errs...)
}

func (m *Mixer) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Mixer) AddListener(l Listener) { m.listeners.Add(l) }

func (m *Mixer) RemoveListener(l Listener) { m.listeners.Remove(l) }

// AddLineListener subscribes l to the events of every line this mixer
// hands out.
func (m *Mixer) AddLineListener(l line.Listener) { m.lineEvents.Add(l) }

func (m *Mixer) RemoveLineListener(l line.Listener) { m.lineEvents.Remove(l) }

// SourceLineInfo lists the line kinds that carry audio into the mixer:
// playback lines, clips and source ports.
func (m *Mixer) SourceLineInfo() []line.Info {
	return append(append([]line.Info(nil), m.sourceInfos...), m.portInfos(true)...)
}

// TargetLineInfo lists capture lines and target ports.
func (m *Mixer) TargetLineInfo() []line.Info {
	return append(append([]line.Info(nil), m.targetInfos...), m.portInfos(false)...)
}

func (m *Mixer) portInfos(source bool) []line.Info {
	devices, err := m.driver.Ports()
	if err != nil {
		slog.Debug("Failed to list ports", "driver", m.driver.Name(), "error", err)
		return nil
	}
	var infos []line.Info
	for _, d := range devices {
		if d.Source == source {
			infos = append(infos, line.PortInfo(d))
		}
	}
	return infos
}

// IsLineSupported reports whether Line would accept d. It does not need
// the mixer to be open.
func (m *Mixer) IsLineSupported(d line.Descriptor) bool {
	_, ok := m.lookup(d)
	return ok
}

func (m *Mixer) lookup(d line.Descriptor) (line.Info, bool) {
	infos := m.SourceLineInfo()
	if d.Kind == line.TargetDataLine || d.Kind == line.PortLine {
		infos = append(infos, m.TargetLineInfo()...)
	}
	for _, info := range infos {
		if !info.Matches(d) {
			continue
		}
		if d.Format != nil && !m.driver.Supports(*d.Format) {
			continue
		}
		return info, true
	}
	return line.Info{}, false
}

// Line returns a new closed line matching d. The descriptor's format
// becomes the line's default format; its buffer size only restricts which
// infos match.
func (m *Mixer) Line(d line.Descriptor) (line.Line, error) {
	info, ok := m.lookup(d)
	if !ok {
		return nil, fmt.Errorf("%w: no line matching %s", audio.ErrIllegalArgument, describe(d))
	}

	opts := line.Options{
		Info:       info,
		Driver:     m.driver,
		Registrar:  m,
		BufferSize: m.cfg.Lines.DefaultBufferSize,
	}
	if d.Format != nil {
		opts.Format = *d.Format
	}

	var l line.Line
	switch info.Kind {
	case line.SourceDataLine:
		l = line.NewSourceLine(opts)
	case line.TargetDataLine:
		l = line.NewTargetLine(opts)
	case line.ClipLine:
		l = line.NewClip(opts)
	default:
		l = line.NewPort(opts)
	}
	l.AddListener(m.tap)
	slog.Debug("Line acquired", "mixer", m.info.Name, "kind", info.Kind, "line", l.Handle().ID)
	return l, nil
}

func describe(d line.Descriptor) string {
	s := d.Kind.String()
	if d.Name != "" {
		s += " " + d.Name
	}
	if d.Format != nil {
		s += " " + d.Format.String()
	}
	if d.BufferSize > 0 {
		s += fmt.Sprintf(" buffer %d", d.BufferSize)
	}
	return s
}

// SourceDataLine returns a playback line; f may be nil for the default
// format.
func (m *Mixer) SourceDataLine(f *audio.Format) (*line.SourceLine, error) {
	l, err := m.Line(line.Descriptor{Kind: line.SourceDataLine, Format: f})
	if err != nil {
		return nil, err
	}
	return l.(*line.SourceLine), nil
}

func (m *Mixer) TargetDataLine(f *audio.Format) (*line.TargetLine, error) {
	l, err := m.Line(line.Descriptor{Kind: line.TargetDataLine, Format: f})
	if err != nil {
		return nil, err
	}
	return l.(*line.TargetLine), nil
}

func (m *Mixer) Clip() (*line.Clip, error) {
	l, err := m.Line(line.Descriptor{Kind: line.ClipLine})
	if err != nil {
		return nil, err
	}
	return l.(*line.Clip), nil
}

func (m *Mixer) Port(name string) (*line.Port, error) {
	l, err := m.Line(line.Descriptor{Kind: line.PortLine, Name: name})
	if err != nil {
		return nil, err
	}
	return l.(*line.Port), nil
}

// OpenLines returns every open line in acquisition order.
func (m *Mixer) OpenLines() []line.Line {
	return m.registry.snapshot(nil)
}

// OpenSourceLines returns the open source lines in acquisition order.
func (m *Mixer) OpenSourceLines() []line.Line {
	return m.registry.snapshot(func(l line.Line) bool { return l.Info().Source })
}

func (m *Mixer) OpenTargetLines() []line.Line {
	return m.registry.snapshot(func(l line.Line) bool { return !l.Info().Source })
}

// CanOpen reports whether a line may start opening. Lines ask before they
// allocate a stream so a closed mixer fails them with ErrIllegalState.
func (m *Mixer) CanOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return fmt.Errorf("%w: mixer %s is not open", audio.ErrIllegalState, m.info.Name)
	}
	return nil
}

// LineOpened registers l. It is called by the line while it commits its
// open and refuses lines while the mixer is closed.
func (m *Mixer) LineOpened(l line.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return fmt.Errorf("%w: mixer %s is not open", audio.ErrIllegalState, m.info.Name)
	}
	if !m.registry.add(l) {
		return fmt.Errorf("%w: line %s is already registered", audio.ErrIllegalState, l.Handle().ID)
	}
	return nil
}

func (m *Mixer) LineClosed(l line.Line) {
	m.registry.remove(l)
}

// IsSynchronizationSupported is always false.
func (m *Mixer) IsSynchronizationSupported(lines []line.Line, maintainSync bool) bool {
	return false
}

// Synchronize is not supported.
func (m *Mixer) Synchronize(lines []line.Line, maintainSync bool) error {
	return fmt.Errorf("%w: line synchronization is not supported", audio.ErrIllegalArgument)
}

func (m *Mixer) Unsynchronize(lines []line.Line) error {
	return fmt.Errorf("%w: line synchronization is not supported", audio.ErrIllegalArgument)
}

var _ line.Registrar = (*Mixer)(nil)
