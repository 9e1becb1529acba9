package audio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/audiolibrelab/soundlines/internal/config"
)

// DriverType represents the kind of sound-server connection
type DriverType string

const (
	DriverTypeNull  DriverType = "null"
	DriverTypeOto   DriverType = "oto"
	DriverTypePulse DriverType = "pulse"
	DriverTypeAuto  DriverType = "auto"
)

// Direction tells whether a stream renders or captures audio.
type Direction int

const (
	Playback Direction = iota
	Capture
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// StreamRequest describes a stream to allocate on the sound server.
type StreamRequest struct {
	Name       string
	Format     Format
	BufferSize int
	Direction  Direction

	// OnProgress is called, outside any driver lock, whenever occupancy or
	// position of the stream changes.
	OnProgress func()
}

// Device is a hardware port as reported by the sound server.
type Device struct {
	Name   string  `json:"name" yaml:"name"`
	Source bool    `json:"source" yaml:"source"`
	Volume float64 `json:"volume" yaml:"volume"`
}

// Driver defines the interface for native sound-server connections.
type Driver interface {
	// Name of the driver, as selected in configuration
	Name() string

	// Supports reports whether the server can carry the format
	Supports(f Format) bool

	Connect() error
	Disconnect() error

	// Open allocates a stream; it fails with ErrDeviceUnavailable when the
	// server refuses
	Open(req StreamRequest) (Stream, error)

	// Ports lists the hardware ports known to the server
	Ports() ([]Device, error)

	OpenPort(name string) (PortHandle, error)
}

// Stream is one allocated playback or capture stream. No method blocks.
type Stream interface {
	// Writable returns the free space of a playback buffer in bytes
	Writable() int
	Write(p []byte) (int, error)

	// Readable returns the captured bytes waiting in a capture buffer
	Readable() int
	Read(p []byte) (int, error)

	// Occupancy returns the bytes written but not yet rendered
	Occupancy() int

	// Position returns the frames rendered or captured since the stream
	// was created
	Position() int64

	Cork(corked bool) error
	Flush() error

	// Volume and SetVolume use the normalized range [0, 1]
	Volume() (float64, error)
	SetVolume(v float64) error

	Close() error
}

// PortHandle is an opened hardware port.
type PortHandle interface {
	Name() string
	Volume() (float64, error)
	SetVolume(v float64) error
	Close() error
}

// NewDriver creates a driver using the appropriate implementation based on configuration
func NewDriver(cfg *config.Config) (Driver, error) {
	driverType := determineDriver(cfg)
	slog.Debug("Selected sound driver", "driver", driverType)

	switch driverType {
	case DriverTypeOto:
		return NewOtoDriver(cfg)
	case DriverTypePulse:
		return NewPulseDriver(cfg)
	default:
		return NewNullDriver(cfg), nil
	}
}

// determineDriver determines which driver to use based on configuration
func determineDriver(cfg *config.Config) DriverType {
	if cfg != nil && cfg.Driver.Name != "" {
		switch strings.ToLower(cfg.Driver.Name) {
		case "null":
			return DriverTypeNull
		case "oto":
			return DriverTypeOto
		case "pulse":
			return DriverTypePulse
		case "auto":
			if pulseAvailable {
				return DriverTypePulse
			}
			if otoAvailable {
				return DriverTypeOto
			}
			return DriverTypeNull
		}
	}

	return DriverTypeNull
}

// AvailableDrivers returns the drivers compiled into this binary
func AvailableDrivers() []DriverType {
	drivers := []DriverType{DriverTypeNull}
	if otoAvailable {
		drivers = append(drivers, DriverTypeOto)
	}
	if pulseAvailable {
		drivers = append(drivers, DriverTypePulse)
	}
	return drivers
}

// portTable holds port volumes for drivers whose server has no mixer API.
type portTable struct {
	mu      sync.Mutex
	devices []Device
}

func newPortTable(ports []config.Port) *portTable {
	t := &portTable{}
	for _, p := range ports {
		t.devices = append(t.devices, Device{
			Name:   p.Name,
			Source: p.IsSource(),
			Volume: p.Volume / config.MaxPortVolume,
		})
	}
	return t
}

func (t *portTable) list() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Device(nil), t.devices...)
}

func (t *portTable) merge(devices []Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range devices {
		if t.indexLocked(d.Name) < 0 {
			t.devices = append(t.devices, d)
		}
	}
}

func (t *portTable) indexLocked(name string) int {
	for i, d := range t.devices {
		if d.Name == name {
			return i
		}
	}
	return -1
}

func (t *portTable) open(name string) (PortHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexLocked(name) < 0 {
		return nil, fmt.Errorf("%w: port not found: %s", ErrDeviceUnavailable, name)
	}
	return &tablePort{table: t, name: name}, nil
}

type tablePort struct {
	table  *portTable
	name   string
	closed bool
}

func (p *tablePort) Name() string { return p.name }

func (p *tablePort) Volume() (float64, error) {
	p.table.mu.Lock()
	defer p.table.mu.Unlock()
	if p.closed {
		return 0, fmt.Errorf("%w: port %s is closed", ErrIllegalState, p.name)
	}
	return p.table.devices[p.table.indexLocked(p.name)].Volume, nil
}

func (p *tablePort) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: volume %.3f", ErrOutOfRange, v)
	}
	p.table.mu.Lock()
	defer p.table.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: port %s is closed", ErrIllegalState, p.name)
	}
	p.table.devices[p.table.indexLocked(p.name)].Volume = v
	return nil
}

func (p *tablePort) Close() error {
	p.table.mu.Lock()
	defer p.table.mu.Unlock()
	p.closed = true
	return nil
}
