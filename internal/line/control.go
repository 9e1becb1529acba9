package line

import (
	"fmt"
	"sync"

	"github.com/audiolibrelab/soundlines/internal/audio"
)

// ControlKind names a control type.
type ControlKind string

const VolumeKind ControlKind = "Volume"

// Volume bounds, in sound-server volume units.
const (
	MinVolume = 0
	MaxVolume = 65536
)

// Control is a typed setting of a line.
type Control interface {
	Kind() ControlKind
}

// volumeTarget is the native side of a volume control: a stream or a port.
type volumeTarget interface {
	Volume() (float64, error)
	SetVolume(v float64) error
}

// VolumeControl caches the volume of a line. Value never contacts the
// sound server; Refresh does, and SetValue writes through.
type VolumeControl struct {
	mu     sync.Mutex
	target volumeTarget
	cached float64
}

func newVolumeControl() *VolumeControl {
	return &VolumeControl{cached: MaxVolume}
}

func (c *VolumeControl) Kind() ControlKind { return VolumeKind }

func (c *VolumeControl) Min() float64 { return MinVolume }

func (c *VolumeControl) Max() float64 { return MaxVolume }

// Value returns the last known volume.
func (c *VolumeControl) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached
}

// Refresh queries the sound server and updates the cache.
func (c *VolumeControl) Refresh() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return c.cached, fmt.Errorf("%w: line is not open", audio.ErrIllegalState)
	}
	v, err := c.target.Volume()
	if err != nil {
		return c.cached, err
	}
	c.cached = v * MaxVolume
	return c.cached, nil
}

// SetValue writes v to the sound server and caches it on success.
func (c *VolumeControl) SetValue(v float64) error {
	if v < MinVolume || v > MaxVolume || v != v {
		return fmt.Errorf("%w: volume %.1f outside [%d, %d]", audio.ErrOutOfRange, v, MinVolume, MaxVolume)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return fmt.Errorf("%w: line is not open", audio.ErrIllegalState)
	}
	if err := c.target.SetVolume(v / MaxVolume); err != nil {
		return err
	}
	c.cached = v
	return nil
}

// bind attaches the control to an opened stream or port and seeds the
// cache from it.
func (c *VolumeControl) bind(t volumeTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = t
	if v, err := t.Volume(); err == nil {
		c.cached = v * MaxVolume
	}
}

func (c *VolumeControl) unbind() {
	c.mu.Lock()
	c.target = nil
	c.mu.Unlock()
}
