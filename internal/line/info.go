package line

import (
	"fmt"

	"github.com/audiolibrelab/soundlines/internal/audio"
)

// DefaultBufferSize is the buffer size, in bytes, of a line opened without
// an explicit size.
const DefaultBufferSize = 50000

// Kind identifies what a line does.
type Kind int

const (
	SourceDataLine Kind = iota
	TargetDataLine
	ClipLine
	PortLine
)

func (k Kind) String() string {
	switch k {
	case SourceDataLine:
		return "SourceDataLine"
	case TargetDataLine:
		return "TargetDataLine"
	case ClipLine:
		return "Clip"
	case PortLine:
		return "Port"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Info describes a kind of line a mixer can provide.
type Info struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Source lines carry audio into the mixer: playback lines, clips and
	// source ports.
	Source bool `json:"source" yaml:"source"`

	Formats       []audio.Format `json:"formats,omitempty" yaml:"formats,omitempty"`
	MinBufferSize int            `json:"min_buffer_size,omitempty" yaml:"min_buffer_size,omitempty"`
	MaxBufferSize int            `json:"max_buffer_size,omitempty" yaml:"max_buffer_size,omitempty"`

	Volume  bool `json:"volume" yaml:"volume"`
	Looping bool `json:"looping" yaml:"looping"`
}

// Supports reports whether f matches one of the formats of the info.
func (i Info) Supports(f audio.Format) bool {
	for _, p := range i.Formats {
		if f.Matches(p) {
			return true
		}
	}
	return false
}

// Matches reports whether a line described by i can satisfy d.
func (i Info) Matches(d Descriptor) bool {
	if i.Kind != d.Kind {
		return false
	}
	if d.Name != "" && d.Name != i.Name {
		return false
	}
	if d.Format != nil && (!i.Supports(*d.Format) || d.Format.Validate() != nil) {
		return false
	}
	if d.BufferSize > 0 && i.MaxBufferSize > 0 && d.BufferSize > i.MaxBufferSize {
		return false
	}
	return true
}

func (i Info) String() string {
	if i.Name != "" {
		return fmt.Sprintf("%s %s", i.Kind, i.Name)
	}
	return i.Kind.String()
}

// Descriptor is a request for a line: its kind, and optionally a format,
// a buffer size hint and, for ports, a name.
type Descriptor struct {
	Kind       Kind          `json:"kind"`
	Format     *audio.Format `json:"format,omitempty"`
	BufferSize int           `json:"buffer_size,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// DataLineInfos returns the info of the streaming and clip line kinds for
// buffers up to maxBuffer bytes.
func DataLineInfos(maxBuffer int) (source, target []Info) {
	if maxBuffer <= 0 {
		maxBuffer = 16 * DefaultBufferSize
	}
	formats := audio.SupportedPatterns()
	data := func(kind Kind, src, looping bool) Info {
		return Info{
			Kind:          kind,
			Source:        src,
			Formats:       formats,
			MinBufferSize: 1,
			MaxBufferSize: maxBuffer,
			Volume:        true,
			Looping:       looping,
		}
	}
	source = []Info{
		data(SourceDataLine, true, false),
		data(ClipLine, true, true),
	}
	target = []Info{
		data(TargetDataLine, false, false),
	}
	return source, target
}

// PortInfo returns the info of a hardware port.
func PortInfo(d audio.Device) Info {
	return Info{
		Kind:   PortLine,
		Name:   d.Name,
		Source: d.Source,
		Volume: true,
	}
}
