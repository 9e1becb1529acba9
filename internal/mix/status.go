package mix

import (
	"github.com/google/uuid"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/line"
)

// Status is a point-in-time view of a mixer.
type Status struct {
	ID        uuid.UUID    `json:"id" yaml:"id"`
	Info      Info         `json:"info" yaml:"info"`
	Driver    string       `json:"driver" yaml:"driver"`
	Open      bool         `json:"open" yaml:"open"`
	OpenLines int          `json:"open_lines" yaml:"open_lines"`
	Sync      bool         `json:"synchronization" yaml:"synchronization"`
	Lines     []LineStatus `json:"lines,omitempty" yaml:"lines,omitempty"`
}

// LineStatus describes one open line.
type LineStatus struct {
	Handle        line.Handle   `json:"handle" yaml:"handle"`
	Kind          line.Kind     `json:"kind" yaml:"kind"`
	Name          string        `json:"name,omitempty" yaml:"name,omitempty"`
	Source        bool          `json:"source" yaml:"source"`
	State         line.State    `json:"state" yaml:"state"`
	Format        *audio.Format `json:"format,omitempty" yaml:"format,omitempty"`
	BufferSize    int           `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
	Available     int           `json:"available,omitempty" yaml:"available,omitempty"`
	FramePosition int64         `json:"frame_position" yaml:"frame_position"`
	Volume        float64       `json:"volume" yaml:"volume"`
}

// Status reports the mixer and, when withLines is set, each open line.
func (m *Mixer) Status(withLines bool) Status {
	s := Status{
		ID:        m.id,
		Info:      m.info,
		Driver:    m.driver.Name(),
		Open:      m.IsOpen(),
		OpenLines: m.registry.len(),
		Sync:      m.IsSynchronizationSupported(nil, false),
	}
	if withLines {
		for _, l := range m.OpenLines() {
			s.Lines = append(s.Lines, DescribeLine(l))
		}
	}
	return s
}

// DescribeLine reports the current state of l.
func DescribeLine(l line.Line) LineStatus {
	info := l.Info()
	ls := LineStatus{
		Handle: l.Handle(),
		Kind:   info.Kind,
		Name:   info.Name,
		Source: info.Source,
		State:  l.State(),
	}
	if c, err := l.Control(line.VolumeKind); err == nil {
		ls.Volume = c.(*line.VolumeControl).Value()
	}
	if d, ok := l.(line.DataLine); ok {
		f := d.Format()
		ls.Format = &f
		ls.BufferSize = d.BufferSize()
		ls.Available = d.Available()
		ls.FramePosition = d.FramePosition()
	}
	return ls
}
