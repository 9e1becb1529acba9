package line

import "github.com/audiolibrelab/soundlines/internal/audio"

// TargetLine captures audio from the sound server.
type TargetLine struct {
	dataLine
}

func NewTargetLine(opts Options) *TargetLine {
	l := &TargetLine{}
	l.init(opts, audio.Capture, l)
	return l
}

// Read fills length bytes of b starting at off with captured audio. It
// blocks until the audio is available and returns early if the line is
// stopped or closed meanwhile.
func (l *TargetLine) Read(b []byte, off, length int) (int, error) {
	return l.channel.Read(b, off, length)
}

var _ DataLine = (*TargetLine)(nil)
