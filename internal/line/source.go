package line

import "github.com/audiolibrelab/soundlines/internal/audio"

// SourceLine streams audio written by the caller to the sound server.
type SourceLine struct {
	dataLine
}

func NewSourceLine(opts Options) *SourceLine {
	l := &SourceLine{}
	l.init(opts, audio.Playback, l)
	return l
}

// Write queues length bytes of b starting at off for playback. It blocks
// while the buffer is full and returns early, with the bytes accepted so
// far, if the line is stopped or closed meanwhile.
func (l *SourceLine) Write(b []byte, off, length int) (int, error) {
	return l.channel.Write(b, off, length)
}

var _ DataLine = (*SourceLine)(nil)
