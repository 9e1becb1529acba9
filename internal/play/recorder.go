package play

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/mix"
)

// Recorder captures raw audio from a target line.
type Recorder struct {
	mixer      *mix.Mixer
	format     audio.Format
	bufferSize int
}

func NewRecorder(m *mix.Mixer, f audio.Format, bufferSize int) *Recorder {
	return &Recorder{mixer: m, format: f, bufferSize: bufferSize}
}

// Record copies captured audio to w until ctx is done or, when d is
// positive, d has elapsed. Reaching either is a normal end of recording.
func (r *Recorder) Record(ctx context.Context, w io.Writer, d time.Duration) (int64, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	l, err := r.mixer.TargetDataLine(&r.format)
	if err != nil {
		return 0, err
	}
	if err := l.OpenFormat(r.format, r.bufferSize); err != nil {
		return 0, fmt.Errorf("open capture line: %w", err)
	}
	defer closeLine(l)
	stop := context.AfterFunc(ctx, func() { closeLine(l) })
	defer stop()

	if err := l.Start(); err != nil {
		return 0, err
	}
	slog.Info("Recording started", "format", r.format, "buffer", l.BufferSize())

	buf := make([]byte, chunkSize(r.format, l.BufferSize()))
	var total int64
	for ctx.Err() == nil {
		n, err := l.Read(buf, 0, len(buf))
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("write recording: %w", werr)
			}
			total += int64(n)
		}
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			return total, err
		}
		if n < len(buf) {
			return total, ErrInterrupted
		}
	}

	slog.Info("Recording stopped", "bytes", total, "frames", total/int64(r.format.FrameSize))
	return total, nil
}
