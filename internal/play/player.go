package play

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/line"
	"github.com/audiolibrelab/soundlines/internal/mix"
)

// ErrInterrupted is returned when a line is stopped or closed by someone
// else while it is being fed.
var ErrInterrupted = errors.New("playback interrupted")

type Player struct {
	mixer      *mix.Mixer
	format     audio.Format
	bufferSize int
}

// New creates a player for raw audio in format f. bufferSize 0 uses the
// line default.
func New(m *mix.Mixer, f audio.Format, bufferSize int) *Player {
	return &Player{mixer: m, format: f, bufferSize: bufferSize}
}

// PlayFile streams a raw PCM file.
func (p *Player) PlayFile(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("audio file not found: %s", path)
	}
	defer f.Close()

	slog.Info("Playing", "file", path, "format", p.format)
	return p.Play(ctx, f)
}

// Play streams r through a source line until EOF, then waits for the
// audio to be rendered. A trailing partial frame is dropped. Cancelling
// ctx closes the line.
func (p *Player) Play(ctx context.Context, r io.Reader) (int64, error) {
	l, err := p.mixer.SourceDataLine(&p.format)
	if err != nil {
		return 0, err
	}
	if err := l.OpenFormat(p.format, p.bufferSize); err != nil {
		return 0, fmt.Errorf("open playback line: %w", err)
	}
	defer closeLine(l)
	stop := context.AfterFunc(ctx, func() { closeLine(l) })
	defer stop()

	if err := l.Start(); err != nil {
		return 0, err
	}

	buf := make([]byte, chunkSize(p.format, l.BufferSize()))
	var total int64
	for {
		n, rerr := io.ReadFull(r, buf)
		n -= n % p.format.FrameSize
		if n > 0 {
			w, err := l.Write(buf, 0, n)
			total += int64(w)
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			if err != nil {
				return total, err
			}
			if w < n {
				return total, ErrInterrupted
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return total, fmt.Errorf("read audio: %w", rerr)
		}
	}

	if err := l.Drain(); err != nil && ctx.Err() == nil {
		return total, err
	}
	if ctx.Err() != nil {
		return total, ctx.Err()
	}
	slog.Info("Playback completed", "bytes", total, "frames", l.FramePosition())
	return total, nil
}

// ClipOptions selects the loop of a clip. The zero value plays the clip
// once.
type ClipOptions struct {
	LoopStart int // frames
	LoopEnd   int // frames, -1 for the last frame
	Count     int // extra passes, line.LoopContinuously to loop until cancelled
}

// PlayClip preloads data into a clip and plays it with opts, returning
// once it has played out or ctx is cancelled.
func (p *Player) PlayClip(ctx context.Context, data []byte, opts ClipOptions) error {
	c, err := p.mixer.Clip()
	if err != nil {
		return err
	}
	if err := c.OpenClip(p.format, data); err != nil {
		return fmt.Errorf("open clip: %w", err)
	}
	defer closeLine(c)
	stop := context.AfterFunc(ctx, func() { closeLine(c) })
	defer stop()

	if opts.Count != 0 {
		if err := c.SetLoopPoints(opts.LoopStart, opts.LoopEnd); err != nil {
			return err
		}
		err = c.Loop(opts.Count)
	} else {
		err = c.Start()
	}
	if err != nil {
		return err
	}

	slog.Debug("Clip started", "frames", c.FrameLength(), "loops", opts.Count)
	if err := c.Drain(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func closeLine(l line.Line) {
	if err := l.Close(); err != nil && !errors.Is(err, audio.ErrIllegalState) {
		slog.Warn("Failed to close line", "line", l.Handle().ID, "error", err)
	}
}

// chunkSize returns a frame-aligned I/O size of about a tenth of a second,
// capped at the line buffer.
func chunkSize(f audio.Format, bufferSize int) int {
	size := int(f.BytesPerSecond() / 10)
	if bufferSize > 0 && size > bufferSize {
		size = bufferSize
	}
	size -= size % f.FrameSize
	if size < f.FrameSize {
		size = f.FrameSize
	}
	return size
}

// CleanFileName turns a title into a file name: letters, digits, hyphens
// and underscores are kept and spaces become underscores.
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
