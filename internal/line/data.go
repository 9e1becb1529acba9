package line

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/event"
)

// dataLine is the state machine of lines backed by a stream.
type dataLine struct {
	base

	direction     audio.Direction
	channel       *Channel
	stream        audio.Stream
	defaultFormat audio.Format
	defaultBuffer int

	format     audio.Format
	bufferSize int
}

func (d *dataLine) init(opts Options, direction audio.Direction, self Line) {
	d.base.init(opts, self)
	d.direction = direction
	d.channel = newChannel(direction)
	d.defaultFormat = opts.Format
	if d.defaultFormat.Encoding == "" {
		d.defaultFormat = audio.DefaultFormat()
	}
	d.defaultBuffer = opts.BufferSize
	if d.defaultBuffer <= 0 {
		d.defaultBuffer = DefaultBufferSize
	}
	d.format = d.defaultFormat
	d.bufferSize = d.defaultBuffer
}

// Open opens the line with its default format and buffer size.
func (d *dataLine) Open() error {
	return d.OpenFormat(d.defaultFormat, 0)
}

// OpenFormat opens the line with format f and a buffer of bufferSize
// bytes; zero selects the default size.
func (d *dataLine) OpenFormat(f audio.Format, bufferSize int) error {
	d.mu.Lock()
	err := d.openLocked(f, bufferSize)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.flush()
	d.logTransition("line opened")
	return nil
}

func (d *dataLine) openLocked(f audio.Format, bufferSize int) error {
	if d.state != Closed {
		return fmt.Errorf("%w: %s is already open", audio.ErrIllegalState, d.info.Kind)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if !d.info.Supports(f) || !d.driver.Supports(f) {
		return fmt.Errorf("%w: %s cannot carry %s", audio.ErrInvalidFormat, d.info.Kind, f)
	}

	size, err := d.resolveBufferSize(f, bufferSize)
	if err != nil {
		return err
	}
	if err := d.admit(); err != nil {
		return err
	}

	stream, err := d.driver.Open(audio.StreamRequest{
		Name:       d.handle.ID.String(),
		Format:     f,
		BufferSize: size,
		Direction:  d.direction,
		OnProgress: d.channel.notify,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", d.info.Kind, err)
	}
	if err := d.register(); err != nil {
		stream.Close()
		return err
	}

	d.stream = stream
	d.channel.attach(stream, f.FrameSize)
	d.volume.bind(stream)
	d.format = f
	d.bufferSize = size
	d.state = Stopped
	d.post(event.Open, 0)
	return nil
}

func (d *dataLine) resolveBufferSize(f audio.Format, requested int) (int, error) {
	if requested < 0 {
		return 0, fmt.Errorf("%w: negative buffer size %d", audio.ErrIllegalArgument, requested)
	}
	size := requested
	if size == 0 {
		size = d.defaultBuffer
	}
	if d.info.MaxBufferSize > 0 && size > d.info.MaxBufferSize {
		size = d.info.MaxBufferSize
	}
	size -= size % f.FrameSize
	if size < f.FrameSize {
		size = f.FrameSize
	}
	return size, nil
}

// Close releases the stream. Calls blocked in Write, Read or Drain return.
func (d *dataLine) Close() error {
	d.mu.Lock()
	stream, err := d.closeLocked()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.finishClose(stream)
	return nil
}

func (d *dataLine) closeLocked() (audio.Stream, error) {
	if d.state == Closed {
		return nil, fmt.Errorf("%w: %s is not open", audio.ErrIllegalState, d.info.Kind)
	}
	stream, pos := d.channel.detach()
	d.volume.unbind()
	d.stream = nil
	d.state = Closed
	d.deregister()
	d.post(event.Close, pos)
	return stream, nil
}

func (d *dataLine) finishClose(stream audio.Stream) {
	if err := stream.Close(); err != nil {
		slog.Warn("Failed to release stream", "line", d.handle.ID, "error", err)
	}
	d.flush()
	d.logTransition("line closed")
}

// Start lets the stream render or capture. Starting a started line does
// nothing.
func (d *dataLine) Start() error {
	d.mu.Lock()
	posted, err := d.startLocked()
	d.mu.Unlock()
	if posted {
		d.flush()
	}
	return err
}

func (d *dataLine) startLocked() (bool, error) {
	switch d.state {
	case Closed:
		return false, fmt.Errorf("%w: start on a line that is not open", audio.ErrIllegalState)
	case Started:
		return false, nil
	}
	if err := d.stream.Cork(false); err != nil {
		return false, err
	}
	d.state = Started
	d.post(event.Start, d.channel.Position())
	return true, nil
}

// Stop pauses the stream, keeping buffered audio. Calls blocked in Write,
// Read or Drain return.
func (d *dataLine) Stop() error {
	d.mu.Lock()
	posted, err := d.stopLocked()
	d.mu.Unlock()
	if posted {
		d.flush()
	}
	return err
}

func (d *dataLine) stopLocked() (bool, error) {
	if d.state == Closed {
		return false, fmt.Errorf("%w: stop on a line that is not open", audio.ErrIllegalState)
	}
	d.channel.interrupt()
	if d.state == Stopped {
		return false, nil
	}
	if err := d.stream.Cork(true); err != nil {
		return false, err
	}
	d.state = Stopped
	d.post(event.Stop, d.channel.Position())
	return true, nil
}

func (d *dataLine) IsActive() bool {
	return d.State() == Started
}

func (d *dataLine) Drain() error { return d.channel.Drain() }

func (d *dataLine) Flush() error { return d.channel.Flush() }

func (d *dataLine) Available() int { return d.channel.Available() }

// BufferSize returns the buffer size in bytes of the current or last
// opening, or the default before the first.
func (d *dataLine) BufferSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufferSize
}

func (d *dataLine) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

// FramePosition returns the frames rendered or captured since the line
// was opened.
func (d *dataLine) FramePosition() int64 { return d.channel.Position() }

func (d *dataLine) MicrosecondPosition() int64 {
	return d.Format().FramesToMicros(d.FramePosition())
}
