package line

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/soundlines/internal/audio"
)

// LoopContinuously makes a clip repeat its loop region until stopped.
const LoopContinuously = -1

// Clip plays audio preloaded at open time, optionally repeating a region
// of it.
//
// A feeder goroutine per start copies the clip into the stream. Playback
// runs from the current position to the loop end while repetitions remain,
// jumps back to the loop start, and after the last repetition continues to
// the end of the clip. Once the end has been rendered the clip stops by
// itself with a STOP event. Stop cancels any remaining repetitions.
type Clip struct {
	dataLine

	data      []byte
	chunk     int
	loopStart int // frames
	loopEnd   int // frames, inclusive
	loops     int
	cursor    int // next byte to feed
	session   *clipSession
}

type clipSession struct {
	cancelled bool
	done      chan struct{}
}

func NewClip(opts Options) *Clip {
	c := &Clip{}
	c.init(opts, audio.Playback, c)
	return c
}

// Open fails: a clip needs its data, see OpenClip.
func (c *Clip) Open() error {
	return fmt.Errorf("%w: a clip must be opened with its audio data", audio.ErrIllegalArgument)
}

// OpenFormat fails: a clip needs its data, see OpenClip.
func (c *Clip) OpenFormat(audio.Format, int) error {
	return c.Open()
}

// OpenClip opens the clip with format f and preloads data, which must
// hold at least one whole frame.
func (c *Clip) OpenClip(f audio.Format, data []byte) error {
	c.mu.Lock()
	if c.state != Closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: clip is already open", audio.ErrIllegalState)
	}
	if f.FrameSize <= 0 || len(data) == 0 || len(data)%f.FrameSize != 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: clip data of %d bytes is not a whole number of frames", audio.ErrIllegalArgument, len(data))
	}
	if err := c.openLocked(f, min(len(data), c.defaultBuffer)); err != nil {
		c.mu.Unlock()
		return err
	}
	c.chunk = c.bufferSize
	c.data = append([]byte(nil), data...)
	c.bufferSize = len(c.data)
	c.loopStart = 0
	c.loopEnd = len(c.data)/f.FrameSize - 1
	c.loops = 0
	c.cursor = 0
	c.session = nil
	c.mu.Unlock()

	c.flush()
	c.logTransition("clip opened")
	return nil
}

// FrameLength returns the length of the clip in frames, or
// audio.NotSpecified when it is closed.
func (c *Clip) FrameLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return audio.NotSpecified
	}
	return len(c.data) / c.format.FrameSize
}

// SetLoopPoints sets the loop region in frames; end -1 means the last
// frame.
func (c *Clip) SetLoopPoints(start, end int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return fmt.Errorf("%w: clip is not open", audio.ErrIllegalState)
	}
	frames := len(c.data) / c.format.FrameSize
	if end == -1 {
		end = frames - 1
	}
	if start < 0 || start >= frames || end < start || end >= frames {
		return fmt.Errorf("%w: loop points [%d, %d] for a clip of %d frames", audio.ErrIllegalArgument, start, end, frames)
	}
	c.loopStart, c.loopEnd = start, end
	return nil
}

// LoopPoints returns the loop region in frames.
func (c *Clip) LoopPoints() (start, end int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopStart, c.loopEnd
}

// Loop sets the remaining repetitions of the loop region and starts the
// clip if it is stopped. Loop(0) on a looping clip lets the current pass
// play to the end of the clip, where it stops.
func (c *Clip) Loop(count int) error {
	if count < LoopContinuously {
		return fmt.Errorf("%w: loop count %d", audio.ErrIllegalArgument, count)
	}
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: clip is not open", audio.ErrIllegalState)
	}
	c.loops = count
	if c.state == Started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.Start()
}

// Start plays the clip from its current position. A clip that played to
// its end starts over.
func (c *Clip) Start() error {
	c.mu.Lock()
	if c.state == Stopped && c.cursor >= len(c.data) && c.stream.Occupancy() == 0 {
		c.cursor = 0
	}
	posted, err := c.startLocked()
	if !posted {
		c.mu.Unlock()
		return err
	}
	prev := c.session
	s := &clipSession{done: make(chan struct{})}
	c.session = s
	c.channel.hold()
	c.mu.Unlock()

	c.flush()
	go c.feed(s, prev)
	return nil
}

// Stop pauses the clip and cancels any remaining repetitions.
func (c *Clip) Stop() error {
	c.mu.Lock()
	if c.session != nil {
		c.session.cancelled = true
	}
	if c.state != Closed {
		c.loops = 0
	}
	posted, err := c.stopLocked()
	c.mu.Unlock()
	if posted {
		c.flush()
	}
	return err
}

// Close closes the clip once its feeder has returned.
func (c *Clip) Close() error {
	c.mu.Lock()
	s := c.session
	if s != nil {
		s.cancelled = true
	}
	stream, err := c.closeLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.finishClose(stream)
	if s != nil {
		<-s.done
	}
	return nil
}

func (c *Clip) feed(s *clipSession, prev *clipSession) {
	if prev != nil {
		<-prev.done
	}
	stopped := c.pump(s)
	c.channel.release()
	close(s.done)

	// Delivered after done so a listener may close the clip.
	if stopped {
		c.flush()
		c.logTransition("clip played out")
	}
}

// pump copies the clip into the stream until it is cancelled or fed to
// its end. It reports whether it stopped the clip after play-out.
func (c *Clip) pump(s *clipSession) bool {
	for {
		c.mu.Lock()
		if s.cancelled || c.state == Closed {
			c.mu.Unlock()
			return false
		}
		chunk := c.nextChunkLocked()
		c.mu.Unlock()
		if len(chunk) == 0 {
			return c.playedOut(s)
		}

		n, err := c.channel.Write(chunk, 0, len(chunk))

		c.mu.Lock()
		c.cursor += n
		c.mu.Unlock()
		if err != nil || n < len(chunk) {
			return false
		}
	}
}

// playedOut waits for the fed audio to be rendered and then stops the
// clip, unless it was stopped, restarted or closed in the meantime.
func (c *Clip) playedOut(s *clipSession) bool {
	if !c.channel.waitEmpty() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.cancelled || c.session != s || c.state != Started || c.cursor < len(c.data) {
		return false
	}
	posted, err := c.stopLocked()
	if err != nil {
		slog.Warn("Failed to stop clip after play-out", "line", c.handle.ID, "error", err)
	}
	return posted
}

// nextChunkLocked returns the next bytes to feed, moving the cursor back
// to the loop start when a repetition is due. It returns nil once the
// clip has been fed to its end.
func (c *Clip) nextChunkLocked() []byte {
	frame := c.format.FrameSize
	loopEnd := (c.loopEnd + 1) * frame

	for {
		end := len(c.data)
		if c.loops != 0 && c.cursor <= loopEnd {
			end = loopEnd
		}
		if c.cursor < end {
			return c.data[c.cursor:min(end, c.cursor+c.chunk)]
		}
		if c.loops == 0 || c.cursor != loopEnd {
			return nil
		}
		c.cursor = c.loopStart * frame
		if c.loops > 0 {
			c.loops--
		}
	}
}

var _ DataLine = (*Clip)(nil)
