package line

import (
	"fmt"
	"sync"

	"github.com/audiolibrelab/soundlines/internal/audio"
)

// Channel is the buffered I/O path between a data line and its stream.
//
// Write, Read and Drain block on a condition that is broadcast when the
// stream reports progress and when the line is stopped or closed. A
// blocked call returns once the interrupt generation it started under
// has changed or the stream is gone.
type Channel struct {
	mu        sync.Mutex
	cond      *sync.Cond
	stream    audio.Stream
	direction audio.Direction
	frameSize int

	generation uint64
	holds      int // producers that still intend to write
}

func newChannel(direction audio.Direction) *Channel {
	c := &Channel{direction: direction}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Channel) attach(s audio.Stream, frameSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = s
	c.frameSize = frameSize
	c.holds = 0
}

// detach wakes every waiter and returns the stream, so it can be closed
// outside the channel lock, with its final position.
func (c *Channel) detach() (audio.Stream, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stream
	var pos int64
	if s != nil {
		pos = s.Position()
	}
	c.stream = nil
	c.generation++
	c.cond.Broadcast()
	return s, pos
}

// interrupt releases every call blocked under the current generation.
func (c *Channel) interrupt() {
	c.mu.Lock()
	c.generation++
	c.cond.Broadcast()
	c.mu.Unlock()
}

// notify is the stream's progress callback.
func (c *Channel) notify() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Channel) hold() {
	c.mu.Lock()
	c.holds++
	c.mu.Unlock()
}

func (c *Channel) release() {
	c.mu.Lock()
	if c.holds > 0 {
		c.holds--
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Channel) checkBounds(b []byte, off, length int) error {
	if length < 0 || length%c.frameSize != 0 {
		return fmt.Errorf("%w: length %d is not a whole number of %d-byte frames", audio.ErrIllegalArgument, length, c.frameSize)
	}
	if off < 0 || off > len(b) || length > len(b)-off {
		return fmt.Errorf("%w: offset %d length %d for a buffer of %d bytes", audio.ErrOutOfBounds, off, length, len(b))
	}
	return nil
}

// Write copies length bytes of b starting at off into the stream,
// blocking while the buffer is full. It returns the number of bytes
// accepted, always a whole number of frames; fewer than length means the
// line was stopped or closed while waiting.
func (c *Channel) Write(b []byte, off, length int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return 0, fmt.Errorf("%w: write on a line that is not open", audio.ErrIllegalState)
	}
	if err := c.checkBounds(b, off, length); err != nil {
		return 0, err
	}

	stream, generation := c.stream, c.generation
	written := 0
	for written < length {
		if c.stream != stream || c.generation != generation {
			break
		}
		n, err := stream.Write(b[off+written : off+length])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			c.cond.Wait()
		}
	}
	return written, nil
}

// Read fills length bytes of b starting at off from the stream, blocking
// until enough audio has been captured.
func (c *Channel) Read(b []byte, off, length int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return 0, fmt.Errorf("%w: read on a line that is not open", audio.ErrIllegalState)
	}
	if err := c.checkBounds(b, off, length); err != nil {
		return 0, err
	}

	stream, generation := c.stream, c.generation
	read := 0
	for read < length {
		if c.stream != stream || c.generation != generation {
			break
		}
		n, err := stream.Read(b[off+read : off+length])
		read += n
		if err != nil {
			return read, err
		}
		if n == 0 {
			c.cond.Wait()
		}
	}
	return read, nil
}

// Available returns the bytes that can be written (playback) or read
// (capture) without blocking.
func (c *Channel) Available() int {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return 0
	}
	if c.direction == audio.Capture {
		return s.Readable()
	}
	return s.Writable()
}

// Drain blocks until everything written has been rendered and no producer
// holds the channel, or until the line is stopped or closed.
func (c *Channel) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return fmt.Errorf("%w: drain on a line that is not open", audio.ErrIllegalState)
	}
	if c.direction == audio.Capture {
		return nil
	}

	stream, generation := c.stream, c.generation
	for c.stream == stream && c.generation == generation {
		if c.holds == 0 && stream.Occupancy() == 0 {
			break
		}
		c.cond.Wait()
	}
	return nil
}

// waitEmpty blocks until the stream has rendered everything written to it
// and reports whether it did, as opposed to being stopped or closed first.
// Unlike Drain it ignores producer holds.
func (c *Channel) waitEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	stream, generation := c.stream, c.generation
	if stream == nil {
		return false
	}
	for c.stream == stream && c.generation == generation {
		if stream.Occupancy() == 0 {
			return true
		}
		c.cond.Wait()
	}
	return false
}

// Flush discards buffered audio that has not been rendered or read.
func (c *Channel) Flush() error {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return fmt.Errorf("%w: flush on a line that is not open", audio.ErrIllegalState)
	}
	if err := s.Flush(); err != nil {
		return err
	}
	c.notify()
	return nil
}

// Position returns the frames rendered or captured since open, or 0 while
// no stream is attached.
func (c *Channel) Position() int64 {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.Position()
}
