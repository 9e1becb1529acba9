package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/soundlines/internal/config"
)

// NullDriver is an in-process sound server. Playback streams render by
// discarding bytes in real time (scaled by Speed); capture streams produce
// silence at the stream's frame rate.
type NullDriver struct {
	speed      float64
	tick       time.Duration
	maxStreams int
	ports      *portTable

	mu        sync.Mutex
	connected bool
	streams   map[*nullStream]struct{}
}

// NewNullDriver creates a null driver from the driver section of cfg.
func NewNullDriver(cfg *config.Config) *NullDriver {
	d := &NullDriver{
		speed:   1.0,
		tick:    10 * time.Millisecond,
		streams: make(map[*nullStream]struct{}),
	}
	var ports []config.Port
	if cfg != nil {
		if cfg.Driver.Speed > 0 {
			d.speed = cfg.Driver.Speed
		}
		if cfg.Driver.TickMs > 0 {
			d.tick = time.Duration(cfg.Driver.TickMs) * time.Millisecond
		}
		d.maxStreams = cfg.Driver.MaxStreams
		ports = cfg.Ports
	}
	d.ports = newPortTable(ports)
	return d
}

func (d *NullDriver) Name() string { return string(DriverTypeNull) }

func (d *NullDriver) Supports(f Format) bool {
	return f.Validate() == nil
}

func (d *NullDriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return fmt.Errorf("%w: null driver already connected", ErrIllegalState)
	}
	d.connected = true
	slog.Debug("Null driver connected", "speed", d.speed, "tick", d.tick)
	return nil
}

func (d *NullDriver) Disconnect() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return fmt.Errorf("%w: null driver not connected", ErrIllegalState)
	}
	d.connected = false
	streams := make([]*nullStream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	slog.Debug("Null driver disconnected", "closed_streams", len(streams))
	return nil
}

// ActiveStreams returns the number of streams currently allocated.
func (d *NullDriver) ActiveStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func (d *NullDriver) Open(req StreamRequest) (Stream, error) {
	if err := req.Format.Validate(); err != nil {
		return nil, err
	}
	if req.BufferSize < req.Format.FrameSize {
		return nil, fmt.Errorf("%w: buffer of %d bytes cannot hold a frame", ErrIllegalArgument, req.BufferSize)
	}

	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: null driver not connected", ErrDeviceUnavailable)
	}
	if d.maxStreams > 0 && len(d.streams) >= d.maxStreams {
		d.mu.Unlock()
		slog.Debug("Null driver refused stream", "name", req.Name, "max_streams", d.maxStreams)
		return nil, fmt.Errorf("%w: stream limit of %d reached", ErrDeviceUnavailable, d.maxStreams)
	}
	s := &nullStream{
		driver:     d,
		req:        req,
		frameSize:  req.Format.FrameSize,
		bufferSize: req.BufferSize - req.BufferSize%req.Format.FrameSize,
		corked:     true,
		volume:     1.0,
		done:       make(chan struct{}),
	}
	d.streams[s] = struct{}{}
	d.mu.Unlock()

	go s.render(d.tick, d.speed)

	slog.Debug("Null driver opened stream", "name", req.Name, "direction", req.Direction, "buffer", s.bufferSize)
	return s, nil
}

func (d *NullDriver) Ports() ([]Device, error) {
	return d.ports.list(), nil
}

func (d *NullDriver) OpenPort(name string) (PortHandle, error) {
	return d.ports.open(name)
}

func (d *NullDriver) release(s *nullStream) {
	d.mu.Lock()
	delete(d.streams, s)
	d.mu.Unlock()
}

type nullStream struct {
	driver     *NullDriver
	req        StreamRequest
	frameSize  int
	bufferSize int

	mu       sync.Mutex
	corked   bool
	closed   bool
	pending  int // playback bytes not yet rendered, or captured bytes not yet read
	position int64
	carry    float64
	last     time.Time
	volume   float64

	done chan struct{}
}

func (s *nullStream) render(tick time.Duration, speed float64) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			if s.advance(now, speed) {
				s.progress()
			}
		}
	}
}

// advance renders or captures the frames due since the last tick.
func (s *nullStream) advance(now time.Time, speed float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.corked {
		s.last = now
		return false
	}

	due := now.Sub(s.last).Seconds()*speed*s.req.Format.FrameRate + s.carry
	s.last = now
	frames := int(due)
	s.carry = due - float64(frames)
	if frames == 0 {
		return false
	}

	if s.req.Direction == Capture {
		s.position += int64(frames)
		s.pending = min(s.pending+frames*s.frameSize, s.bufferSize)
		return true
	}

	rendered := min(frames, s.pending/s.frameSize)
	if rendered == 0 {
		s.carry = 0
		return false
	}
	s.pending -= rendered * s.frameSize
	s.position += int64(rendered)
	return true
}

func (s *nullStream) progress() {
	if s.req.OnProgress != nil {
		s.req.OnProgress()
	}
}

func (s *nullStream) Writable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.req.Direction != Playback {
		return 0
	}
	return s.bufferSize - s.pending
}

func (s *nullStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	if s.req.Direction != Playback {
		return 0, fmt.Errorf("%w: write on a capture stream", ErrIllegalState)
	}
	n := min(len(p), s.bufferSize-s.pending)
	n -= n % s.frameSize
	s.pending += n
	return n, nil
}

func (s *nullStream) Readable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.req.Direction != Capture {
		return 0
	}
	return s.pending
}

func (s *nullStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	if s.req.Direction != Capture {
		return 0, fmt.Errorf("%w: read on a playback stream", ErrIllegalState)
	}
	n := min(len(p), s.pending)
	n -= n % s.frameSize
	silence := s.req.Format.Silence()
	for i := range p[:n] {
		p[i] = silence
	}
	s.pending -= n
	return n, nil
}

func (s *nullStream) Occupancy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *nullStream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *nullStream) Cork(corked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	if s.corked && !corked {
		s.last = time.Now()
		s.carry = 0
	}
	s.corked = corked
	return nil
}

func (s *nullStream) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	s.pending = 0
	s.mu.Unlock()

	s.progress()
	return nil
}

func (s *nullStream) Volume() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	return s.volume, nil
}

func (s *nullStream) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: volume %.3f", ErrOutOfRange, v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	s.volume = v
	return nil
}

func (s *nullStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.driver.release(s)
	return nil
}
