//go:build oto

package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/audiolibrelab/soundlines/internal/config"
)

const otoAvailable = true

// oto allows a single context per process.
var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoErr     error
	otoRate    int
	otoChans   int
)

func sharedOtoContext(sampleRate, channels int) (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("%w: failed to create oto context: %v", ErrDeviceUnavailable, err)
			return
		}
		<-ready
		otoContext, otoRate, otoChans = ctx, sampleRate, channels
		slog.Info("Audio output initialized", "sample_rate", sampleRate, "channels", channels)
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate || otoChans != channels {
		slog.Warn("oto context already running with another layout",
			"rate", otoRate, "channels", otoChans, "requested_rate", sampleRate, "requested_channels", channels)
	}
	return otoContext, nil
}

// OtoDriver plays through the platform audio device via oto. It has no
// capture path.
type OtoDriver struct {
	sampleRate int
	channels   int
	poll       time.Duration
	ports      *portTable
	pipewire   *PipeWire

	mu        sync.Mutex
	ctx       *oto.Context
	connected bool
	streams   map[*otoStream]struct{}
}

// NewOtoDriver creates an oto driver; the device is opened on Connect.
func NewOtoDriver(cfg *config.Config) (Driver, error) {
	d := &OtoDriver{
		sampleRate: 44100,
		channels:   2,
		poll:       10 * time.Millisecond,
		pipewire:   NewPipeWire(),
		streams:    make(map[*otoStream]struct{}),
	}
	var ports []config.Port
	if cfg != nil {
		if cfg.Driver.SampleRate > 0 {
			d.sampleRate = cfg.Driver.SampleRate
		}
		if cfg.Driver.Channels > 0 {
			d.channels = cfg.Driver.Channels
		}
		if cfg.Driver.TickMs > 0 {
			d.poll = time.Duration(cfg.Driver.TickMs) * time.Millisecond
		}
		ports = cfg.Ports
	}
	d.ports = newPortTable(ports)
	return d, nil
}

func (d *OtoDriver) Name() string { return string(DriverTypeOto) }

// Supports accepts only the layout of the shared oto context.
func (d *OtoDriver) Supports(f Format) bool {
	if f.Validate() != nil {
		return false
	}
	return f.Encoding == EncodingPCMSigned && f.SampleSizeInBits == 16 && !f.BigEndian &&
		int(f.SampleRate) == d.sampleRate && f.Channels == d.channels
}

func (d *OtoDriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return fmt.Errorf("%w: oto driver already connected", ErrIllegalState)
	}
	ctx, err := sharedOtoContext(d.sampleRate, d.channels)
	if err != nil {
		return err
	}
	if err := ctx.Resume(); err != nil {
		return fmt.Errorf("%w: resume oto context: %v", ErrDeviceUnavailable, err)
	}
	d.ctx = ctx
	d.connected = true
	return nil
}

func (d *OtoDriver) Disconnect() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return fmt.Errorf("%w: oto driver not connected", ErrIllegalState)
	}
	d.connected = false
	streams := make([]*otoStream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	ctx := d.ctx
	d.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	return ctx.Suspend()
}

func (d *OtoDriver) Open(req StreamRequest) (Stream, error) {
	if req.Direction == Capture {
		return nil, fmt.Errorf("%w: oto has no capture path", ErrDeviceUnavailable)
	}
	if !d.Supports(req.Format) {
		return nil, fmt.Errorf("%w: oto context runs %d Hz %d ch 16-bit LE, got %s",
			ErrInvalidFormat, d.sampleRate, d.channels, req.Format)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, fmt.Errorf("%w: oto driver not connected", ErrDeviceUnavailable)
	}

	s := &otoStream{
		driver:     d,
		req:        req,
		frameSize:  req.Format.FrameSize,
		bufferSize: req.BufferSize - req.BufferSize%req.Format.FrameSize,
		done:       make(chan struct{}),
	}
	s.src = &fifo{}
	s.player = d.ctx.NewPlayer(s.src)
	d.streams[s] = struct{}{}

	go s.watch(d.poll)

	slog.Debug("oto player created", "name", req.Name, "buffer", s.bufferSize)
	return s, nil
}

// Ports merges the PipeWire graph into the configured ports. A missing
// pw-link only leaves the configured ones.
func (d *OtoDriver) Ports() ([]Device, error) {
	devices, err := d.pipewire.ListDevices()
	if err != nil {
		slog.Debug("PipeWire port listing unavailable", "error", err)
	} else {
		d.ports.merge(devices)
	}
	return d.ports.list(), nil
}

func (d *OtoDriver) OpenPort(name string) (PortHandle, error) {
	return d.ports.open(name)
}

func (d *OtoDriver) release(s *otoStream) {
	d.mu.Lock()
	delete(d.streams, s)
	d.mu.Unlock()
}

// fifo feeds an oto player. An empty fifo reads as (0, nil) so the player
// keeps running and renders silence.
type fifo struct {
	mu       sync.Mutex
	buf      []byte
	consumed int64
}

func (f *fifo) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	f.consumed += int64(n)
	return n, nil
}

func (f *fifo) push(p []byte) {
	f.mu.Lock()
	f.buf = append(f.buf, p...)
	f.mu.Unlock()
}

func (f *fifo) stats() (queued int, consumed int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf), f.consumed
}

func (f *fifo) reset() {
	f.mu.Lock()
	f.buf = nil
	f.mu.Unlock()
}

type otoStream struct {
	driver     *OtoDriver
	req        StreamRequest
	frameSize  int
	bufferSize int
	src        *fifo
	player     *oto.Player

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// watch turns player progress into OnProgress callbacks.
func (s *otoStream) watch(poll time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	lastOcc, lastPos := -1, int64(-1)
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			occ, pos := s.Occupancy(), s.Position()
			if occ != lastOcc || pos != lastPos {
				lastOcc, lastPos = occ, pos
				if s.req.OnProgress != nil {
					s.req.OnProgress()
				}
			}
		}
	}
}

func (s *otoStream) Writable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return max(0, s.bufferSize-s.occupancyLocked())
}

func (s *otoStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	n := min(len(p), max(0, s.bufferSize-s.occupancyLocked()))
	n -= n % s.frameSize
	if n > 0 {
		s.src.push(p[:n])
	}
	return n, nil
}

func (s *otoStream) Readable() int { return 0 }

func (s *otoStream) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("%w: read on a playback stream", ErrIllegalState)
}

func (s *otoStream) Occupancy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.occupancyLocked()
}

func (s *otoStream) occupancyLocked() int {
	queued, _ := s.src.stats()
	return queued + s.player.BufferedSize()
}

func (s *otoStream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	_, consumed := s.src.stats()
	played := consumed - int64(s.player.BufferedSize())
	return max(0, played) / int64(s.frameSize)
}

func (s *otoStream) Cork(corked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	if corked {
		s.player.Pause()
	} else {
		s.player.Play()
	}
	return nil
}

func (s *otoStream) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	s.src.reset()
	s.mu.Unlock()

	if s.req.OnProgress != nil {
		s.req.OnProgress()
	}
	return nil
}

func (s *otoStream) Volume() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	return s.player.Volume(), nil
}

func (s *otoStream) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: volume %.3f", ErrOutOfRange, v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	s.player.SetVolume(v)
	return nil
}

func (s *otoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	err := s.player.Close()
	s.mu.Unlock()

	s.driver.release(s)
	return err
}
