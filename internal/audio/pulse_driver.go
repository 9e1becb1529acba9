//go:build pulse

package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/audiolibrelab/soundlines/internal/config"
)

const pulseAvailable = true

// pulseVolumeNorm is 100% in the server's volume scale.
const pulseVolumeNorm = 0x10000

// PulseDriver talks the PulseAudio native protocol, which PipeWire also
// serves through pipewire-pulse. Streams carry signed 16-bit LE PCM; the
// server resamples any rate.
type PulseDriver struct {
	appName string
	latency time.Duration

	mu        sync.Mutex
	client    *pulse.Client
	connected bool
	streams   map[*pulseStream]struct{}
}

// NewPulseDriver creates a pulse driver; the server is contacted on Connect.
func NewPulseDriver(cfg *config.Config) (Driver, error) {
	d := &PulseDriver{
		appName: "soundlines",
		latency: 50 * time.Millisecond,
		streams: make(map[*pulseStream]struct{}),
	}
	if cfg != nil && cfg.Mixer.Name != "" {
		d.appName = cfg.Mixer.Name
	}
	return d, nil
}

func (d *PulseDriver) Name() string { return string(DriverTypePulse) }

func (d *PulseDriver) Supports(f Format) bool {
	if f.Validate() != nil {
		return false
	}
	return f.Encoding == EncodingPCMSigned && f.SampleSizeInBits == 16 && !f.BigEndian &&
		(f.Channels == 1 || f.Channels == 2)
}

func (d *PulseDriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return fmt.Errorf("%w: pulse driver already connected", ErrIllegalState)
	}
	c, err := pulse.NewClient(pulse.ClientApplicationName(d.appName))
	if err != nil {
		return fmt.Errorf("%w: connect to pulse server: %v", ErrDeviceUnavailable, err)
	}
	d.client = c
	d.connected = true
	slog.Info("Connected to pulse server", "application", d.appName)
	return nil
}

func (d *PulseDriver) Disconnect() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return fmt.Errorf("%w: pulse driver not connected", ErrIllegalState)
	}
	d.connected = false
	streams := make([]*pulseStream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	c := d.client
	d.client = nil
	d.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	c.Close()
	slog.Debug("Disconnected from pulse server", "closed_streams", len(streams))
	return nil
}

func (d *PulseDriver) connectedClient() (*pulse.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, fmt.Errorf("%w: pulse driver not connected", ErrDeviceUnavailable)
	}
	return d.client, nil
}

func (d *PulseDriver) Open(req StreamRequest) (Stream, error) {
	if !d.Supports(req.Format) {
		return nil, fmt.Errorf("%w: pulse streams carry 16-bit LE mono or stereo, got %s", ErrInvalidFormat, req.Format)
	}
	c, err := d.connectedClient()
	if err != nil {
		return nil, err
	}

	s := &pulseStream{
		driver: d,
		req:    req,
		queue:  newPCMQueue(req.BufferSize, req.Format.FrameSize),
	}
	rate := int(req.Format.SampleRate)
	latency := d.latency.Seconds()

	if req.Direction == Capture {
		layout := pulse.RecordMono
		if req.Format.Channels == 2 {
			layout = pulse.RecordStereo
		}
		s.rec, err = c.NewRecord(pulse.Int16Writer(s.capture),
			layout,
			pulse.RecordSampleRate(rate),
			pulse.RecordLatency(latency),
			pulse.RecordMediaName(req.Name))
	} else {
		layout := pulse.PlaybackMono
		if req.Format.Channels == 2 {
			layout = pulse.PlaybackStereo
		}
		s.play, err = c.NewPlayback(pulse.Int16Reader(s.render),
			layout,
			pulse.PlaybackSampleRate(rate),
			pulse.PlaybackLatency(latency),
			pulse.PlaybackMediaName(req.Name))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create %s stream: %v", ErrDeviceUnavailable, req.Direction, err)
	}

	d.mu.Lock()
	d.streams[s] = struct{}{}
	d.mu.Unlock()
	slog.Debug("pulse stream created", "name", req.Name, "direction", req.Direction, "buffer", req.BufferSize)
	return s, nil
}

// Ports lists the sinks and sources of the server.
func (d *PulseDriver) Ports() ([]Device, error) {
	c, err := d.connectedClient()
	if err != nil {
		return nil, err
	}
	sinks, err := c.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	sources, err := c.ListSources()
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	var devices []Device
	for _, s := range sinks {
		devices = append(devices, d.device(c, s.ID(), false))
	}
	for _, s := range sources {
		devices = append(devices, d.device(c, s.ID(), true))
	}
	return devices, nil
}

func (d *PulseDriver) device(c *pulse.Client, name string, source bool) Device {
	dev := Device{Name: name, Source: source}
	if v, err := portVolume(c, name, source); err == nil {
		dev.Volume = v
	} else {
		slog.Debug("Failed to read port volume", "port", name, "error", err)
	}
	return dev
}

func (d *PulseDriver) OpenPort(name string) (PortHandle, error) {
	devices, err := d.Ports()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name {
			return &pulsePort{driver: d, name: name, source: dev.Source}, nil
		}
	}
	return nil, fmt.Errorf("%w: port not found: %s", ErrDeviceUnavailable, name)
}

func (d *PulseDriver) release(s *pulseStream) {
	d.mu.Lock()
	delete(d.streams, s)
	d.mu.Unlock()
}

func channelVolumes(c *pulse.Client, name string, source bool) (proto.ChannelVolumes, error) {
	if source {
		var reply proto.GetSourceInfoReply
		err := c.RawRequest(&proto.GetSourceInfo{SourceIndex: proto.Undefined, SourceName: name}, &reply)
		return reply.ChannelVolumes, err
	}
	var reply proto.GetSinkInfoReply
	err := c.RawRequest(&proto.GetSinkInfo{SinkIndex: proto.Undefined, SinkName: name}, &reply)
	return reply.ChannelVolumes, err
}

// portVolume averages the channel volumes, capped at 100%.
func portVolume(c *pulse.Client, name string, source bool) (float64, error) {
	vols, err := channelVolumes(c, name, source)
	if err != nil {
		return 0, err
	}
	if len(vols) == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range vols {
		sum += float64(v)
	}
	return min(1, sum/float64(len(vols))/pulseVolumeNorm), nil
}

type pulsePort struct {
	driver *PulseDriver
	name   string
	source bool

	mu     sync.Mutex
	closed bool
}

func (p *pulsePort) Name() string { return p.name }

func (p *pulsePort) client() (*pulse.Client, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: port %s is closed", ErrIllegalState, p.name)
	}
	return p.driver.connectedClient()
}

func (p *pulsePort) Volume() (float64, error) {
	c, err := p.client()
	if err != nil {
		return 0, err
	}
	return portVolume(c, p.name, p.source)
}

func (p *pulsePort) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: volume %.3f", ErrOutOfRange, v)
	}
	c, err := p.client()
	if err != nil {
		return err
	}
	vols, err := channelVolumes(c, p.name, p.source)
	if err != nil {
		return err
	}
	for i := range vols {
		vols[i] = uint32(v * pulseVolumeNorm)
	}
	if p.source {
		return c.RawRequest(&proto.SetSourceVolume{SourceIndex: proto.Undefined, SourceName: p.name, ChannelVolumes: vols}, nil)
	}
	return c.RawRequest(&proto.SetSinkVolume{SinkIndex: proto.Undefined, SinkName: p.name, ChannelVolumes: vols}, nil)
}

func (p *pulsePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// pulseStream moves PCM between a pcmQueue and a server stream. The
// server pulls and pushes samples from the client goroutine.
type pulseStream struct {
	driver *PulseDriver
	req    StreamRequest
	queue  *pcmQueue
	play   *pulse.PlaybackStream
	rec    *pulse.RecordStream

	mu      sync.Mutex
	closed  bool
	running bool
}

func (s *pulseStream) progress() {
	if s.req.OnProgress != nil {
		s.req.OnProgress()
	}
}

// render feeds the playback stream; an empty queue plays silence.
func (s *pulseStream) render(out []int16) (int, error) {
	if s.queue.render(out) > 0 {
		s.progress()
	}
	return len(out), nil
}

func (s *pulseStream) capture(in []int16) (int, error) {
	s.queue.capture(in)
	s.progress()
	return len(in), nil
}

func (s *pulseStream) Writable() int {
	if s.isClosed() || s.req.Direction == Capture {
		return 0
	}
	return s.queue.free()
}

func (s *pulseStream) Write(p []byte) (int, error) {
	if s.isClosed() {
		return 0, fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	if s.req.Direction == Capture {
		return 0, fmt.Errorf("%w: write on a capture stream", ErrIllegalState)
	}
	return s.queue.push(p), nil
}

func (s *pulseStream) Readable() int {
	if s.isClosed() || s.req.Direction == Playback {
		return 0
	}
	return s.queue.len()
}

func (s *pulseStream) Read(p []byte) (int, error) {
	if s.isClosed() {
		return 0, fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	if s.req.Direction == Playback {
		return 0, fmt.Errorf("%w: read on a playback stream", ErrIllegalState)
	}
	return s.queue.pull(p), nil
}

func (s *pulseStream) Occupancy() int {
	if s.isClosed() || s.req.Direction == Capture {
		return 0
	}
	return s.queue.len()
}

func (s *pulseStream) Position() int64 {
	if s.isClosed() {
		return 0
	}
	return s.queue.frames()
}

func (s *pulseStream) Cork(corked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	if s.running == !corked {
		return nil
	}
	switch {
	case s.play != nil && corked:
		s.play.Stop()
	case s.play != nil:
		s.play.Start()
	case corked:
		s.rec.Stop()
	default:
		s.rec.Start()
	}
	s.running = !corked
	return nil
}

func (s *pulseStream) Flush() error {
	if s.isClosed() {
		return fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	s.queue.reset()
	s.progress()
	return nil
}

func (s *pulseStream) Volume() (float64, error) {
	if s.isClosed() {
		return 0, fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	return s.queue.gainValue(), nil
}

func (s *pulseStream) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: volume %.3f", ErrOutOfRange, v)
	}
	if s.isClosed() {
		return fmt.Errorf("%w: stream closed", ErrIllegalState)
	}
	s.queue.setGain(v)
	return nil
}

func (s *pulseStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *pulseStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.play != nil {
		s.play.Close()
	} else {
		s.rec.Close()
	}
	s.driver.release(s)
	s.progress()
	return nil
}
