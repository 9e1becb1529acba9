package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/config"
	"github.com/audiolibrelab/soundlines/internal/line"
	"github.com/audiolibrelab/soundlines/internal/mix"
	"github.com/audiolibrelab/soundlines/internal/play"
)

// Service represents the core soundlines service interface
type Service interface {
	// Lifecycle of the mixer
	Open() error
	Close() error
	Mixer() *mix.Mixer

	// Playback operations
	PlayFile(ctx context.Context, path string) error
	PlayTone(ctx context.Context, req ToneRequest) error
	StartTone(req ToneRequest) (*Session, error)

	// Capture operations
	Record(ctx context.Context, name string, d time.Duration) (*Session, error)

	// Information operations
	GetStatus() Status
	Catalog() Catalog
	GetSessions() []Session
	GetLastError() string

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config
	Format() audio.Format
}

// ToneRequest describes a generated test tone played through a clip.
type ToneRequest struct {
	Frequency float64       `json:"frequency"`
	Duration  time.Duration `json:"duration"`
	Amplitude float64       `json:"amplitude"`
	Loops     int           `json:"loops"`
}

// Session is a playback or capture run started through the service.
type Session struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	StartTime  time.Time `json:"start_time"`
	OutputFile string    `json:"output_file,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
}

// Status combines the mixer status with service state.
type Status struct {
	Mixer     mix.Status `json:"mixer"`
	Profile   string     `json:"profile"`
	Sessions  []Session  `json:"sessions"`
	LastError string     `json:"last_error,omitempty"`
}

// Catalog lists the line kinds a mixer offers.
type Catalog struct {
	Source []line.Info `json:"source" yaml:"source"`
	Target []line.Info `json:"target" yaml:"target"`
}

// SoundlinesService is the main service implementation
type SoundlinesService struct {
	configFile string

	mu       sync.RWMutex
	cfg      *config.Config
	mixer    *mix.Mixer
	sessions map[uuid.UUID]*running

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

type running struct {
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a service over the driver selected by cfg.
func New(cfg *config.Config, configFile string) (Service, error) {
	m, err := newMixer(cfg)
	if err != nil {
		return nil, err
	}
	return &SoundlinesService{
		configFile: configFile,
		cfg:        cfg,
		mixer:      m,
		sessions:   make(map[uuid.UUID]*running),
	}, nil
}

func newMixer(cfg *config.Config) (*mix.Mixer, error) {
	driver, err := audio.NewDriver(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}
	return mix.New(cfg, driver), nil
}

func (s *SoundlinesService) Open() error {
	return s.Mixer().Open()
}

// Close cancels running sessions, waits for them and closes the mixer.
func (s *SoundlinesService) Close() error {
	s.mu.Lock()
	runs := make([]*running, 0, len(s.sessions))
	for _, r := range s.sessions {
		r.cancel()
		runs = append(runs, r)
	}
	m := s.mixer
	s.mu.Unlock()

	for _, r := range runs {
		<-r.done
	}
	if !m.IsOpen() {
		return nil
	}
	return m.Close()
}

func (s *SoundlinesService) Mixer() *mix.Mixer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mixer
}

// Format returns the raw audio format used for files and tones.
func (s *SoundlinesService) Format() audio.Format {
	cfg := s.GetConfig()
	return audio.NewPCM(float64(cfg.Driver.SampleRate), 16, cfg.Driver.Channels, true, false)
}

// PlayFile plays a raw PCM file in the service format.
func (s *SoundlinesService) PlayFile(ctx context.Context, path string) error {
	s.clearLastError()
	p := play.New(s.Mixer(), s.Format(), s.GetConfig().Lines.DefaultBufferSize)
	if _, err := p.PlayFile(ctx, path); err != nil && !errors.Is(err, context.Canceled) {
		s.setLastError(fmt.Sprintf("Playback failed: %v", err))
		return err
	}
	return nil
}

// PlayTone renders a tone and plays it through a clip.
func (s *SoundlinesService) PlayTone(ctx context.Context, req ToneRequest) error {
	if err := req.checkLoops(); err != nil {
		return err
	}
	f := s.Format()
	if req.Amplitude == 0 {
		req.Amplitude = 0.5
	}
	data, err := play.Tone(f, req.Frequency, req.Duration, req.Amplitude)
	if err != nil {
		return err
	}
	opts := play.ClipOptions{LoopEnd: -1, Count: req.Loops}
	err = play.New(s.Mixer(), f, 0).PlayClip(ctx, data, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.setLastError(fmt.Sprintf("Tone failed: %v", err))
		return err
	}
	return nil
}

func (req ToneRequest) checkLoops() error {
	if req.Loops < line.LoopContinuously {
		return fmt.Errorf("%w: loop count %d", audio.ErrIllegalArgument, req.Loops)
	}
	return nil
}

// StartTone plays a tone in the background. It ends on its own or when
// the service closes.
func (s *SoundlinesService) StartTone(req ToneRequest) (*Session, error) {
	if err := req.checkLoops(); err != nil {
		return nil, err
	}
	if _, err := play.Tone(s.Format(), req.Frequency, req.Duration, max(req.Amplitude, 0)); err != nil {
		return nil, err
	}
	return s.spawn("tone", func(ctx context.Context) error {
		return s.PlayTone(ctx, req)
	})
}

// Record captures into a raw file named after name in the current
// directory until ctx is done or d elapses.
func (s *SoundlinesService) Record(ctx context.Context, name string, d time.Duration) (*Session, error) {
	clean := play.CleanFileName(name)
	if clean == "" {
		return nil, fmt.Errorf("invalid recording name: %q", name)
	}
	path, err := filepath.Abs(clean + ".raw")
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	defer f.Close()

	cfg := s.GetConfig()
	session := Session{ID: uuid.New(), Kind: "record", StartTime: time.Now(), OutputFile: path}
	n, err := play.NewRecorder(s.Mixer(), s.Format(), cfg.Lines.DefaultBufferSize).Record(ctx, f, d)
	session.Bytes = n
	if err != nil {
		s.setLastError(fmt.Sprintf("Recording failed: %v", err))
		return &session, err
	}
	slog.Info("Recording saved", "file", path, "bytes", n)
	return &session, nil
}

func (s *SoundlinesService) spawn(kind string, fn func(context.Context) error) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{
		session: Session{ID: uuid.New(), Kind: kind, StartTime: time.Now()},
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[r.session.ID] = r
	s.mu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Debug("Session failed", "id", r.session.ID, "kind", kind, "error", err)
		}
		s.mu.Lock()
		delete(s.sessions, r.session.ID)
		s.mu.Unlock()
	}()

	session := r.session
	return &session, nil
}

// GetSessions returns the background sessions still running.
func (s *SoundlinesService) GetSessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, r := range s.sessions {
		out = append(out, r.session)
	}
	return out
}

func (s *SoundlinesService) GetStatus() Status {
	return Status{
		Mixer:     s.Mixer().Status(false),
		Profile:   s.GetConfig().Profile,
		Sessions:  s.GetSessions(),
		LastError: s.GetLastError(),
	}
}

func (s *SoundlinesService) Catalog() Catalog {
	m := s.Mixer()
	return Catalog{Source: m.SourceLineInfo(), Target: m.TargetLineInfo()}
}

// LoadProfile switches to another configuration profile. The mixer must
// be closed.
func (s *SoundlinesService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}
	m, err := newMixer(newCfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mixer.IsOpen() {
		return fmt.Errorf("%w: close the mixer before switching profile", audio.ErrIllegalState)
	}
	s.cfg = newCfg
	s.mixer = m
	return nil
}

// GetConfig returns the current configuration
func (s *SoundlinesService) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *SoundlinesService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *SoundlinesService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

func (s *SoundlinesService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
