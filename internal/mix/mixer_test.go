package mix

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/config"
	"github.com/audiolibrelab/soundlines/internal/event"
	"github.com/audiolibrelab/soundlines/internal/line"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Driver.Name = "null"
	cfg.Driver.Speed = 20
	cfg.Driver.TickMs = 2
	return cfg
}

func newMixer(t *testing.T) (*Mixer, *audio.NullDriver) {
	t.Helper()
	cfg := testConfig()
	d := audio.NewNullDriver(cfg)
	m := New(cfg, d)
	t.Cleanup(func() {
		if m.IsOpen() {
			_ = m.Close()
		}
	})
	return m, d
}

func openMixer(t *testing.T) (*Mixer, *audio.NullDriver) {
	t.Helper()
	m, d := newMixer(t)
	require.NoError(t, m.Open())
	return m, d
}

func handles(lines []line.Line) []line.Handle {
	out := make([]line.Handle, len(lines))
	for i, l := range lines {
		out[i] = l.Handle()
	}
	return out
}

type mixerEvents struct {
	mu    sync.Mutex
	types []event.Type
}

func (e *mixerEvents) Update(ev Event) {
	e.mu.Lock()
	e.types = append(e.types, ev.Type)
	e.mu.Unlock()
}

func TestMixerOpenClose(t *testing.T) {
	m, _ := newMixer(t)
	events := &mixerEvents{}
	m.AddListener(events)

	assert.False(t, m.IsOpen())
	require.NoError(t, m.Open())
	assert.True(t, m.IsOpen())
	assert.ErrorIs(t, m.Open(), audio.ErrIllegalState)
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Close(), audio.ErrIllegalState)

	assert.Equal(t, []event.Type{event.Open, event.Close}, events.types)
	assert.Equal(t, "Soundlines", m.Info().Name)
}

func TestOpenSourceLinesInAcquisitionOrder(t *testing.T) {
	m, _ := openMixer(t)
	first, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	second, err := m.SourceDataLine(nil)
	require.NoError(t, err)

	// Opened in reverse, listed in acquisition order.
	require.NoError(t, second.Open())
	require.NoError(t, first.Open())
	assert.Equal(t, []line.Handle{first.Handle(), second.Handle()}, handles(m.OpenSourceLines()))

	require.NoError(t, first.Close())
	assert.Equal(t, []line.Handle{second.Handle()}, handles(m.OpenSourceLines()))
	require.NoError(t, second.Close())
	assert.Empty(t, m.OpenSourceLines())
}

func TestOpenLinesSplitBySide(t *testing.T) {
	m, _ := openMixer(t)
	src, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	tgt, err := m.TargetDataLine(nil)
	require.NoError(t, err)
	clip, err := m.Clip()
	require.NoError(t, err)
	mic, err := m.Port("MIC")
	require.NoError(t, err)

	require.NoError(t, src.Open())
	require.NoError(t, tgt.Open())
	require.NoError(t, clip.OpenClip(audio.DefaultFormat(), make([]byte, 4000)))
	require.NoError(t, mic.Open())

	assert.Equal(t, []line.Handle{src.Handle(), clip.Handle(), mic.Handle()}, handles(m.OpenSourceLines()))
	assert.Equal(t, []line.Handle{tgt.Handle()}, handles(m.OpenTargetLines()))
	assert.Len(t, m.OpenLines(), 4)
}

func TestReopenedLineIsNotDuplicated(t *testing.T) {
	m, _ := openMixer(t)
	l, err := m.SourceDataLine(nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Open())
		assert.Len(t, m.OpenSourceLines(), 1)
		require.NoError(t, l.Close())
		assert.Empty(t, m.OpenSourceLines())
	}
}

func TestLineOnClosedMixerFailsOpen(t *testing.T) {
	m, _ := newMixer(t)
	l, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Open(), audio.ErrIllegalState)
	assert.False(t, l.IsOpen())
}

func TestEveryLineKindOnClosedMixerFailsOpen(t *testing.T) {
	m, d := newMixer(t)
	clip, err := m.Clip()
	require.NoError(t, err)
	mic, err := m.Port("MIC")
	require.NoError(t, err)
	tgt, err := m.TargetDataLine(nil)
	require.NoError(t, err)

	assert.ErrorIs(t, clip.OpenClip(audio.DefaultFormat(), make([]byte, 4000)), audio.ErrIllegalState)
	assert.ErrorIs(t, mic.Open(), audio.ErrIllegalState)
	assert.ErrorIs(t, tgt.Open(), audio.ErrIllegalState)
	assert.Zero(t, d.ActiveStreams())

	// Closing again leaves lines refused the same way.
	require.NoError(t, m.Open())
	require.NoError(t, m.Close())
	assert.ErrorIs(t, tgt.Open(), audio.ErrIllegalState)
	assert.Zero(t, d.ActiveStreams())
}

func TestOpenDuringCloseFailsWithIllegalState(t *testing.T) {
	m, _ := openMixer(t)
	l, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	require.NoError(t, l.Open())

	closing := make(chan struct{})
	release := make(chan struct{})
	l.AddListener(event.Func(func(e line.Event) {
		if e.Type == event.Close {
			close(closing)
			<-release
		}
	}))

	done := make(chan error, 1)
	go func() { done <- m.Close() }()
	<-closing

	assert.ErrorIs(t, m.Open(), audio.ErrIllegalState)
	assert.False(t, m.IsOpen())
	close(release)
	require.NoError(t, <-done)

	// Once Close has returned the mixer can be opened again.
	require.NoError(t, m.Open())
	assert.True(t, m.IsOpen())
}

func TestMixerCloseClosesLines(t *testing.T) {
	m, d := openMixer(t)
	src, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	tgt, err := m.TargetDataLine(nil)
	require.NoError(t, err)
	require.NoError(t, src.Open())
	require.NoError(t, tgt.Open())
	require.NoError(t, src.Start())

	require.NoError(t, m.Close())
	assert.False(t, src.IsOpen())
	assert.False(t, tgt.IsOpen())
	assert.Empty(t, m.OpenLines())
	assert.Equal(t, 0, d.ActiveStreams())
}

func TestLineInfo(t *testing.T) {
	m, _ := newMixer(t)

	var kinds []line.Kind
	for _, info := range m.SourceLineInfo() {
		kinds = append(kinds, info.Kind)
		assert.True(t, info.Source)
	}
	assert.Equal(t, []line.Kind{line.SourceDataLine, line.ClipLine, line.PortLine}, kinds)

	target := m.TargetLineInfo()
	require.Len(t, target, 2)
	assert.Equal(t, line.TargetDataLine, target[0].Kind)
	assert.Equal(t, "SPEAKER", target[1].Name)
}

func TestIsLineSupportedWithoutOpening(t *testing.T) {
	m, _ := newMixer(t)
	s16 := audio.DefaultFormat()
	f64 := audio.Format{Encoding: audio.EncodingPCMFloat, SampleRate: 8000, SampleSizeInBits: 64, Channels: 1, FrameSize: 8, FrameRate: 8000}

	tests := []struct {
		name string
		desc line.Descriptor
		want bool
	}{
		{"source any format", line.Descriptor{Kind: line.SourceDataLine}, true},
		{"source s16", line.Descriptor{Kind: line.SourceDataLine, Format: &s16}, true},
		{"target s16", line.Descriptor{Kind: line.TargetDataLine, Format: &s16}, true},
		{"clip", line.Descriptor{Kind: line.ClipLine}, true},
		{"float64 unsupported", line.Descriptor{Kind: line.SourceDataLine, Format: &f64}, false},
		{"buffer too large", line.Descriptor{Kind: line.SourceDataLine, BufferSize: 1 << 30}, false},
		{"known port", line.Descriptor{Kind: line.PortLine, Name: "SPEAKER"}, true},
		{"unknown port", line.Descriptor{Kind: line.PortLine, Name: "HDMI"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.IsLineSupported(tt.desc))
		})
	}
	assert.False(t, m.IsOpen())
}

func TestUnsupportedLineIsRejected(t *testing.T) {
	m, _ := newMixer(t)
	_, err := m.Port("HDMI")
	assert.ErrorIs(t, err, audio.ErrIllegalArgument)
}

func TestDescriptorFormatBecomesDefault(t *testing.T) {
	m, _ := openMixer(t)
	f := audio.NewPCM(22050, 8, 1, false, false)
	l, err := m.Line(line.Descriptor{Kind: line.SourceDataLine, Format: &f, BufferSize: 10000})
	require.NoError(t, err)
	src := l.(*line.SourceLine)

	assert.Equal(t, line.DefaultBufferSize, src.BufferSize())
	require.NoError(t, src.Open())
	assert.Equal(t, f, src.Format())
	assert.Equal(t, line.DefaultBufferSize, src.BufferSize())
}

func TestLineListenerTap(t *testing.T) {
	m, _ := openMixer(t)
	var mu sync.Mutex
	var seen []event.Type
	m.AddLineListener(event.Func(func(e line.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}))

	l, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	require.NoError(t, l.Open())
	require.NoError(t, l.Start())
	require.NoError(t, l.Stop())
	require.NoError(t, l.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []event.Type{event.Open, event.Start, event.Stop, event.Close}, seen)
}

func TestSynchronizationUnsupported(t *testing.T) {
	m, _ := openMixer(t)
	a, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	b, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	lines := []line.Line{a, b}

	assert.False(t, m.IsSynchronizationSupported(lines, true))
	assert.False(t, m.IsSynchronizationSupported(lines, false))
	assert.ErrorIs(t, m.Synchronize(lines, true), audio.ErrIllegalArgument)
	assert.ErrorIs(t, m.Unsynchronize(lines), audio.ErrIllegalArgument)
}

func TestStreamLimitRefusesOpen(t *testing.T) {
	cfg := testConfig()
	cfg.Driver.MaxStreams = 1
	m := New(cfg, audio.NewNullDriver(cfg))
	require.NoError(t, m.Open())
	defer m.Close()

	a, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	b, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	require.NoError(t, a.Open())
	assert.ErrorIs(t, b.Open(), audio.ErrDeviceUnavailable)
	assert.Len(t, m.OpenLines(), 1)
}

func TestConcurrentOpenClose(t *testing.T) {
	m, _ := openMixer(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := m.SourceDataLine(nil)
			if !assert.NoError(t, err) {
				return
			}
			for j := 0; j < 10; j++ {
				if assert.NoError(t, l.Open()) {
					assert.NoError(t, l.Close())
				}
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, m.OpenLines())
}

func TestStatus(t *testing.T) {
	m, _ := openMixer(t)
	l, err := m.SourceDataLine(nil)
	require.NoError(t, err)
	require.NoError(t, l.OpenFormat(audio.DefaultFormat(), 4000))

	s := m.Status(true)
	assert.True(t, s.Open)
	assert.Equal(t, "null", s.Driver)
	assert.Equal(t, 1, s.OpenLines)
	assert.False(t, s.Sync)
	require.Len(t, s.Lines, 1)
	assert.Equal(t, line.Stopped, s.Lines[0].State)
	assert.Equal(t, 4000, s.Lines[0].BufferSize)
	assert.EqualValues(t, line.MaxVolume, s.Lines[0].Volume)
}
