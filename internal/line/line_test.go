package line

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/event"
)

func TestOpenCloseNotifiesEveryListenerOnce(t *testing.T) {
	l := newSource(t, newDriver(t))
	listeners := []*counter{newCounter(), newCounter(), newCounter()}
	for _, c := range listeners {
		l.AddListener(c)
	}

	require.NoError(t, l.Open())
	assert.True(t, l.IsOpen())
	assert.Equal(t, Stopped, l.State())
	require.NoError(t, l.Close())
	assert.False(t, l.IsOpen())

	for i, c := range listeners {
		assert.Equal(t, 1, c.get(event.Open), "listener %d", i)
		assert.Equal(t, 1, c.get(event.Close), "listener %d", i)
		assert.Equal(t, []event.Type{event.Open, event.Close}, c.sequence(), "listener %d", i)
	}
}

func TestListenerObservesOpenState(t *testing.T) {
	l := newSource(t, newDriver(t))
	var sawOpen, sawClosed bool
	l.AddListener(event.Func(func(e Event) {
		switch e.Type {
		case event.Open:
			sawOpen = e.Line.IsOpen()
		case event.Close:
			sawClosed = !e.Line.IsOpen()
		}
	}))

	require.NoError(t, l.Open())
	require.NoError(t, l.Close())
	assert.True(t, sawOpen)
	assert.True(t, sawClosed)
}

func TestOpenDeliversWhileAnotherGoroutineIsDelivering(t *testing.T) {
	l := newSource(t, newDriver(t))
	require.NoError(t, l.Open())

	var once sync.Once
	closing := make(chan struct{})
	var opens atomic.Int32
	var sawOpen atomic.Bool
	l.AddListener(event.Func(func(e Event) {
		switch e.Type {
		case event.Close:
			once.Do(func() {
				close(closing)
				time.Sleep(100 * time.Millisecond)
			})
		case event.Open:
			opens.Add(1)
			sawOpen.Store(e.Line.IsOpen())
		}
	}))

	closed := async(func() { assert.NoError(t, l.Close()) })
	<-closing
	require.NoError(t, l.Open())
	assert.EqualValues(t, 1, opens.Load(), "OPEN is delivered before Open returns")
	assert.True(t, sawOpen.Load())

	requireReturns(t, closed, time.Second, "close")
	require.NoError(t, l.Close())
}

func TestDoubleOpenAndClose(t *testing.T) {
	l := newSource(t, newDriver(t))
	c := newCounter()
	l.AddListener(c)

	require.NoError(t, l.Open())
	assert.ErrorIs(t, l.Open(), audio.ErrIllegalState)
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Close(), audio.ErrIllegalState)

	assert.Equal(t, 1, c.get(event.Open))
	assert.Equal(t, 1, c.get(event.Close))
}

func TestReopenAfterClose(t *testing.T) {
	d := newDriver(t)
	l := newSource(t, d)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Open())
		assert.Equal(t, 1, d.ActiveStreams())
		require.NoError(t, l.Close())
		assert.Equal(t, 0, d.ActiveStreams())
	}
}

func TestStartStopEvents(t *testing.T) {
	l := newSource(t, newDriver(t))
	c := newCounter()
	l.AddListener(c)
	require.NoError(t, l.Open())

	require.NoError(t, l.Start())
	assert.True(t, l.IsActive())
	require.NoError(t, l.Start())
	require.NoError(t, l.Stop())
	assert.False(t, l.IsActive())
	require.NoError(t, l.Stop())

	assert.Equal(t, 1, c.get(event.Start))
	assert.Equal(t, 1, c.get(event.Stop))
}

func TestCloseStartedLineEmitsOnlyClose(t *testing.T) {
	l := newSource(t, newDriver(t))
	c := newCounter()
	l.AddListener(c)
	require.NoError(t, l.Open())
	require.NoError(t, l.Start())
	require.NoError(t, l.Close())

	assert.Equal(t, []event.Type{event.Open, event.Start, event.Close}, c.sequence())
}

func TestStartStopRequireOpenLine(t *testing.T) {
	l := newSource(t, newDriver(t))
	assert.ErrorIs(t, l.Start(), audio.ErrIllegalState)
	assert.ErrorIs(t, l.Stop(), audio.ErrIllegalState)
	assert.ErrorIs(t, l.Drain(), audio.ErrIllegalState)
	assert.ErrorIs(t, l.Flush(), audio.ErrIllegalState)
	assert.Equal(t, 0, l.Available())
}

func TestConcurrentStartStopAlternates(t *testing.T) {
	l := newSource(t, newDriver(t))
	c := newCounter()
	l.AddListener(c)
	require.NoError(t, l.Open())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = l.Start()
				_ = l.Stop()
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	seq := c.sequence()
	require.GreaterOrEqual(t, len(seq), 2)
	assert.Equal(t, event.Open, seq[0])
	assert.Equal(t, event.Close, seq[len(seq)-1])
	for i := 1; i < len(seq)-1; i++ {
		want := event.Start
		if i%2 == 0 {
			want = event.Stop
		}
		assert.Equal(t, want, seq[i], "event %d", i)
	}
	assert.Equal(t, c.get(event.Start), c.get(event.Stop))
}

func TestUnsupportedFormatFailsOpen(t *testing.T) {
	d := newDriver(t)
	l := newSource(t, d)
	c := newCounter()
	l.AddListener(c)

	bad := audio.Format{Encoding: audio.EncodingPCMFloat, SampleRate: 8000, SampleSizeInBits: 64, Channels: 1, FrameSize: 8, FrameRate: 8000}
	assert.ErrorIs(t, l.OpenFormat(bad, 0), audio.ErrIllegalArgument)
	assert.False(t, l.IsOpen())
	assert.Equal(t, 0, c.get(event.Open))
	assert.Equal(t, 0, d.ActiveStreams())
}

func TestBufferSize(t *testing.T) {
	l := newSource(t, newDriver(t))
	assert.Equal(t, DefaultBufferSize, l.BufferSize())

	require.NoError(t, l.OpenFormat(u8, 10000))
	assert.Equal(t, 10000, l.BufferSize())
	assert.Equal(t, 10000, l.Available())
	require.NoError(t, l.Close())

	require.NoError(t, l.Open())
	assert.Equal(t, DefaultBufferSize, l.BufferSize())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.OpenFormat(u8, -1), audio.ErrIllegalArgument)
}

func TestBufferSizeIsFrameAligned(t *testing.T) {
	l := newSource(t, newDriver(t))
	s16 := audio.NewPCM(8000, 16, 2, true, false)

	require.NoError(t, l.OpenFormat(s16, 1001))
	assert.Equal(t, 1000, l.BufferSize())
	assert.Equal(t, s16, l.Format())
}

func TestWriteArgumentErrors(t *testing.T) {
	l := NewSourceLine(Options{Info: sourceInfo(), Driver: newDriver(t), Format: audio.NewPCM(8000, 16, 2, true, false)})
	buf := make([]byte, 64)

	_, err := l.Write(buf, 0, 4)
	assert.ErrorIs(t, err, audio.ErrIllegalState)

	require.NoError(t, l.Open())
	defer l.Close()

	_, err = l.Write(buf, 0, 3)
	assert.ErrorIs(t, err, audio.ErrIllegalArgument)
	_, err = l.Write(buf, -4, 4)
	assert.ErrorIs(t, err, audio.ErrOutOfBounds)
	_, err = l.Write(buf, 62, 4)
	assert.ErrorIs(t, err, audio.ErrOutOfBounds)
	assert.ErrorIs(t, audio.ErrOutOfBounds, audio.ErrIllegalArgument)

	n, err := l.Write(buf, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWriteBlocksUntilClose(t *testing.T) {
	l := newSource(t, newDriver(t))
	require.NoError(t, l.OpenFormat(u8, 1000))

	var n int
	var err error
	done := async(func() { n, err = l.Write(make([]byte, 2000), 0, 2000) })
	requireBlocked(t, done, "write into a full stopped line")

	require.NoError(t, l.Close())
	requireReturns(t, done, time.Second, "write")
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
}

func TestWriteReturnsOnStop(t *testing.T) {
	l := newSource(t, newDriver(t))
	require.NoError(t, l.OpenFormat(u8, 1000))

	var n int
	done := async(func() { n, _ = l.Write(make([]byte, 3000), 0, 3000) })
	requireBlocked(t, done, "write into a full stopped line")

	// Stopping a stopped line still releases blocked writers.
	require.NoError(t, l.Stop())
	requireReturns(t, done, time.Second, "write")
	assert.Equal(t, 1000, n)
	assert.True(t, l.IsOpen())
}

func TestWriteCompletesWhileStarted(t *testing.T) {
	l := newSource(t, newDriver(t))
	require.NoError(t, l.OpenFormat(u8, 1000))
	require.NoError(t, l.Start())

	var n int
	done := async(func() { n, _ = l.Write(make([]byte, 5000), 0, 5000) })
	requireReturns(t, done, time.Second, "write")
	assert.Equal(t, 5000, n)

	requireReturns(t, async(func() { _ = l.Drain() }), time.Second, "drain")
	assert.EqualValues(t, 5000, l.FramePosition())
}

func TestDrainBlocksUntilClose(t *testing.T) {
	l := newSource(t, newDriver(t))
	require.NoError(t, l.OpenFormat(u8, 1000))
	n, err := l.Write(make([]byte, 500), 0, 500)
	require.NoError(t, err)
	require.Equal(t, 500, n)

	done := async(func() { _ = l.Drain() })
	requireBlocked(t, done, "drain of a stopped line holding audio")

	require.NoError(t, l.Close())
	requireReturns(t, done, time.Second, "drain")
}

func TestDrainReturnsOnStop(t *testing.T) {
	l := newSource(t, newDriver(t))
	require.NoError(t, l.OpenFormat(u8, 1000))
	_, err := l.Write(make([]byte, 500), 0, 500)
	require.NoError(t, err)

	done := async(func() { _ = l.Drain() })
	requireBlocked(t, done, "drain of a stopped line holding audio")
	require.NoError(t, l.Stop())
	requireReturns(t, done, time.Second, "drain")
}

func TestDrainEmptyLineReturnsImmediately(t *testing.T) {
	l := newSource(t, newDriver(t))
	require.NoError(t, l.Open())
	requireReturns(t, async(func() { _ = l.Drain() }), 100*time.Millisecond, "drain")
}

func TestFlushAndDrainAreIdempotent(t *testing.T) {
	l := newSource(t, newDriver(t))
	c := newCounter()
	l.AddListener(c)
	require.NoError(t, l.OpenFormat(u8, 1000))
	_, err := l.Write(make([]byte, 800), 0, 800)
	require.NoError(t, err)

	require.NoError(t, l.Flush())
	require.NoError(t, l.Flush())
	assert.Equal(t, 1000, l.Available())
	require.NoError(t, l.Drain())
	require.NoError(t, l.Drain())

	assert.Equal(t, []event.Type{event.Open}, c.sequence())
	assert.EqualValues(t, 0, l.FramePosition())
}

func TestFramePosition(t *testing.T) {
	l := newSource(t, newDriver(t))
	require.NoError(t, l.OpenFormat(u8, 4000))
	require.NoError(t, l.Start())

	_, err := l.Write(make([]byte, 4000), 0, 4000)
	require.NoError(t, err)
	require.NoError(t, l.Drain())
	assert.EqualValues(t, 4000, l.FramePosition())
	assert.EqualValues(t, 500000, l.MicrosecondPosition())

	var closedAt atomic.Int64
	l.AddListener(event.Func(func(e Event) {
		if e.Type == event.Close {
			closedAt.Store(e.FramePosition)
		}
	}))
	require.NoError(t, l.Close())
	assert.EqualValues(t, 4000, closedAt.Load())
	assert.EqualValues(t, 0, l.FramePosition())
	assert.EqualValues(t, 0, l.MicrosecondPosition())

	require.NoError(t, l.OpenFormat(u8, 4000))
	assert.EqualValues(t, 0, l.FramePosition())
}

func TestRegistrarRefusalFailsOpen(t *testing.T) {
	d := newDriver(t)
	reg := &fakeRegistrar{refuse: true}
	l := NewSourceLine(Options{Info: sourceInfo(), Driver: d, Registrar: reg})
	c := newCounter()
	l.AddListener(c)

	assert.Error(t, l.Open())
	assert.False(t, l.IsOpen())
	assert.Equal(t, 0, c.get(event.Open))
	assert.Equal(t, 0, d.ActiveStreams())
}

func TestClosedRegistrarFailsOpenBeforeDriver(t *testing.T) {
	d := newDriver(t)
	require.NoError(t, d.Disconnect())
	reg := &fakeRegistrar{closed: true}

	l := NewSourceLine(Options{Info: sourceInfo(), Driver: d, Registrar: reg})
	assert.ErrorIs(t, l.Open(), audio.ErrIllegalState)
	p := NewPort(Options{Info: PortInfo(audio.Device{Name: "MIC"}), Driver: d, Registrar: reg})
	assert.ErrorIs(t, p.Open(), audio.ErrIllegalState)
	c := NewClip(Options{Info: clipInfo(), Driver: d, Registrar: reg})
	assert.ErrorIs(t, c.OpenClip(u8, make([]byte, 80)), audio.ErrIllegalState)

	assert.False(t, l.IsOpen() || p.IsOpen() || c.IsOpen())
	assert.Zero(t, reg.count())
}

func TestRegistrarTracksOpenLines(t *testing.T) {
	d := newDriver(t)
	reg := &fakeRegistrar{}
	a := NewSourceLine(Options{Info: sourceInfo(), Driver: d, Registrar: reg})
	b := NewTargetLine(Options{Info: targetInfo(), Driver: d, Registrar: reg})

	require.NoError(t, a.Open())
	require.NoError(t, b.Open())
	assert.Equal(t, 2, reg.count())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, reg.count())
	require.NoError(t, b.Close())
	assert.Equal(t, 0, reg.count())
}

func TestRemovedListenerIsNotNotified(t *testing.T) {
	l := newSource(t, newDriver(t))
	kept, removed := newCounter(), newCounter()
	l.AddListener(kept)
	l.AddListener(removed)
	l.RemoveListener(removed)

	require.NoError(t, l.Open())
	require.NoError(t, l.Close())
	assert.Equal(t, 2, len(kept.sequence()))
	assert.Empty(t, removed.sequence())
}

func TestDriverRefusalFailsOpen(t *testing.T) {
	d := newDriver(t)
	require.NoError(t, d.Disconnect())
	l := NewSourceLine(Options{Info: sourceInfo(), Driver: d})

	assert.ErrorIs(t, l.Open(), audio.ErrDeviceUnavailable)
	assert.False(t, l.IsOpen())
	require.NoError(t, d.Connect())
}

func TestHandlesAreOrdered(t *testing.T) {
	d := newDriver(t)
	a := NewSourceLine(Options{Info: sourceInfo(), Driver: d})
	b := NewSourceLine(Options{Info: sourceInfo(), Driver: d})
	assert.Less(t, a.Handle().Seq, b.Handle().Seq)
	assert.NotEqual(t, a.Handle().ID, b.Handle().ID)
}

func TestTargetLineRead(t *testing.T) {
	l := NewTargetLine(Options{Info: targetInfo(), Driver: newDriver(t), Format: u8})
	require.NoError(t, l.OpenFormat(u8, 1000))
	defer l.Close()
	require.NoError(t, l.Start())

	buf := make([]byte, 2000)
	var n int
	var err error
	requireReturns(t, async(func() { n, err = l.Read(buf, 0, len(buf)) }), time.Second, "read")
	require.NoError(t, err)
	assert.Equal(t, 2000, n)
	for _, b := range buf {
		require.Equal(t, byte(0x80), b)
	}
	assert.GreaterOrEqual(t, l.FramePosition(), int64(2000))
	require.NoError(t, l.Drain())
}

func TestTargetLineReadReturnsOnClose(t *testing.T) {
	l := NewTargetLine(Options{Info: targetInfo(), Driver: newDriver(t), Format: u8})
	require.NoError(t, l.OpenFormat(u8, 1000))

	var n int
	done := async(func() { n, _ = l.Read(make([]byte, 100), 0, 100) })
	requireBlocked(t, done, "read from a stopped capture line")
	require.NoError(t, l.Close())
	requireReturns(t, done, time.Second, "read")
	assert.Equal(t, 0, n)
}

func TestVolumeControl(t *testing.T) {
	l := newSource(t, newDriver(t))
	ctl, err := l.Control(VolumeKind)
	require.NoError(t, err)
	vol := ctl.(*VolumeControl)
	assert.Len(t, l.Controls(), 1)

	assert.EqualValues(t, MaxVolume, vol.Value())
	assert.ErrorIs(t, vol.SetValue(1000), audio.ErrIllegalState)
	_, err = vol.Refresh()
	assert.ErrorIs(t, err, audio.ErrIllegalState)

	require.NoError(t, l.Open())
	assert.ErrorIs(t, vol.SetValue(-1), audio.ErrOutOfRange)
	assert.ErrorIs(t, vol.SetValue(MaxVolume+1), audio.ErrOutOfRange)

	require.NoError(t, vol.SetValue(16384))
	assert.EqualValues(t, 16384, vol.Value())
	v, err := vol.Refresh()
	require.NoError(t, err)
	assert.InDelta(t, 16384, v, 0.5)

	require.NoError(t, l.Close())
	assert.InDelta(t, 16384, vol.Value(), 0.5)
}

func TestUnknownControl(t *testing.T) {
	l := newSource(t, newDriver(t))
	_, err := l.Control("Balance")
	assert.ErrorIs(t, err, audio.ErrIllegalArgument)
}

func TestPortLifecycle(t *testing.T) {
	d := newDriver(t)
	devices, err := d.Ports()
	require.NoError(t, err)
	require.NotEmpty(t, devices)

	p := NewPort(Options{Info: PortInfo(devices[0]), Driver: d})
	c := newCounter()
	p.AddListener(c)

	require.NoError(t, p.Open())
	assert.Equal(t, Stopped, p.State())
	assert.ErrorIs(t, p.Open(), audio.ErrIllegalState)

	vol := p.Volume()
	require.NoError(t, vol.SetValue(MaxVolume/2))
	v, err := vol.Refresh()
	require.NoError(t, err)
	assert.InDelta(t, MaxVolume/2, v, 0.5)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Close(), audio.ErrIllegalState)
	assert.Equal(t, []event.Type{event.Open, event.Close}, c.sequence())
}

func TestUnknownPortFailsOpen(t *testing.T) {
	p := NewPort(Options{Info: PortInfo(audio.Device{Name: "HDMI"}), Driver: newDriver(t)})
	assert.Error(t, p.Open())
	assert.False(t, p.IsOpen())
}
