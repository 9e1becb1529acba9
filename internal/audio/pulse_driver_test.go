//go:build pulse

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPulseDriverWithoutConnection(t *testing.T) {
	d, err := NewPulseDriver(nil)
	require.NoError(t, err)

	assert.True(t, d.Supports(NewPCM(44100, 16, 1, true, false)))
	assert.False(t, d.Supports(NewPCM(44100, 16, 2, true, true)))
	assert.False(t, d.Supports(NewPCM(44100, 16, 3, true, false)))

	_, err = d.Open(StreamRequest{Format: NewPCM(44100, 16, 2, true, false), BufferSize: 4096})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	_, err = d.Ports()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, d.Disconnect(), ErrIllegalState)
}

func TestPulseStreamRoundTrip(t *testing.T) {
	d, err := NewPulseDriver(nil)
	require.NoError(t, err)
	if err := d.Connect(); err != nil {
		t.Skipf("no pulse server: %v", err)
	}
	defer d.Disconnect()

	f := NewPCM(44100, 16, 2, true, false)
	s, err := d.Open(StreamRequest{Name: "test", Format: f, BufferSize: 4 * 441, Direction: Playback})
	require.NoError(t, err)
	assert.Equal(t, 4*441, s.Writable())

	n, err := s.Write(make([]byte, 4*100))
	require.NoError(t, err)
	assert.Equal(t, 400, n)
	assert.LessOrEqual(t, s.Occupancy(), 400)

	require.NoError(t, s.SetVolume(0.25))
	v, err := s.Volume()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v, 1e-9)

	require.NoError(t, s.Flush())
	assert.Zero(t, s.Occupancy())
	require.NoError(t, s.Close())
	_, err = s.Write(make([]byte, 4))
	assert.ErrorIs(t, err, ErrIllegalState)
}
