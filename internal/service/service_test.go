package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/config"
)

const profilesYAML = `
active_profile: default

definitions:
  ports:
    - id: mic
      name: MIC
      direction: source
      volume: 65536
    - id: out
      name: SPEAKER
      direction: target
      volume: 32768

profiles:
  default:
    driver:
      name: "null"
      speed: 20
      tick_ms: 2
      sample_rate: 8000
      channels: 1
    ports:
      - ref: mic
      - ref: out
  quiet:
    mixer:
      name: Quiet
`

func newService(t *testing.T) Service {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "soundlines.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(profilesYAML), 0644))
	cfg, err := config.LoadWithProfile(configFile, "")
	require.NoError(t, err)

	svc, err := New(cfg, configFile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestServiceStatus(t *testing.T) {
	svc := newService(t)
	assert.False(t, svc.GetStatus().Mixer.Open)

	require.NoError(t, svc.Open())
	status := svc.GetStatus()
	assert.True(t, status.Mixer.Open)
	assert.Equal(t, "null", status.Mixer.Driver)
	assert.Equal(t, "default", status.Profile)
	assert.Empty(t, status.Sessions)

	assert.Equal(t, audio.NewPCM(8000, 16, 1, true, false), svc.Format())
}

func TestServiceCatalog(t *testing.T) {
	svc := newService(t)
	catalog := svc.Catalog()
	assert.Len(t, catalog.Source, 3)
	assert.Len(t, catalog.Target, 2)
}

func TestPlayTone(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.Open())
	require.NoError(t, svc.PlayTone(context.Background(), ToneRequest{Frequency: 440, Duration: 20 * time.Millisecond, Loops: 1}))
	assert.Empty(t, svc.Mixer().OpenLines())
}

func TestStartToneRunsInBackground(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.Open())

	session, err := svc.StartTone(ToneRequest{Frequency: 440, Duration: 10 * time.Millisecond, Loops: -1})
	require.NoError(t, err)
	assert.Equal(t, "tone", session.Kind)
	assert.Len(t, svc.GetSessions(), 1)

	require.NoError(t, svc.Close())
	assert.Empty(t, svc.GetSessions())
	assert.False(t, svc.Mixer().IsOpen())
}

func TestStartToneRejectsBadRequest(t *testing.T) {
	svc := newService(t)
	_, err := svc.StartTone(ToneRequest{Frequency: -1, Duration: time.Second})
	assert.ErrorIs(t, err, audio.ErrIllegalArgument)
	assert.Empty(t, svc.GetSessions())

	_, err = svc.StartTone(ToneRequest{Frequency: 440, Duration: time.Second, Loops: -5})
	assert.ErrorIs(t, err, audio.ErrIllegalArgument)
	assert.Empty(t, svc.GetSessions())

	err = svc.PlayTone(context.Background(), ToneRequest{Frequency: 440, Duration: time.Second, Loops: -2})
	assert.ErrorIs(t, err, audio.ErrIllegalArgument)
}

func TestRecord(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	svc := newService(t)
	require.NoError(t, svc.Open())

	session, err := svc.Record(context.Background(), "first take", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "first_take.raw", filepath.Base(session.OutputFile))

	info, err := os.Stat(session.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, session.Bytes, info.Size())
	assert.Zero(t, info.Size()%2)
}

func TestRecordRejectsEmptyName(t *testing.T) {
	svc := newService(t)
	_, err := svc.Record(context.Background(), "!!!", time.Second)
	assert.Error(t, err)
}

func TestPlayFileTracksLastError(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.Open())

	assert.Error(t, svc.PlayFile(context.Background(), filepath.Join(t.TempDir(), "missing.raw")))
	assert.Contains(t, svc.GetLastError(), "Playback failed")
}

func TestPlayFile(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.Open())
	path := filepath.Join(t.TempDir(), "silence.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 1600), 0644))

	require.NoError(t, svc.PlayFile(context.Background(), path))
	assert.Empty(t, svc.GetLastError())
}

func TestLoadProfile(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.Open())
	assert.ErrorIs(t, svc.LoadProfile("quiet"), audio.ErrIllegalState)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.LoadProfile("quiet"))
	assert.Equal(t, "quiet", svc.GetConfig().Profile)
	assert.Equal(t, "Quiet", svc.Mixer().Info().Name)
	assert.Equal(t, "null", svc.GetStatus().Mixer.Driver)
}
