package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validSettings() *Settings {
	return &Settings{
		Main: MainSettings{Name: "chipstream"},
		Realtime: RealtimeSettings{
			Audio: AudioSettings{
				Channels:      NumChannels,
				BufferFrames:  DefaultBufferFrames,
				TelemetryEach: 64,
			},
			Watchdog: WatchdogSettings{
				Enabled:     true,
				WindowSize:  120,
				ToleranceMs: 3 * time.Millisecond,
			},
		},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{name: "valid", mutate: func(*Settings) {}},
		{
			name:    "zero channels",
			mutate:  func(s *Settings) { s.Realtime.Audio.Channels = 0 },
			wantErr: "invalid channel count",
		},
		{
			name:    "zero buffer",
			mutate:  func(s *Settings) { s.Realtime.Audio.BufferFrames = 0 },
			wantErr: "invalid buffer capacity",
		},
		{
			name:    "zero telemetry cadence",
			mutate:  func(s *Settings) { s.Realtime.Audio.TelemetryEach = 0 },
			wantErr: "invalid telemetry cadence",
		},
		{
			name:    "watchdog enabled with zero window",
			mutate:  func(s *Settings) { s.Realtime.Watchdog.WindowSize = 0 },
			wantErr: "invalid watchdog window size",
		},
		{
			name: "watchdog disabled ignores window",
			mutate: func(s *Settings) {
				s.Realtime.Watchdog.Enabled = false
				s.Realtime.Watchdog.WindowSize = 0
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Realtime.Playback.Preferred = "malgo"
	s.Realtime.MQTT.Broker = "tcp://broker.local:1883"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveSettings(s, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Settings
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, s.Realtime.Audio.BufferFrames, loaded.Realtime.Audio.BufferFrames)
	assert.Equal(t, "malgo", loaded.Realtime.Playback.Preferred)
	assert.Equal(t, "tcp://broker.local:1883", loaded.Realtime.MQTT.Broker)
	assert.Equal(t, 3*time.Millisecond, loaded.Realtime.Watchdog.ToleranceMs)
}

func TestSaveDefaultConfigWritesFirstRunFile(t *testing.T) {
	// t.Setenv redirects the user config directory, so no t.Parallel.
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	path, err := SaveDefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chipstream", "config.yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Settings
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	require.NoError(t, ValidateSettings(&loaded), "written defaults must pass validation")
}

func TestSaveSettingsLeavesNoTempFileBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, SaveSettings(validSettings(), filepath.Join(dir, "config.yaml")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.yaml", entries[0].Name())
}
