// config.go: settings struct plus functions to load and access the
// chipstream configuration.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// LogConfig describes a single log output.
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to log file
	MaxSize int64  // max log size in bytes before rotation
}

// MainSettings contains program level settings.
type MainSettings struct {
	Name  string    // instance name, used as client id for MQTT and metrics
	Debug bool      // true to enable debug output
	Log   LogConfig // main log settings
}

// AudioSettings contains the delivery pipeline parameters.
type AudioSettings struct {
	Device        string // output device name or id, empty for system default
	Channels      int    // output channel count
	BufferFrames  int    // requested ring buffer capacity in frames
	TelemetryEach int    // emit a telemetry snapshot every N quanta
}

// WatchdogSettings contains stall watchdog tuning.
type WatchdogSettings struct {
	Enabled     bool          // true to run the producer-side stall watchdog
	WindowSize  int           // frame deltas per analysis window
	ToleranceMs time.Duration // scheduling slack allowed on top of the ideal quantum
}

// PlaybackSettings controls adapter selection.
type PlaybackSettings struct {
	Preferred     string        // preferred adapter id, empty for priority order
	ProbeCacheTTL time.Duration // how long availability probe results stay valid
	ExportPath    string        // output path for the file adapter
}

// MQTTSettings contains settings for telemetry publishing over MQTT.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT telemetry publishing
	Broker   string // broker URL, e.g. tcp://localhost:1883
	Topic    string // topic to publish telemetry snapshots to
	Username string // MQTT username
	Password string // MQTT password
	Retain   bool   // true to retain messages at the broker
}

// SentrySettings contains error tracking settings.
type SentrySettings struct {
	Enabled bool   // true to enable Sentry error reporting, opt-in
	DSN     string // Sentry DSN, empty uses the project default
}

// MetricsSettings contains Prometheus endpoint settings.
type MetricsSettings struct {
	Enabled bool   // true to expose Prometheus metrics
	Listen  string // listen address for the metrics endpoint
}

// RealtimeSettings groups everything the realtime delivery path needs.
type RealtimeSettings struct {
	Audio    AudioSettings
	Watchdog WatchdogSettings
	Playback PlaybackSettings
	MQTT     MQTTSettings
	Metrics  MetricsSettings
}

// Settings is the root configuration struct.
type Settings struct {
	Main     MainSettings
	Realtime RealtimeSettings
	Sentry   SentrySettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	once             sync.Once
)

// Load reads the configuration from disk and returns the settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with config file locations and defaults.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// First run: write the defaults so the user has a file to edit.
			configPath, err := SaveDefaultConfig()
			if err != nil {
				return fmt.Errorf("error creating default config file: %w", err)
			}
			fmt.Println("Created default config file at:", configPath)
			return viper.ReadInConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// ValidateSettings checks settings for values the pipeline cannot run with.
func ValidateSettings(settings *Settings) error {
	audio := &settings.Realtime.Audio
	if audio.Channels < 1 {
		return fmt.Errorf("invalid channel count: %d, must be at least 1", audio.Channels)
	}
	if audio.BufferFrames <= 0 {
		return fmt.Errorf("invalid buffer capacity: %d frames", audio.BufferFrames)
	}
	if audio.TelemetryEach <= 0 {
		return fmt.Errorf("invalid telemetry cadence: %d quanta", audio.TelemetryEach)
	}
	wd := &settings.Realtime.Watchdog
	if wd.Enabled && wd.WindowSize <= 0 {
		return fmt.Errorf("invalid watchdog window size: %d", wd.WindowSize)
	}
	return nil
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})
	return settingsInstance
}

// GetDefaultConfigPaths returns the list of paths to search for a config file.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user config directory: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	return []string{
		filepath.Join(configDir, "chipstream"),
		filepath.Join(homeDir, ".config", "chipstream"),
		".",
	}, nil
}

// FindConfigFile returns the path of the active config file, if any.
func FindConfigFile() (string, error) {
	used := viper.ConfigFileUsed()
	if used == "" {
		return "", fmt.Errorf("no config file in use")
	}
	return used, nil
}
