// defaults.go: default configuration values applied before reading the
// config file, so a missing file still yields a runnable pipeline.
package conf

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaultConfig() {
	viper.SetDefault("main.name", "chipstream")
	viper.SetDefault("main.debug", false)
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "chipstream.log")
	viper.SetDefault("main.log.maxsize", 1048576)

	viper.SetDefault("realtime.audio.device", "")
	viper.SetDefault("realtime.audio.channels", NumChannels)
	viper.SetDefault("realtime.audio.bufferframes", DefaultBufferFrames)
	viper.SetDefault("realtime.audio.telemetryeach", 64)

	viper.SetDefault("realtime.watchdog.enabled", true)
	viper.SetDefault("realtime.watchdog.windowsize", 120)
	viper.SetDefault("realtime.watchdog.tolerancems", 3*time.Millisecond)

	viper.SetDefault("realtime.playback.preferred", "")
	viper.SetDefault("realtime.playback.probecachettl", 30*time.Second)
	viper.SetDefault("realtime.playback.exportpath", "")

	viper.SetDefault("realtime.mqtt.enabled", false)
	viper.SetDefault("realtime.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("realtime.mqtt.topic", "chipstream/telemetry")
	viper.SetDefault("realtime.mqtt.retain", false)

	viper.SetDefault("realtime.metrics.enabled", false)
	viper.SetDefault("realtime.metrics.listen", "localhost:9090")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
