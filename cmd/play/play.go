package play

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/player"
)

// Command creates the play command for streaming a single file.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play [input.wav]",
		Short: "Play an audio file",
		Long:  "Stream a 16-bit PCM WAV file through the selected playback backend.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return player.Run(settings, args[0])
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the play command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Realtime.Playback.Preferred, "adapter", viper.GetString("realtime.playback.preferred"), "Preferred playback adapter (\"malgo\", \"wav-file\", \"null\")")
	cmd.Flags().StringVar(&settings.Realtime.Playback.ExportPath, "exportpath", viper.GetString("realtime.playback.exportpath"), "Output path for the file adapter")
	cmd.Flags().BoolVar(&settings.Realtime.Watchdog.Enabled, "watchdog", viper.GetBool("realtime.watchdog.enabled"), "Enable the producer stall watchdog")
	cmd.Flags().BoolVar(&settings.Realtime.Metrics.Enabled, "metrics", viper.GetBool("realtime.metrics.enabled"), "Expose the Prometheus metrics endpoint")
	cmd.Flags().StringVar(&settings.Realtime.Metrics.Listen, "listen", viper.GetString("realtime.metrics.listen"), "Listen address and port for the metrics endpoint")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
