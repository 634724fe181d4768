package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chipstream-io/chipstream/cmd/devices"
	"github.com/chipstream-io/chipstream/cmd/play"
	"github.com/chipstream-io/chipstream/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chipstream",
		Short: "Chipstream CLI",
		Long:  "Real-time chip music delivery with pluggable playback backends.",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	subcommands := []*cobra.Command{
		play.Command(settings),
		devices.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Main.Debug, "debug", "d", viper.GetBool("main.debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Realtime.Audio.Device, "device", viper.GetString("realtime.audio.device"), "Output device name or id, empty for system default")
	rootCmd.PersistentFlags().IntVar(&settings.Realtime.Audio.BufferFrames, "bufferframes", viper.GetInt("realtime.audio.bufferframes"), "Ring buffer capacity request in frames")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
