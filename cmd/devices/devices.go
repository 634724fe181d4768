package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/playback"
)

// Command creates the devices command for listing playback devices.
func Command(_ *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available playback devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := playback.ListPlaybackDevices()
			if err != nil {
				return fmt.Errorf("failed to list playback devices: %w", err)
			}
			if len(infos) == 0 {
				fmt.Println("No playback devices found")
				return nil
			}

			fmt.Println("Available playback devices:")
			for _, info := range infos {
				marker := " "
				if info.Default {
					marker = "*"
				}
				fmt.Printf("%s %d: %s, %s\n", marker, info.Index, info.Name, info.ID)
			}
			return nil
		},
	}
}
