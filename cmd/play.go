package cmd

import (
	"fmt"

	"github.com/audiolibrelab/fluidcycle/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the saved timeline on the pressure controller",
	Long: `Play Timeline.csv in real time. Outside simulation the first row is applied
and the controller settles before the run starts. Ctrl-C stops the run at the
next tick; every channel is then set to 0 mbar and the controller is closed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg, cfgFile)

		if err := playTimeline(cmd.Context(), svc); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		return executePipeline(cmd.Context(), svc, 'p')
	},
}
