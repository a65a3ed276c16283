package cmd

import (
	"fmt"

	"github.com/audiolibrelab/fluidcycle/internal/service"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build the pressure timeline of the active profile",
	Long: `Build every channel's ramp or cycle, pad them to a common length and write
Timeline.csv and Timeline_Metadata.csv to the output directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg, cfgFile)

		res, err := svc.Generate()
		if err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}
		printGenerated(res)

		return executePipeline(cmd.Context(), svc, 'g')
	},
}

func printGenerated(res *service.GenerateResult) {
	fmt.Printf("Timeline: %s\n", res.Paths.Timeline)
	fmt.Printf("Metadata: %s\n", res.Paths.Metadata)
	fmt.Printf("Rows: %d, channels: %v\n", res.Rows, res.Channels)
}
