package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/fluidcycle/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute pipeline steps",
	Long: `Execute the pipeline steps given with -p, in order:

  g  generate the timeline of the active profile
  i  show the saved timeline
  p  play the saved timeline`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p gp)")
		}

		steps := []rune(strings.ToLower(pipeline))
		svc := service.New(cfg, cfgFile)

		for i, step := range steps {
			fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)
			if err := runStep(cmd.Context(), svc, step); err != nil {
				return err
			}
		}

		return nil
	},
}
