package cmd

import (
	"fmt"

	"github.com/audiolibrelab/fluidcycle/internal/service"

	"github.com/spf13/cobra"
)

var zeroCmd = &cobra.Command{
	Use:   "zero",
	Short: "Set every controller channel to 0 mbar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg, cfgFile)

		n, err := svc.Zero(simulate)
		if err != nil {
			return fmt.Errorf("zeroing failed: %w", err)
		}

		fmt.Printf("%d channels set to 0 mbar\n", n)
		return nil
	},
}
