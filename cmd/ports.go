package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/fluidcycle/internal/device"

	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	Long:  `List the serial ports a pressure controller can be attached to.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := device.ListPorts()
		if err != nil {
			return err
		}

		fmt.Printf("Serial ports (%s): %d found\n", runtime.GOOS, len(ports))
		for i, port := range ports {
			marker := ""
			if cfg != nil && cfg.Device.Port == port {
				marker = " (configured)"
			}
			fmt.Printf("  %d. %s%s\n", i+1, port, marker)
		}

		fmt.Printf("\nBackends: %v\n", device.GetAvailableBackends())
		fmt.Printf("Configure with device.port and device.backend: serial\n")
		return nil
	},
}
