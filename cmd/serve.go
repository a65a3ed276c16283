package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/fluidcycle/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for remote control",
	Long: `Start the FluidCycle HTTP server to generate and play timelines remotely.

Endpoints: GET /status, GET /timeline, POST /generate, POST /play,
POST /stop, POST /zero, POST /pipeline, GET /profiles,
POST /profiles/select, GET /ports and GET /ws for live progress.

On shutdown a running playback is stopped and the controller zeroed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		configPath := cfgFile
		if configPath == "" {
			configPath = defaultConfigPath()
		}

		srv, err := server.New(configPath, port, simulate)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		slog.Info("FluidCycle server starting", "port", port, "config", configPath, "simulate", simulate)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
