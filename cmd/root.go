package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/fluidcycle/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	pipeline     string
	profile      string
	simulate     bool
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "fluidcycle",
	Short: "Pressure timeline generator and player for microfluidic experiments",
	Long: `FluidCycle builds multi-channel pressure timelines from ramp and cycle
definitions, saves them as Timeline.csv and Timeline_Metadata.csv, and plays
them in real time on a pressure controller.

Every channel repeats its own cycle independently. Whatever ends a run,
normal completion, Ctrl-C or a device error, all channels are set back to
0 mbar before the controller is closed.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// The server loads its own configuration
		if cmd.Name() == "serve" {
			return nil
		}

		// Port listing only needs a config when one is given
		if cmd.Name() == "ports" && cfgFile == "" {
			return nil
		}

		if cfgFile == "" {
			cfgFile = defaultConfigPath()
		}

		// Profile listing and switching read the file themselves
		if cmd.Name() == "use" || cmd.Name() == "list" {
			return nil
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return validatePipeline()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// A pipeline on the root command behaves like 'fluidcycle run'
		if pipeline != "" {
			return runCmd.RunE(cmd, args)
		}
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fluidcycle.yaml)")
	rootCmd.PersistentFlags().StringVarP(&pipeline, "pipeline", "p", "", "pipeline steps: g=generate, i=info, p=play (e.g., 'gp', 'gip')")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use the simulated pressure controller")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(zeroCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(serveCmd)
}

func defaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/fluidcycle.yaml")
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))
}
