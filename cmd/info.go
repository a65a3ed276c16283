package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/fluidcycle/internal/service"

	"github.com/spf13/cobra"
)

var (
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6adc8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af"))
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the resolved configuration and the saved timeline",
	Long: `Display the channels of the active profile and, when it has been generated,
the saved timeline: rows, per-channel cycle lengths and durations, metadata
and the number of ticks a run without drift performs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg, cfgFile)

		asYAML, _ := cmd.Flags().GetBool("yaml")
		if asYAML {
			info, err := svc.Inspect()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(info)
			if err != nil {
				return fmt.Errorf("error marshaling timeline info: %w", err)
			}
			fmt.Print(string(out))
			return nil
		}

		if err := printInfo(svc); err != nil {
			return err
		}
		return executePipeline(cmd.Context(), svc, 'i')
	},
}

func init() {
	infoCmd.Flags().Bool("yaml", false, "print the saved timeline description as YAML")
}

// printInfo prints the configuration and, if present, the saved timeline
func printInfo(svc service.Service) error {
	c := svc.GetConfig()

	fmt.Println(sectionStyle.Render("=== CONFIGURATION ==="))
	fmt.Printf("%s %s\n", labelStyle.Render("profile:"), c.Profile)
	fmt.Printf("%s %gs\n", labelStyle.Render("dt:"), c.Timing.DT)
	fmt.Printf("%s %gs\n", labelStyle.Render("total_duration:"), c.Timing.TotalDuration)
	fmt.Printf("%s %v\n", labelStyle.Render("settle_delay:"), c.SettleDelay())
	fmt.Printf("%s %s %s\n", labelStyle.Render("device:"), c.Device.Backend, c.Device.Port)

	fmt.Println(sectionStyle.Render("\n[Channels]"))
	for _, ch := range c.Channels {
		resolution := fmt.Sprintf("points=%d", ch.Points)
		if ch.RampSpeed != 0 {
			resolution = fmt.Sprintf("ramp_speed=%g mbar/s", ch.RampSpeed)
		}
		sync := ""
		if ch.Evolution == "cyclic" {
			sync = fmt.Sprintf(" sync=%t", ch.Sync)
		}
		fmt.Printf("  %d. %s: %s %g -> %g mbar, %s%s\n", ch.Channel, ch.Name, ch.Evolution, ch.PMin, ch.PMax, resolution, sync)
	}

	info, err := svc.Inspect()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Println(warnStyle.Render("\nNo saved timeline, run 'fluidcycle generate'"))
			return nil
		}
		return err
	}

	fmt.Println(sectionStyle.Render("\n=== TIMELINE ==="))
	fmt.Printf("%s %s\n", labelStyle.Render("file:"), info.Paths.Timeline)
	fmt.Printf("%s %d\n", labelStyle.Render("rows:"), info.Rows)
	for _, ch := range info.Channels {
		fmt.Printf("  channel %d: %d samples, cycle %.2fs, %g..%g mbar\n", ch.Channel, ch.Samples, ch.CycleSeconds, ch.Min, ch.Max)
	}

	m := info.Metadata
	fmt.Println(sectionStyle.Render("\n[Metadata]"))
	fmt.Printf("p_fluidic=%g delta_p+=%g delta_p-=%g p_min=%g p_max=%g\n", m.BasePressure, m.DeltaPlus, m.DeltaMinus, m.PressureMin, m.PressureMax)
	fmt.Printf("pressure_reso=%d time_reso=%gs total_duration=%gs nb_of_channels=%d\n", m.PressureResolution, m.TimeResolution, m.TotalDuration, m.ChannelCount)
	fmt.Printf("%s %d\n", labelStyle.Render("expected ticks:"), info.ExpectedTicks)

	return nil
}

