package config

import (
	"fmt"
	"math"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("FLUIDCYCLE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section cannot be empty")
	}

	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", configName)
		}
		if err := validateChannelReferences(configProfile.Channels, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return fmt.Errorf("definitions section is required")
	}

	if len(definitions.Channels) == 0 {
		return fmt.Errorf("definitions.channels cannot be empty")
	}

	seenIDs := make(map[string]bool)

	for i, def := range definitions.Channels {
		if def.ID == "" {
			return fmt.Errorf("definitions.channels[%d]: 'id' is required", i)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("definitions.channels[%d]: duplicate ID '%s'", i, def.ID)
		}
		seenIDs[def.ID] = true

		if err := validateChannelDefinition(def, fmt.Sprintf("definitions.channels[%d]", i)); err != nil {
			return err
		}
	}

	return nil
}

func validateChannelDefinition(def ChannelDefinition, prefix string) error {
	if def.Channel == nil {
		return fmt.Errorf("%s: 'channel' is required", prefix)
	}
	if *def.Channel < 0 {
		return fmt.Errorf("%s: 'channel' must be >= 0, got: %d", prefix, *def.Channel)
	}

	evolution, err := timeline.ParseEvolution(def.Evolution)
	if err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if def.Sync != nil && evolution != timeline.EvolutionCyclic {
		return fmt.Errorf("%s: 'sync' only applies to cyclic channels", prefix)
	}

	if !isFinite(def.PMin) || !isFinite(def.PMax) {
		return fmt.Errorf("%s: 'p_min' and 'p_max' must be finite", prefix)
	}

	hasPoints := def.Points != 0
	hasSpeed := def.RampSpeed != 0
	if hasPoints == hasSpeed {
		return fmt.Errorf("%s: exactly one of 'points' or 'ramp_speed' is required", prefix)
	}
	if hasPoints && def.Points < 2 {
		return fmt.Errorf("%s: 'points' must be >= 2, got: %d", prefix, def.Points)
	}
	if hasSpeed && !(def.RampSpeed > 0 && isFinite(def.RampSpeed)) {
		return fmt.Errorf("%s: 'ramp_speed' must be > 0, got: %v", prefix, def.RampSpeed)
	}

	return nil
}

func validateChannelReferences(channels []ChannelReference, definitions *DefinitionsConfig) error {
	for i, chRef := range channels {
		prefix := fmt.Sprintf("channels[%d]", i)

		if chRef.Ref == "" {
			return fmt.Errorf("%s: 'ref' is required", prefix)
		}

		if findDefinition(definitions, chRef.Ref) == nil {
			return fmt.Errorf("%s: references undefined channel definition '%s'", prefix, chRef.Ref)
		}

		if chRef.Points != nil && chRef.RampSpeed != nil {
			return fmt.Errorf("%s: 'points' and 'ramp_speed' overrides are mutually exclusive", prefix)
		}
		if chRef.Points != nil && *chRef.Points < 2 {
			return fmt.Errorf("%s: points override must be >= 2, got %d", prefix, *chRef.Points)
		}
		if chRef.RampSpeed != nil && !(*chRef.RampSpeed > 0 && isFinite(*chRef.RampSpeed)) {
			return fmt.Errorf("%s: ramp_speed override must be > 0, got %v", prefix, *chRef.RampSpeed)
		}
		if chRef.PMin != nil && !isFinite(*chRef.PMin) {
			return fmt.Errorf("%s: p_min override must be finite", prefix)
		}
		if chRef.PMax != nil && !isFinite(*chRef.PMax) {
			return fmt.Errorf("%s: p_max override must be finite", prefix)
		}
	}

	return nil
}

// validateResolvedConfig checks a profile after inheritance is applied
func validateResolvedConfig(c *Config) error {
	if !(c.Timing.DT > 0) || !isFinite(c.Timing.DT) {
		return fmt.Errorf("timing.dt must be > 0, got: %v", c.Timing.DT)
	}
	if !(c.Timing.TotalDuration > 0) || !isFinite(c.Timing.TotalDuration) {
		return fmt.Errorf("timing.total_duration must be > 0, got: %v", c.Timing.TotalDuration)
	}
	if c.Timing.SettleDelay != nil && (*c.Timing.SettleDelay < 0 || !isFinite(*c.Timing.SettleDelay)) {
		return fmt.Errorf("timing.settle_delay must be >= 0, got: %v", *c.Timing.SettleDelay)
	}
	if c.Pressure.Resolution < 0 {
		return fmt.Errorf("pressure.resolution must be >= 0, got: %d", c.Pressure.Resolution)
	}

	if len(c.Channels) == 0 {
		return fmt.Errorf("profile '%s' has no channels", c.Profile)
	}

	seen := make(map[int]string)
	for _, ch := range c.Channels {
		if other, dup := seen[ch.Channel]; dup {
			return fmt.Errorf("channel %d is used by both '%s' and '%s'", ch.Channel, other, ch.Name)
		}
		seen[ch.Channel] = ch.Name
	}

	switch c.Device.Backend {
	case "", "auto", "simulation", "serial":
	default:
		return fmt.Errorf("device.backend must be 'simulation', 'serial' or 'auto', got: %s", c.Device.Backend)
	}
	if c.Device.BaudRate < 0 || c.Device.TimeoutMS < 0 || c.Device.Channels < 0 {
		return fmt.Errorf("device settings must not be negative")
	}

	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
