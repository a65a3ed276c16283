package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

// DefaultSettleDelay is the wait after applying the initial pressures
const DefaultSettleDelay = 10 * time.Second

type DefinitionsConfig struct {
	Channels []ChannelDefinition `mapstructure:"channels" yaml:"channels"`
}

type ChannelDefinition struct {
	ID        string  `mapstructure:"id" yaml:"id"`
	Name      string  `mapstructure:"name" yaml:"name"`
	Channel   *int    `mapstructure:"channel" yaml:"channel"`
	Evolution string  `mapstructure:"evolution" yaml:"evolution"` // "linear", "cyclic"
	PMin      float64 `mapstructure:"p_min" yaml:"p_min"`
	PMax      float64 `mapstructure:"p_max" yaml:"p_max"`
	Points    int     `mapstructure:"points" yaml:"points,omitempty"`
	RampSpeed float64 `mapstructure:"ramp_speed" yaml:"ramp_speed,omitempty"` // mbar/s
	Sync      *bool   `mapstructure:"sync" yaml:"sync,omitempty"`
}

type ChannelReference struct {
	Ref       string   `mapstructure:"ref" yaml:"ref"`
	PMin      *float64 `mapstructure:"p_min,omitempty" yaml:"p_min,omitempty"`
	PMax      *float64 `mapstructure:"p_max,omitempty" yaml:"p_max,omitempty"`
	Points    *int     `mapstructure:"points,omitempty" yaml:"points,omitempty"`
	RampSpeed *float64 `mapstructure:"ramp_speed,omitempty" yaml:"ramp_speed,omitempty"`
	Sync      *bool    `mapstructure:"sync,omitempty" yaml:"sync,omitempty"`
}

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Device       *DeviceConfig             `mapstructure:"device,omitempty" yaml:"device,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type ConfigProfile struct {
	Timing   TimingConfig       `mapstructure:"timing" yaml:"timing"`
	Pressure PressureConfig     `mapstructure:"pressure" yaml:"pressure"`
	Output   OutputConfig       `mapstructure:"output" yaml:"output"`
	Device   DeviceConfig       `mapstructure:"device" yaml:"device"`
	Channels []ChannelReference `mapstructure:"channels" yaml:"channels"`
}

// Config is a profile resolved against the definitions and the default
// profile
type Config struct {
	Profile  string         `mapstructure:"-" yaml:"profile"`
	Timing   TimingConfig   `mapstructure:"timing" yaml:"timing"`
	Pressure PressureConfig `mapstructure:"pressure" yaml:"pressure"`
	Channels []Channel      `mapstructure:"channels" yaml:"channels"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Device   DeviceConfig   `mapstructure:"device" yaml:"device"`
}

type TimingConfig struct {
	DT            float64  `mapstructure:"dt" yaml:"dt"`                         // seconds
	TotalDuration float64  `mapstructure:"total_duration" yaml:"total_duration"` // seconds
	SettleDelay   *float64 `mapstructure:"settle_delay" yaml:"settle_delay,omitempty"`
}

type PressureConfig struct {
	Base       float64 `mapstructure:"base" yaml:"base"`
	DeltaPlus  float64 `mapstructure:"delta_plus" yaml:"delta_plus"`
	DeltaMinus float64 `mapstructure:"delta_minus" yaml:"delta_minus"`
	Resolution int     `mapstructure:"resolution" yaml:"resolution,omitempty"`
}

type Channel struct {
	Name      string  `mapstructure:"name" yaml:"name"`
	Channel   int     `mapstructure:"channel" yaml:"channel"`
	Evolution string  `mapstructure:"evolution" yaml:"evolution"`
	PMin      float64 `mapstructure:"p_min" yaml:"p_min"`
	PMax      float64 `mapstructure:"p_max" yaml:"p_max"`
	Points    int     `mapstructure:"points" yaml:"points,omitempty"`
	RampSpeed float64 `mapstructure:"ramp_speed" yaml:"ramp_speed,omitempty"`
	Sync      bool    `mapstructure:"sync" yaml:"sync"`
}

type OutputConfig struct {
	Directory    string `mapstructure:"directory" yaml:"directory"`
	TimelineFile string `mapstructure:"timeline_file" yaml:"timeline_file,omitempty"`
	MetadataFile string `mapstructure:"metadata_file" yaml:"metadata_file,omitempty"`
}

type DeviceConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"` // "simulation", "serial", "auto"
	Port      string `mapstructure:"port" yaml:"port,omitempty"`
	BaudRate  int    `mapstructure:"baud_rate" yaml:"baud_rate,omitempty"`
	TimeoutMS int    `mapstructure:"timeout_ms" yaml:"timeout_ms,omitempty"`
	Channels  int    `mapstructure:"channels" yaml:"channels,omitempty"` // simulation only
}

var defaultOutput = OutputConfig{
	Directory: "assets",
}

// LoadWithProfile reads configFile and resolves profile, or the file's
// active_config when profile is empty. Every failure is a timeline.ErrConfig.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	cfg, err := loadWithProfile(configFile, profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", timeline.ErrConfig, err)
	}
	return cfg, nil
}

func loadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	// Device settings: root section first, profile values override
	if rootConfig.Device != nil {
		selectedConfig.Device = mergeDevice(*rootConfig.Device, selectedConfig.Device)
	}

	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			defaultConfig, err := convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
			if rootConfig.Device != nil {
				defaultConfig.Device = mergeDevice(*rootConfig.Device, defaultConfig.Device)
			}
			selectedConfig = mergeConfigs(defaultConfig, selectedConfig)
		}
	}

	// Global output directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.Directory != "" {
		selectedConfig.Output.Directory = rootConfig.Globals.Output.Directory
	}
	if selectedConfig.Output.Directory == "" {
		selectedConfig.Output.Directory = defaultOutput.Directory
	}
	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	selectedConfig.Profile = configName

	if err := validateResolvedConfig(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ListProfiles returns the sorted profile names defined in configFile
func ListProfiles(configFile string) (active string, names []string, err error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return "", nil, err
	}
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return rootConfig.ActiveConfig, names, nil
}

// convertProfileToConfig converts a ConfigProfile to Config by resolving channel references
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Timing:   profile.Timing,
		Pressure: profile.Pressure,
		Output:   profile.Output,
		Device:   profile.Device,
	}

	for i, chRef := range profile.Channels {
		if chRef.Ref == "" {
			return nil, fmt.Errorf("channel[%d]: 'ref' is required", i)
		}

		definition := findDefinition(definitions, chRef.Ref)
		if definition == nil {
			return nil, fmt.Errorf("channel[%d]: reference '%s' not found in definitions", i, chRef.Ref)
		}

		channel := Channel{
			Name:      definition.Name,
			Evolution: definition.Evolution,
			PMin:      definition.PMin,
			PMax:      definition.PMax,
			Points:    definition.Points,
			RampSpeed: definition.RampSpeed,
			Sync:      true,
		}
		if channel.Name == "" {
			channel.Name = definition.ID
		}
		if definition.Channel != nil {
			channel.Channel = *definition.Channel
		}
		if definition.Sync != nil {
			channel.Sync = *definition.Sync
		}

		// Apply overrides; a point count and a speed replace each other
		if chRef.PMin != nil {
			channel.PMin = *chRef.PMin
		}
		if chRef.PMax != nil {
			channel.PMax = *chRef.PMax
		}
		if chRef.Points != nil {
			channel.Points = *chRef.Points
			channel.RampSpeed = 0
		}
		if chRef.RampSpeed != nil {
			channel.RampSpeed = *chRef.RampSpeed
			channel.Points = 0
		}
		if chRef.Sync != nil {
			channel.Sync = *chRef.Sync
		}

		config.Channels = append(config.Channels, channel)
	}

	return config, nil
}

func findDefinition(definitions *DefinitionsConfig, id string) *ChannelDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Channels {
		if definitions.Channels[i].ID == id {
			return &definitions.Channels[i]
		}
	}
	return nil
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
// - Channels: only the channels listed in the selected profile are played
// - Timing, pressure, output and device: profile value, or default when unset
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	if base != nil {
		result.Timing = base.Timing
		result.Pressure = base.Pressure
		result.Output = base.Output
		result.Device = base.Device
	}

	if profile == nil {
		return result
	}

	if profile.Timing.DT != 0 {
		result.Timing.DT = profile.Timing.DT
	}
	if profile.Timing.TotalDuration != 0 {
		result.Timing.TotalDuration = profile.Timing.TotalDuration
	}
	if profile.Timing.SettleDelay != nil {
		result.Timing.SettleDelay = profile.Timing.SettleDelay
	}

	if profile.Pressure.Base != 0 {
		result.Pressure.Base = profile.Pressure.Base
	}
	if profile.Pressure.DeltaPlus != 0 {
		result.Pressure.DeltaPlus = profile.Pressure.DeltaPlus
	}
	if profile.Pressure.DeltaMinus != 0 {
		result.Pressure.DeltaMinus = profile.Pressure.DeltaMinus
	}
	if profile.Pressure.Resolution != 0 {
		result.Pressure.Resolution = profile.Pressure.Resolution
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
	}
	if profile.Output.TimelineFile != "" {
		result.Output.TimelineFile = profile.Output.TimelineFile
	}
	if profile.Output.MetadataFile != "" {
		result.Output.MetadataFile = profile.Output.MetadataFile
	}

	result.Device = mergeDevice(result.Device, profile.Device)

	result.Channels = append([]Channel(nil), profile.Channels...)
	return result
}

func mergeDevice(base, override DeviceConfig) DeviceConfig {
	if override.Backend != "" {
		base.Backend = override.Backend
	}
	if override.Port != "" {
		base.Port = override.Port
	}
	if override.BaudRate != 0 {
		base.BaudRate = override.BaudRate
	}
	if override.TimeoutMS != 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.Channels != 0 {
		base.Channels = override.Channels
	}
	return base
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// SettleDelay returns the wait after the initial pressures are applied
func (c *Config) SettleDelay() time.Duration {
	if c.Timing.SettleDelay == nil {
		return DefaultSettleDelay
	}
	return time.Duration(*c.Timing.SettleDelay * float64(time.Second))
}

// Specs converts the resolved channels into timeline channel specs
func (c *Config) Specs() ([]timeline.ChannelSpec, error) {
	specs := make([]timeline.ChannelSpec, 0, len(c.Channels))
	for i, ch := range c.Channels {
		evolution, err := timeline.ParseEvolution(ch.Evolution)
		if err != nil {
			return nil, fmt.Errorf("channel[%d] '%s': %w", i, ch.Name, err)
		}

		var res timeline.Resolution = timeline.ByCount{N: ch.Points}
		if ch.RampSpeed != 0 {
			res = timeline.BySpeed{Speed: ch.RampSpeed}
		}

		specs = append(specs, timeline.ChannelSpec{
			Channel:     ch.Channel,
			Evolution:   evolution,
			PressureMin: ch.PMin,
			PressureMax: ch.PMax,
			Resolution:  res,
			Sync:        ch.Sync,
		})
	}
	return specs, nil
}

// Metadata derives the run parameters persisted with the timeline
func (c *Config) Metadata() timeline.Metadata {
	resolution := c.Pressure.Resolution
	if resolution == 0 {
		for _, ch := range c.Channels {
			if ch.Points > resolution {
				resolution = ch.Points
			}
		}
	}

	return timeline.Metadata{
		BasePressure:       c.Pressure.Base,
		DeltaPlus:          c.Pressure.DeltaPlus,
		DeltaMinus:         c.Pressure.DeltaMinus,
		PressureMin:        c.Pressure.Base - c.Pressure.DeltaMinus,
		PressureMax:        c.Pressure.Base + c.Pressure.DeltaPlus,
		PressureResolution: resolution,
		TimeResolution:     c.Timing.DT,
		TotalDuration:      c.Timing.TotalDuration,
		ChannelCount:       len(c.Channels),
	}
}
