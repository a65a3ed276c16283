package timeline

import (
	"fmt"
	"math"
	"time"
)

// Metadata holds the scalar run parameters persisted next to the table.
// Playback only reads it.
type Metadata struct {
	BasePressure       float64 `json:"p_fluidic" yaml:"p_fluidic"` // mbar
	DeltaPlus          float64 `json:"delta_plus" yaml:"delta_plus"`
	DeltaMinus         float64 `json:"delta_minus" yaml:"delta_minus"`
	PressureMin        float64 `json:"p_min" yaml:"p_min"`
	PressureMax        float64 `json:"p_max" yaml:"p_max"`
	PressureResolution int     `json:"pressure_reso" yaml:"pressure_reso"` // points per ramp
	TimeResolution     float64 `json:"time_reso" yaml:"time_reso"`         // dt, seconds
	TotalDuration      float64 `json:"total_duration" yaml:"total_duration"`
	ChannelCount       int     `json:"nb_of_channels" yaml:"nb_of_channels"`
}

// Validate checks the fields playback depends on
func (m Metadata) Validate() error {
	if !(m.TimeResolution > 0) || math.IsInf(m.TimeResolution, 0) {
		return fmt.Errorf("%w: time resolution must be > 0, got %v", ErrConfig, m.TimeResolution)
	}
	if !(m.TotalDuration > 0) || math.IsInf(m.TotalDuration, 0) {
		return fmt.Errorf("%w: total duration must be > 0, got %v", ErrConfig, m.TotalDuration)
	}
	if m.ChannelCount < 0 {
		return fmt.Errorf("%w: channel count must be >= 0, got %d", ErrConfig, m.ChannelCount)
	}
	return nil
}

// Step is the nominal tick period
func (m Metadata) Step() time.Duration {
	return seconds(m.TimeResolution)
}

// Total is the configured run duration
func (m Metadata) Total() time.Duration {
	return seconds(m.TotalDuration)
}

// ExpectedTicks is the tick count of a run without drift
func (m Metadata) ExpectedTicks() int {
	step := m.Step()
	if step <= 0 {
		return 0
	}
	return int((m.Total() + step - 1) / step)
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
