package timeline

import "fmt"

// Assemble builds the native sample sequence of every channel. dt is the
// time resolution in seconds shared by all channels.
func Assemble(specs []ChannelSpec, dt float64) (Timeline, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no channel to assemble", ErrConfig)
	}

	out := make(Timeline, len(specs))
	for i, spec := range specs {
		if spec.Channel < 0 {
			return nil, fmt.Errorf("%w: channels[%d]: channel index must be >= 0, got %d", ErrConfig, i, spec.Channel)
		}
		if _, dup := out[spec.Channel]; dup {
			return nil, fmt.Errorf("%w: channels[%d]: duplicate channel index %d", ErrConfig, i, spec.Channel)
		}

		var (
			samples []float64
			err     error
		)
		switch spec.Evolution {
		case EvolutionLinear:
			var ramp Ramp
			ramp, err = BuildRamp(spec.PressureMin, spec.PressureMax, dt, spec.Resolution)
			samples = ramp.Samples
		case EvolutionCyclic:
			samples, err = BuildCycle(spec.PressureMin, spec.PressureMax, dt, spec.Resolution, spec.Sync)
		default:
			err = fmt.Errorf("%w: unknown evolution %q", ErrConfig, spec.Evolution)
		}
		if err != nil {
			return nil, fmt.Errorf("channels[%d] (channel %d): %w", i, spec.Channel, err)
		}

		out[spec.Channel] = samples
	}

	return out, nil
}
