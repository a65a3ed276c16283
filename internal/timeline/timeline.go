package timeline

import (
	"errors"
	"fmt"
	"math"
)

// ErrConfig marks a malformed or contradictory timeline definition. It is
// always surfaced before any hardware interaction and never retried.
var ErrConfig = errors.New("invalid timeline configuration")

// Evolution selects how a channel's pressure evolves over the timeline
type Evolution string

const (
	EvolutionLinear Evolution = "linear"
	EvolutionCyclic Evolution = "cyclic"
)

// ParseEvolution converts a configuration tag into an Evolution
func ParseEvolution(s string) (Evolution, error) {
	switch Evolution(s) {
	case EvolutionLinear, EvolutionCyclic:
		return Evolution(s), nil
	default:
		return "", fmt.Errorf("%w: unknown evolution %q (valid: linear, cyclic)", ErrConfig, s)
	}
}

// ChannelSpec describes the waveform of a single controller channel
type ChannelSpec struct {
	Channel     int
	Evolution   Evolution
	PressureMin float64 // mbar
	PressureMax float64 // mbar

	// Resolution is ByCount for a fixed number of points per ramp, or
	// BySpeed for a target ramp speed.
	Resolution Resolution

	// Sync only applies to cyclic channels: false puts the channel in phase
	// opposition.
	Sync bool
}

// Timeline maps a channel index to its native sample sequence
type Timeline map[int][]float64

// Undefined returns the sentinel stored in padded table cells
func Undefined() float64 {
	return math.NaN()
}

// IsUndefined reports whether v is the padding sentinel
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}
