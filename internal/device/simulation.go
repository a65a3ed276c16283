package device

import (
	"fmt"
	"log/slog"
	"sync"
)

// Write is one SetPressure call recorded by the simulated driver
type Write struct {
	Channel int
	Value   float64
}

// SimulatedDriver implements Driver without hardware. It records every call
// so a full playback can be checked offline.
type SimulatedDriver struct {
	mu        sync.Mutex
	channels  int
	open      bool
	pressures []float64
	writes    []Write
	inits     int
	closes    int
}

// NewSimulatedDriver creates a simulated controller with the given channel
// count
func NewSimulatedDriver(channels int) *SimulatedDriver {
	return &SimulatedDriver{
		channels:  channels,
		pressures: make([]float64, channels),
	}
}

func (d *SimulatedDriver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return fmt.Errorf("%w: simulated controller already open", ErrDriver)
	}
	d.open = true
	d.inits++
	slog.Debug("Simulated controller opened", "channels", d.channels)
	return nil
}

func (d *SimulatedDriver) ChannelCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return 0, fmt.Errorf("%w: simulated controller not open", ErrDriver)
	}
	return d.channels, nil
}

func (d *SimulatedDriver) SetPressure(channel int, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return fmt.Errorf("%w: simulated controller not open", ErrDriver)
	}
	if channel < 0 || channel >= d.channels {
		return fmt.Errorf("%w: invalid channel %d (controller has %d)", ErrDriver, channel, d.channels)
	}
	d.pressures[channel] = value
	d.writes = append(d.writes, Write{Channel: channel, Value: value})
	return nil
}

func (d *SimulatedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return fmt.Errorf("%w: simulated controller not open", ErrDriver)
	}
	d.open = false
	d.closes++
	slog.Debug("Simulated controller closed", "writes", len(d.writes))
	return nil
}

// Writes returns every recorded SetPressure call in order
func (d *SimulatedDriver) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Write(nil), d.writes...)
}

// Pressure returns the last value set on channel
func (d *SimulatedDriver) Pressure(channel int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pressures[channel]
}

// Sessions returns how many times the controller was opened and closed
func (d *SimulatedDriver) Sessions() (inits, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inits, d.closes
}
