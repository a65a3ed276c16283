package device

import "errors"

// ErrDriver marks a hardware failure: device not found, communication
// failure or invalid channel. It is fatal to the current run.
var ErrDriver = errors.New("pressure driver error")

// Driver defines the interface every pressure controller backend implements.
// Calls are synchronous and expected to return well within one tick.
type Driver interface {
	// Init opens the session with the controller
	Init() error

	// ChannelCount returns the number of pressure channels of the controller
	ChannelCount() (int, error)

	// SetPressure sets the pressure of one channel, in mbar
	SetPressure(channel int, value float64) error

	// Close ends the session
	Close() error
}
