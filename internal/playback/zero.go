package playback

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/fluidcycle/internal/device"
)

// Zero opens driver, forces every channel to 0 and closes it. It returns the
// number of channels written. Write and close failures are collected; a
// failed write does not stop the remaining channels.
func Zero(driver device.Driver) (int, error) {
	if err := driver.Init(); err != nil {
		if cerr := driver.Close(); cerr != nil {
			slog.Debug("Close after failed init", "error", cerr)
		}
		return 0, fmt.Errorf("opening pressure controller: %w", err)
	}

	n, err := driver.ChannelCount()
	if err != nil {
		if cerr := driver.Close(); cerr != nil {
			slog.Warn("Closing pressure controller failed", "error", cerr)
		}
		return 0, fmt.Errorf("reading channel count: %w", err)
	}

	var errs []error
	zeroed := 0
	for ch := 0; ch < n; ch++ {
		if err := driver.SetPressure(ch, 0); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", ch, err))
			continue
		}
		zeroed++
	}
	if err := driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing: %w", err))
	}

	slog.Info("Pressure controller zeroed", "channels", zeroed)
	return zeroed, errors.Join(errs...)
}
