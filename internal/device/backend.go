package device

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/fluidcycle/internal/config"
)

// BackendType represents the type of pressure controller backend
type BackendType string

const (
	BackendTypeSimulation BackendType = "simulation"
	BackendTypeSerial     BackendType = "serial"
	BackendTypeAuto       BackendType = "auto"
)

// NewDriver creates a driver using the backend selected by configuration.
// channels is the channel count used by the simulation backend when the
// configuration does not set one.
func NewDriver(cfg config.DeviceConfig, channels int) (Driver, error) {
	switch determineBackend(cfg) {
	case BackendTypeSerial:
		return NewSerialDriver(cfg), nil
	case BackendTypeSimulation:
		if cfg.Channels > 0 {
			channels = cfg.Channels
		}
		return NewSimulatedDriver(channels), nil
	default:
		return nil, fmt.Errorf("unsupported device backend: %s", cfg.Backend)
	}
}

// IsSimulation reports whether cfg resolves to the simulation backend
func IsSimulation(cfg config.DeviceConfig) bool {
	return determineBackend(cfg) == BackendTypeSimulation
}

// determineBackend resolves "auto": the serial backend when a port is
// configured, the simulation backend otherwise.
func determineBackend(cfg config.DeviceConfig) BackendType {
	switch strings.ToLower(cfg.Backend) {
	case string(BackendTypeSerial):
		return BackendTypeSerial
	case string(BackendTypeSimulation):
		return BackendTypeSimulation
	case "", string(BackendTypeAuto):
		if cfg.Port != "" {
			return BackendTypeSerial
		}
		slog.Debug("No serial port configured, using simulation backend")
		return BackendTypeSimulation
	default:
		return BackendType(cfg.Backend)
	}
}

// GetAvailableBackends returns the backends that can be selected
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeSimulation, BackendTypeSerial, BackendTypeAuto}
}
