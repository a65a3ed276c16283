package device

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/audiolibrelab/fluidcycle/internal/config"
)

const (
	defaultBaudRate = 115200
	defaultTimeout  = 200 * time.Millisecond
)

type portOpener func(name string, baudRate int, timeout time.Duration) (io.ReadWriteCloser, error)

// SerialDriver drives a pressure controller speaking a line protocol over a
// serial port. Each command is one ASCII line answered by one line:
//
//	PING          -> OK
//	CHAN?         -> <count>
//	SET <ch> <v>  -> OK | ERR <reason>
type SerialDriver struct {
	portName string
	baudRate int
	timeout  time.Duration
	open     portOpener

	port    io.ReadWriteCloser
	pending []byte
}

// NewSerialDriver creates a serial driver for the configured port
func NewSerialDriver(cfg config.DeviceConfig) *SerialDriver {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = defaultBaudRate
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SerialDriver{
		portName: cfg.Port,
		baudRate: baud,
		timeout:  timeout,
		open:     openSerialPort,
	}
}

func openSerialPort(name string, baudRate int, timeout time.Duration) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, err
	}
	if err := port.ResetInputBuffer(); err != nil {
		slog.Debug("Failed to reset serial input buffer", "port", name, "error", err)
	}
	return port, nil
}

func (d *SerialDriver) Init() error {
	if d.port != nil {
		return fmt.Errorf("%w: serial controller %s already open", ErrDriver, d.portName)
	}
	if d.portName == "" {
		return fmt.Errorf("%w: no serial port configured", ErrDriver)
	}

	port, err := d.open(d.portName, d.baudRate, d.timeout)
	if err != nil {
		return fmt.Errorf("%w: controller not found on %s: %v", ErrDriver, d.portName, err)
	}
	d.port = port
	d.pending = nil

	if _, err := d.exchange("PING"); err != nil {
		d.port.Close()
		d.port = nil
		return err
	}

	slog.Info("Serial controller opened", "port", d.portName, "baud_rate", d.baudRate)
	return nil
}

func (d *SerialDriver) ChannelCount() (int, error) {
	reply, err := d.exchange("CHAN?")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(reply)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid channel count reply %q", ErrDriver, reply)
	}
	return n, nil
}

func (d *SerialDriver) SetPressure(channel int, value float64) error {
	if channel < 0 {
		return fmt.Errorf("%w: invalid channel %d", ErrDriver, channel)
	}
	_, err := d.exchange(fmt.Sprintf("SET %d %s", channel, strconv.FormatFloat(value, 'f', 3, 64)))
	return err
}

func (d *SerialDriver) Close() error {
	if d.port == nil {
		return fmt.Errorf("%w: serial controller not open", ErrDriver)
	}
	err := d.port.Close()
	d.port = nil
	d.pending = nil
	if err != nil {
		return fmt.Errorf("%w: failed to close %s: %v", ErrDriver, d.portName, err)
	}
	slog.Debug("Serial controller closed", "port", d.portName)
	return nil
}

// exchange sends one command line and returns the trimmed reply
func (d *SerialDriver) exchange(cmd string) (string, error) {
	if d.port == nil {
		return "", fmt.Errorf("%w: serial controller not open", ErrDriver)
	}

	if _, err := io.WriteString(d.port, cmd+"\n"); err != nil {
		return "", fmt.Errorf("%w: failed to send %q: %v", ErrDriver, cmd, err)
	}

	line, err := d.readLine(cmd)
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(line)

	if strings.HasPrefix(reply, "ERR") {
		reason := strings.TrimSpace(strings.TrimPrefix(reply, "ERR"))
		return "", fmt.Errorf("%w: controller rejected %q: %s", ErrDriver, cmd, reason)
	}
	return reply, nil
}

// readLine returns the next reply line. The port returns 0, nil when its read
// timeout expires, so one empty read or the deadline ends the wait.
func (d *SerialDriver) readLine(cmd string) (string, error) {
	deadline := time.Now().Add(d.timeout)
	buf := make([]byte, 64)

	for {
		if i := bytes.IndexByte(d.pending, '\n'); i >= 0 {
			line := string(d.pending[:i])
			d.pending = d.pending[i+1:]
			return line, nil
		}

		n, err := d.port.Read(buf)
		d.pending = append(d.pending, buf[:n]...)
		if err != nil {
			return "", fmt.Errorf("%w: no reply to %q: %v", ErrDriver, cmd, err)
		}
		if n == 0 || time.Now().After(deadline) {
			if bytes.IndexByte(d.pending, '\n') >= 0 {
				continue
			}
			return "", fmt.Errorf("%w: no reply to %q within %v", ErrDriver, cmd, d.timeout)
		}
	}
}

// ListPorts returns the serial ports present on the system
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
