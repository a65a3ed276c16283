package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/fluidcycle/internal/device"
	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

// ErrInterrupted is returned when a run is cancelled before the total
// duration elapsed. The device has been zeroed and closed.
var ErrInterrupted = errors.New("playback interrupted")

// Options controls a playback run
type Options struct {
	// Simulate skips the initial pressure application and the settle delay
	Simulate bool
	// SettleDelay is the wait after applying row 0
	SettleDelay time.Duration
	Clock       Clock
	Observer    Observer
}

// Result summarizes a run. Writes counts the SetPressure calls of the
// Running phase only.
type Result struct {
	Ticks       int           `json:"ticks"`
	Writes      int           `json:"writes"`
	Elapsed     time.Duration `json:"elapsed"`
	Interrupted bool          `json:"interrupted"`
}

// Scheduler plays a timeline table on a pressure driver in real time. A
// Scheduler performs a single run.
type Scheduler struct {
	table    *timeline.Table
	meta     timeline.Metadata
	driver   device.Driver
	opts     Options
	channels []int
	cursors  []*Cursor

	mu      sync.Mutex
	status  Status
	started bool

	shutdownOnce sync.Once
}

// New prepares a run of table on driver. The table and metadata are not
// modified.
func New(table *timeline.Table, meta timeline.Metadata, driver device.Driver, opts Options) (*Scheduler, error) {
	if table == nil || table.Rows() == 0 {
		return nil, fmt.Errorf("%w: empty timeline table", timeline.ErrConfig)
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: no driver", device.ErrDriver)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	if opts.SettleDelay < 0 {
		return nil, fmt.Errorf("%w: settle delay must be >= 0, got %v", timeline.ErrConfig, opts.SettleDelay)
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	channels := table.Channels()
	cursors := make([]*Cursor, len(channels))
	for col := range channels {
		cursors[col] = NewCursor(table.Len(col))
	}

	return &Scheduler{
		table:    table,
		meta:     meta,
		driver:   driver,
		opts:     opts,
		channels: channels,
		cursors:  cursors,
		status:   StatusIdle,
	}, nil
}

// Status returns the current state of the run
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	slog.Debug("Playback status", "status", status)
	s.opts.Observer.OnStatus(status)
}

// Run opens the driver, plays the table until the total duration elapsed or
// ctx is cancelled, then zeroes every channel and closes the driver. The
// zero and close step runs on every exit path. Cancellation is observed at
// tick boundaries.
func (s *Scheduler) Run(ctx context.Context) (res Result, err error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("playback already started")
	}
	s.started = true
	s.mu.Unlock()

	defer func() {
		s.setStatus(StatusClosed)
		s.opts.Observer.OnFinish(res, err)
	}()

	s.setStatus(StatusInitializing)
	if err := s.driver.Init(); err != nil {
		if cerr := s.driver.Close(); cerr != nil {
			slog.Debug("Close after failed init", "error", cerr)
		}
		return res, fmt.Errorf("opening pressure controller: %w", err)
	}
	defer s.shutdown()

	if !s.opts.Simulate {
		if err := s.applyInitial(); err != nil {
			return res, err
		}
		if s.opts.SettleDelay > 0 {
			slog.Info("Waiting for pressures to settle", "delay", s.opts.SettleDelay)
			if err := wait(ctx, s.opts.Clock, s.opts.SettleDelay); err != nil {
				res.Interrupted = true
				return res, fmt.Errorf("%w during settle delay: %w", ErrInterrupted, err)
			}
		}
	}

	return s.run(ctx)
}

// applyInitial sets every channel to its row 0 pressure
func (s *Scheduler) applyInitial() error {
	for col, ch := range s.channels {
		if err := s.driver.SetPressure(ch, s.table.Value(col, 0)); err != nil {
			return fmt.Errorf("applying initial pressure on channel %d: %w", ch, err)
		}
	}
	slog.Debug("Initial pressures applied", "channels", len(s.channels))
	return nil
}

// run is the Running phase. Tick cadence is dt plus the cost of the tick's
// writes; the drift is not compensated.
func (s *Scheduler) run(ctx context.Context) (res Result, err error) {
	clock := s.opts.Clock
	step := s.meta.Step()
	total := s.meta.Total()

	s.setStatus(StatusRunning)
	slog.Info("Playback started",
		"channels", len(s.channels),
		"rows", s.table.Rows(),
		"step", step,
		"total", total,
		"ticks_expected", s.meta.ExpectedTicks())

	start := clock.Now()
	defer func() {
		res.Elapsed = clock.Now().Sub(start)
	}()

	for {
		elapsed := clock.Now().Sub(start)
		if elapsed >= total {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			res.Interrupted = true
			return res, fmt.Errorf("%w after %d ticks: %w", ErrInterrupted, res.Ticks, cerr)
		}

		for col, ch := range s.channels {
			value := s.table.Value(col, s.cursors[col].Next())
			if err := s.driver.SetPressure(ch, value); err != nil {
				return res, fmt.Errorf("tick %d, channel %d: %w", res.Ticks, ch, err)
			}
			res.Writes++
		}
		res.Ticks++

		s.opts.Observer.OnProgress(Progress{Tick: res.Ticks, Elapsed: elapsed, Total: total})
		clock.Sleep(step)
	}

	slog.Info("Playback complete", "ticks", res.Ticks, "writes", res.Writes)
	return res, nil
}

// shutdown forces every channel to zero and closes the driver. Failures are
// logged and not returned.
func (s *Scheduler) shutdown() {
	s.shutdownOnce.Do(func() {
		s.setStatus(StatusZeroing)

		channels := s.channels
		if n, err := s.driver.ChannelCount(); err != nil {
			slog.Warn("Reading channel count failed, zeroing table channels only", "error", err)
		} else {
			channels = make([]int, n)
			for i := range channels {
				channels[i] = i
			}
		}

		for _, ch := range channels {
			if err := s.driver.SetPressure(ch, 0); err != nil {
				slog.Warn("Zeroing channel failed", "channel", ch, "error", err)
			}
		}

		if err := s.driver.Close(); err != nil {
			slog.Warn("Closing pressure controller failed", "error", err)
		}
		slog.Info("Pressure controller zeroed and closed", "channels", len(channels))
	})
}
