package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/fluidcycle/internal/config"
	"github.com/audiolibrelab/fluidcycle/internal/device"
	"github.com/audiolibrelab/fluidcycle/internal/monitor"
	"github.com/audiolibrelab/fluidcycle/internal/playback"
	"github.com/audiolibrelab/fluidcycle/internal/store"
	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

// ErrBusy is returned when a playback is requested while another one runs
var ErrBusy = errors.New("a playback is already running")

// Service represents the core FluidCycle service interface
type Service interface {
	// Timeline operations
	Generate() (*GenerateResult, error)
	Inspect() (*TimelineInfo, error)

	// Playback operations
	Play(ctx context.Context, opts PlayOptions) (playback.Result, error)
	Stop() error
	IsPlaying() bool
	Zero(simulate bool) (int, error)

	// Pipeline operations
	RunPipeline(ctx context.Context, steps string, opts PlayOptions) error

	// Device operations
	ListPorts() ([]string, error)

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config
	Paths() store.Paths

	// Status operations
	Tracker() *monitor.Tracker
	GetLastError() string
}

// PlayOptions controls one playback run
type PlayOptions struct {
	// Simulate uses the in-memory controller whatever the configured backend
	Simulate bool
	// Observer receives run events in addition to the service tracker
	Observer playback.Observer
}

// GenerateResult describes the files written by Generate
type GenerateResult struct {
	Paths    store.Paths       `json:"paths"`
	Rows     int               `json:"rows"`
	Channels []int             `json:"channels"`
	Metadata timeline.Metadata `json:"metadata"`
}

// TimelineInfo describes a persisted timeline
type TimelineInfo struct {
	Profile       string            `json:"profile"`
	Paths         store.Paths       `json:"paths"`
	Rows          int               `json:"rows"`
	Channels      []ChannelInfo     `json:"channels"`
	Metadata      timeline.Metadata `json:"metadata"`
	ExpectedTicks int               `json:"expected_ticks"`
}

// ChannelInfo describes one column of a timeline table
type ChannelInfo struct {
	Channel      int     `json:"channel"`
	Samples      int     `json:"samples"`
	CycleSeconds float64 `json:"cycle_s"`
	Min          float64 `json:"p_min"`
	Max          float64 `json:"p_max"`
}

// DriverFactory creates the pressure driver for a run
type DriverFactory func(cfg config.DeviceConfig, channels int) (device.Driver, error)

// Option configures a FluidCycleService
type Option func(*FluidCycleService)

// WithClock replaces the wall clock used by playback
func WithClock(clock playback.Clock) Option {
	return func(s *FluidCycleService) { s.clock = clock }
}

// WithDriverFactory replaces device.NewDriver
func WithDriverFactory(factory DriverFactory) Option {
	return func(s *FluidCycleService) { s.newDriver = factory }
}

// FluidCycleService is the main service implementation
type FluidCycleService struct {
	cfgMutex   sync.RWMutex
	cfg        *config.Config
	configFile string

	clock     playback.Clock
	newDriver DriverFactory
	tracker   *monitor.Tracker

	// Playback session
	runMutex sync.Mutex
	cancel   context.CancelFunc

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new FluidCycle service instance
func New(cfg *config.Config, configFile string, opts ...Option) Service {
	s := &FluidCycleService{
		cfg:        cfg,
		configFile: configFile,
		clock:      playback.RealClock(),
		newDriver:  device.NewDriver,
		tracker:    monitor.NewTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate builds the timeline of the current profile and writes it with its
// metadata to the output directory
func (s *FluidCycleService) Generate() (*GenerateResult, error) {
	cfg := s.GetConfig()
	slog.Debug("Service.Generate called", "profile", cfg.Profile)

	specs, err := cfg.Specs()
	if err != nil {
		return nil, s.fail("generate", err)
	}

	tl, err := timeline.Assemble(specs, cfg.Timing.DT)
	if err != nil {
		return nil, s.fail("generate", err)
	}

	table, err := timeline.Align(tl)
	if err != nil {
		return nil, s.fail("generate", err)
	}

	meta := cfg.Metadata()
	meta.ChannelCount = len(table.Channels())

	paths := s.Paths()
	if err := store.Save(paths, table, meta); err != nil {
		return nil, s.fail("generate", err)
	}

	slog.Info("Timeline generated",
		"profile", cfg.Profile,
		"rows", table.Rows(),
		"channels", len(table.Channels()),
		"file", paths.Timeline)
	s.clearLastError()

	return &GenerateResult{
		Paths:    paths,
		Rows:     table.Rows(),
		Channels: table.Channels(),
		Metadata: meta,
	}, nil
}

// Inspect loads the persisted timeline and describes it
func (s *FluidCycleService) Inspect() (*TimelineInfo, error) {
	paths := s.Paths()
	table, meta, err := store.Load(paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}

	info := &TimelineInfo{
		Profile:       s.GetConfig().Profile,
		Paths:         paths,
		Rows:          table.Rows(),
		Metadata:      meta,
		ExpectedTicks: meta.ExpectedTicks(),
	}

	for col, ch := range table.Channels() {
		samples := table.Samples(col)
		ci := ChannelInfo{
			Channel:      ch,
			Samples:      len(samples),
			CycleSeconds: float64(len(samples)) * meta.TimeResolution,
		}
		for i, v := range samples {
			if i == 0 || v < ci.Min {
				ci.Min = v
			}
			if i == 0 || v > ci.Max {
				ci.Max = v
			}
		}
		info.Channels = append(info.Channels, ci)
	}

	return info, nil
}

// Play loads the persisted timeline and plays it. It blocks until the run
// ends; Stop or ctx cancellation interrupts it.
func (s *FluidCycleService) Play(ctx context.Context, opts PlayOptions) (playback.Result, error) {
	s.runMutex.Lock()
	if s.cancel != nil {
		s.runMutex.Unlock()
		return playback.Result{}, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runMutex.Unlock()

	defer func() {
		cancel()
		s.runMutex.Lock()
		s.cancel = nil
		s.runMutex.Unlock()
	}()

	s.clearLastError()
	s.tracker.Reset()

	cfg := s.GetConfig()
	table, meta, err := store.Load(s.Paths())
	if err != nil {
		return playback.Result{}, s.fail("play", err)
	}

	simulate := opts.Simulate || device.IsSimulation(cfg.Device)
	deviceCfg := cfg.Device
	if simulate {
		deviceCfg.Backend = string(device.BackendTypeSimulation)
	}

	driver, err := s.newDriver(deviceCfg, channelSpan(table.Channels()))
	if err != nil {
		return playback.Result{}, s.fail("play", err)
	}

	observers := playback.MultiObserver{s.tracker}
	if opts.Observer != nil {
		observers = append(observers, opts.Observer)
	}

	scheduler, err := playback.New(table, meta, driver, playback.Options{
		Simulate:    simulate,
		SettleDelay: cfg.SettleDelay(),
		Clock:       s.clock,
		Observer:    observers,
	})
	if err != nil {
		return playback.Result{}, s.fail("play", err)
	}

	slog.Debug("Service.Play starting", "simulate", simulate, "backend", deviceCfg.Backend)
	res, err := scheduler.Run(ctx)
	if err != nil {
		return res, s.fail("play", err)
	}
	return res, nil
}

// Stop interrupts the running playback. The device is zeroed and closed by
// the run itself.
func (s *FluidCycleService) Stop() error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()

	if s.cancel == nil {
		return fmt.Errorf("no playback running")
	}
	s.cancel()
	slog.Info("Playback stop requested")
	return nil
}

func (s *FluidCycleService) IsPlaying() bool {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	return s.cancel != nil
}

// Zero forces every channel of the configured controller to 0 mbar
func (s *FluidCycleService) Zero(simulate bool) (int, error) {
	if s.IsPlaying() {
		return 0, ErrBusy
	}

	cfg := s.GetConfig()
	deviceCfg := cfg.Device
	if simulate {
		deviceCfg.Backend = string(device.BackendTypeSimulation)
	}

	channels := 0
	for _, ch := range cfg.Channels {
		channels = max(channels, ch.Channel+1)
	}

	driver, err := s.newDriver(deviceCfg, channels)
	if err != nil {
		return 0, s.fail("zero", err)
	}

	n, err := playback.Zero(driver)
	if err != nil {
		return n, s.fail("zero", err)
	}
	return n, nil
}

// RunPipeline executes a sequence of operations (g=generate, i=info, p=play)
func (s *FluidCycleService) RunPipeline(ctx context.Context, steps string, opts PlayOptions) error {
	if err := ValidatePipeline(steps); err != nil {
		return err
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline stopped before step '%c': %w", step, err)
		}
		switch step {
		case 'g':
			if _, err := s.Generate(); err != nil {
				return fmt.Errorf("pipeline generate failed: %w", err)
			}
		case 'i':
			info, err := s.Inspect()
			if err != nil {
				return fmt.Errorf("pipeline info failed: %w", err)
			}
			slog.Info("Timeline", "rows", info.Rows, "channels", len(info.Channels), "expected_ticks", info.ExpectedTicks)
		case 'p':
			if _, err := s.Play(ctx, opts); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
		}
	}
	return nil
}

// ValidatePipeline checks that steps only holds known pipeline steps
func ValidatePipeline(steps string) error {
	if steps == "" {
		return fmt.Errorf("empty pipeline")
	}
	for _, step := range steps {
		switch step {
		case 'g', 'i', 'p':
		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: g=generate, i=info, p=play)", step)
		}
	}
	return nil
}

func (s *FluidCycleService) ListPorts() ([]string, error) {
	return device.ListPorts()
}

// LoadProfile loads a new configuration profile
func (s *FluidCycleService) LoadProfile(profile string) error {
	if s.IsPlaying() {
		return ErrBusy
	}

	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.cfgMutex.Lock()
	s.cfg = newCfg
	s.cfgMutex.Unlock()

	slog.Info("Profile loaded", "profile", newCfg.Profile)
	return nil
}

// GetConfig returns the current configuration
func (s *FluidCycleService) GetConfig() *config.Config {
	s.cfgMutex.RLock()
	defer s.cfgMutex.RUnlock()
	return s.cfg
}

// Paths returns the timeline and metadata files of the current profile
func (s *FluidCycleService) Paths() store.Paths {
	out := s.GetConfig().Output
	return store.PathsIn(out.Directory, out.TimelineFile, out.MetadataFile)
}

func (s *FluidCycleService) Tracker() *monitor.Tracker {
	return s.tracker
}

// GetLastError returns the last error message (thread-safe)
func (s *FluidCycleService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// fail records err as the last error and returns it wrapped with op
func (s *FluidCycleService) fail(op string, err error) error {
	err = fmt.Errorf("%s failed: %w", op, err)

	s.lastErrorMutex.Lock()
	s.lastError = err.Error()
	s.lastErrorMutex.Unlock()

	slog.Error("Service error occurred", "operation", op, "error", err)
	return err
}

func (s *FluidCycleService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// channelSpan is the controller size needed to address every channel
func channelSpan(channels []int) int {
	n := 0
	for _, ch := range channels {
		n = max(n, ch+1)
	}
	return n
}

