package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/fluidcycle/internal/device"
	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Sleep(d time.Duration) {
	c.Advance(d)
	c.mu.Lock()
	c.sleeps++
	c.mu.Unlock()
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	statuses []Status
	progress []Progress
	finished int
	err      error
	onTick   func(p Progress)
}

func (o *recordingObserver) OnStatus(status Status) { o.statuses = append(o.statuses, status) }

func (o *recordingObserver) OnProgress(p Progress) {
	o.progress = append(o.progress, p)
	if o.onTick != nil {
		o.onTick(p)
	}
}

func (o *recordingObserver) OnFinish(res Result, err error) {
	o.finished++
	o.err = err
}

// costDriver charges a fixed clock cost per write
type costDriver struct {
	*device.SimulatedDriver
	clock *manualClock
	cost  time.Duration
}

func (d *costDriver) SetPressure(channel int, value float64) error {
	d.clock.Advance(d.cost)
	return d.SimulatedDriver.SetPressure(channel, value)
}

// failingDriver fails the write number failAt (1-based), once
type failingDriver struct {
	*device.SimulatedDriver
	failAt int
	count  int
}

func (d *failingDriver) SetPressure(channel int, value float64) error {
	d.count++
	if d.count == d.failAt {
		return fmt.Errorf("%w: device unplugged", device.ErrDriver)
	}
	return d.SimulatedDriver.SetPressure(channel, value)
}

type deadDriver struct {
	inits, closes, writes int
}

func (d *deadDriver) Init() error {
	d.inits++
	return device.ErrDriver
}

func (d *deadDriver) ChannelCount() (int, error) { return 0, device.ErrDriver }

func (d *deadDriver) SetPressure(int, float64) error {
	d.writes++
	return device.ErrDriver
}

func (d *deadDriver) Close() error {
	d.closes++
	return device.ErrDriver
}

// buildTable is the two channel scenario: channel 0 flat at 300 mbar with 10
// points, channel 1 cycling 100-500 mbar with 10 point ramps
func buildTable(t *testing.T) *timeline.Table {
	t.Helper()

	tl, err := timeline.Assemble([]timeline.ChannelSpec{
		{Channel: 0, Evolution: timeline.EvolutionLinear, PressureMin: 300, PressureMax: 300, Resolution: timeline.ByCount{N: 10}},
		{Channel: 1, Evolution: timeline.EvolutionCyclic, PressureMin: 100, PressureMax: 500, Resolution: timeline.ByCount{N: 10}, Sync: true},
	}, 0.1)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	table, err := timeline.Align(tl)
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	return table
}

func testMetadata() timeline.Metadata {
	return timeline.Metadata{TimeResolution: 0.1, TotalDuration: 10, ChannelCount: 2}
}

func TestSchedulerEndToEnd(t *testing.T) {
	table := buildTable(t)
	if table.Rows() != 18 {
		t.Fatalf("Expected 18 rows, got %d", table.Rows())
	}

	driver := device.NewSimulatedDriver(2)
	clock := newManualClock()
	observer := &recordingObserver{}

	s, err := New(table, testMetadata(), driver, Options{Simulate: true, Clock: clock, Observer: observer})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if res.Ticks != 100 {
		t.Errorf("Expected 100 ticks, got %d", res.Ticks)
	}
	if res.Writes != 200 {
		t.Errorf("Expected 200 writes, got %d", res.Writes)
	}
	if res.Interrupted {
		t.Error("Expected run not to be interrupted")
	}
	if res.Elapsed != 10*time.Second {
		t.Errorf("Expected elapsed 10s, got %v", res.Elapsed)
	}
	if clock.sleeps != 100 {
		t.Errorf("Expected 100 sleeps, got %d", clock.sleeps)
	}

	writes := driver.Writes()
	if len(writes) != 202 {
		t.Fatalf("Expected 200 writes plus 2 zero writes, got %d", len(writes))
	}

	cycle, _ := timeline.BuildCycle(100, 500, 0.1, timeline.ByCount{N: 10}, true)
	for tick := 0; tick < 100; tick++ {
		ch0, ch1 := writes[2*tick], writes[2*tick+1]
		if ch0.Channel != 0 || ch0.Value != 300 {
			t.Fatalf("Tick %d: unexpected channel 0 write %+v", tick, ch0)
		}
		if ch1.Channel != 1 || ch1.Value != cycle[tick%len(cycle)] {
			t.Fatalf("Tick %d: expected channel 1 at %v, got %+v", tick, cycle[tick%len(cycle)], ch1)
		}
		if timeline.IsUndefined(ch0.Value) || timeline.IsUndefined(ch1.Value) {
			t.Fatalf("Tick %d: undefined sample written", tick)
		}
	}

	if writes[200] != (device.Write{Channel: 0, Value: 0}) || writes[201] != (device.Write{Channel: 1, Value: 0}) {
		t.Errorf("Expected both channels forced to 0, got %+v", writes[200:])
	}
	if inits, closes := driver.Sessions(); inits != 1 || closes != 1 {
		t.Errorf("Expected one session, got inits=%d closes=%d", inits, closes)
	}

	expected := []Status{StatusInitializing, StatusRunning, StatusZeroing, StatusClosed}
	if len(observer.statuses) != len(expected) {
		t.Fatalf("Expected statuses %v, got %v", expected, observer.statuses)
	}
	for i := range expected {
		if observer.statuses[i] != expected[i] {
			t.Errorf("Expected statuses %v, got %v", expected, observer.statuses)
			break
		}
	}
	if s.Status() != StatusClosed {
		t.Errorf("Expected final status CLOSED, got %s", s.Status())
	}

	if len(observer.progress) != 100 {
		t.Fatalf("Expected 100 progress reports, got %d", len(observer.progress))
	}
	last := observer.progress[99]
	if last.Tick != 100 || last.Elapsed != 9900*time.Millisecond || last.Total != 10*time.Second {
		t.Errorf("Unexpected last progress %+v", last)
	}
	if observer.finished != 1 || observer.err != nil {
		t.Errorf("Expected one successful finish, got %d (%v)", observer.finished, observer.err)
	}
}

func TestSchedulerInterruption(t *testing.T) {
	driver := device.NewSimulatedDriver(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observer := &recordingObserver{onTick: func(p Progress) {
		if p.Tick == 30 {
			cancel()
		}
	}}

	s, err := New(buildTable(t), testMetadata(), driver, Options{Simulate: true, Clock: newManualClock(), Observer: observer})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := s.Run(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Expected ErrInterrupted, got: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got: %v", err)
	}
	if !res.Interrupted || res.Ticks != 30 || res.Writes != 60 {
		t.Errorf("Unexpected result %+v", res)
	}

	writes := driver.Writes()
	zeros := 0
	for _, w := range writes {
		if w.Value == 0 {
			zeros++
		}
	}
	if zeros != 2 || len(writes) != 62 {
		t.Errorf("Expected exactly one zeroing pass (2 zero writes), got %d zero writes of %d", zeros, len(writes))
	}
	if inits, closes := driver.Sessions(); inits != 1 || closes != 1 {
		t.Errorf("Expected cleanup exactly once, got inits=%d closes=%d", inits, closes)
	}

	// a second shutdown is a no-op
	s.shutdown()
	if _, closes := driver.Sessions(); closes != 1 {
		t.Errorf("Expected shutdown to run once, got %d closes", closes)
	}
	if observer.finished != 1 || !errors.Is(observer.err, ErrInterrupted) {
		t.Errorf("Expected observer to see the interruption, got %v", observer.err)
	}
}

func TestSchedulerDriverFailure(t *testing.T) {
	sim := device.NewSimulatedDriver(2)
	driver := &failingDriver{SimulatedDriver: sim, failAt: 51}

	s, err := New(buildTable(t), testMetadata(), driver, Options{Simulate: true, Clock: newManualClock()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := s.Run(context.Background())
	if !errors.Is(err, device.ErrDriver) {
		t.Fatalf("Expected ErrDriver, got: %v", err)
	}
	if errors.Is(err, ErrInterrupted) {
		t.Errorf("Driver failure must not be reported as interruption: %v", err)
	}
	if res.Ticks != 25 || res.Writes != 50 {
		t.Errorf("Unexpected result %+v", res)
	}
	if sim.Pressure(0) != 0 || sim.Pressure(1) != 0 {
		t.Errorf("Expected channels zeroed after failure, got %v %v", sim.Pressure(0), sim.Pressure(1))
	}
	if inits, closes := sim.Sessions(); inits != 1 || closes != 1 {
		t.Errorf("Expected cleanup after failure, got inits=%d closes=%d", inits, closes)
	}
}

func TestSchedulerInitFailure(t *testing.T) {
	driver := &deadDriver{}
	observer := &recordingObserver{}

	s, err := New(buildTable(t), testMetadata(), driver, Options{Simulate: true, Clock: newManualClock(), Observer: observer})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = s.Run(context.Background())
	if !errors.Is(err, device.ErrDriver) {
		t.Fatalf("Expected ErrDriver, got: %v", err)
	}
	if driver.writes != 0 {
		t.Errorf("Expected no writes after failed init, got %d", driver.writes)
	}
	if driver.closes != 1 {
		t.Errorf("Expected close to be attempted once, got %d", driver.closes)
	}
	if s.Status() != StatusClosed {
		t.Errorf("Expected CLOSED, got %s", s.Status())
	}
}

func TestSchedulerAppliesInitialPressure(t *testing.T) {
	driver := device.NewSimulatedDriver(2)
	clock := newManualClock()
	start := clock.Now()

	s, err := New(buildTable(t), testMetadata(), driver, Options{SettleDelay: 10 * time.Second, Clock: clock})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.Ticks != 100 {
		t.Errorf("Expected 100 ticks after settling, got %d", res.Ticks)
	}

	writes := driver.Writes()
	if len(writes) != 204 {
		t.Fatalf("Expected 2 initial, 200 running and 2 zero writes, got %d", len(writes))
	}
	if writes[0] != (device.Write{Channel: 0, Value: 300}) || writes[1] != (device.Write{Channel: 1, Value: 100}) {
		t.Errorf("Expected row 0 applied first, got %+v", writes[:2])
	}
	if got := clock.Now().Sub(start); got != 20*time.Second {
		t.Errorf("Expected 10s settle plus 10s run, got %v", got)
	}
}

func TestSchedulerCancelDuringSettle(t *testing.T) {
	driver := device.NewSimulatedDriver(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := New(buildTable(t), testMetadata(), driver, Options{SettleDelay: 10 * time.Second, Clock: newManualClock()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := s.Run(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Expected ErrInterrupted, got: %v", err)
	}
	if res.Ticks != 0 {
		t.Errorf("Expected no ticks, got %d", res.Ticks)
	}
	if len(driver.Writes()) != 4 {
		t.Errorf("Expected initial and zero writes only, got %+v", driver.Writes())
	}
	if _, closes := driver.Sessions(); closes != 1 {
		t.Errorf("Expected one close, got %d", closes)
	}
}

func TestSchedulerDrift(t *testing.T) {
	clock := newManualClock()
	driver := &costDriver{SimulatedDriver: device.NewSimulatedDriver(2), clock: clock, cost: 5 * time.Millisecond}

	s, err := New(buildTable(t), testMetadata(), driver, Options{Simulate: true, Clock: clock})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// each tick takes dt plus two 5ms writes, so fewer than total/dt ticks fit
	if res.Ticks != 91 {
		t.Errorf("Expected 91 ticks with 10ms write cost per tick, got %d", res.Ticks)
	}
	if res.Ticks >= testMetadata().ExpectedTicks() {
		t.Errorf("Expected drift to lose ticks, got %d", res.Ticks)
	}
}

func TestSchedulerZeroesEveryDriverChannel(t *testing.T) {
	driver := device.NewSimulatedDriver(4)

	s, err := New(buildTable(t), testMetadata(), driver, Options{Simulate: true, Clock: newManualClock()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	writes := driver.Writes()
	tail := writes[len(writes)-4:]
	for ch, w := range tail {
		if w.Channel != ch || w.Value != 0 {
			t.Errorf("Expected channel %d zeroed, got %+v", ch, w)
		}
	}
}

func TestSchedulerSingleUse(t *testing.T) {
	s, err := New(buildTable(t), testMetadata(), device.NewSimulatedDriver(2), Options{Simulate: true, Clock: newManualClock()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if _, err := s.Run(context.Background()); err == nil {
		t.Error("Expected second run to fail")
	}
}

func TestNewValidation(t *testing.T) {
	table := buildTable(t)
	driver := device.NewSimulatedDriver(2)

	if _, err := New(nil, testMetadata(), driver, Options{}); !errors.Is(err, timeline.ErrConfig) {
		t.Errorf("Expected ErrConfig for nil table, got: %v", err)
	}
	if _, err := New(table, timeline.Metadata{TotalDuration: 10}, driver, Options{}); !errors.Is(err, timeline.ErrConfig) {
		t.Errorf("Expected ErrConfig for zero dt, got: %v", err)
	}
	if _, err := New(table, testMetadata(), nil, Options{}); !errors.Is(err, device.ErrDriver) {
		t.Errorf("Expected ErrDriver for nil driver, got: %v", err)
	}
	if _, err := New(table, testMetadata(), driver, Options{SettleDelay: -time.Second}); !errors.Is(err, timeline.ErrConfig) {
		t.Errorf("Expected ErrConfig for negative settle delay, got: %v", err)
	}
}

func TestZero(t *testing.T) {
	driver := device.NewSimulatedDriver(3)

	n, err := Zero(driver)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n != 3 || len(driver.Writes()) != 3 {
		t.Errorf("Expected 3 channels zeroed, got %d", n)
	}
	if inits, closes := driver.Sessions(); inits != 1 || closes != 1 {
		t.Errorf("Expected one session, got inits=%d closes=%d", inits, closes)
	}

	dead := &deadDriver{}
	if _, err := Zero(dead); !errors.Is(err, device.ErrDriver) {
		t.Errorf("Expected ErrDriver, got: %v", err)
	}
	if dead.writes != 0 || dead.closes != 1 {
		t.Errorf("Expected close only, got writes=%d closes=%d", dead.writes, dead.closes)
	}
}

func TestProgressPercent(t *testing.T) {
	p := Progress{Elapsed: 1200 * time.Millisecond, Total: 10 * time.Second}
	if got := p.Percent(); got < 11.999 || got > 12.001 {
		t.Errorf("Expected 12%%, got %v", got)
	}
	if got := (Progress{Elapsed: 11 * time.Second, Total: 10 * time.Second}).Percent(); got != 100 {
		t.Errorf("Expected capped 100%%, got %v", got)
	}
}
