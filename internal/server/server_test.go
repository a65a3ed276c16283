package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/audiolibrelab/fluidcycle/internal/config"
	"github.com/audiolibrelab/fluidcycle/internal/device"
	"github.com/audiolibrelab/fluidcycle/internal/monitor"
	"github.com/audiolibrelab/fluidcycle/internal/playback"
	"github.com/audiolibrelab/fluidcycle/internal/service"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// gatedDriver blocks every write until gate is closed
type gatedDriver struct {
	*device.SimulatedDriver
	gate chan struct{}
}

func (d *gatedDriver) SetPressure(channel int, value float64) error {
	<-d.gate
	return d.SimulatedDriver.SetPressure(channel, value)
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Profile:  "default",
		Timing:   config.TimingConfig{DT: 0.1, TotalDuration: 10},
		Pressure: config.PressureConfig{Base: 300, DeltaPlus: 200, DeltaMinus: 200},
		Channels: []config.Channel{
			{Name: "reference", Channel: 0, Evolution: "linear", PMin: 300, PMax: 300, Points: 10},
			{Name: "pulse", Channel: 1, Evolution: "cyclic", PMin: 100, PMax: 500, Points: 10, Sync: true},
		},
		Output: config.OutputConfig{Directory: dir},
		Device: config.DeviceConfig{Backend: "simulation"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, factory service.DriverFactory) (*Server, service.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if factory == nil {
		factory = func(dc config.DeviceConfig, channels int) (device.Driver, error) {
			return device.NewSimulatedDriver(channels), nil
		}
	}
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := service.New(cfg, "", service.WithClock(clock), service.WithDriverFactory(factory))

	s := NewWithService(svc, "", "0", false)
	t.Cleanup(s.Close)
	return s, svc
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) StatusResponse {
	t.Helper()
	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	return status
}

func TestGenerateAndTimeline(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t.TempDir()), nil)

	if rec := doRequest(t, s, http.MethodGet, "/timeline", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before generate, got %d", rec.Code)
	}

	rec := doRequest(t, s, http.MethodPost, "/generate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/timeline", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var info service.TimelineInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("Failed to decode timeline: %v", err)
	}
	if info.Rows != 18 || len(info.Channels) != 2 || info.ExpectedTicks != 100 {
		t.Errorf("Unexpected timeline info %+v", info)
	}
}

func TestGenerateConfigError(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Channels[0].Evolution = "sine"
	s, _ := newTestServer(t, cfg, nil)

	rec := doRequest(t, s, http.MethodPost, "/generate", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for config error, got %d", rec.Code)
	}

	status := decodeStatus(t, doRequest(t, s, http.MethodGet, "/status", ""))
	if status.LastError == "" {
		t.Error("Expected last error in status")
	}
}

func TestPlayLifecycle(t *testing.T) {
	s, svc := newTestServer(t, testConfig(t.TempDir()), nil)
	doRequest(t, s, http.MethodPost, "/generate", "")

	rec := doRequest(t, s, http.MethodPost, "/play", `{"simulate": true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	waitFor(t, "playback to finish", func() bool { return !s.isRunning() })

	status := decodeStatus(t, doRequest(t, s, http.MethodGet, "/status", ""))
	if status.Playing {
		t.Error("Expected playback finished")
	}
	if status.Snapshot.Status != playback.StatusClosed {
		t.Errorf("Expected CLOSED, got %s", status.Snapshot.Status)
	}
	if status.Snapshot.Result == nil || status.Snapshot.Result.Ticks != 100 {
		t.Errorf("Expected 100 ticks, got %+v", status.Snapshot.Result)
	}
	if status.Profile != svc.GetConfig().Profile {
		t.Errorf("Expected profile %s, got %s", svc.GetConfig().Profile, status.Profile)
	}
}

func TestPlayConflictAndStop(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	defer release()

	factory := func(dc config.DeviceConfig, channels int) (device.Driver, error) {
		return &gatedDriver{SimulatedDriver: device.NewSimulatedDriver(channels), gate: gate}, nil
	}
	s, svc := newTestServer(t, testConfig(t.TempDir()), factory)
	doRequest(t, s, http.MethodPost, "/generate", "")

	if rec := doRequest(t, s, http.MethodPost, "/stop", ""); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for stop without playback, got %d", rec.Code)
	}

	if rec := doRequest(t, s, http.MethodPost, "/play", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodPost, "/play", ""); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for concurrent play, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodPost, "/generate", ""); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for generate during playback, got %d", rec.Code)
	}

	waitFor(t, "playback to start", svc.IsPlaying)
	if rec := doRequest(t, s, http.MethodPost, "/stop", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for stop, got %d", rec.Code)
	}
	release()

	waitFor(t, "playback to stop", func() bool { return !s.isRunning() })
	status := decodeStatus(t, doRequest(t, s, http.MethodGet, "/status", ""))
	if !strings.Contains(status.Snapshot.Error, "interrupted") {
		t.Errorf("Expected interruption error, got %q", status.Snapshot.Error)
	}
	if status.Snapshot.Result == nil || !status.Snapshot.Result.Interrupted {
		t.Errorf("Expected interrupted result, got %+v", status.Snapshot.Result)
	}
}

// newGatedServer returns a server whose driver writes block until release
func newGatedServer(t *testing.T) (*Server, func()) {
	t.Helper()
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }

	factory := func(dc config.DeviceConfig, channels int) (device.Driver, error) {
		return &gatedDriver{SimulatedDriver: device.NewSimulatedDriver(channels), gate: gate}, nil
	}
	s, _ := newTestServer(t, testConfig(t.TempDir()), factory)
	// runs before s.Close so a blocked run can finish
	t.Cleanup(release)
	return s, release
}

func TestStopRightAfterPlay(t *testing.T) {
	for i := 0; i < 20; i++ {
		s, release := newGatedServer(t)
		doRequest(t, s, http.MethodPost, "/generate", "")

		if rec := doRequest(t, s, http.MethodPost, "/play", ""); rec.Code != http.StatusAccepted {
			t.Fatalf("Expected 202, got %d", rec.Code)
		}
		if rec := doRequest(t, s, http.MethodPost, "/stop", ""); rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 for stop after accepted play (iteration %d), got %d", i, rec.Code)
		}
		release()
		waitFor(t, "playback to stop", func() bool { return !s.isRunning() })

		status := decodeStatus(t, doRequest(t, s, http.MethodGet, "/status", ""))
		if status.Snapshot.Result == nil || !status.Snapshot.Result.Interrupted {
			t.Fatalf("Expected interrupted run (iteration %d), got %+v", i, status.Snapshot)
		}
		if status.Snapshot.Result.Ticks > 1 {
			t.Errorf("Expected at most one tick after immediate stop, got %d", status.Snapshot.Result.Ticks)
		}
	}
}

func TestStopDuringPipeline(t *testing.T) {
	s, release := newGatedServer(t)

	if rec := doRequest(t, s, http.MethodPost, "/pipeline", `{"steps": "gp"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodPost, "/stop", ""); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for stop during pipeline, got %d", rec.Code)
	}
	release()
	waitFor(t, "pipeline to stop", func() bool { return !s.isRunning() })

	status := decodeStatus(t, doRequest(t, s, http.MethodGet, "/status", ""))
	if r := status.Snapshot.Result; r != nil && (!r.Interrupted || r.Ticks > 1) {
		t.Errorf("Expected no completed playback, got %+v", r)
	}
}

func TestPipelineEndpoint(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t.TempDir()), nil)

	if rec := doRequest(t, s, http.MethodPost, "/pipeline", `{"steps": "gx"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown step, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodPost, "/pipeline", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing steps, got %d", rec.Code)
	}

	if rec := doRequest(t, s, http.MethodPost, "/pipeline", `{"steps": "gp"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	waitFor(t, "pipeline to finish", func() bool { return !s.isRunning() })

	if rec := doRequest(t, s, http.MethodGet, "/timeline", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected generated timeline, got %d", rec.Code)
	}
	status := decodeStatus(t, doRequest(t, s, http.MethodGet, "/status", ""))
	if status.Snapshot.Result == nil || status.Snapshot.Result.Ticks != 100 {
		t.Errorf("Expected played timeline, got %+v", status.Snapshot)
	}
}

func TestZeroEndpoint(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t.TempDir()), nil)

	rec := doRequest(t, s, http.MethodPost, "/zero?simulate=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "2 channels set to 0 mbar") {
		t.Errorf("Unexpected body %s", rec.Body.String())
	}
}

func TestSelectProfileWithoutConfigFile(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t.TempDir()), nil)

	if rec := doRequest(t, s, http.MethodPost, "/profiles/select", `{"name": "fast"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodPost, "/profiles/select", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing name, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/profiles", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestWebSocketStream(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t.TempDir()), nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket.Dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "test finished")

	var first monitor.Event
	if err := wsjson.Read(ctx, ws, &first); err != nil {
		t.Fatalf("receive snapshot: %v", err)
	}
	if first.Type != monitor.EventSnapshot || first.Snapshot.Status != playback.StatusIdle {
		t.Fatalf("Expected idle snapshot, got %+v", first)
	}

	for _, path := range []string{"/generate", "/play"} {
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
	}

	progress := 0
	for {
		var ev monitor.Event
		if err := wsjson.Read(ctx, ws, &ev); err != nil {
			t.Fatalf("receive event: %v", err)
		}
		if ev.Type == monitor.EventProgress {
			progress++
		}
		if ev.Type == monitor.EventFinish {
			if ev.Snapshot.Result == nil || ev.Snapshot.Result.Ticks != 100 || ev.Snapshot.Error != "" {
				t.Errorf("Unexpected finish event %+v", ev.Snapshot)
			}
			break
		}
	}
	if progress != 100 {
		t.Errorf("Expected 100 progress events, got %d", progress)
	}
}
