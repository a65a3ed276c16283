package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/audiolibrelab/fluidcycle/internal/config"
	"github.com/audiolibrelab/fluidcycle/internal/monitor"
	"github.com/audiolibrelab/fluidcycle/internal/service"
	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

// Server exposes the FluidCycle service over HTTP
type Server struct {
	service    service.Service
	configFile string
	port       string
	simulate   bool
	router     *gin.Engine

	// Background run started by /play or /pipeline
	runMutex  sync.Mutex
	running   bool
	cancelRun context.CancelFunc
	runCtx    context.Context
	stopRuns  context.CancelFunc
	runs      sync.WaitGroup
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Playing   bool             `json:"playing"`
	Profile   string           `json:"profile"`
	Snapshot  monitor.Snapshot `json:"snapshot"`
	LastError string           `json:"last_error,omitempty"`
}

// PlayRequest is the optional body of /play
type PlayRequest struct {
	Simulate bool `json:"simulate"`
}

// PipelineRequest is the body of /pipeline
type PipelineRequest struct {
	Steps    string `json:"steps" binding:"required"`
	Simulate bool   `json:"simulate"`
}

// ProfileRequest is the body of /profiles/select
type ProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance from a config file
func New(configFile, port string, simulate bool) (*Server, error) {
	cfg, err := config.LoadWithProfile(configFile, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return NewWithService(service.New(cfg, configFile), configFile, port, simulate), nil
}

// NewWithService creates a server around an existing service
func NewWithService(svc service.Service, configFile, port string, simulate bool) *Server {
	s := &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
		simulate:   simulate,
	}
	s.runCtx, s.stopRuns = context.WithCancel(context.Background())
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/status", s.handleStatus)
	r.GET("/timeline", s.handleTimeline)
	r.POST("/generate", s.handleGenerate)
	r.POST("/play", s.handlePlay)
	r.POST("/stop", s.handleStop)
	r.POST("/zero", s.handleZero)
	r.POST("/pipeline", s.handlePipeline)
	r.GET("/profiles", s.handleProfiles)
	r.POST("/profiles/select", s.handleSelectProfile)
	r.GET("/ports", s.handlePorts)
	r.GET("/ws", s.handleWebSocket)

	return r
}

// requestLogger logs requests through slog at debug level
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then interrupts any running playback
// and waits for it to zero the device
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting FluidCycle server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close interrupts the background run and waits until it has finished
func (s *Server) Close() {
	s.stopRuns()
	s.runs.Wait()
}

// startRun runs fn in the background unless a run is active
func (s *Server) startRun(name string, fn func(ctx context.Context) error) bool {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()

	if s.running || s.service.IsPlaying() {
		return false
	}
	ctx, cancel := context.WithCancel(s.runCtx)
	s.running = true
	s.cancelRun = cancel
	s.runs.Add(1)

	go func() {
		defer s.runs.Done()
		defer func() {
			cancel()
			s.runMutex.Lock()
			s.running = false
			s.cancelRun = nil
			s.runMutex.Unlock()
		}()

		if err := fn(ctx); err != nil {
			slog.Error("Background run failed", "run", name, "error", err)
			return
		}
		slog.Info("Background run completed", "run", name)
	}()
	return true
}

// stopRun cancels the background run. It reports false when none is active.
func (s *Server) stopRun() bool {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()

	if !s.running {
		return false
	}
	s.cancelRun()
	return true
}

func (s *Server) isRunning() bool {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	return s.running
}

func (s *Server) handleStatus(c *gin.Context) {
	snapshot := s.service.Tracker().Snapshot()
	c.JSON(http.StatusOK, StatusResponse{
		Playing:   s.isRunning() || s.service.IsPlaying() || snapshot.Status.Active(),
		Profile:   s.service.GetConfig().Profile,
		Snapshot:  snapshot,
		LastError: s.service.GetLastError(),
	})
}

func (s *Server) handleTimeline(c *gin.Context) {
	info, err := s.service.Inspect()
	if err != nil {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleGenerate(c *gin.Context) {
	if s.isRunning() {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Error: service.ErrBusy.Error()})
		return
	}

	res, err := s.service.Generate()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, timeline.ErrConfig) {
			status = http.StatusBadRequest
		}
		c.JSON(status, GenericResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handlePlay(c *gin.Context) {
	var req PlayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Error: "invalid request body"})
			return
		}
	}
	opts := service.PlayOptions{Simulate: s.simulate || req.Simulate}

	started := s.startRun("play", func(ctx context.Context) error {
		_, err := s.service.Play(ctx, opts)
		return err
	})
	if !started {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Error: service.ErrBusy.Error()})
		return
	}
	c.JSON(http.StatusAccepted, GenericResponse{Success: true, Message: "Playback started"})
}

func (s *Server) handlePipeline(c *gin.Context) {
	var req PipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Error: "invalid request body"})
		return
	}
	if err := service.ValidatePipeline(req.Steps); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Error: err.Error()})
		return
	}
	opts := service.PlayOptions{Simulate: s.simulate || req.Simulate}

	started := s.startRun("pipeline", func(ctx context.Context) error {
		return s.service.RunPipeline(ctx, req.Steps, opts)
	})
	if !started {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Error: service.ErrBusy.Error()})
		return
	}
	c.JSON(http.StatusAccepted, GenericResponse{Success: true, Message: "Pipeline started: " + req.Steps})
}

func (s *Server) handleStop(c *gin.Context) {
	if s.stopRun() {
		slog.Info("Background run stop requested")
		c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Playback stopping"})
		return
	}
	if err := s.service.Stop(); err != nil {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Playback stopping"})
}

func (s *Server) handleZero(c *gin.Context) {
	if s.isRunning() {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Error: service.ErrBusy.Error()})
		return
	}

	n, err := s.service.Zero(s.simulate || c.Query("simulate") == "true")
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrBusy) {
			status = http.StatusConflict
		}
		c.JSON(status, GenericResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: fmt.Sprintf("%d channels set to 0 mbar", n)})
}

func (s *Server) handleProfiles(c *gin.Context) {
	if s.configFile == "" {
		c.JSON(http.StatusOK, gin.H{"active": s.service.GetConfig().Profile, "profiles": []string{}})
		return
	}

	active, names, err := config.ListProfiles(s.configFile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":   active,
		"loaded":   s.service.GetConfig().Profile,
		"profiles": names,
	})
}

func (s *Server) handleSelectProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Error: "invalid request body"})
		return
	}
	if s.isRunning() {
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Error: service.ErrBusy.Error()})
		return
	}

	if err := s.service.LoadProfile(req.Name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrBusy) {
			status = http.StatusConflict
		}
		c.JSON(status, GenericResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Profile loaded: " + req.Name})
}

func (s *Server) handlePorts(c *gin.Context) {
	ports, err := s.service.ListPorts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Error: err.Error()})
		return
	}
	if ports == nil {
		ports = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"ports": ports})
}

// handleWebSocket streams tracker events as JSON, starting with a snapshot
func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx := ws.CloseRead(c.Request.Context())
	tracker := s.service.Tracker()

	events, unsubscribe := tracker.Subscribe(256)
	defer unsubscribe()

	initial := monitor.Event{Type: monitor.EventSnapshot, Snapshot: tracker.Snapshot()}
	if err := writeEvent(ctx, ws, initial); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.runCtx.Done():
			ws.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, ws, event); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, event monitor.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, ws, event)
}

// getLocalIP returns the outbound interface address, or localhost
func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
