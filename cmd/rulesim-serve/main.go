package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/stochkit/rulesim/internal/rulesim"
	"github.com/stochkit/rulesim/internal/rulesim/notifiers"
)

// Server runs one trajectory and streams its firing events to WebSocket
// clients while exposing the current observable values over HTTP.
type Server struct {
	mu     sync.RWMutex
	sys    *rulesim.System
	mgr    *rulesim.NotificationManager
	ws     *notifiers.WebSocketNotifier
	logger rulesim.Logger
	runID  string
	done   chan struct{}
}

func NewServer(sys *rulesim.System, logger rulesim.Logger) *Server {
	mgr := rulesim.NewNotificationManager(logger)
	ws := notifiers.NewWebSocketNotifier("stream")
	if err := mgr.RegisterNotifier(ws); err != nil {
		logger.Errorf("registering websocket notifier: %v", err)
	}
	return &Server{
		sys:    sys,
		mgr:    mgr,
		ws:     ws,
		logger: logger,
		runID:  uuid.NewString(),
		done:   make(chan struct{}),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GET /observables returns the current observable values. The engine keeps
// them consistent at every event boundary, so a read between events always
// sees a valid world.
func (s *Server) handleObservables(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[string]any{
		"time":        s.sys.CurrentTime(),
		"events":      s.sys.EventCount(),
		"null_events": s.sys.NullEventCount(),
	}
	values := make(map[string]float64)
	for _, o := range s.sys.Observables() {
		values[o.Name()] = o.Value()
	}
	out["observables"] = values

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Errorf("encoding observables: %v", err)
	}
}

// GET /events upgrades to a WebSocket and streams trajectory events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := s.ws.GetUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("websocket upgrade: %v", err)
		return
	}
	s.ws.RegisterClient(conn)
}

// runTrajectory drives the simulation in chunks, holding the write lock
// per chunk so observable reads always land on an event boundary.
func (s *Server) runTrajectory(duration float64, samples int) {
	defer close(s.done)
	s.sys.RegisterFiringObserver(s.mgr.Observer(s.sys.Name(), s.runID, []string{"stream"}))

	step := duration
	if samples > 0 {
		step = duration / float64(samples)
	}
	ctx := context.Background()
	for {
		s.mu.Lock()
		now := s.sys.CurrentTime()
		if now >= duration {
			s.mu.Unlock()
			break
		}
		stop := now + step
		if stop > duration {
			stop = duration
		}
		_, err := s.sys.StepTo(ctx, stop)
		s.mu.Unlock()
		if err != nil {
			s.logger.Errorf("trajectory failed: %v", err)
			return
		}
	}
	s.logger.Infof("trajectory finished: t=%g events=%d", s.sys.CurrentTime(), s.sys.EventCount())
}

func main() {
	var (
		modelFile = flag.String("model-file", "", "path to model JSON file (required)")
		addr      = flag.String("addr", ":8080", "listen address")
		duration  = flag.Float64("duration", 100.0, "simulated duration")
		samples   = flag.Int("samples", 1000, "sample intervals")
		seed      = flag.Int64("seed", 0, "random seed (0 = time-based)")
		logLevel  = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	if *modelFile == "" {
		fmt.Fprintf(os.Stderr, "error: --model-file is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger, flush, err := newZapLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	data, err := os.ReadFile(*modelFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading model: %v\n", err)
		os.Exit(1)
	}
	var cfg rulesim.ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing model JSON: %v\n", err)
		os.Exit(1)
	}

	sysOpts := []rulesim.SystemOption{rulesim.WithLogger(logger)}
	if *seed != 0 {
		sysOpts = append(sysOpts, rulesim.WithSeed(*seed))
	}
	sys, err := rulesim.BuildSystemFromConfig(cfg, sysOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building model: %v\n", err)
		os.Exit(1)
	}
	if err := sys.PrepareForSimulation(); err != nil {
		fmt.Fprintf(os.Stderr, "model error: %v\n", err)
		os.Exit(1)
	}

	srv := NewServer(sys, logger)
	defer srv.mgr.Close()

	go srv.runTrajectory(*duration, *samples)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/observables", srv.handleObservables)
	mux.HandleFunc("/events", srv.handleEvents)

	logger.Infof("serving model %q on %s", cfg.Name, *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(2)
	}
}
