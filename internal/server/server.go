package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/admin"
	"github.com/GriffinCanCode/vmio/internal/config"
	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/hostenv"
	"github.com/GriffinCanCode/vmio/internal/logging"
	"github.com/GriffinCanCode/vmio/internal/migration"
	"github.com/GriffinCanCode/vmio/internal/pipeline"
	"github.com/GriffinCanCode/vmio/internal/plugins/display"
	"github.com/GriffinCanCode/vmio/internal/plugins/presentation"
	"github.com/GriffinCanCode/vmio/internal/telemetry"
)

// Server wraps the runtime and its admin surface.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	metrics  *telemetry.Metrics
	env      *hostenv.Env
	registry *pipeline.Registry
	admin    *admin.Server
	httpSrv  *http.Server

	controllers map[string]*migration.Controller
}

// New builds the full runtime from configuration: host environment,
// plugin chain per the topology, migration controllers, and the admin
// surface.
func New(cfg *config.Config) (*Server, error) {
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics := telemetry.NewMetrics()
	env := hostenv.NewEnv(hostenv.Options{
		Logger:      log,
		GuestMemory: cfg.Guest.MemoryBytes,
	})
	registry := pipeline.NewRegistry(pipeline.Options{
		Logger:          log,
		Metrics:         metrics,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	// A fatal inside the runtime resets the chain before the process
	// terminates, so the guest domain is not left half-driven.
	log = log.WithDomainReset(func() {
		_ = registry.ResetAll()
		_ = registry.Stop()
	})

	s := &Server{
		cfg:         cfg,
		log:         log,
		metrics:     metrics,
		env:         env,
		registry:    registry,
		controllers: make(map[string]*migration.Controller),
	}

	topo, err := s.loadTopology()
	if err != nil {
		return nil, err
	}
	var hub *presentation.Hub
	for _, entry := range topo.Enabled() {
		viewers, err := s.attach(entry)
		if err != nil {
			return nil, err
		}
		if viewers != nil {
			hub = viewers
		}
	}

	s.admin = admin.New(admin.Options{
		Logger:   log,
		Metrics:  metrics,
		Registry: registry,
		Host:     env,
		Viewers:  hub,
	})
	for device, ctrl := range s.controllers {
		s.admin.AddController(device, ctrl)
	}

	addr := net.JoinHostPort(cfg.Admin.Host, cfg.Admin.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.admin.Router(cfg.RateLimit),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) loadTopology() (*config.Topology, error) {
	if s.cfg.TopologyPath == "" {
		return config.DefaultTopology(), nil
	}
	topo, err := config.LoadTopology(s.cfg.TopologyPath)
	if err != nil {
		return nil, err
	}
	return topo, nil
}

// attach constructs and registers one topology entry. It returns the
// viewer hub when the entry is a presentation plugin.
func (s *Server) attach(entry config.PluginEntry) (*presentation.Hub, error) {
	var (
		p       pipeline.Plugin
		desc    pipeline.Descriptor
		viewers *presentation.Hub
	)
	switch entry.Name {
	case "display":
		dp := display.New(s.env, s.registry, s.log)
		p, desc = dp, display.Descriptor()
	case "presentation":
		pp := presentation.New(s.registry, s.log, nil)
		p, desc = pp, presentation.Descriptor()
		viewers = pp.Viewers()
	default:
		return nil, fmt.Errorf("unknown plugin %q in topology", entry.Name)
	}

	h, err := s.registry.Register(desc, p, entry.Label)
	if err != nil {
		return nil, err
	}
	if len(entry.Options) > 0 {
		s.env.SetPluginConfig(h, entry.Options)
	}

	device := entry.Label
	if device == "" {
		device = fmt.Sprintf("%s-%d", entry.Name, uint32(h))
	}
	s.controllers[device] = migration.NewController(device, p, migration.Options{
		Logger:        s.log,
		Metrics:       s.metrics,
		PendingWrites: s.cfg.Migration.PendingWrites,
	})
	return viewers, nil
}

// Controller returns a device's migration controller, for embedding
// hosts driving checkpoint streams directly.
func (s *Server) Controller(device string) (*migration.Controller, bool) {
	c, ok := s.controllers[device]
	return c, ok
}

// Handles returns the attached plugin handles, device end first.
func (s *Server) Handles() []handle.Handle {
	return s.registry.Handles()
}

// Run starts the pipeline and serves the admin surface until the
// listener closes.
func (s *Server) Run() error {
	if err := s.registry.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	// Plugins are initialized; early restore writes may flush.
	for device, ctrl := range s.controllers {
		if err := ctrl.Ready(); err != nil {
			s.log.Error("controller flush failed",
				zap.String("device", device), zap.Error(err))
		}
	}

	s.log.Info("admin surface listening",
		zap.String("addr", s.httpSrv.Addr),
		zap.Int("plugins", s.registry.Len()))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts the daemon down: admin surface first so no new control
// requests land mid-teardown, then controllers, then the chain.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("admin shutdown", zap.Error(err))
	}

	for _, ctrl := range s.controllers {
		ctrl.Close()
	}

	err := s.registry.Stop()
	if err != nil {
		s.log.Error("pipeline stop", zap.Error(err))
	}
	_ = s.log.Sync()
	return err
}
