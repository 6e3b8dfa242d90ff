package admin

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/config"
	"github.com/GriffinCanCode/vmio/internal/hostenv"
	"github.com/GriffinCanCode/vmio/internal/logging"
	"github.com/GriffinCanCode/vmio/internal/migration"
	"github.com/GriffinCanCode/vmio/internal/pipeline"
	"github.com/GriffinCanCode/vmio/internal/plugins/presentation"
	"github.com/GriffinCanCode/vmio/internal/telemetry"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// Options wires the admin surface to the runtime.
type Options struct {
	Logger    *logging.Logger
	Metrics   *telemetry.Metrics
	Registry  *pipeline.Registry
	Host      hostenv.Host
	RateLimit config.RateLimitConfig
	// Viewers, when set, serves the websocket frame stream.
	Viewers *presentation.Hub
}

// Server is the admin HTTP surface.
type Server struct {
	log      *logging.Logger
	metrics  *telemetry.Metrics
	registry *pipeline.Registry
	host     hostenv.Host
	viewers  *presentation.Hub
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	controllers map[string]*migration.Controller
}

// New creates the admin server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Server{
		log:      opts.Logger.Named("admin"),
		metrics:  opts.Metrics,
		registry: opts.Registry,
		host:     opts.Host,
		viewers:  opts.Viewers,
		upgrader: websocket.Upgrader{
			// The surface already allows any origin via CORS.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		controllers: make(map[string]*migration.Controller),
	}
}

// AddController exposes a device's migration controller on the surface.
func (s *Server) AddController(device string, c *migration.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controllers[device] = c
}

func (s *Server) controller(device string) (*migration.Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.controllers[device]
	return c, ok
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router(rl config.RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	if rl.Enabled {
		r.Use(rateLimit(rl))
	}

	r.GET("/health", s.handleHealth)
	r.GET("/plugins", s.handlePlugins)
	r.GET("/migration/:device/stage", s.handleStageGet)
	r.POST("/migration/:device/stage", s.handleStageSet)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	if s.viewers != nil {
		r.GET("/stream", s.handleStream)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.metrics != nil {
		s.metrics.TickUptime()
	}
	resp := gin.H{"status": "ok"}
	if s.registry != nil {
		resp["running"] = s.registry.Running()
		resp["plugins"] = s.registry.Len()
	}
	if s.host != nil {
		resp["guest_id"] = s.host.GuestID().String()
	}
	c.JSON(http.StatusOK, resp)
}

// pluginInfo is one row of the /plugins listing.
type pluginInfo struct {
	Handle       uint32 `json:"handle"`
	Name         string `json:"name"`
	Label        string `json:"label"`
	Class        string `json:"class"`
	InputClasses uint32 `json:"input_classes"`
}

func (s *Server) handlePlugins(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusOK, gin.H{"plugins": []pluginInfo{}})
		return
	}

	handles := s.registry.Handles()
	out := make([]pluginInfo, 0, len(handles))
	for _, h := range handles {
		desc, label, err := s.registry.Describe(h)
		if err != nil {
			continue
		}
		out = append(out, pluginInfo{
			Handle:       uint32(h),
			Name:         desc.Name,
			Label:        label,
			Class:        desc.Class.String(),
			InputClasses: uint32(desc.InputClasses),
		})
	}
	c.JSON(http.StatusOK, gin.H{"plugins": out, "running": s.registry.Running()})
}

func (s *Server) handleStageGet(c *gin.Context) {
	ctrl, ok := s.controller(c.Param("device"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": c.Param("device"), "stage": ctrl.Stage().String()})
}

type stageRequest struct {
	Stage string `json:"stage" binding:"required"`
}

func (s *Server) handleStageSet(c *gin.Context) {
	ctrl, ok := s.controller(c.Param("device"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown device"})
		return
	}

	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stage is required"})
		return
	}
	stage, ok := types.ParseStage(req.Stage)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stage " + req.Stage})
		return
	}

	if err := ctrl.NotifyStage(stage); err != nil {
		status := http.StatusInternalServerError
		if vmerr.Is(err, vmerr.InvalidArgument) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": c.Param("device"), "stage": stage.String()})
}

// handleStream upgrades the request and attaches the client as a frame
// viewer.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("stream upgrade failed", zap.Error(err))
		return
	}
	s.viewers.Add(conn)
}
