package observability

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RunState is the coordinator phase surfaced on the status endpoint.
type RunState struct {
	Phase string `json:"phase"`
	Steps int64  `json:"steps"`
	RunID string `json:"run_id,omitempty"`
}

// StatusServer exposes health, readiness, metrics and run state over
// HTTP while a simulation is in flight.
type StatusServer struct {
	app     string
	started time.Time
	router  *gin.Engine
	state   atomic.Pointer[RunState]
	log     zerolog.Logger
}

func NewStatusServer(app string, log zerolog.Logger) *StatusServer {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &StatusServer{
		app:     app,
		started: time.Now(),
		router:  r,
		log:     log,
	}
	s.state.Store(&RunState{Phase: "idle"})
	s.registerRoutes()
	return s
}

func (s *StatusServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
			"app":    s.app,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"uptime": time.Since(s.started).String(),
			"app":    s.app,
		})
	})

	s.router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.state.Load())
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// SetState publishes the current coordinator phase.
func (s *StatusServer) SetState(state RunState) {
	s.state.Store(&state)
}

func (s *StatusServer) Router() *gin.Engine { return s.router }

// Serve blocks on the listener; run it on its own goroutine.
func (s *StatusServer) Serve(addr string) error {
	s.log.Info().Str("addr", addr).Msg("status server listening")
	return s.router.Run(addr)
}
