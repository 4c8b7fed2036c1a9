// Package api serves the status of a sampling run over HTTP: health, run
// status, the latest sample, Prometheus metrics and a websocket stream of
// events and log lines.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mescon/cadence/internal/clock"
	"github.com/mescon/cadence/internal/eventbus"
	"github.com/mescon/cadence/internal/logger"
	"github.com/mescon/cadence/internal/services"
)

// StatusProvider is the view of a sampling run the server exposes.
type StatusProvider interface {
	Status() services.Status
	Latest() (services.Report, bool)
}

// ServerDeps contains everything the server needs.
type ServerDeps struct {
	Sampling StatusProvider
	EventBus eventbus.Publisher // nil disables event streaming
	Metrics  http.Handler       // nil disables /metrics
	Clock    clock.TimeSource   // defaults to the system clock
	Version  string
}

type RESTServer struct {
	router   *gin.Engine
	sampling StatusProvider
	hub      *WebSocketHub
	limiter  *RateLimiter
	uptime   clock.Stopwatch
	clock    clock.TimeSource
	version  string
	metrics  http.Handler
	mu       sync.Mutex
	server   *http.Server
}

func NewRESTServer(deps ServerDeps) *RESTServer {
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Request ID middleware for correlation
	r.Use(func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	})

	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		reqID := c.GetString("request_id")
		logger.Errorf("[PANIC RECOVERY] request_id=%s path=%s method=%s error=%v",
			reqID, c.Request.URL.Path, c.Request.Method, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      ErrMsgInternalError,
			"request_id": reqID,
		})
	}))

	src := deps.Clock
	if src == nil {
		src = clock.NewSystem()
	}

	s := &RESTServer{
		router:   r,
		sampling: deps.Sampling,
		hub:      NewWebSocketHub(deps.EventBus),
		limiter:  NewRateLimiter(20, time.Second, 40, src),
		uptime:   clock.NewStopwatch(src),
		clock:    src,
		version:  deps.Version,
		metrics:  deps.Metrics,
	}

	s.setupRoutes()

	return s
}

func (s *RESTServer) setupRoutes() {
	api := s.router.Group("/api")
	api.Use(s.limiter.Middleware())
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/samples/latest", s.handleLatestSample)
		api.GET("/ws", s.hub.HandleConnection)
	}

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// Handler exposes the router, mainly for httptest.
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *RESTServer) Hub() *WebSocketHub {
	return s.hub
}

// Start listens on addr until Shutdown. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *RESTServer) Start(addr string) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started on %s", s.server.Addr)
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	logger.Infof("Status server listening on %s", addr)
	return srv.ListenAndServe()
}

// Shutdown closes websocket clients and gracefully stops the HTTP server.
func (s *RESTServer) Shutdown(ctx context.Context) error {
	s.hub.Close()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
