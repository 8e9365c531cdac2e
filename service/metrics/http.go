package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shuttle/logger"
	"shuttle/middleware"
	"shuttle/tools/safe"
)

// HealthFunc reports nil while the process is able to make progress.
type HealthFunc func(ctx context.Context) error

// Server exposes /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// RouterOptions tune the HTTP surface. Token guards /metrics only; /healthz
// stays open for probes.
type RouterOptions struct {
	Token string
	Log   *zap.Logger
}

func NewRouter(gatherer prometheus.Gatherer, health HealthFunc, opts RouterOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.NewManager(middleware.AccessLog(opts.Log)).Use())

	middleware.GET(r, "/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})),
		middleware.RouteOpt{Token: opts.Token})
	r.GET("/healthz", func(c *gin.Context) {
		if health != nil {
			if err := health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func NewServer(addr string, gatherer prometheus.Gatherer, health HealthFunc, opts RouterOptions) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(gatherer, health, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func (s *Server) Start() {
	safe.Go("metrics-http", func() {
		logger.Info("metrics server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
