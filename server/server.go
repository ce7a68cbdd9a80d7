// Package server exposes dashboard sessions over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/reviewdash/session"
)

// Options tunes the HTTP surface.
type Options struct {
	// DefaultReviewLimit is used when a scrape request names no limit.
	DefaultReviewLimit int
	// Gatherers are served on /metrics next to the server's own registry.
	Gatherers prometheus.Gatherers
	Metrics   *Metrics
}

// Server routes requests to sessions.
type Server struct {
	sessions *session.Manager
	opts     Options
	metrics  *Metrics
	engine   *gin.Engine
}

// New builds the router.
func New(sessions *session.Manager, opts Options) *Server {
	if opts.DefaultReviewLimit <= 0 {
		opts.DefaultReviewLimit = 100
	}
	s := &Server{sessions: sessions, opts: opts, metrics: opts.Metrics}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.logRequests())
	s.routes(engine)
	s.engine = engine
	return s
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "sessions": s.sessions.Len()})
	})
	r.GET("/metrics", gin.WrapH(s.metricsHandler()))

	r.POST("/sessions", s.createSession)

	sessions := r.Group("/sessions/:id", s.lookupSession)
	sessions.DELETE("", s.deleteSession)
	sessions.GET("/view", s.view)
	sessions.GET("/restaurants", s.restaurants)
	sessions.PUT("/restaurant", s.selectRestaurant)
	sessions.PUT("/include-empty", s.setIncludeEmpty)
	sessions.PUT("/filters/:column", s.setFilter)
	sessions.POST("/filters/reset", s.resetFilters)
	sessions.POST("/scrape", s.submitScrape)
	sessions.GET("/job", s.pollJob)
	sessions.POST("/job/ack", s.acknowledgeJob)
	sessions.POST("/analyze", s.analyze)
}

func (s *Server) metricsHandler() http.Handler {
	gatherers := append(prometheus.Gatherers{}, s.opts.Gatherers...)
	if s.metrics != nil {
		gatherers = append(gatherers, s.metrics.Registry)
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.ObserveRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), elapsed)

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", elapsed),
		)
	}
}
