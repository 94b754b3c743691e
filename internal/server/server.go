// Package server exposes the fusion engine over HTTP.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agenthands/fusion/internal/core"
	"github.com/agenthands/fusion/internal/core/fusion"
	"github.com/agenthands/fusion/internal/core/matching"
	"github.com/agenthands/fusion/internal/driver"
)

type Server struct {
	Engine *core.Engine

	logger   zerolog.Logger
	gatherer prometheus.Gatherer
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func NewServer(engine *core.Engine, opts ...Option) *Server {
	s := &Server{
		Engine:   engine,
		logger:   zerolog.Nop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	{
		v1.POST("/similarity", s.ComputeSimilarity)
		v1.GET("/similarity/stats", s.SimilarityStats)
		v1.DELETE("/similarity/stats", s.ResetSimilarityStats)

		v1.POST("/entities/deduplicate", s.DeduplicateEntities)
		v1.POST("/entities/link", s.LinkEntities)
		v1.POST("/entities/merge", s.MergeEntities)
		v1.GET("/entities/:id/provenance", s.Provenance)

		v1.POST("/relations/deduplicate", s.DeduplicateRelations)
		v1.POST("/relations/duplicates", s.FindDuplicateRelations)

		v1.POST("/fusion/run", s.RunFusion)
	}

	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps engine errors onto HTTP statuses. Only unexpected failures are
// logged; their detail stays out of the response.
func (s *Server) fail(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, matching.ErrInvalidConfig), errors.Is(err, fusion.ErrNoEntities):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, driver.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "detail": err.Error()})
}
