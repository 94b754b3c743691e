package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/fusion/internal/core/fusion"
	"github.com/agenthands/fusion/internal/core/model"
	"github.com/agenthands/fusion/internal/core/similarity"
)

type SimilarityRequest struct {
	NameA       string           `json:"name_a"`
	NameB       string           `json:"name_b"`
	EntityType  string           `json:"entity_type"`
	PropertiesA model.Properties `json:"properties_a"`
	PropertiesB model.Properties `json:"properties_b"`
	EmbeddingA  []float32        `json:"embedding_a"`
	EmbeddingB  []float32        `json:"embedding_b"`
}

func (s *Server) ComputeSimilarity(c *gin.Context) {
	var req SimilarityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := s.Engine.Pipeline.ComputeSimilarity(c.Request.Context(), similarity.Input{
		NameA:      req.NameA,
		NameB:      req.NameB,
		EntityType: req.EntityType,
		PropsA:     req.PropertiesA,
		PropsB:     req.PropertiesB,
		EmbeddingA: req.EmbeddingA,
		EmbeddingB: req.EmbeddingB,
	})
	if err != nil {
		s.fail(c, "Failed to compute similarity", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) SimilarityStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Pipeline.Stats())
}

func (s *Server) ResetSimilarityStats(c *gin.Context) {
	s.Engine.Pipeline.ResetStats()
	c.Status(http.StatusNoContent)
}

type EntitiesRequest struct {
	Entities []model.Entity `json:"entities" binding:"required"`
	// SimilarityThreshold overrides the engine threshold for deduplication.
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

func (s *Server) DeduplicateEntities(c *gin.Context) {
	var req EntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	out, err := s.Engine.DeduplicateEntities(c.Request.Context(), req.Entities, req.SimilarityThreshold)
	if err != nil {
		s.fail(c, "Failed to deduplicate entities", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": out, "removed": len(req.Entities) - len(out)})
}

func (s *Server) LinkEntities(c *gin.Context) {
	var req EntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	results, err := s.Engine.Linker.LinkEntities(c.Request.Context(), req.Entities)
	if err != nil {
		s.fail(c, "Failed to link entities", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) MergeEntities(c *gin.Context) {
	var req EntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	merged, err := s.Engine.Fusion.ResolvePropertyConflicts(req.Entities)
	if err != nil {
		s.fail(c, "Failed to merge entities", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity": merged})
}

func (s *Server) Provenance(c *gin.Context) {
	id := c.Param("id")
	sources, err := s.Engine.Fusion.TrackEntityProvenance(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "Failed to read provenance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": id, "sources": sources})
}

type RelationsRequest struct {
	Relations       []model.Relation `json:"relations" binding:"required"`
	MergeProperties bool             `json:"merge_properties"`
}

func (s *Server) DeduplicateRelations(c *gin.Context) {
	var req RelationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	out := s.Engine.DeduplicateRelations(req.Relations, req.MergeProperties)
	c.JSON(http.StatusOK, gin.H{"relations": out, "removed": len(req.Relations) - len(out)})
}

func (s *Server) FindDuplicateRelations(c *gin.Context) {
	var req RelationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pairs := s.Engine.FindDuplicateRelations(req.Relations)
	if pairs == nil {
		pairs = []model.RelationPair{}
	}
	c.JSON(http.StatusOK, gin.H{"pairs": pairs})
}

type FusionRequest struct {
	EntityTypes []string `json:"entity_types"`
	DryRun      bool     `json:"dry_run"`
}

func (s *Server) RunFusion(c *gin.Context) {
	var req FusionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	stats, err := s.Engine.Fusion.FuseCrossDocumentEntities(c.Request.Context(), req.EntityTypes, fusion.FuseOptions{DryRun: req.DryRun})
	if err != nil {
		s.fail(c, "Failed to run fusion", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
