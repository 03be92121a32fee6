package adminapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fntelecomllc/bankreconciler/internal/metrics"
)

// handleTriggerCycle runs one fetch-poll-match cycle immediately, refusing
// if one is already in progress.
func (s *Server) handleTriggerCycle(c *gin.Context) {
	result := s.orch.TriggerCycle(c.Request.Context())
	if !result.Started {
		c.JSON(http.StatusConflict, gin.H{"started": false, "reason": result.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true, "cycleId": result.CycleID})
}

// handleStatus reports whether the orchestrator loop is running, whether a
// cycle is currently in progress, and the most recently completed cycle.
func (s *Server) handleStatus(c *gin.Context) {
	running, cycleInProgress, last := s.orch.Status()
	c.JSON(http.StatusOK, gin.H{
		"running":         running,
		"cycleInProgress": cycleInProgress,
		"lastCycle":       last,
	})
}

// handleMetrics returns the rolling-window aggregates (success rate,
// average emails/transactions per cycle, per-phase durations) computed over
// the orchestrator's bounded cycle history.
func (s *Server) handleMetrics(c *gin.Context) {
	history := s.orch.History()
	agg := metrics.Aggregate(history)
	c.JSON(http.StatusOK, agg)
}

// handleStart starts the orchestrator's background ticker loop.
func (s *Server) handleStart(c *gin.Context) {
	s.orch.Start(context.Background())
	c.JSON(http.StatusOK, gin.H{"running": true})
}

// handleStop requests a graceful stop, waiting up to the configured stop
// grace period for an in-progress cycle to finish.
func (s *Server) handleStop(c *gin.Context) {
	s.orch.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

type rematchRequest struct {
	MessageID   string `json:"messageId" binding:"required"`
	SkipActions bool   `json:"skipActions"`
}

// handleRematchEmail re-runs the retriever/scorer pipeline for a single
// email outside the normal cycle. Per the engine's resolved Open Question,
// it re-runs post-match actions unless skipActions is set.
func (s *Server) handleRematchEmail(c *gin.Context) {
	var req rematchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.orch.RematchEmail(c.Request.Context(), req.MessageID, req.SkipActions)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type cleanupRequest struct {
	RetentionDays int `json:"retentionDays"`
}

// handleCleanupOldAudits purges action-audit rows older than the requested
// retention window, defaulting to the configured log retention.
func (s *Server) handleCleanupOldAudits(c *gin.Context) {
	var req cleanupRequest
	_ = c.ShouldBindJSON(&req)

	retentionDays := req.RetentionDays
	if retentionDays <= 0 {
		retentionDays = s.cfg.Retention.LogDays
	}

	deleted, err := s.repo.CleanupOldAudits(c.Request.Context(), retentionDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "retentionDays": retentionDays})
}
