package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"memgate/internal/auth"
	"memgate/internal/engine"
	"memgate/internal/memory"
)

// abortForError maps store errors onto HTTP statuses.
func abortForError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "not found"}})
	case memory.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
	}
}

// POST /v1/intercept
func interceptHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req engine.InterceptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid request body"}})
			return
		}
		req.TenantID = auth.TenantID(c)

		result, err := deps.Interceptor.Intercept(c.Request.Context(), req)
		if err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// POST /v1/compress
func compressHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Messages       []memory.Message `json:"messages"`
			TokenThreshold int              `json:"token_threshold"`
			SessionID      string           `json:"session_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid request body"}})
			return
		}

		threshold := req.TokenThreshold
		if threshold <= 0 {
			threshold = deps.Config.Compression.TokenThreshold
		}

		result := deps.Interceptor.Compress(c.Request.Context(), req.Messages, threshold, req.SessionID, auth.TenantID(c))
		c.JSON(http.StatusOK, result)
	}
}

// GET /v1/memories/:id/related?min_strength=0.3&depth=1
func relatedMemoriesHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		minStrength := 0.3
		if raw := c.Query("min_strength"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				minStrength = v
			}
		}
		depth := 1
		if raw := c.Query("depth"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				depth = v
			}
		}

		neighbors, err := deps.Interceptor.RelatedMemories(c.Request.Context(), auth.TenantID(c), c.Param("id"), minStrength, depth)
		if err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"related": neighbors})
	}
}

// POST /v1/memories/:id/feedback
func feedbackHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Helpful *bool `json:"helpful"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Helpful == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "helpful flag is required"}})
			return
		}
		if err := deps.Store.RecordFeedback(c.Request.Context(), auth.TenantID(c), c.Param("id"), *req.Helpful); err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "recorded"})
	}
}

// GET /v1/summaries?session_id=...
func listSummariesHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "session_id is required"}})
			return
		}
		summaries, err := deps.Store.ListSummaries(c.Request.Context(), auth.TenantID(c), sessionID, 50)
		if err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"summaries": summaries})
	}
}
