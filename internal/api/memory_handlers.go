package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"memgate/internal/auth"
	"memgate/internal/memory"
)

type memoryRequest struct {
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	Category   string   `json:"category"`
	Importance string   `json:"importance"`
	Tags       []string `json:"tags"`
}

// POST /v1/memories
func createMemoryHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req memoryRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "content is required"}})
			return
		}

		m := &memory.Memory{
			TenantID:   auth.TenantID(c),
			Content:    req.Content,
			Summary:    req.Summary,
			Category:   memory.NormalizeCategory(req.Category),
			Importance: memory.Importance(req.Importance),
			Tags:       memory.MarshalTags(req.Tags),
		}
		if err := deps.Store.Save(c.Request.Context(), m); err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

// GET /v1/memories?category=...&importance=...&limit=...
func listMemoriesHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := auth.TenantID(c)
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				limit = v
			}
		}

		var (
			memories []memory.Memory
			err      error
		)
		switch {
		case c.Query("category") != "":
			memories, err = deps.Store.FindByCategory(c.Request.Context(), tenantID, memory.NormalizeCategory(c.Query("category")), limit)
		case c.Query("importance") != "":
			memories, err = deps.Store.FindByImportance(c.Request.Context(), tenantID, memory.Importance(c.Query("importance")), limit)
		case c.Query("tag") != "":
			memories, err = deps.Store.FindByTags(c.Request.Context(), tenantID, c.QueryArray("tag"), limit)
		default:
			memories, err = deps.Store.FindByTenant(c.Request.Context(), tenantID, limit)
		}
		if err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"memories": memories})
	}
}

// GET /v1/memories/:id
func getMemoryHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := deps.Store.FindByID(c.Request.Context(), auth.TenantID(c), c.Param("id"))
		if err != nil {
			abortForError(c, err)
			return
		}
		deps.Store.TouchAccess(c.Request.Context(), m.TenantID, m.ID)
		c.JSON(http.StatusOK, m)
	}
}

// PUT /v1/memories/:id
func updateMemoryHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req memoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid request body"}})
			return
		}

		m := &memory.Memory{
			ID:         c.Param("id"),
			TenantID:   auth.TenantID(c),
			Content:    req.Content,
			Summary:    req.Summary,
			Category:   memory.NormalizeCategory(req.Category),
			Importance: memory.Importance(req.Importance),
			Tags:       memory.MarshalTags(req.Tags),
		}
		if err := deps.Store.Update(c.Request.Context(), m); err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// DELETE /v1/memories/:id
func deleteMemoryHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Store.Delete(c.Request.Context(), auth.TenantID(c), c.Param("id")); err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

// POST /v1/notes
func createNoteHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SessionID          string `json:"session_id"`
			Title              string `json:"title"`
			ErrorType          string `json:"error_type"`
			ErrorMessage       string `json:"error_message"`
			ErrorPattern       string `json:"error_pattern"`
			Severity           string `json:"severity"`
			Resolution         string `json:"resolution"`
			PreventionStrategy string `json:"prevention_strategy"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "title is required"}})
			return
		}

		note := &memory.HindsightNote{
			TenantID:           auth.TenantID(c),
			SessionID:          req.SessionID,
			Title:              req.Title,
			ErrorType:          req.ErrorType,
			ErrorMessage:       req.ErrorMessage,
			ErrorPattern:       req.ErrorPattern,
			Severity:           memory.Severity(req.Severity),
			Resolution:         req.Resolution,
			PreventionStrategy: req.PreventionStrategy,
		}
		saved, err := deps.Notes.RecordFailure(c.Request.Context(), note)
		if err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusCreated, saved)
	}
}

// GET /v1/notes?error_type=...&q=...
func listNotesHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := auth.TenantID(c)
		var (
			notes []memory.HindsightNote
			err   error
		)
		switch {
		case c.Query("error_type") != "":
			notes, err = deps.Notes.FindByErrorType(c.Request.Context(), tenantID, c.Query("error_type"), 50)
		case c.Query("q") != "":
			notes, err = deps.Notes.SearchKeywords(c.Request.Context(), tenantID, c.Query("q"), 50)
		default:
			notes, err = deps.Notes.FindByTenant(c.Request.Context(), tenantID, 50)
		}
		if err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notes": notes})
	}
}

// POST /v1/relationships
func createRelationshipHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			FromID string `json:"from_id"`
			ToID   string `json:"to_id"`
			Type   string `json:"type"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid request body"}})
			return
		}

		edge, err := deps.Graph.CreateEdge(c.Request.Context(), auth.TenantID(c), req.FromID, req.ToID, memory.RelationType(req.Type))
		if err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusCreated, edge)
	}
}

// PUT /v1/relationships/:id/strength
func updateStrengthHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Strength *float64 `json:"strength"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Strength == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "strength is required"}})
			return
		}

		edge, err := deps.Graph.UpdateStrength(c.Request.Context(), auth.TenantID(c), c.Param("id"), *req.Strength)
		if err != nil {
			abortForError(c, err)
			return
		}
		c.JSON(http.StatusOK, edge)
	}
}

// DELETE /v1/relationships?from_id=...&to_id=...
func deleteRelationshipHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		fromID, toID := c.Query("from_id"), c.Query("to_id")
		if fromID == "" || toID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "from_id and to_id are required"}})
			return
		}
		deleted, err := deps.Graph.DeleteEdge(c.Request.Context(), auth.TenantID(c), fromID, toID)
		if err != nil {
			abortForError(c, err)
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "not found"}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}
