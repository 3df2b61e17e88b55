package api

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"memgate/internal/auth"
	"memgate/internal/config"
	"memgate/internal/engine"
	"memgate/internal/memory"
)

// Deps bundles everything the handlers need. Constructed in cmd/server.
type Deps struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	Interceptor *engine.Interceptor
	Store       *memory.Store
	Notes       *memory.NoteStore
	Graph       *memory.Graph
	AuditHub    *AuditHub
}

func SetupRouter(deps *Deps) *gin.Engine {
	r := gin.Default()
	subpath := deps.Config.Server.Subpath

	r.GET(path.Join(subpath, "healthz"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group(path.Join(subpath, "v1"))
	v1.Use(auth.AuthMiddleware(deps.Config))
	{
		v1.POST("/intercept", interceptHandler(deps))
		v1.POST("/compress", compressHandler(deps))

		v1.POST("/memories", createMemoryHandler(deps))
		v1.GET("/memories", listMemoriesHandler(deps))
		v1.GET("/memories/:id", getMemoryHandler(deps))
		v1.PUT("/memories/:id", updateMemoryHandler(deps))
		v1.DELETE("/memories/:id", deleteMemoryHandler(deps))
		v1.GET("/memories/:id/related", relatedMemoriesHandler(deps))
		v1.POST("/memories/:id/feedback", feedbackHandler(deps))

		v1.POST("/notes", createNoteHandler(deps))
		v1.GET("/notes", listNotesHandler(deps))

		v1.POST("/relationships", createRelationshipHandler(deps))
		v1.PUT("/relationships/:id/strength", updateStrengthHandler(deps))
		v1.DELETE("/relationships", deleteRelationshipHandler(deps))

		v1.GET("/summaries", listSummariesHandler(deps))
	}

	if deps.AuditHub != nil {
		ws := r.Group(path.Join(subpath, "ws"))
		ws.Use(auth.AuthMiddleware(deps.Config))
		ws.GET("/audit", auditFeedHandler(deps))
	}

	return r
}
