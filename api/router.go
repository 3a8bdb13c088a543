package api

import (
	"videoflow/artifact"
	"videoflow/config"
	"videoflow/dispatch"

	"github.com/gin-gonic/gin"
)

func SetupRouter(d *dispatch.Dispatcher, artifacts *artifact.Store, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(d, artifacts, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/tasks", h.handleSubmit)
		v1.GET("/tasks/:taskId", h.handleStatus)
		v1.GET("/tasks/:taskId/result", h.handleResult)
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancel)
		v1.DELETE("/tasks/:taskId/artifacts", h.handleCleanup)

		v1.GET("/files/:taskId/:filename", h.handleGetFile)
	}
	return r
}
