package router

import (
	"net/http"

	"github.com/cuongbtq/imgembed/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health.HealthCheck(c.Request.Context()); err != nil {
				deps.Logger.Warn("Health check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "imgembed-api-service",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "imgembed-api-service",
		})
	})

	batchHandler := handler.NewBatchHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		batches := v1.Group("/batches")
		{
			// POST /api/v1/batches - Submit a batch of documents
			batches.POST("", batchHandler.CreateBatch)

			// GET /api/v1/batches - List batches with filtering and pagination
			batches.GET("", batchHandler.ListBatches)

			// GET /api/v1/batches/:batch_id - Get batch details and outcomes
			batches.GET("/:batch_id", batchHandler.GetBatch)

			// POST /api/v1/batches/:batch_id/cancel - Cancel a pending batch
			batches.POST("/:batch_id/cancel", batchHandler.CancelBatch)

			// DELETE /api/v1/batches/:batch_id - Delete a finished batch
			batches.DELETE("/:batch_id", batchHandler.DeleteBatch)
		}
	}

	return r
}
