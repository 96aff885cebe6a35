package router

import (
	"net/http"

	"github.com/dispatchlab/dispatch/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Liveness endpoint
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Dispatch API is running!")
	})

	jobHandler := handler.NewJobHandler(deps)

	// Readiness: healthy only when the job store answers
	r.GET("/health", jobHandler.Health)

	// Submission endpoint
	r.POST("/submit", jobHandler.Submit)

	// Live status stream
	r.GET("/ws", jobHandler.StreamJobUpdates)

	// Read surface over the job store
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
