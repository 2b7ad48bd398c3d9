package router

import (
	"github.com/btwld/docling-sdk-sub000/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// ServiceName is reported by the health endpoint
const ServiceName = "docling-monitor-api"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(ServiceName, deps.Checks))

	taskHandler := handler.NewTaskHandler(deps)

	v1 := r.Group("/api/v1")
	{
		tasks := v1.Group("/tasks")
		{
			tasks.POST("/convert", taskHandler.Convert)
			tasks.POST("/:task_id/track", taskHandler.Track)
			tasks.GET("/:task_id", taskHandler.GetTask)
			tasks.GET("/:task_id/wait", taskHandler.WaitTask)
			tasks.POST("/:task_id/cancel", taskHandler.CancelTask)
			tasks.GET("/:task_id/result", taskHandler.GetDocument)
		}

		v1.GET("/results", taskHandler.ListResults)
	}

	return r
}
