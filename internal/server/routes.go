package server

import (
	"github.com/labstack/echo/v4"

	"github.com/cortexbrain/cortex/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Document routes
	apiRoutes.POST("/documents", routes.CreateDocumentHandler)
	apiRoutes.GET("/documents/:id", routes.GetDocumentHandler)
	apiRoutes.DELETE("/documents/:id", routes.DeleteDocumentHandler)
	apiRoutes.GET("/documents/:id/graph", routes.GetDocumentGraphHandler)
	apiRoutes.POST("/documents/:id/query", routes.QueryDocumentHandler)

	// Job routes
	apiRoutes.GET("/jobs/:id", routes.GetJobHandler)
}
