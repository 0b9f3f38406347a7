package server

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/orchestrator/pkg/auth"
)

// RegisterRoutes registers the §6 External Interfaces as /api/projects
// routes, all behind auth.Middleware.
func RegisterRoutes(e *echo.Echo, h *Handler, zitadel *auth.ZitadelService) {
	g := e.Group("/api/projects")
	g.Use(auth.Middleware(zitadel))

	g.POST("", h.CreateProject)
	g.GET("/:id", h.GetProject)
	g.DELETE("/:id", h.DeleteProject)
	g.POST("/:id/chat", h.Chat)
	g.POST("/:id/step", h.Step)
	g.POST("/:id/cancel", h.CancelProject)
	g.GET("/:id/events", h.Subscribe)
	g.GET("/:id/messages", h.GetMessages)
	g.GET("/:id/artifacts", h.GetArtifacts)
	g.GET("/:id/artifacts/:name", h.GetArtifactContent)
}
