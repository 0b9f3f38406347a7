package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/orchestrator/domain/coordinator"
	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/filestore"
	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/domain/plan"
	"github.com/emergent-company/orchestrator/domain/project"
	"github.com/emergent-company/orchestrator/pkg/apperror"
	"github.com/emergent-company/orchestrator/pkg/auth"
	"github.com/emergent-company/orchestrator/pkg/sse"
)

// Handler implements the §6 External Interfaces over HTTP.
type Handler struct {
	coordinator *coordinator.Coordinator
	store       *project.Store
	bus         *eventbus.Bus
	files       filestore.FileStore
}

// NewHandler constructs a Handler.
func NewHandler(coord *coordinator.Coordinator, store *project.Store, bus *eventbus.Bus, files filestore.FileStore) *Handler {
	return &Handler{coordinator: coord, store: store, bus: bus, files: files}
}

// createProjectRequest is the body for POST /api/projects.
type createProjectRequest struct {
	Goal      string `json:"goal"`
	ConfigRef string `json:"configRef"`
}

// CreateProject implements §6 "CreateProject(userID, goal, configRef) →
// projectID".
func (h *Handler) CreateProject(c echo.Context) error {
	userID := auth.UserID(c)
	if userID == "" {
		return apperror.ErrUnauthorized
	}

	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if req.Goal == "" || req.ConfigRef == "" {
		return apperror.ErrBadRequest.WithMessage("goal and configRef are required")
	}

	p, err := h.coordinator.Start(c.Request().Context(), userID, req.Goal, req.ConfigRef)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"projectId": p.ID})
}

// projectSnapshot is the response shape for §6 "GetProject(projectID) →
// project snapshot": the project aggregate plus its current plan and
// conversation, assembled here since Plan keeps its task set unexported and
// isn't otherwise JSON-able.
type projectSnapshot struct {
	project.DTO
	Tasks    []plan.Task              `json:"tasks,omitempty"`
	Messages []messagebuilder.Message `json:"messages"`
}

// GetProject implements §6 "GetProject(projectID) → project snapshot".
func (h *Handler) GetProject(c echo.Context) error {
	if auth.UserID(c) == "" {
		return apperror.ErrUnauthorized
	}
	projectID := c.Param("id")

	proj, err := h.store.GetProject(c.Request().Context(), projectID)
	if err != nil {
		return err
	}
	p, err := h.store.LoadPlan(c.Request().Context(), projectID)
	if err != nil {
		return err
	}
	messages, err := h.store.ListMessages(c.Request().Context(), projectID)
	if err != nil {
		return err
	}

	snapshot := projectSnapshot{DTO: proj.ToDTO(), Messages: messages}
	if p != nil {
		snapshot.Tasks = p.Tasks()
	}
	return c.JSON(http.StatusOK, snapshot)
}

// chatRequest is the body for POST /api/projects/:id/chat.
type chatRequest struct {
	Message string `json:"message"`
}

// Chat implements §6 "Chat(projectID, message) → response".
func (h *Handler) Chat(c echo.Context) error {
	if auth.UserID(c) == "" {
		return apperror.ErrUnauthorized
	}
	projectID := c.Param("id")

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	if req.Message == "" {
		return apperror.ErrBadRequest.WithMessage("message is required")
	}

	resp, err := h.coordinator.Chat(c.Request().Context(), projectID, req.Message)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Step implements §6 "Step(projectID) → stepReport".
func (h *Handler) Step(c echo.Context) error {
	if auth.UserID(c) == "" {
		return apperror.ErrUnauthorized
	}
	projectID := c.Param("id")

	report, err := h.coordinator.Step(c.Request().Context(), projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// Subscribe implements §6 "Subscribe(projectID) → eventStream" over SSE.
func (h *Handler) Subscribe(c echo.Context) error {
	if auth.UserID(c) == "" {
		return apperror.ErrUnauthorized
	}
	projectID := c.Param("id")

	if _, err := h.store.GetProject(c.Request().Context(), projectID); err != nil {
		return err
	}

	w := sse.NewWriter(c.Response())
	return sse.StreamProject(c.Request().Context(), h.bus, projectID, w)
}

// GetMessages implements §6 "GetMessages(projectID) → messages".
func (h *Handler) GetMessages(c echo.Context) error {
	if auth.UserID(c) == "" {
		return apperror.ErrUnauthorized
	}
	projectID := c.Param("id")

	if _, err := h.store.GetProject(c.Request().Context(), projectID); err != nil {
		return err
	}
	messages, err := h.store.ListMessages(c.Request().Context(), projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messages)
}

// GetArtifacts implements §6 "GetArtifacts(projectID) → list of { name,
// version, size, mimeType, createdAt }".
func (h *Handler) GetArtifacts(c echo.Context) error {
	if auth.UserID(c) == "" {
		return apperror.ErrUnauthorized
	}
	projectID := c.Param("id")

	if _, err := h.store.GetProject(c.Request().Context(), projectID); err != nil {
		return err
	}
	artifacts, err := h.files.List(c.Request().Context(), projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, artifacts)
}

// GetArtifactContent implements §6 "GetArtifactContent(projectID, name,
// version?) → bytes". version defaults to the latest when omitted.
func (h *Handler) GetArtifactContent(c echo.Context) error {
	if auth.UserID(c) == "" {
		return apperror.ErrUnauthorized
	}
	projectID := c.Param("id")
	name := c.Param("name")

	version := 0
	if raw := c.QueryParam("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return apperror.ErrBadRequest.WithMessage("version must be an integer")
		}
		version = v
	}

	if _, err := h.store.GetProject(c.Request().Context(), projectID); err != nil {
		return err
	}
	content, artifact, err := h.files.Read(c.Request().Context(), projectID, name, version)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, artifact.MimeType, content)
}

// CancelProject implements §6 "CancelProject(projectID)".
func (h *Handler) CancelProject(c echo.Context) error {
	if auth.UserID(c) == "" {
		return apperror.ErrUnauthorized
	}
	projectID := c.Param("id")

	if err := h.coordinator.CancelProject(c.Request().Context(), projectID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteProject implements §6 "DeleteProject(projectID)".
func (h *Handler) DeleteProject(c echo.Context) error {
	if auth.UserID(c) == "" {
		return apperror.ErrUnauthorized
	}
	projectID := c.Param("id")

	if _, err := h.store.GetProject(c.Request().Context(), projectID); err != nil {
		return err
	}
	if err := h.store.DeleteProject(c.Request().Context(), projectID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
