package counterparty

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wxlim/dealbroker/domain"
)

// Handler exposes a counterparty service over the a2a transport.
type Handler struct {
	service *Service
}

// NewHandler creates a new handler for a counterparty service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)
	e.POST("/a2a/task", h.CreateTask)
	e.POST("/a2a/message", h.HandleMessage)
}

// Root returns the service identity.
// GET /
func (h *Handler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":      true,
		"service": h.service.name,
	})
}

// Health returns health status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// CreateTask registers a negotiation task and returns its local id.
// POST /a2a/task
func (h *Handler) CreateTask(c echo.Context) error {
	var task domain.Task
	if err := c.Bind(&task); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if task.SKU == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sku is required"})
	}

	taskID := h.service.CreateTask(&task)
	return c.JSON(http.StatusOK, domain.CreateTaskResponse{TaskID: taskID})
}

// HandleMessage delivers one negotiation message and returns the reply.
// POST /a2a/message
func (h *Handler) HandleMessage(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.TaskID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "task_id is required"})
	}

	reply, status := h.service.HandleMessage(ctx, req.TaskID, req.Message)
	return c.JSON(http.StatusOK, domain.MessageReply{Reply: reply, Status: status})
}
