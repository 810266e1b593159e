package broker

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the broker API.
type Handler struct {
	negotiator *Negotiator
}

// NewHandler creates a new broker handler.
func NewHandler(negotiator *Negotiator) *Handler {
	return &Handler{negotiator: negotiator}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)
	e.POST("/api/start", h.Start)
	e.GET("/api/sessions", h.ListSessions)
	e.GET("/api/sessions/:session_id", h.GetSession)
	e.POST("/api/sessions/:session_id/reset", h.ResetSession)
	e.POST("/api/reset", h.ResetAll)
	e.GET("/ws/sessions/:session_id", h.Stream)
}

// Root returns the service identity.
// GET /
func (h *Handler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":      true,
		"service": "broker",
	})
}

// Health returns health status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// Start runs a negotiation session to completion and returns its final
// snapshot. The run is synchronous; live progress is available on the
// websocket stream.
// POST /api/start
func (h *Handler) Start(c echo.Context) error {
	sess := h.negotiator.Start(c.Request().Context())
	return c.JSON(http.StatusOK, sess.Snapshot())
}

// ListSessions returns the ids of every known session: the in-memory
// registry joined with everything persisted in the store.
// GET /api/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	seen := make(map[string]bool)
	var ids []string
	for _, snap := range h.negotiator.Registry().List() {
		seen[snap.SessionID] = true
		ids = append(ids, snap.SessionID)
	}

	stored, err := h.negotiator.store.ListSessionIDs(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
	}
	for _, id := range stored {
		if !seen[id] {
			ids = append(ids, id)
		}
	}

	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": ids})
}

// GetSession returns the snapshot of one session, falling back to the
// persisted copy when the session is no longer in the registry.
// GET /api/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	id := c.Param("session_id")
	if sess, ok := h.negotiator.Registry().Get(id); ok {
		return c.JSON(http.StatusOK, sess.Snapshot())
	}

	snap, err := h.negotiator.store.GetSnapshot(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
	}
	if snap == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, snap)
}

// ResetSession returns one session to idle with an empty transcript.
// POST /api/sessions/:session_id/reset
func (h *Handler) ResetSession(c echo.Context) error {
	id := c.Param("session_id")
	sess, ok := h.negotiator.Registry().Get(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	sess.Reset()
	return c.JSON(http.StatusOK, sess.Snapshot())
}

// ResetAll drops every in-memory session.
// POST /api/reset
func (h *Handler) ResetAll(c echo.Context) error {
	h.negotiator.Registry().ResetAll()
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}
