package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	limit := intQuery(c, "limit", 25)
	if limit > 100 {
		limit = 100
	}
	offset := intQuery(c, "offset", 0)

	filter := models.SessionFilter{Search: c.QueryParam("search")}
	if v := c.QueryParam("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid start_date: must be RFC3339")
		}
		filter.StartDate = &t
	}
	if v := c.QueryParam("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid end_date: must be RFC3339")
		}
		filter.EndDate = &t
	}

	page, err := s.history.GetSessions(c.Request().Context(), userID(c), limit, offset, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// updateSessionHandler handles PATCH /api/sessions/:id.
func (s *Server) updateSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req models.UpdateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == nil && req.Pinned == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to update: provide title or pinned")
	}

	session, err := s.history.UpdateSession(c.Request().Context(), sessionID, userID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

// deleteSessionHandler handles DELETE /api/sessions/:id.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.history.DeleteSession(c.Request().Context(), sessionID, userID(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// getCanvasHandler handles GET /api/sessions/:id/canvas.
func (s *Server) getCanvasHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	canvas, err := s.history.GetCanvas(c.Request().Context(), sessionID, userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"canvas_state": canvas})
}

// patchCanvasHandler handles PATCH /api/sessions/:id/canvas. The body is an
// opaque JSON object merged into the stored blob; null values delete keys.
func (s *Server) patchCanvasHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var patch map[string]any
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	canvas, err := s.history.PatchCanvas(c.Request().Context(), sessionID, userID(c), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"canvas_state": canvas})
}

// sessionResearchHandler handles GET /api/sessions/:id/research.
func (s *Server) sessionResearchHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	status := models.TaskStatus(c.QueryParam("status"))
	tasks, err := s.history.ListResearchTasks(c.Request().Context(), sessionID, userID(c), status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tasks":       tasks,
		"total_count": len(tasks),
	})
}
