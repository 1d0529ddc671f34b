package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// historyHandler handles GET /api/history/:chat_id.
func (s *Server) historyHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat id is required")
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	includeSystem := boolQuery(c, "include_system", false)
	includeResearch := boolQuery(c, "include_research_tasks", true)
	roleFilter := c.QueryParam("role")

	page, err := s.history.GetMessages(c.Request().Context(), chatID, userID(c),
		limit, offset, includeSystem, roleFilter, includeResearch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// exportHandler handles GET /api/history/:chat_id/export.
func (s *Server) exportHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat id is required")
	}

	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}
	includeMetadata := boolQuery(c, "include_metadata", false)

	data, contentType, err := s.history.Export(c.Request().Context(), chatID, userID(c), format, includeMetadata)
	if err != nil {
		return err
	}

	c.Response().Header().Set("Content-Disposition", "attachment; filename=conversacion."+format)
	return c.Blob(http.StatusOK, contentType, data)
}

func intQuery(c *echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func boolQuery(c *echo.Context, name string, fallback bool) bool {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
