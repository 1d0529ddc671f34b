package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// modelsHandler handles GET /api/models with the configured prompt models.
func (s *Server) modelsHandler(c *echo.Context) error {
	models := s.prompts.Models()
	return c.JSON(http.StatusOK, map[string]any{
		"models":  models,
		"default": "default",
	})
}

// featuresHandler handles GET /api/features. Clients gate UI affordances on
// these flags instead of probing endpoints.
func (s *Server) featuresHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"features": map[string]bool{
			"deep_research": !s.cfg.DeepResearchKillSwitch,
			"streaming":     true,
			"tools":         true,
			"canvas":        true,
			"export":        true,
		},
	})
}

// researchGateHandler fronts every legacy deep-research route. While the kill
// switch is on the whole surface answers 410 so clients stop retrying.
func (s *Server) researchGateHandler(c *echo.Context) error {
	if s.cfg.DeepResearchKillSwitch {
		return echo.NewHTTPError(http.StatusGone,
			"La investigación profunda está deshabilitada temporalmente.")
	}
	return echo.NewHTTPError(http.StatusNotFound, "recurso no disponible")
}
