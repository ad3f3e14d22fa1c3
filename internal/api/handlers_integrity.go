package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/gridstore/internal/integrity"
	"evalgo.org/gridstore/models"
)

// scanIntegrity handles GET /api/v1/networks/:network/integrity
// @Summary Scan a network for integrity issues
// @Description Checks that every reference resolves and every record passes its kind's rules
// @Tags integrity
// @Produce json
// @Param network path string true "Network UUID"
// @Param kinds query string false "Comma separated collections to check, e.g. loads,generators"
// @Param references query bool false "Check references (default true)"
// @Param schemas query bool false "Check schemas (default true)"
// @Success 200 {object} integrity.ScanReport
// @Failure 400 {object} APIError
// @Failure 503 {object} APIError
// @Router /networks/{network}/integrity [get]
func (s *Server) scanIntegrity(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}

	options := integrity.DefaultScanOptions()
	if raw := c.QueryParam("kinds"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			kind, err := models.ParseKind(strings.TrimSpace(part))
			if err != nil {
				return BadRequestError("Invalid kinds parameter", "unknown collection "+part)
			}
			options.Kinds = append(options.Kinds, kind)
		}
	}
	if c.QueryParam("references") == "false" {
		options.ScanReferences = false
	}
	if c.QueryParam("schemas") == "false" {
		options.ScanSchemas = false
	}

	report, err := s.integrity.Scan(c.Request().Context(), idx, options)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
