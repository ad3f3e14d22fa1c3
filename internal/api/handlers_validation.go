package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// validateResource handles POST /api/v1/validate
// @Summary Validate a resource envelope without storing it
// @Tags validation
// @Accept json
// @Produce json
// @Success 200 {object} validation.ValidationResult
// @Failure 400 {object} validation.ValidationResult
// @Router /validate [post]
func (s *Server) validateResource(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	result := s.validator.ValidateDocument(body)
	if result.Valid {
		return c.JSON(http.StatusOK, result)
	}
	return c.JSON(http.StatusBadRequest, result)
}
