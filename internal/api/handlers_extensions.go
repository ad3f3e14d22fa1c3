package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/gridstore/models"
)

// getExtension handles GET /api/v1/networks/:network/:kind/:id/extensions/:name
// @Summary Get an extension of a record
// @Tags extensions
// @Produce json
// @Param name path string true "Extension name, e.g. entsoeArea"
// @Success 200 {object} ExtensionResponse
// @Failure 404 {object} APIError
// @Router /networks/{network}/{kind}/{id}/extensions/{name} [get]
func (s *Server) getExtension(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}
	kind, err := resourceKind(c, "kind")
	if err != nil {
		return err
	}

	name := c.Param("name")
	ext, err := idx.Extension(c.Request().Context(), kind, c.Param("id"), name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ExtensionResponse{Name: name, Data: ext})
}

// putExtension handles PUT /api/v1/networks/:network/:kind/:id/extensions/:name
// @Summary Attach or replace an extension
// @Tags extensions
// @Accept json
// @Produce json
// @Success 200 {object} ResourceResponse
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Router /networks/{network}/{kind}/{id}/extensions/{name} [put]
func (s *Server) putExtension(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}
	kind, err := resourceKind(c, "kind")
	if err != nil {
		return err
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}

	ext, err := models.DecodeExtension(c.Param("name"), body)
	if err != nil {
		return err
	}
	res, err := idx.AddExtension(c.Request().Context(), kind, c.Param("id"), ext)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ResourceResponse{Data: []*models.Resource{res}})
}

// deleteExtension handles DELETE /api/v1/networks/:network/:kind/:id/extensions/:name
// @Summary Detach an extension
// @Tags extensions
// @Success 204
// @Failure 404 {object} APIError
// @Router /networks/{network}/{kind}/{id}/extensions/{name} [delete]
func (s *Server) deleteExtension(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}
	kind, err := resourceKind(c, "kind")
	if err != nil {
		return err
	}

	if _, err := idx.RemoveExtension(c.Request().Context(), kind, c.Param("id"), c.Param("name")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
