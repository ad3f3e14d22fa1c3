package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/models"
)

// resourceKind parses a collection path parameter such as "voltage-levels".
// Networks have their own routes and are not a collection of a network.
func resourceKind(c echo.Context, param string) (models.Kind, error) {
	raw := c.Param(param)
	kind, err := models.ParseKind(raw)
	if err != nil || kind == models.KindNetwork {
		return "", NotFoundError("Collection", raw)
	}
	return kind, nil
}

// readBody returns the request body, rejecting an empty one.
func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, BadRequestError("Invalid request body", err.Error())
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, BadRequestError("Invalid request body", "request body is required")
	}
	return body, nil
}

// splitBody accepts either one JSON object or an array of them.
func splitBody(body []byte) ([]json.RawMessage, error) {
	if body[0] != '[' {
		return []json.RawMessage{body}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, BadRequestError("Invalid request body", "Failed to parse JSON: "+err.Error())
	}
	if len(items) == 0 {
		return nil, BadRequestError("Invalid request body", "at least one resource is required")
	}
	return items, nil
}

// decodeResources decodes the request body into envelopes of kind. An
// envelope without "type" takes the collection's kind.
func decodeResources(c echo.Context, kind models.Kind) ([]*models.Resource, error) {
	body, err := readBody(c)
	if err != nil {
		return nil, err
	}
	items, err := splitBody(body)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Resource, 0, len(items))
	for _, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			return nil, BadRequestError("Invalid request body", "Failed to parse JSON: "+err.Error())
		}
		if _, ok := fields["type"]; !ok {
			fields["type"], _ = json.Marshal(kind)
			item, _ = json.Marshal(fields)
		}

		var res models.Resource
		if err := json.Unmarshal(item, &res); err != nil {
			if errors.Is(err, models.ErrValidationFailed) {
				return nil, err
			}
			return nil, BadRequestError("Invalid request body", "Failed to parse JSON: "+err.Error())
		}
		out = append(out, &res)
	}
	return out, nil
}

// patchOf builds an index patch merging raw, a partial envelope, into the
// current record. Only the attributes present in raw change.
func patchOf(id string, raw json.RawMessage) index.Patch {
	return index.Patch{
		ID: id,
		Apply: func(r *models.Resource) error {
			return models.MergeResource(r, raw)
		},
	}
}

// listResources handles GET /api/v1/networks/:network/:kind
// @Summary List the records of a collection
// @Description With ?container=ID only the records held by that container are listed
// @Tags resources
// @Produce json
// @Param network path string true "Network UUID"
// @Param kind path string true "Collection, e.g. substations or voltage-levels"
// @Param container query string false "Container id"
// @Param limit query int false "Page size (max 1000)"
// @Param offset query int false "Number of records to skip"
// @Success 200 {object} ListResponse
// @Router /networks/{network}/{kind} [get]
func (s *Server) listResources(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}
	kind, err := resourceKind(c, "kind")
	if err != nil {
		return err
	}

	container := c.QueryParam("container")
	if container != "" && kind.ContainerKind() == "" {
		return models.UnsupportedQuery(kind, "", "records of this kind have no container")
	}

	all, err := idx.Children(c.Request().Context(), container, kind)
	if err != nil {
		return err
	}
	return s.page(c, all)
}

// listChildren handles GET /api/v1/networks/:network/:kind/:id/:child
// @Summary List the records held by a container
// @Description e.g. /substations/{id}/voltage-levels or /voltage-levels/{id}/loads
// @Tags resources
// @Produce json
// @Success 200 {object} ListResponse
// @Failure 404 {object} APIError
// @Failure 501 {object} APIError
// @Router /networks/{network}/{kind}/{id}/{child} [get]
func (s *Server) listChildren(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}
	kind, err := resourceKind(c, "kind")
	if err != nil {
		return err
	}
	child, err := resourceKind(c, "child")
	if err != nil {
		return err
	}
	id := c.Param("id")
	if child.ContainerKind() != kind {
		return models.UnsupportedQuery(kind, id, "records of "+child.Path()+" are not held by "+kind.Path())
	}

	ctx := c.Request().Context()
	if _, err := idx.Get(ctx, kind, id); err != nil {
		return err
	}
	all, err := idx.Children(ctx, id, child)
	if err != nil {
		return err
	}
	return s.page(c, all)
}

func (s *Server) page(c echo.Context, all []*models.Resource) error {
	limit, offset := parsePagination(c)
	return c.JSON(http.StatusOK, ListResponse{
		Data: paginate(all, limit, offset),
		Meta: ListMeta{TotalCount: len(all), Limit: limit, Offset: offset},
	})
}

// getResource handles GET /api/v1/networks/:network/:kind/:id
// @Summary Get one record
// @Tags resources
// @Produce json
// @Success 200 {object} ResourceResponse
// @Failure 404 {object} APIError
// @Router /networks/{network}/{kind}/{id} [get]
func (s *Server) getResource(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}
	kind, err := resourceKind(c, "kind")
	if err != nil {
		return err
	}

	res, err := idx.Get(c.Request().Context(), kind, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ResourceResponse{Data: []*models.Resource{res}})
}

// createResources handles POST /api/v1/networks/:network/:kind
// @Summary Create one or many records
// @Description The body is one envelope or an array; the batch is created atomically
// @Tags resources
// @Accept json
// @Produce json
// @Success 201 {object} ResourceResponse
// @Failure 400 {object} APIError
// @Failure 409 {object} APIError
// @Router /networks/{network}/{kind} [post]
func (s *Server) createResources(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}
	kind, err := resourceKind(c, "kind")
	if err != nil {
		return err
	}
	resources, err := decodeResources(c, kind)
	if err != nil {
		return err
	}

	created, err := idx.CreateAll(c.Request().Context(), kind, resources)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ResourceResponse{Data: created})
}

// updateResources handles PUT /api/v1/networks/:network/:kind
// @Summary Update one or many records
// @Description Each element is a partial envelope with its id; only the attributes present change
// @Tags resources
// @Accept json
// @Produce json
// @Success 200 {object} ResourceResponse
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Router /networks/{network}/{kind} [put]
func (s *Server) updateResources(c echo.Context) error {
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
	items, err := splitBody(body)
	if err != nil {
		return err
	}

	patches := make([]index.Patch, 0, len(items))
	for _, item := range items {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return BadRequestError("Invalid request body", "Failed to parse JSON: "+err.Error())
		}
		if head.ID == "" {
			return ValidationError("Validation failed", map[string]string{"id": "Is required"})
		}
		patches = append(patches, patchOf(head.ID, item))
	}

	updated, err := idx.UpdateAll(c.Request().Context(), kind, patches)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ResourceResponse{Data: updated})
}

// updateResource handles PUT /api/v1/networks/:network/:kind/:id
// @Summary Update one record
// @Tags resources
// @Accept json
// @Produce json
// @Success 200 {object} ResourceResponse
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Router /networks/{network}/{kind}/{id} [put]
func (s *Server) updateResource(c echo.Context) error {
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
	if body[0] != '{' {
		return BadRequestError("Invalid request body", "a single partial resource is expected")
	}

	id := c.Param("id")
	updated, err := idx.UpdateAll(c.Request().Context(), kind, []index.Patch{patchOf(id, body)})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ResourceResponse{Data: updated})
}

// deleteResource handles DELETE /api/v1/networks/:network/:kind/:id
// @Summary Remove one record
// @Description Removal does not cascade to the records it contains or that reference it
// @Tags resources
// @Success 204
// @Failure 404 {object} APIError
// @Router /networks/{network}/{kind}/{id} [delete]
func (s *Server) deleteResource(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}
	kind, err := resourceKind(c, "kind")
	if err != nil {
		return err
	}

	if err := idx.Remove(c.Request().Context(), kind, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// invalidateResource handles POST /api/v1/networks/:network/:kind/:id/invalidate
// @Summary Drop one cached record so the next read refetches it
// @Tags resources
// @Success 204
// @Router /networks/{network}/{kind}/{id}/invalidate [post]
func (s *Server) invalidateResource(c echo.Context) error {
	id, err := networkID(c)
	if err != nil {
		return err
	}
	kind, err := resourceKind(c, "kind")
	if err != nil {
		return err
	}

	if idx, ok := s.registry.Lookup(id); ok {
		idx.Invalidate(kind, c.Param("id"))
	}
	return c.NoContent(http.StatusNoContent)
}
