package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"evalgo.org/gridstore/internal/grid"
	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/models"
)

// networkID parses the :network path parameter.
func networkID(c echo.Context) (uuid.UUID, error) {
	raw := c.Param("network")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, BadRequestError("Invalid network id", "network must be a UUID. Got: "+raw)
	}
	return id, nil
}

// networkIndex returns the index of the :network path parameter.
func (s *Server) networkIndex(c echo.Context) (*index.Index, error) {
	id, err := networkID(c)
	if err != nil {
		return nil, err
	}
	return s.registry.Index(id), nil
}

// listNetworks handles GET /api/v1/networks
// @Summary List networks
// @Tags networks
// @Produce json
// @Param limit query int false "Page size (max 1000)"
// @Param offset query int false "Number of networks to skip"
// @Success 200 {object} ListResponse
// @Router /networks [get]
func (s *Server) listNetworks(c echo.Context) error {
	all, err := s.registry.Client().ListNetworks(c.Request().Context())
	if err != nil {
		return err
	}

	limit, offset := parsePagination(c)
	return c.JSON(http.StatusOK, ListResponse{
		Data: paginate(all, limit, offset),
		Meta: ListMeta{TotalCount: len(all), Limit: limit, Offset: offset},
	})
}

// createNetwork handles POST /api/v1/networks
// @Summary Create a network
// @Description The id is the network uuid; it is generated when absent
// @Tags networks
// @Accept json
// @Produce json
// @Success 201 {object} ResourceResponse
// @Failure 400 {object} APIError
// @Failure 409 {object} APIError
// @Router /networks [post]
func (s *Server) createNetwork(c echo.Context) error {
	resources, err := decodeResources(c, models.KindNetwork)
	if err != nil {
		return err
	}
	if len(resources) != 1 {
		return BadRequestError("Invalid request body", "exactly one network is created per request")
	}
	res := resources[0]
	attrs := res.Attributes.(*models.NetworkAttributes)

	id := attrs.UUID
	if res.ID != "" {
		parsed, err := uuid.Parse(res.ID)
		if err != nil {
			return BadRequestError("Invalid network id", "network id must be a UUID. Got: "+res.ID)
		}
		id = parsed
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	n, err := grid.CreateNetwork(c.Request().Context(), s.registry.Index(id), attrs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ResourceResponse{Data: []*models.Resource{n.Resource()}})
}

// getNetwork handles GET /api/v1/networks/:network
// @Summary Get a network
// @Tags networks
// @Produce json
// @Param network path string true "Network UUID"
// @Success 200 {object} ResourceResponse
// @Failure 404 {object} APIError
// @Router /networks/{network} [get]
func (s *Server) getNetwork(c echo.Context) error {
	idx, err := s.networkIndex(c)
	if err != nil {
		return err
	}
	n, err := grid.OpenNetwork(c.Request().Context(), idx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ResourceResponse{Data: []*models.Resource{n.Resource()}})
}

// deleteNetwork handles DELETE /api/v1/networks/:network
// @Summary Delete a network and every record in it
// @Tags networks
// @Param network path string true "Network UUID"
// @Success 204
// @Failure 404 {object} APIError
// @Router /networks/{network} [delete]
func (s *Server) deleteNetwork(c echo.Context) error {
	id, err := networkID(c)
	if err != nil {
		return err
	}

	err = s.registry.Client().DeleteNetwork(c.Request().Context(), id)
	s.registry.Drop(id)
	if err != nil {
		return err
	}

	s.logger.WithField("network", id).Info("Deleted network")
	return c.NoContent(http.StatusNoContent)
}

// invalidateNetwork handles POST /api/v1/networks/:network/invalidate
// @Summary Drop every cached record of a network
// @Tags networks
// @Param network path string true "Network UUID"
// @Success 204
// @Router /networks/{network}/invalidate [post]
func (s *Server) invalidateNetwork(c echo.Context) error {
	id, err := networkID(c)
	if err != nil {
		return err
	}
	if idx, ok := s.registry.Lookup(id); ok {
		idx.InvalidateAll()
	}
	return c.NoContent(http.StatusNoContent)
}

// getNetworkStats handles GET /api/v1/networks/:network/stats
// @Summary Report the cache content of a network
// @Tags networks
// @Produce json
// @Param network path string true "Network UUID"
// @Success 200 {object} NetworkStatsResponse
// @Router /networks/{network}/stats [get]
func (s *Server) getNetworkStats(c echo.Context) error {
	id, err := networkID(c)
	if err != nil {
		return err
	}

	resp := NetworkStatsResponse{Network: id.String()}
	if idx, ok := s.registry.Lookup(id); ok {
		resp.Cached = true
		resp.Stats = idx.Stats()
	}
	return c.JSON(http.StatusOK, resp)
}
