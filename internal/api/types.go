package api

import (
	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/models"
)

// ListMeta describes one page of a listing.
type ListMeta struct {
	TotalCount int `json:"totalCount"`
	Limit      int `json:"limit"`
	Offset     int `json:"offset"`
}

// ListResponse is a page of resource envelopes.
type ListResponse struct {
	Data []*models.Resource `json:"data"`
	Meta ListMeta           `json:"meta"`
}

// ResourceResponse carries the envelopes of a get, create or update.
type ResourceResponse struct {
	Data []*models.Resource `json:"data"`
}

// ExtensionResponse carries one extension payload.
type ExtensionResponse struct {
	Name string           `json:"name"`
	Data models.Extension `json:"data"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// NetworkStatsResponse reports the cache content of one network.
type NetworkStatsResponse struct {
	Network string      `json:"network"`
	Cached  bool        `json:"cached"`
	Stats   index.Stats `json:"stats"`
}
