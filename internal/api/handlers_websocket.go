package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"evalgo.org/gridstore/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS middleware
		return true
	},
}

// parseSubscription reads the ?network= and ?kinds= filters of a change
// feed request.
func parseSubscription(c echo.Context) (Subscription, error) {
	var sub Subscription
	if raw := c.QueryParam("network"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return sub, BadRequestError("Invalid network parameter", "network must be a UUID. Got: "+raw)
		}
		sub.Network = id
	}
	if raw := c.QueryParam("kinds"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			kind, err := models.ParseKind(strings.TrimSpace(part))
			if err != nil {
				return sub, BadRequestError("Invalid kinds parameter", "unknown collection "+part)
			}
			sub.Kinds = append(sub.Kinds, kind)
		}
	}
	return sub, nil
}

// HandleWebSocket streams index change events to the client
// @Summary WebSocket change feed
// @Description Establishes a WebSocket connection receiving one JSON message per index change
// @Tags websocket
// @Param network query string false "Only events of this network"
// @Param kinds query string false "Only events of these collections, e.g. loads,generators"
// @Success 101 {string} string "Switching Protocols"
// @Failure 400 {object} APIError
// @Router /ws [get]
func (s *Server) HandleWebSocket(c echo.Context) error {
	sub, err := parseSubscription(c)
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return err
	}

	client := &Client{
		hub:  s.hub,
		conn: ws,
		send: make(chan []byte, 256),
		sub:  sub,
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		return ws.Close()
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// GetWebSocketStats returns change feed connection statistics
// @Summary Get WebSocket statistics
// @Tags websocket
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /ws/stats [get]
func (s *Server) GetWebSocketStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connected_clients": s.hub.ClientCount(),
		"cached_networks":   len(s.registry.Networks()),
	})
}
