package index

import (
	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
)

// EventType names what happened to a record.
type EventType string

const (
	EventCreated     EventType = "created"
	EventUpdated     EventType = "updated"
	EventRemoved     EventType = "removed"
	EventInvalidated EventType = "invalidated"
)

// Event is delivered to listeners after a change is visible in the index.
// Resource is a copy of the new state; it is nil for removals and
// invalidations.
type Event struct {
	Type     EventType        `json:"type"`
	Network  uuid.UUID        `json:"network"`
	Kind     models.Kind      `json:"kind,omitempty"`
	ID       string           `json:"id,omitempty"`
	Resource *models.Resource `json:"resource,omitempty"`
}

// Listener receives index events. Listeners run synchronously on the
// mutating goroutine and must not call back into a mutating index operation.
type Listener func(Event)

func (i *Index) emit(ev Event) {
	ev.Network = i.network
	for _, l := range i.listeners {
		l(ev)
	}
}
