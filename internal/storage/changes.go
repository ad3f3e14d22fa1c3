package storage

import (
	"context"
	"errors"

	"evalgo.org/gridstore/models"
	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Change is an out-of-band modification observed on the store.
type Change struct {
	Network  uuid.UUID
	Kind     models.Kind
	ID       string
	Deleted  bool
	Sequence string
}

// ChangeHandler handles one change.
type ChangeHandler func(change Change)

// Watch follows the CouchDB _changes feed from "now" and calls handler for
// every resource document modified by another writer. Revisions written by
// this client are skipped. Watch blocks until ctx is done or the feed fails.
func (s *CouchDB) Watch(ctx context.Context, handler ChangeHandler) error {
	changes := s.db.Changes(ctx,
		kivik.Param("feed", "continuous"),
		kivik.Param("since", "now"),
		kivik.Param("heartbeat", 30000),
	)
	defer func() { _ = changes.Close() }()

	s.logger.Info("Watching CouchDB changes")
	for changes.Next() {
		id := changes.ID()
		network, kind, rid, ok := parseDocID(id)
		if !ok {
			continue
		}
		if s.ownChange(id, changes.Changes()) {
			continue
		}
		change := Change{
			Network:  network,
			Kind:     kind,
			ID:       rid,
			Deleted:  changes.Deleted(),
			Sequence: changes.Seq(),
		}
		s.logger.WithFields(logrus.Fields{
			"network": network,
			"kind":    kind,
			"id":      rid,
			"deleted": change.Deleted,
		}).Debug("Out-of-band change")
		handler(change)
	}

	err := changes.Err()
	if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return models.Unavailable("changes", err)
}

func (s *CouchDB) ownChange(id string, revs []string) bool {
	if len(revs) == 0 {
		return false
	}
	for _, rev := range revs {
		if !s.own.Contains(id + "@" + rev) {
			return false
		}
	}
	return true
}
