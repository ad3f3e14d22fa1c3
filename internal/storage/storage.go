// Package storage provides the backing store layer for gridstore.
//
// A Client performs point and bulk CRUD of resource envelopes against the
// authoritative store. It owns no cache state; the object index sits on top of
// it. Every operation is scoped to one network id and one kind.
//
// Drivers:
//   - memory: in-process store, also used as the instrumented fake in tests
//   - couchdb: one document per resource through kivik
//   - sqlite, postgres: database/sql tables through modernc sqlite and pgx
//
// Failures of the transport or the database are returned as
// models.ErrBackingStoreUnavailable; deterministic outcomes use
// models.ErrNotFound and models.ErrDuplicateID.
package storage

import (
	"context"
	"fmt"

	"evalgo.org/gridstore/internal/config"
	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Op names a Client operation in metrics, logs and test instrumentation.
type Op string

const (
	OpFetchOne      Op = "fetchOne"
	OpFetchMany     Op = "fetchMany"
	OpCreateBatch   Op = "createBatch"
	OpUpdateBatch   Op = "updateBatch"
	OpDeleteOne     Op = "deleteOne"
	OpListNetworks  Op = "listNetworks"
	OpDeleteNetwork Op = "deleteNetwork"
)

// Query filters and pages a bulk fetch.
type Query struct {
	// ContainerID restricts the listing to children of one container.
	// Empty means every record of the kind in the network.
	ContainerID string

	// Offset is the number of matching records to skip.
	Offset int

	// Limit caps the page size; zero or negative means no limit.
	Limit int
}

// Page is one page of a bulk fetch, in listing (creation) order.
type Page struct {
	Resources []*models.Resource

	// TotalCount is the number of records matching the query, all pages included.
	TotalCount int
}

// Client is the backing store contract.
//
// Batches are all-or-nothing: either every envelope is durably applied or an
// error is returned and none is visible. CreateBatch fails with
// models.ErrDuplicateID when any id exists; UpdateBatch fails with
// models.ErrNotFound when any id is missing.
type Client interface {
	FetchOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) (*models.Resource, error)
	FetchMany(ctx context.Context, network uuid.UUID, kind models.Kind, q Query) (*Page, error)
	CreateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error
	UpdateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error
	DeleteOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) error

	// ListNetworks returns the NETWORK envelope of every stored network.
	ListNetworks(ctx context.Context) ([]*models.Resource, error)

	// DeleteNetwork removes every record of a network.
	DeleteNetwork(ctx context.Context, network uuid.UUID) error

	Close() error
}

// Open builds the Client selected by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("driver", cfg.Store.Driver)

	switch cfg.Store.Driver {
	case config.DriverMemory:
		return NewMemory(), nil
	case config.DriverCouchDB:
		return NewCouchDB(ctx, cfg.Store.CouchDB, logger)
	case config.DriverSQLite:
		return NewSQLite(ctx, cfg.Store.SQLite.Path, logger)
	case config.DriverPostgres:
		return NewPostgres(ctx, cfg.Store.Postgres.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Store.Driver)
	}
}

// checkBatch verifies that every envelope has kind and that ids are unique
// within the batch.
func checkBatch(kind models.Kind, resources []*models.Resource) error {
	seen := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		if r == nil {
			return models.Validation(kind, "", "nil resource in batch", nil)
		}
		if r.Kind != kind {
			return models.Validation(kind, r.ID, fmt.Sprintf("resource of kind %s in %s batch", r.Kind, kind), nil)
		}
		if _, dup := seen[r.ID]; dup {
			return models.DuplicateID(kind, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// pageBounds clamps offset/limit to n matching records.
func pageBounds(q Query, n int) (int, int) {
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := n
	if q.Limit > 0 && start+q.Limit < n {
		end = start + q.Limit
	}
	return start, end
}
