package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"evalgo.org/gridstore/internal/config"
	"evalgo.org/gridstore/models"
	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // register the CouchDB driver
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const (
	designDocID = "_design/gridstore"
	designName  = "gridstore"

	viewByKind      = "by_kind"
	viewByContainer = "by_container"
	viewNetworks    = "networks"
)

// couchDoc is the stored shape of one resource. The _id combines network,
// kind and resource id so point fetches need no index.
type couchDoc struct {
	ID           string          `json:"_id"`
	Rev          string          `json:"_rev,omitempty"`
	Deleted      bool            `json:"_deleted,omitempty"`
	Network      string          `json:"network"`
	ResourceKind models.Kind     `json:"resourceKind"`
	ResourceID   string          `json:"resourceId"`
	Containers   []string        `json:"containers,omitempty"`
	Seq          int64           `json:"seq"`
	Resource     json.RawMessage `json:"resource"`
}

// docID returns the CouchDB _id of a resource.
func docID(network uuid.UUID, kind models.Kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", network, kind, id)
}

// parseDocID splits a CouchDB _id produced by docID.
func parseDocID(s string) (uuid.UUID, models.Kind, string, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return uuid.Nil, "", "", false
	}
	network, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", "", false
	}
	kind := models.Kind(parts[1])
	if !kind.Valid() || parts[2] == "" {
		return uuid.Nil, "", "", false
	}
	return network, kind, parts[2], true
}

// CouchDB is a Client storing one document per resource. Listings use the
// views of the gridstore design document, keyed by insertion sequence so
// they return records in creation order.
type CouchDB struct {
	client *kivik.Client
	db     *kivik.DB
	logger logrus.FieldLogger

	// revisions written by this client, skipped by Watch
	own *lru.Cache[string, struct{}]
}

var _ Client = (*CouchDB)(nil)

// NewCouchDB connects to CouchDB, creates the database if missing and
// installs the design document.
func NewCouchDB(ctx context.Context, cfg config.CouchDBConfig, logger logrus.FieldLogger) (*CouchDB, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	client, err := kivik.New("couch", cfg.BuildURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB client: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Database)
	if err != nil {
		return nil, models.Unavailable("connect", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, cfg.Database); err != nil && kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
			return nil, fmt.Errorf("failed to create database %s: %w", cfg.Database, err)
		}
		logger.WithField("database", cfg.Database).Info("Created CouchDB database")
	}

	own, err := lru.New[string, struct{}](4096)
	if err != nil {
		return nil, err
	}
	s := &CouchDB{
		client: client,
		db:     client.DB(cfg.Database),
		logger: logger,
		own:    own,
	}
	if err := s.initializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

// initializeSchema installs the views used for listings.
func (s *CouchDB) initializeSchema(ctx context.Context) error {
	design := map[string]interface{}{
		"_id":      designDocID,
		"language": "javascript",
		"views": map[string]interface{}{
			// by_kind: every record of a kind in creation order
			viewByKind: map[string]string{
				"map": `function(doc) {
					if (doc.resourceKind) {
						emit([doc.network, doc.resourceKind, doc.seq], doc._rev);
					}
				}`,
				"reduce": "_count",
			},
			// by_container: one row per (record, container) pair
			viewByContainer: map[string]string{
				"map": `function(doc) {
					if (doc.resourceKind && doc.containers) {
						doc.containers.forEach(function(c) {
							emit([doc.network, doc.resourceKind, c, doc.seq], null);
						});
					}
				}`,
				"reduce": "_count",
			},
			// networks: network envelopes
			viewNetworks: map[string]string{
				"map": `function(doc) {
					if (doc.resourceKind === 'NETWORK') {
						emit(doc.resourceId, null);
					}
				}`,
			},
		},
	}

	var existing map[string]interface{}
	row := s.db.Get(ctx, designDocID)
	if err := row.ScanDoc(&existing); err == nil {
		design["_rev"] = existing["_rev"]
	} else if kivik.HTTPStatus(err) != http.StatusNotFound {
		return err
	}

	if _, err := s.db.Put(ctx, designDocID, design); err != nil && kivik.HTTPStatus(err) != http.StatusConflict {
		return err
	}
	return nil
}

func (s *CouchDB) FetchOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) (*models.Resource, error) {
	doc, err := s.getDoc(ctx, network, kind, id)
	if err != nil {
		return nil, wrapCouchError(OpFetchOne, kind, id, err)
	}
	return doc.decode()
}

func (s *CouchDB) FetchMany(ctx context.Context, network uuid.UUID, kind models.Kind, q Query) (*Page, error) {
	view := viewByKind
	start := []interface{}{network.String(), string(kind)}
	if q.ContainerID != "" {
		view = viewByContainer
		start = append(start, q.ContainerID)
	}
	end := append(append([]interface{}{}, start...), map[string]interface{}{})
	keyRange := map[string]interface{}{
		"startkey": start,
		"endkey":   end,
	}

	total, err := s.count(ctx, view, keyRange)
	if err != nil {
		return nil, wrapCouchError(OpFetchMany, kind, "", err)
	}

	params := map[string]interface{}{
		"reduce":       false,
		"include_docs": true,
	}
	for k, v := range keyRange {
		params[k] = v
	}
	if q.Offset > 0 {
		params["skip"] = q.Offset
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	}

	rs := s.db.Query(ctx, designName, view, kivik.Params(params))
	defer func() { _ = rs.Close() }()

	page := &Page{TotalCount: total}
	for rs.Next() {
		var doc couchDoc
		if err := rs.ScanDoc(&doc); err != nil {
			return nil, wrapCouchError(OpFetchMany, kind, "", err)
		}
		res, err := doc.decode()
		if err != nil {
			return nil, err
		}
		page.Resources = append(page.Resources, res)
	}
	if err := rs.Err(); err != nil {
		return nil, wrapCouchError(OpFetchMany, kind, "", err)
	}
	return page, nil
}

// count runs the reduce side of view over keyRange.
func (s *CouchDB) count(ctx context.Context, view string, keyRange map[string]interface{}) (int, error) {
	params := map[string]interface{}{"reduce": true}
	for k, v := range keyRange {
		params[k] = v
	}
	rs := s.db.Query(ctx, designName, view, kivik.Params(params))
	defer func() { _ = rs.Close() }()

	total := 0
	if rs.Next() {
		if err := rs.ScanValue(&total); err != nil {
			return 0, err
		}
	}
	return total, rs.Err()
}

// CreateBatch writes the batch with _bulk_docs. When only part of the batch
// is accepted, the accepted documents are deleted again before reporting.
func (s *CouchDB) CreateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error {
	if err := checkBatch(kind, resources); err != nil {
		return err
	}
	base := time.Now().UnixNano()
	docs := make([]interface{}, 0, len(resources))
	for i, r := range resources {
		doc, err := newCouchDoc(network, r, base+int64(i))
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	results, err := s.db.BulkDocs(ctx, docs)
	if err != nil {
		return wrapCouchError(OpCreateBatch, kind, "", err)
	}

	var (
		failed  error
		applied []interface{}
	)
	for _, res := range results {
		if res.Error != nil {
			if failed == nil {
				_, _, id, _ := parseDocID(res.ID)
				failed = wrapCouchError(OpCreateBatch, kind, id, res.Error)
			}
			continue
		}
		s.own.Add(res.ID+"@"+res.Rev, struct{}{})
		applied = append(applied, map[string]interface{}{"_id": res.ID, "_rev": res.Rev, "_deleted": true})
	}
	if failed == nil {
		return nil
	}
	s.compensate(ctx, OpCreateBatch, kind, applied)
	return failed
}

// UpdateBatch replaces the stored bodies, keeping each record's sequence.
// Documents accepted before a partial failure are restored to their previous
// body.
func (s *CouchDB) UpdateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error {
	if err := checkBatch(kind, resources); err != nil {
		return err
	}
	previous := make(map[string]*couchDoc, len(resources))
	docs := make([]interface{}, 0, len(resources))
	for _, r := range resources {
		old, err := s.getDoc(ctx, network, kind, r.ID)
		if err != nil {
			return wrapCouchError(OpUpdateBatch, kind, r.ID, err)
		}
		previous[old.ID] = old
		doc, err := newCouchDoc(network, r, old.Seq)
		if err != nil {
			return err
		}
		doc.Rev = old.Rev
		docs = append(docs, doc)
	}

	results, err := s.db.BulkDocs(ctx, docs)
	if err != nil {
		return wrapCouchError(OpUpdateBatch, kind, "", err)
	}

	var (
		failed   error
		restores []interface{}
	)
	for _, res := range results {
		if res.Error != nil {
			if failed == nil {
				_, _, id, _ := parseDocID(res.ID)
				failed = wrapCouchError(OpUpdateBatch, kind, id, res.Error)
			}
			continue
		}
		s.own.Add(res.ID+"@"+res.Rev, struct{}{})
		if old, ok := previous[res.ID]; ok {
			restore := *old
			restore.Rev = res.Rev
			restores = append(restores, &restore)
		}
	}
	if failed == nil {
		return nil
	}
	s.compensate(ctx, OpUpdateBatch, kind, restores)
	return failed
}

// compensate undoes the accepted part of a failed batch.
func (s *CouchDB) compensate(ctx context.Context, op Op, kind models.Kind, docs []interface{}) {
	if len(docs) == 0 {
		return
	}
	log := s.logger.WithFields(logrus.Fields{"op": op, "kind": kind, "count": len(docs)})
	results, err := s.db.BulkDocs(context.WithoutCancel(ctx), docs)
	if err != nil {
		log.WithError(err).Warn("Failed to roll back partial batch")
		return
	}
	for _, res := range results {
		if res.Error != nil {
			log.WithError(res.Error).WithField("doc", res.ID).Warn("Failed to roll back document")
			continue
		}
		s.own.Add(res.ID+"@"+res.Rev, struct{}{})
	}
	log.Info("Rolled back partial batch")
}

func (s *CouchDB) DeleteOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) error {
	doc, err := s.getDoc(ctx, network, kind, id)
	if err != nil {
		return wrapCouchError(OpDeleteOne, kind, id, err)
	}
	rev, err := s.db.Delete(ctx, doc.ID, doc.Rev)
	if err != nil {
		return wrapCouchError(OpDeleteOne, kind, id, err)
	}
	s.own.Add(doc.ID+"@"+rev, struct{}{})
	return nil
}

func (s *CouchDB) ListNetworks(ctx context.Context) ([]*models.Resource, error) {
	rs := s.db.Query(ctx, designName, viewNetworks, kivik.Param("include_docs", true))
	defer func() { _ = rs.Close() }()

	var out []*models.Resource
	for rs.Next() {
		var doc couchDoc
		if err := rs.ScanDoc(&doc); err != nil {
			return nil, wrapCouchError(OpListNetworks, models.KindNetwork, "", err)
		}
		res, err := doc.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rs.Err(); err != nil {
		return nil, wrapCouchError(OpListNetworks, models.KindNetwork, "", err)
	}
	return out, nil
}

// DeleteNetwork deletes every document of the network in one bulk request.
func (s *CouchDB) DeleteNetwork(ctx context.Context, network uuid.UUID) error {
	rs := s.db.Query(ctx, designName, viewByKind, kivik.Params(map[string]interface{}{
		"reduce":   false,
		"startkey": []interface{}{network.String()},
		"endkey":   []interface{}{network.String(), map[string]interface{}{}},
	}))
	var tombstones []interface{}
	for rs.Next() {
		id, err := rs.ID()
		if err != nil {
			_ = rs.Close()
			return wrapCouchError(OpDeleteNetwork, models.KindNetwork, "", err)
		}
		var rev string
		if err := rs.ScanValue(&rev); err != nil {
			_ = rs.Close()
			return wrapCouchError(OpDeleteNetwork, models.KindNetwork, "", err)
		}
		tombstones = append(tombstones, map[string]interface{}{"_id": id, "_rev": rev, "_deleted": true})
	}
	err := rs.Err()
	_ = rs.Close()
	if err != nil {
		return wrapCouchError(OpDeleteNetwork, models.KindNetwork, "", err)
	}
	if len(tombstones) == 0 {
		return models.NotFound(models.KindNetwork, network.String())
	}

	results, err := s.db.BulkDocs(ctx, tombstones)
	if err != nil {
		return wrapCouchError(OpDeleteNetwork, models.KindNetwork, "", err)
	}
	for _, res := range results {
		if res.Error != nil {
			return wrapCouchError(OpDeleteNetwork, models.KindNetwork, network.String(), res.Error)
		}
		s.own.Add(res.ID+"@"+res.Rev, struct{}{})
	}
	return nil
}

// Close closes the client connection.
func (s *CouchDB) Close() error {
	return s.client.Close()
}

func (s *CouchDB) getDoc(ctx context.Context, network uuid.UUID, kind models.Kind, id string) (*couchDoc, error) {
	var doc couchDoc
	if err := s.db.Get(ctx, docID(network, kind, id)).ScanDoc(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func newCouchDoc(network uuid.UUID, r *models.Resource, seq int64) (*couchDoc, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", r.Kind, r.ID, err)
	}
	return &couchDoc{
		ID:           docID(network, r.Kind, r.ID),
		Network:      network.String(),
		ResourceKind: r.Kind,
		ResourceID:   r.ID,
		Containers:   r.Containers(),
		Seq:          seq,
		Resource:     body,
	}, nil
}

func (d *couchDoc) decode() (*models.Resource, error) {
	var res models.Resource
	if err := json.Unmarshal(d.Resource, &res); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return &res, nil
}

// wrapCouchError maps CouchDB HTTP statuses onto the error taxonomy.
func wrapCouchError(op Op, kind models.Kind, id string, err error) error {
	var merr *models.Error
	if errors.As(err, &merr) {
		return err
	}
	switch kivik.HTTPStatus(err) {
	case http.StatusNotFound:
		return models.NotFound(kind, id)
	case http.StatusConflict:
		if op == OpCreateBatch {
			return models.DuplicateID(kind, id)
		}
	}
	return models.Unavailable(string(op), err)
}
