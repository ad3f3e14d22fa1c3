// Package index implements the per-network object index: an in-memory,
// lazily populated cache of resource envelopes over a storage.Client.
//
// The index keeps a primary map (kind, id) -> envelope and secondary child
// lists (kind, container) -> ordered ids. A child list exists only once it
// has been bulk loaded, so an empty loaded list is distinct from one never
// fetched. Lists hold records in backing store listing order and are
// maintained incrementally on every create, update and remove.
//
// # Concurrency
//
// One RWMutex guards the maps and is never held across backing store I/O.
// Identical concurrent fetches share one backing store call (singleflight)
// that runs detached from the callers' cancellation. Mutations of the same
// (kind, id) are serialized by a keyed mutex; batches lock their keys in
// sorted order. A sequence number stamps local mutations so a fetch that
// started before a mutation never overwrites it.
//
// Callers always receive deep copies; cached envelopes are never mutated in
// place.
package index

import (
	"context"
	"slices"
	"sort"
	"sync"

	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/internal/validation"
	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultPageSize is the bulk fetch page size used when none is configured.
const DefaultPageSize = 500

type recordKey struct {
	kind models.Kind
	id   string
}

func (k recordKey) String() string { return string(k.kind) + "/" + k.id }

// holdKey names the lock taken on container (kind, id) by writers giving it
// children. It sorts after every record key, so holds are always taken last.
func holdKey(kind models.Kind, id string) string { return "~" + string(kind) + "/" + id }

// holds returns the hold keys of every container referenced by batch.
func holds(kind models.Kind, batch []*models.Resource) []string {
	container := kind.ContainerKind()
	if container == "" {
		return nil
	}
	var out []string
	for _, r := range batch {
		for _, c := range r.Containers() {
			out = append(out, holdKey(container, c))
		}
	}
	return out
}

type listKey struct {
	kind      models.Kind
	container string
}

// mark stamps the last local change of a record while fetches are in flight.
type mark struct {
	seq         uint64
	removed     bool
	invalidated bool
}

// Index is the object index of one network.
type Index struct {
	network   uuid.UUID
	client    storage.Client
	logger    logrus.FieldLogger
	metrics   *Metrics
	validator *validation.Validator
	pageSize  int
	listeners []Listener

	mu       sync.RWMutex
	records  map[recordKey]*models.Resource
	lists    map[listKey][]string
	seq      uint64
	flushSeq uint64
	inflight int
	marks    map[recordKey]mark

	flights singleflight.Group
	keys    *keyedMutex
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger; the network id is added as a field.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(i *Index) { i.logger = logger }
}

// WithMetrics reports cache and backend activity to m.
func WithMetrics(m *Metrics) Option {
	return func(i *Index) { i.metrics = m }
}

// WithValidator replaces the default validator.
func WithValidator(v *validation.Validator) Option {
	return func(i *Index) { i.validator = v }
}

// WithPageSize sets the bulk fetch page size.
func WithPageSize(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.pageSize = n
		}
	}
}

// WithListener adds a listener notified after every applied change.
func WithListener(l Listener) Option {
	return func(i *Index) { i.listeners = append(i.listeners, l) }
}

// New creates an empty index for network over client.
func New(network uuid.UUID, client storage.Client, opts ...Option) *Index {
	i := &Index{
		network:  network,
		client:   client,
		pageSize: DefaultPageSize,
		records:  make(map[recordKey]*models.Resource),
		lists:    make(map[listKey][]string),
		marks:    make(map[recordKey]mark),
		keys:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = logrus.StandardLogger()
	}
	i.logger = i.logger.WithField("network", network)
	if i.validator == nil {
		i.validator = validation.New()
	}
	return i
}

// Network returns the id of the network this index serves.
func (i *Index) Network() uuid.UUID {
	return i.network
}

// Get returns the record (kind, id), fetching it from the backing store on a
// miss. Concurrent misses for the same record share one fetch.
func (i *Index) Get(ctx context.Context, kind models.Kind, id string) (*models.Resource, error) {
	if !kind.Valid() {
		return nil, models.Validation(kind, id, "unknown kind", nil)
	}
	key := recordKey{kind, id}

	i.mu.RLock()
	res, cached := i.records[key]
	_, all := i.lists[listKey{kind: kind}]
	i.mu.RUnlock()

	if cached {
		i.metrics.hit("get")
		return res.Clone(), nil
	}
	if all {
		// every record of the kind is loaded
		i.metrics.hit("get")
		return nil, models.NotFound(kind, id)
	}

	i.metrics.miss("get")
	v, err := shared(ctx, &i.flights, "one/"+key.String(), func(ctx context.Context) (any, error) {
		return i.fetchOne(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Resource).Clone(), nil
}

func (i *Index) fetchOne(ctx context.Context, key recordKey) (*models.Resource, error) {
	start := i.begin()
	i.logger.WithFields(logrus.Fields{"kind": key.kind, "id": key.id}).Debug("Fetching record")

	res, err := i.client.FetchOne(ctx, i.network, key.kind, key.id)
	i.metrics.call(storage.OpFetchOne, err)

	i.mu.Lock()
	defer i.mu.Unlock()
	defer i.end()

	cur, cached := i.records[key]
	m, marked := i.marks[key]
	fresh := marked && m.seq > start

	switch {
	case fresh && m.removed:
		return nil, models.NotFound(key.kind, key.id)
	case cached:
		return cur, nil
	case err != nil:
		return nil, err
	case fresh || i.flushSeq > start:
		// invalidated while fetching: hand the result out without caching it
		return res, nil
	}
	i.put(res, false)
	return res, nil
}

// Children returns the records of kind held by container, in backing store
// listing order. The first call per (container, kind) bulk loads the list;
// later calls are answered from memory until a mutation or invalidation
// affects it. An empty container means every record of kind.
func (i *Index) Children(ctx context.Context, container string, kind models.Kind) ([]*models.Resource, error) {
	if !kind.Valid() {
		return nil, models.Validation(kind, "", "unknown kind", nil)
	}
	lk := listKey{kind, container}

	i.mu.RLock()
	ids, loaded := i.lists[lk]
	var out []*models.Resource
	if loaded {
		out = i.cloneAll(lk.kind, ids)
	}
	_, all := i.lists[listKey{kind: kind}]
	i.mu.RUnlock()

	if loaded {
		i.metrics.hit("children")
		return out, nil
	}
	if all {
		if out, ok := i.deriveList(lk); ok {
			i.metrics.hit("children")
			return out, nil
		}
	}

	i.metrics.miss("children")
	v, err := shared(ctx, &i.flights, "many/"+string(kind)+"/"+container, func(ctx context.Context) (any, error) {
		return i.fetchList(ctx, lk)
	})
	if err != nil {
		return nil, err
	}
	fetched := v.([]*models.Resource)
	out = make([]*models.Resource, 0, len(fetched))
	for _, r := range fetched {
		out = append(out, r.Clone())
	}
	return out, nil
}

// All returns every record of kind in the network.
func (i *Index) All(ctx context.Context, kind models.Kind) ([]*models.Resource, error) {
	return i.Children(ctx, "", kind)
}

// deriveList builds a container list from the loaded kind-wide list, which
// already holds every record in listing order.
func (i *Index) deriveList(lk listKey) ([]*models.Resource, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if ids, ok := i.lists[lk]; ok {
		return i.cloneAll(lk.kind, ids), true
	}
	all, ok := i.lists[listKey{kind: lk.kind}]
	if !ok {
		return nil, false
	}
	ids := []string{}
	for _, id := range all {
		if slices.Contains(i.records[recordKey{lk.kind, id}].Containers(), lk.container) {
			ids = append(ids, id)
		}
	}
	i.lists[lk] = ids
	return i.cloneAll(lk.kind, ids), true
}

func (i *Index) fetchList(ctx context.Context, lk listKey) ([]*models.Resource, error) {
	start := i.begin()
	log := i.logger.WithFields(logrus.Fields{"kind": lk.kind, "container": lk.container})
	log.Debug("Bulk loading records")

	var (
		fetched []*models.Resource
		err     error
	)
	for {
		page, ferr := i.client.FetchMany(ctx, i.network, lk.kind, storage.Query{
			ContainerID: lk.container,
			Offset:      len(fetched),
			Limit:       i.pageSize,
		})
		i.metrics.call(storage.OpFetchMany, ferr)
		if ferr != nil {
			err = ferr
			break
		}
		fetched = append(fetched, page.Resources...)
		if len(page.Resources) == 0 || len(fetched) >= page.TotalCount {
			break
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	defer i.end()

	if err != nil {
		return nil, err
	}
	if ids, ok := i.lists[lk]; ok {
		return i.shareAll(lk.kind, ids), nil
	}
	if i.flushSeq > start {
		return fetched, nil
	}

	var (
		ids       = make([]string, 0, len(fetched))
		out       = make([]*models.Resource, 0, len(fetched))
		seen      = make(map[string]bool, len(fetched))
		cacheable = true
	)
	member := func(r *models.Resource) bool {
		return lk.container == "" || slices.Contains(r.Containers(), lk.container)
	}
	for _, r := range fetched {
		key := recordKey{lk.kind, r.ID}
		if m, ok := i.marks[key]; ok && m.seq > start {
			// changed locally after the fetch started: the cache wins
			if m.removed {
				continue
			}
			cur, ok := i.records[key]
			if !ok {
				cacheable = false
				out = append(out, r)
				continue
			}
			if member(cur) && !seen[r.ID] {
				ids = append(ids, r.ID)
				out = append(out, cur)
				seen[r.ID] = true
			}
			continue
		}
		if cur, ok := i.records[key]; ok {
			i.replace(cur, r)
		} else {
			i.put(r, false)
		}
		if !seen[r.ID] {
			ids = append(ids, r.ID)
			out = append(out, r)
			seen[r.ID] = true
		}
	}

	// records created or moved in locally after the fetch read the store
	for _, key := range i.marksSince(lk.kind, start) {
		if seen[key.id] {
			continue
		}
		cur, ok := i.records[key]
		if !ok || !member(cur) {
			continue
		}
		ids = append(ids, key.id)
		out = append(out, cur)
		seen[key.id] = true
	}

	if i.invalidatedSince(lk.kind, start) {
		// the listing may predate an out of band change
		cacheable = false
	}
	if cacheable {
		i.lists[lk] = ids
		log.WithField("count", len(ids)).Debug("Loaded records")
	}
	return out, nil
}

// Loaded returns a snapshot of the cached records of kind, sorted by id.
// It never touches the backing store.
func (i *Index) Loaded(kind models.Kind) []*models.Resource {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var out []*models.Resource
	for key, r := range i.records {
		if key.kind == kind {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// IsLoaded reports whether the child list (container, kind) is cached.
func (i *Index) IsLoaded(container string, kind models.Kind) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.lists[listKey{kind, container}]
	return ok
}

// Stats summarizes the cache content.
type Stats struct {
	Records int `json:"records"`
	Lists   int `json:"lists"`
}

// Stats returns the number of cached records and loaded child lists.
func (i *Index) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Stats{Records: len(i.records), Lists: len(i.lists)}
}

// Invalidate drops the cached record (kind, id) and unloads every child
// list of kind, without touching the backing store. The record may be
// unknown to the index: it may have been created or moved out of band, so
// the kind-wide list and the lists of its new containers are unloaded too.
// Other cached records of kind stay cached.
func (i *Index) Invalidate(kind models.Kind, id string) {
	key := recordKey{kind, id}
	i.mu.Lock()
	i.drop(key)
	i.unloadKind(kind)
	i.touch(key, mark{invalidated: true})
	i.mu.Unlock()

	i.logger.WithFields(logrus.Fields{"kind": kind, "id": id}).Debug("Invalidated record")
	i.emit(Event{Type: EventInvalidated, Kind: kind, ID: id})
}

// InvalidateAll empties the cache. Fetches in flight when it runs return
// their results to their callers but do not repopulate the cache.
func (i *Index) InvalidateAll() {
	i.mu.Lock()
	i.records = make(map[recordKey]*models.Resource)
	i.lists = make(map[listKey][]string)
	i.marks = make(map[recordKey]mark)
	i.seq++
	i.flushSeq = i.seq
	i.mu.Unlock()

	i.logger.Info("Invalidated all records")
	i.emit(Event{Type: EventInvalidated})
}

// begin registers a fetch and returns the sequence it started at.
func (i *Index) begin() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.inflight++
	return i.seq
}

// end unregisters a fetch. Marks are only needed while fetches are in
// flight. Callers hold i.mu.
func (i *Index) end() {
	i.inflight--
	if i.inflight == 0 && len(i.marks) > 0 {
		i.marks = make(map[recordKey]mark)
	}
}

// touch stamps a local change. Callers hold i.mu.
func (i *Index) touch(key recordKey, m mark) {
	i.seq++
	if i.inflight > 0 {
		m.seq = i.seq
		i.marks[key] = m
	}
}

// marksSince lists keys of kind changed after seq, oldest first. Callers hold i.mu.
func (i *Index) marksSince(kind models.Kind, seq uint64) []recordKey {
	var keys []recordKey
	for key, m := range i.marks {
		if key.kind == kind && m.seq > seq && !m.removed && !m.invalidated {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(a, b int) bool { return i.marks[keys[a]].seq < i.marks[keys[b]].seq })
	return keys
}

// invalidatedSince reports whether a record of kind was invalidated after
// seq. Callers hold i.mu.
func (i *Index) invalidatedSince(kind models.Kind, seq uint64) bool {
	for key, m := range i.marks {
		if key.kind == kind && m.invalidated && m.seq > seq {
			return true
		}
	}
	return false
}

// cloneAll copies the records of a loaded list. Callers hold i.mu.
func (i *Index) cloneAll(kind models.Kind, ids []string) []*models.Resource {
	out := make([]*models.Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, i.records[recordKey{kind, id}].Clone())
	}
	return out
}

// shareAll returns the cached records of a loaded list without copying.
// Callers hold i.mu; the result is cloned before it leaves the index.
func (i *Index) shareAll(kind models.Kind, ids []string) []*models.Resource {
	out := make([]*models.Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, i.records[recordKey{kind, id}])
	}
	return out
}
