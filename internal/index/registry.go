package index

import (
	"sync"

	"evalgo.org/gridstore/internal/storage"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// DefaultMaxNetworks bounds the registry when no limit is configured.
const DefaultMaxNetworks = 64

// Registry holds one Index per network over a shared client. Indexes are
// created on first use and evicted least recently used; an evicted index
// stays valid for callers that still hold it but is no longer handed out.
type Registry struct {
	client  storage.Client
	logger  logrus.FieldLogger
	metrics *Metrics
	opts    []Option

	mu      sync.Mutex
	indexes *lru.Cache[uuid.UUID, *Index]
}

// NewRegistry creates a registry holding at most maxNetworks indexes. opts
// are applied to every index it creates.
func NewRegistry(client storage.Client, maxNetworks int, logger logrus.FieldLogger, metrics *Metrics, opts ...Option) (*Registry, error) {
	if maxNetworks <= 0 {
		maxNetworks = DefaultMaxNetworks
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Registry{
		client:  client,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
	cache, err := lru.NewWithEvict(maxNetworks, func(network uuid.UUID, _ *Index) {
		r.logger.WithField("network", network).Debug("Evicted network index")
	})
	if err != nil {
		return nil, err
	}
	r.indexes = cache
	return r, nil
}

// Index returns the index of network, creating it when absent. It does no I/O.
func (r *Registry) Index(network uuid.UUID) *Index {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.indexes.Get(network); ok {
		return idx
	}
	opts := append([]Option{WithLogger(r.logger), WithMetrics(r.metrics)}, r.opts...)
	idx := New(network, r.client, opts...)
	r.indexes.Add(network, idx)
	r.metrics.setNetworks(r.indexes.Len())
	r.logger.WithField("network", network).Debug("Created network index")
	return idx
}

// Lookup returns the index of network only if the registry holds one.
func (r *Registry) Lookup(network uuid.UUID) (*Index, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexes.Peek(network)
}

// Drop forgets the index of network, typically after the network was deleted.
func (r *Registry) Drop(network uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.indexes.Peek(network); ok {
		idx.InvalidateAll()
		r.indexes.Remove(network)
	}
	r.metrics.setNetworks(r.indexes.Len())
}

// InvalidateAll empties every index held by the registry.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	held := r.indexes.Values()
	r.mu.Unlock()

	for _, idx := range held {
		idx.InvalidateAll()
	}
}

// Networks returns the ids of the networks with a live index, most recently
// used last.
func (r *Registry) Networks() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexes.Keys()
}

// Client returns the backing store client shared by the indexes.
func (r *Registry) Client() storage.Client {
	return r.client
}
