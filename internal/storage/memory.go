package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
)

// Hook runs before every Memory operation. Returning an error fails the
// operation without touching state; blocking delays it.
type Hook func(ctx context.Context, op Op, kind models.Kind) error

// Memory is an in-process Client. It keeps creation order per kind, deep
// copies envelopes on the way in and out, and counts calls per operation so
// tests can assert fetch behavior.
type Memory struct {
	mu       sync.Mutex
	networks map[uuid.UUID]*memNetwork

	callsMu sync.Mutex
	calls   map[Op]int
	hook    Hook
}

type memNetwork struct {
	kinds map[models.Kind]*memKind
}

type memKind struct {
	order   []string
	records map[string]*models.Resource
}

var _ Client = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		networks: make(map[uuid.UUID]*memNetwork),
		calls:    make(map[Op]int),
	}
}

// SetHook installs h, replacing any previous hook. A nil h removes it.
func (m *Memory) SetHook(h Hook) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.hook = h
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op Op) int {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	return m.calls[op]
}

// ResetCalls zeroes every call counter.
func (m *Memory) ResetCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.calls = make(map[Op]int)
}

func (m *Memory) enter(ctx context.Context, op Op, kind models.Kind) error {
	m.callsMu.Lock()
	m.calls[op]++
	hook := m.hook
	m.callsMu.Unlock()

	if hook != nil {
		if err := hook(ctx, op, kind); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return models.Unavailable(string(op), err)
	}
	return nil
}

func (m *Memory) kind(network uuid.UUID, kind models.Kind, create bool) *memKind {
	n, ok := m.networks[network]
	if !ok {
		if !create {
			return nil
		}
		n = &memNetwork{kinds: make(map[models.Kind]*memKind)}
		m.networks[network] = n
	}
	k, ok := n.kinds[kind]
	if !ok {
		if !create {
			return nil
		}
		k = &memKind{records: make(map[string]*models.Resource)}
		n.kinds[kind] = k
	}
	return k
}

func (m *Memory) FetchOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) (*models.Resource, error) {
	if err := m.enter(ctx, OpFetchOne, kind); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.kind(network, kind, false)
	if k == nil {
		return nil, models.NotFound(kind, id)
	}
	r, ok := k.records[id]
	if !ok {
		return nil, models.NotFound(kind, id)
	}
	return r.Clone(), nil
}

func (m *Memory) FetchMany(ctx context.Context, network uuid.UUID, kind models.Kind, q Query) (*Page, error) {
	if err := m.enter(ctx, OpFetchMany, kind); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	page := &Page{}
	k := m.kind(network, kind, false)
	if k == nil {
		return page, nil
	}

	var matched []*models.Resource
	for _, id := range k.order {
		r := k.records[id]
		if q.ContainerID != "" && !slices.Contains(r.Containers(), q.ContainerID) {
			continue
		}
		matched = append(matched, r)
	}

	start, end := pageBounds(q, len(matched))
	page.TotalCount = len(matched)
	page.Resources = make([]*models.Resource, 0, end-start)
	for _, r := range matched[start:end] {
		page.Resources = append(page.Resources, r.Clone())
	}
	return page, nil
}

func (m *Memory) CreateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error {
	if err := m.enter(ctx, OpCreateBatch, kind); err != nil {
		return err
	}
	if err := checkBatch(kind, resources); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.kind(network, kind, true)
	for _, r := range resources {
		if _, exists := k.records[r.ID]; exists {
			return models.DuplicateID(kind, r.ID)
		}
	}
	for _, r := range resources {
		k.records[r.ID] = r.Clone()
		k.order = append(k.order, r.ID)
	}
	return nil
}

func (m *Memory) UpdateBatch(ctx context.Context, network uuid.UUID, kind models.Kind, resources []*models.Resource) error {
	if err := m.enter(ctx, OpUpdateBatch, kind); err != nil {
		return err
	}
	if err := checkBatch(kind, resources); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.kind(network, kind, false)
	for _, r := range resources {
		if k == nil {
			return models.NotFound(kind, r.ID)
		}
		if _, exists := k.records[r.ID]; !exists {
			return models.NotFound(kind, r.ID)
		}
	}
	for _, r := range resources {
		k.records[r.ID] = r.Clone()
	}
	return nil
}

func (m *Memory) DeleteOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) error {
	if err := m.enter(ctx, OpDeleteOne, kind); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.kind(network, kind, false)
	if k == nil {
		return models.NotFound(kind, id)
	}
	if _, ok := k.records[id]; !ok {
		return models.NotFound(kind, id)
	}
	delete(k.records, id)
	k.order = slices.DeleteFunc(k.order, func(s string) bool { return s == id })
	return nil
}

func (m *Memory) ListNetworks(ctx context.Context) ([]*models.Resource, error) {
	if err := m.enter(ctx, OpListNetworks, models.KindNetwork); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Resource
	for _, n := range m.networks {
		k, ok := n.kinds[models.KindNetwork]
		if !ok {
			continue
		}
		for _, id := range k.order {
			out = append(out, k.records[id].Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteNetwork(ctx context.Context, network uuid.UUID) error {
	if err := m.enter(ctx, OpDeleteNetwork, models.KindNetwork); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.networks[network]; !ok {
		return models.NotFound(models.KindNetwork, network.String())
	}
	delete(m.networks, network)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
