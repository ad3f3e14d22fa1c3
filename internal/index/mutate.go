package index

import (
	"context"
	"errors"
	"fmt"

	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/models"
	"github.com/sirupsen/logrus"
)

// Patch is one entry of a batch update: Apply mutates a copy of the current
// record in place.
type Patch struct {
	ID    string
	Apply func(*models.Resource) error
}

// Create validates res, assigns an id when it has none, persists it and adds
// it to the cache. It fails with models.ErrDuplicateID when the id exists in
// the cache or the backing store.
func (i *Index) Create(ctx context.Context, res *models.Resource) (*models.Resource, error) {
	out, err := i.CreateAll(ctx, res.Kind, []*models.Resource{res})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateAll creates a batch of records of one kind. Either every record is
// created or none is.
func (i *Index) CreateAll(ctx context.Context, kind models.Kind, resources []*models.Resource) ([]*models.Resource, error) {
	if len(resources) == 0 {
		return nil, nil
	}
	batch := make([]*models.Resource, 0, len(resources))
	keys := make([]string, 0, len(resources))
	for _, r := range resources {
		c := r.Clone()
		if c.Kind == "" {
			c.Kind = kind
		}
		if c.Kind != kind {
			return nil, models.Validation(kind, c.ID, fmt.Sprintf("resource of kind %s in %s batch", c.Kind, kind), nil)
		}
		if c.Attributes == nil {
			c.Attributes = kind.NewAttributes()
		}
		if c.ID == "" {
			c.ID = models.GenerateID(kind)
		}
		if err := i.validator.Check(c); err != nil {
			return nil, err
		}
		batch = append(batch, c)
		keys = append(keys, recordKey{kind, c.ID}.String())
	}
	keys = append(keys, holds(kind, batch)...)

	release := i.keys.LockAll(keys)
	defer release()

	i.mu.RLock()
	for _, c := range batch {
		if _, exists := i.records[recordKey{kind, c.ID}]; exists {
			i.mu.RUnlock()
			return nil, models.DuplicateID(kind, c.ID)
		}
	}
	i.mu.RUnlock()

	if err := i.write(ctx, storage.OpCreateBatch, kind, batch, func(ctx context.Context) error {
		return i.client.CreateBatch(ctx, i.network, kind, batch)
	}); err != nil {
		return nil, err
	}

	// Batches into one container are serialized by its hold key, so children
	// are appended in the order this index committed them. Writers in other
	// processes are not ordered; their records appear after an Invalidate.
	i.mu.Lock()
	for _, c := range batch {
		i.put(c, true)
		i.touch(recordKey{kind, c.ID}, mark{})
	}
	i.mu.Unlock()

	i.logger.WithFields(logrus.Fields{"kind": kind, "count": len(batch)}).Debug("Created records")
	out := make([]*models.Resource, 0, len(batch))
	for _, c := range batch {
		i.emit(Event{Type: EventCreated, Kind: kind, ID: c.ID, Resource: c.Clone()})
		out = append(out, c.Clone())
	}
	return out, nil
}

// Update applies mutate to a copy of the record (kind, id), validates and
// persists the result, and migrates child list membership when a container
// reference changed. It fails with models.ErrNotFound when the record does
// not exist.
func (i *Index) Update(ctx context.Context, kind models.Kind, id string, mutate func(*models.Resource) error) (*models.Resource, error) {
	out, err := i.UpdateAll(ctx, kind, []Patch{{ID: id, Apply: mutate}})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpdateAll applies a batch of patches to records of one kind. Either every
// patch is persisted or none is.
func (i *Index) UpdateAll(ctx context.Context, kind models.Kind, patches []Patch) ([]*models.Resource, error) {
	if len(patches) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(patches))
	for _, p := range patches {
		keys = append(keys, recordKey{kind, p.ID}.String())
	}
	release := i.keys.LockAll(keys)
	defer release()

	batch := make([]*models.Resource, 0, len(patches))
	for _, p := range patches {
		cur, err := i.Get(ctx, kind, p.ID)
		if err != nil {
			return nil, err
		}
		if err := p.Apply(cur); err != nil {
			return nil, err
		}
		if cur.ID != p.ID || cur.Kind != kind {
			return nil, models.UnsupportedMutation(kind, p.ID, "id and kind are immutable")
		}
		if err := i.validator.Check(cur); err != nil {
			return nil, err
		}
		// detach from anything the patch may still reference
		batch = append(batch, cur.Clone())
	}
	releaseHolds := i.keys.LockAll(holds(kind, batch))
	defer releaseHolds()

	if err := i.write(ctx, storage.OpUpdateBatch, kind, batch, func(ctx context.Context) error {
		return i.client.UpdateBatch(ctx, i.network, kind, batch)
	}); err != nil {
		return nil, err
	}

	i.mu.Lock()
	for _, r := range batch {
		key := recordKey{kind, r.ID}
		if old, ok := i.records[key]; ok {
			i.replace(old, r)
		} else {
			i.put(r, false)
		}
		i.touch(key, mark{})
	}
	i.mu.Unlock()

	out := make([]*models.Resource, 0, len(batch))
	for _, r := range batch {
		i.emit(Event{Type: EventUpdated, Kind: kind, ID: r.ID, Resource: r.Clone()})
		out = append(out, r.Clone())
	}
	return out, nil
}

// Remove deletes the record (kind, id) from the backing store and the cache,
// together with its extensions. Records referencing it are left as they are.
func (i *Index) Remove(ctx context.Context, kind models.Kind, id string) error {
	if !kind.Valid() {
		return models.Validation(kind, id, "unknown kind", nil)
	}
	release := i.keys.Lock(recordKey{kind, id}.String())
	defer release()
	return i.removeHeld(ctx, kind, id)
}

// RemoveEmpty removes the container (kind, id) unless it still holds records
// of kind child. Creates and moves into the container wait until it is done,
// so no child can slip in between the check and the delete.
func (i *Index) RemoveEmpty(ctx context.Context, kind models.Kind, id string, child models.Kind) error {
	if !kind.Valid() || child.ContainerKind() != kind {
		return models.Validation(kind, id, fmt.Sprintf("%s does not hold %s", kind, child), nil)
	}
	release := i.keys.LockAll([]string{recordKey{kind, id}.String(), holdKey(kind, id)})
	defer release()

	children, err := i.Children(ctx, id, child)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return models.UnsupportedMutation(kind, id, "remove while holding "+child.Path())
	}
	return i.removeHeld(ctx, kind, id)
}

// removeHeld deletes (kind, id) with its record key held.
func (i *Index) removeHeld(ctx context.Context, kind models.Kind, id string) error {
	key := recordKey{kind, id}
	err := i.write(ctx, storage.OpDeleteOne, kind, nil, func(ctx context.Context) error {
		return i.client.DeleteOne(ctx, i.network, kind, id)
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	i.mu.Lock()
	i.remove(key)
	i.touch(key, mark{removed: true})
	i.mu.Unlock()

	if err != nil {
		return err
	}
	i.logger.WithFields(logrus.Fields{"kind": kind, "id": id}).Debug("Removed record")
	i.emit(Event{Type: EventRemoved, Kind: kind, ID: id})
	return nil
}

// Extension returns the extension name of record (kind, id).
func (i *Index) Extension(ctx context.Context, kind models.Kind, id, name string) (models.Extension, error) {
	res, err := i.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	ext, ok := res.Extension(name)
	if !ok {
		return nil, &models.Error{Sentinel: models.ErrNotFound, Kind: kind, ID: id, Detail: "extension " + name}
	}
	return ext, nil
}

// AddExtension attaches ext to record (kind, id), replacing any payload
// stored under the same name.
func (i *Index) AddExtension(ctx context.Context, kind models.Kind, id string, ext models.Extension) (*models.Resource, error) {
	if err := i.validator.CheckExtension(kind, id, ext); err != nil {
		return nil, err
	}
	return i.Update(ctx, kind, id, func(r *models.Resource) error {
		return r.SetExtension(ext)
	})
}

// RemoveExtension detaches the extension name from record (kind, id).
func (i *Index) RemoveExtension(ctx context.Context, kind models.Kind, id, name string) (*models.Resource, error) {
	return i.Update(ctx, kind, id, func(r *models.Resource) error {
		if !r.RemoveExtension(name) {
			return &models.Error{Sentinel: models.ErrNotFound, Kind: kind, ID: id, Detail: "extension " + name}
		}
		return nil
	})
}

// write runs a backing store mutation detached from the caller's
// cancellation so the cache and the store cannot disagree about whether it
// happened. When the outcome is unknown the affected records are dropped.
func (i *Index) write(ctx context.Context, op storage.Op, kind models.Kind, batch []*models.Resource, fn func(context.Context) error) error {
	err := fn(context.WithoutCancel(ctx))
	i.metrics.call(op, err)
	if err == nil || !errors.Is(err, models.ErrBackingStoreUnavailable) {
		return err
	}

	i.logger.WithError(err).WithFields(logrus.Fields{"op": op, "kind": kind}).Warn("Backing store write failed")
	i.mu.Lock()
	for _, r := range batch {
		key := recordKey{kind, r.ID}
		i.drop(key)
		i.touch(key, mark{invalidated: true})
	}
	i.mu.Unlock()
	return err
}
