// Package grid provides typed views over the records of a network index.
//
// Each adapter wraps an index and the envelope it was read from. Getters read
// that snapshot; setters apply a partial change through Index.Update and then
// refresh the snapshot, so two adapters of the same record never overwrite
// each other's unrelated fields. Navigation methods go through the index and
// may block on the backing store.
//
// Adapters are not safe for concurrent use; the index underneath is.
package grid

import (
	"context"
	"maps"
	"slices"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/internal/integrity"
	"evalgo.org/gridstore/models"
)

// object is the part shared by every adapter, typed by its attribute variant.
type object[A models.Attributes] struct {
	idx *index.Index
	res *models.Resource
}

func (o *object[A]) attrs() A {
	return o.res.Attributes.(A)
}

// ID returns the record id.
func (o *object[A]) ID() string { return o.res.ID }

// Kind returns the record kind.
func (o *object[A]) Kind() models.Kind { return o.res.Kind }

// Resource returns a copy of the wrapped envelope.
func (o *object[A]) Resource() *models.Resource { return o.res.Clone() }

// Name returns the display name, falling back to the id.
func (o *object[A]) Name() string {
	if name := identifiable(o.res.Attributes).Name; name != "" {
		return name
	}
	return o.res.ID
}

// Properties returns a copy of the free-form properties.
func (o *object[A]) Properties() map[string]string {
	return maps.Clone(identifiable(o.res.Attributes).Properties)
}

// SetProperty sets one free-form property. An empty value removes it.
func (o *object[A]) SetProperty(ctx context.Context, key, value string) error {
	return o.change(ctx, func(r *models.Resource) error {
		ia := identifiable(r.Attributes)
		if value == "" {
			delete(ia.Properties, key)
			return nil
		}
		if ia.Properties == nil {
			ia.Properties = make(map[string]string)
		}
		ia.Properties[key] = value
		return nil
	})
}

// Extension returns the extension stored under name, or models.ErrNotFound.
func (o *object[A]) Extension(name string) (models.Extension, error) {
	ext, ok := o.res.Extension(name)
	if !ok {
		return nil, &models.Error{Sentinel: models.ErrNotFound, Kind: o.res.Kind, ID: o.res.ID, Detail: "extension " + name}
	}
	return ext, nil
}

// AddExtension attaches ext, replacing any payload with the same name.
func (o *object[A]) AddExtension(ctx context.Context, ext models.Extension) error {
	res, err := o.idx.AddExtension(ctx, o.res.Kind, o.res.ID, ext)
	if err != nil {
		return err
	}
	o.res = res
	return nil
}

// RemoveExtension detaches the extension stored under name.
func (o *object[A]) RemoveExtension(ctx context.Context, name string) error {
	res, err := o.idx.RemoveExtension(ctx, o.res.Kind, o.res.ID, name)
	if err != nil {
		return err
	}
	o.res = res
	return nil
}

// Refresh rereads the record from the index.
func (o *object[A]) Refresh(ctx context.Context) error {
	res, err := o.idx.Get(ctx, o.res.Kind, o.res.ID)
	if err != nil {
		return err
	}
	o.res = res
	return nil
}

// update applies fn to the current attributes of the record.
func (o *object[A]) update(ctx context.Context, fn func(A)) error {
	return o.change(ctx, func(r *models.Resource) error {
		fn(r.Attributes.(A))
		return nil
	})
}

func (o *object[A]) change(ctx context.Context, fn func(*models.Resource) error) error {
	res, err := o.idx.Update(ctx, o.res.Kind, o.res.ID, fn)
	if err != nil {
		return err
	}
	o.res = res
	return nil
}

// remove deletes the record from the index and the backing store.
func (o *object[A]) remove(ctx context.Context) error {
	return o.idx.Remove(ctx, o.res.Kind, o.res.ID)
}

// follow resolves the reference held in field, reporting a dangling one as
// models.ErrInconsistent.
func (o *object[A]) follow(ctx context.Context, field string) (*models.Resource, error) {
	for _, ref := range integrity.References(o.res) {
		if ref.Field == field {
			return integrity.Resolve(ctx, o.idx, o.res, ref)
		}
	}
	return nil, models.UnsupportedQuery(o.res.Kind, o.res.ID, "no reference "+field)
}

func identifiable(a models.Attributes) *models.IdentifiableAttributes {
	switch t := a.(type) {
	case *models.NetworkAttributes:
		return &t.IdentifiableAttributes
	case *models.SubstationAttributes:
		return &t.IdentifiableAttributes
	case *models.VoltageLevelAttributes:
		return &t.IdentifiableAttributes
	case *models.SwitchAttributes:
		return &t.IdentifiableAttributes
	case *models.BusbarSectionAttributes:
		return &t.IdentifiableAttributes
	case *models.LoadAttributes:
		return &t.IdentifiableAttributes
	case *models.GeneratorAttributes:
		return &t.IdentifiableAttributes
	case *models.ShuntCompensatorAttributes:
		return &t.IdentifiableAttributes
	case *models.LineAttributes:
		return &t.IdentifiableAttributes
	case *models.DanglingLineAttributes:
		return &t.IdentifiableAttributes
	}
	return &models.IdentifiableAttributes{}
}

// wrap converts index results into adapters.
func wrap[T any](idx *index.Index, resources []*models.Resource, fn func(*index.Index, *models.Resource) T) []T {
	out := make([]T, 0, len(resources))
	for _, r := range resources {
		out = append(out, fn(idx, r))
	}
	return out
}

// create adds res to idx with the container field already set by the caller.
func create(ctx context.Context, idx *index.Index, kind models.Kind, id string, attrs models.Attributes) (*models.Resource, error) {
	if attrs == nil || attrs.Kind() != kind {
		return nil, models.Validation(kind, id, "attributes of the wrong kind", nil)
	}
	return idx.Create(ctx, &models.Resource{ID: id, Kind: kind, Attributes: attrs.Clone()})
}

// distinct keeps the first occurrence of each record id.
func distinct(resources []*models.Resource) []*models.Resource {
	var out []*models.Resource
	var seen []string
	for _, r := range resources {
		if !slices.Contains(seen, r.ID) {
			seen = append(seen, r.ID)
			out = append(out, r)
		}
	}
	return out
}
