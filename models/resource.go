package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Resource is the generic envelope used for every entity kind. It is the unit
// of persistence, transport and cache storage.
//
// The ID is immutable once created and unique within a network and kind.
// Attributes always holds the variant matching Kind; Extensions holds the
// auxiliary blocks attached by name.
//
// Example JSON representation:
//
//	{
//	  "id": "baz",
//	  "type": "VOLTAGE_LEVEL",
//	  "attributes": {
//	    "substationId": "bar",
//	    "nominalV": 380,
//	    "topologyKind": "BUS_BREAKER"
//	  }
//	}
type Resource struct {
	ID         string
	Kind       Kind
	Attributes Attributes
	Extensions map[string]Extension
}

// NewResource builds an envelope, checking that attrs is the variant for kind.
// A nil attrs is replaced by the zero variant.
func NewResource(kind Kind, id string, attrs Attributes) (*Resource, error) {
	if !kind.Valid() {
		return nil, Validation(kind, id, "unknown kind", nil)
	}
	if attrs == nil {
		attrs = kind.NewAttributes()
	}
	if attrs.Kind() != kind {
		return nil, Validation(kind, id, fmt.Sprintf("attributes of %s given for %s", attrs.Kind(), kind), nil)
	}
	return &Resource{ID: id, Kind: kind, Attributes: attrs}, nil
}

// Clone returns a deep copy of r.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := &Resource{ID: r.ID, Kind: r.Kind}
	if r.Attributes != nil {
		c.Attributes = r.Attributes.Clone()
	}
	if len(r.Extensions) > 0 {
		c.Extensions = make(map[string]Extension, len(r.Extensions))
		for name, ext := range r.Extensions {
			c.Extensions[name] = ext.cloneExtension()
		}
	}
	return c
}

// Containers returns the distinct ids of the structures holding r.
// Network-level kinds return nil.
func (r *Resource) Containers() []string {
	if r.Attributes == nil {
		return nil
	}
	var out []string
	for _, c := range r.Attributes.Containers() {
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// Extension returns the block stored under name.
func (r *Resource) Extension(name string) (Extension, bool) {
	ext, ok := r.Extensions[name]
	return ext, ok
}

// SetExtension stores ext under its name, replacing any previous payload.
func (r *Resource) SetExtension(ext Extension) error {
	name := ext.ExtensionName()
	if !r.Kind.AllowsExtension(name) {
		return Validation(r.Kind, r.ID, fmt.Sprintf("extension %s not allowed", name), nil)
	}
	if r.Extensions == nil {
		r.Extensions = make(map[string]Extension)
	}
	r.Extensions[name] = ext
	return nil
}

// RemoveExtension deletes the block stored under name and reports whether
// one was present.
func (r *Resource) RemoveExtension(name string) bool {
	if _, ok := r.Extensions[name]; !ok {
		return false
	}
	delete(r.Extensions, name)
	if len(r.Extensions) == 0 {
		r.Extensions = nil
	}
	return true
}

// ExtensionNames returns the names of the attached blocks, sorted.
func (r *Resource) ExtensionNames() []string {
	return slices.Sorted(maps.Keys(r.Extensions))
}

type resourceOut struct {
	ID         string               `json:"id"`
	Kind       Kind                 `json:"type"`
	Attributes Attributes           `json:"attributes"`
	Extensions map[string]Extension `json:"extensions,omitempty"`
}

type resourceIn struct {
	ID         string                     `json:"id"`
	Kind       Kind                       `json:"type"`
	Attributes json.RawMessage            `json:"attributes"`
	Extensions map[string]json.RawMessage `json:"extensions"`
}

// MarshalJSON encodes the envelope as {"id","type","attributes","extensions"}.
func (r *Resource) MarshalJSON() ([]byte, error) {
	attrs := r.Attributes
	if attrs == nil {
		attrs = r.Kind.NewAttributes()
	}
	return json.Marshal(resourceOut{
		ID:         r.ID,
		Kind:       r.Kind,
		Attributes: attrs,
		Extensions: r.Extensions,
	})
}

// UnmarshalJSON decodes the envelope, dispatching attributes and extensions
// on the declared type. Decoding problems are reported as validation errors.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var in resourceIn
	if err := json.Unmarshal(data, &in); err != nil {
		return Validation("", "", "malformed resource: "+err.Error(), nil)
	}
	if !in.Kind.Valid() {
		return Validation(in.Kind, in.ID, fmt.Sprintf("unknown type %q", in.Kind), nil)
	}
	attrs := in.Kind.NewAttributes()
	if len(in.Attributes) > 0 && !bytes.Equal(bytes.TrimSpace(in.Attributes), []byte("null")) {
		if err := json.Unmarshal(in.Attributes, attrs); err != nil {
			return Validation(in.Kind, in.ID, "malformed attributes: "+err.Error(), nil)
		}
	}
	res := Resource{ID: in.ID, Kind: in.Kind, Attributes: attrs}
	for name, raw := range in.Extensions {
		if isNull(raw) {
			// a null block is an absent block
			continue
		}
		ext, err := DecodeExtension(name, raw)
		if err != nil {
			return err
		}
		if err := res.SetExtension(ext); err != nil {
			return err
		}
	}
	*r = res
	return nil
}

// DecodeAttributes decodes raw JSON into the attribute variant of kind.
func DecodeAttributes(kind Kind, raw []byte) (Attributes, error) {
	attrs := kind.NewAttributes()
	if attrs == nil {
		return nil, Validation(kind, "", "unknown kind", nil)
	}
	if err := json.Unmarshal(raw, attrs); err != nil {
		return nil, Validation(kind, "", "malformed attributes: "+err.Error(), nil)
	}
	return attrs, nil
}
