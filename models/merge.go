package models

import (
	"encoding/json"
	"fmt"
)

// MergeAttributes applies a JSON merge patch to res.Attributes. Only keys
// present in patch change: nested objects merge recursively and a null value
// resets the field to its zero value. The id and kind are never touched.
func MergeAttributes(res *Resource, patch json.RawMessage) error {
	if len(patch) == 0 {
		return nil
	}
	var delta map[string]any
	if err := json.Unmarshal(patch, &delta); err != nil {
		return Validation(res.Kind, res.ID, "attributes patch must be an object", nil)
	}
	if len(delta) == 0 {
		return nil
	}

	current, err := json.Marshal(res.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(current, &doc); err != nil {
		return fmt.Errorf("decode attributes: %w", err)
	}
	mergeObject(doc, delta)

	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode merged attributes: %w", err)
	}
	attrs, err := DecodeAttributes(res.Kind, merged)
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.ID = res.ID
		}
		return err
	}
	res.Attributes = attrs
	return nil
}

// MergeResource applies a partial envelope to res. The patch has the envelope
// shape; its "attributes" object is merged with MergeAttributes and each entry
// of its "extensions" object replaces the block of that name, or removes it
// when null. A patch naming another id or type is rejected.
func MergeResource(res *Resource, patch json.RawMessage) error {
	var in resourceIn
	if err := json.Unmarshal(patch, &in); err != nil {
		return Validation(res.Kind, res.ID, "malformed resource: "+err.Error(), nil)
	}
	if in.ID != "" && in.ID != res.ID {
		return Validation(res.Kind, res.ID, fmt.Sprintf("id %q cannot be changed", in.ID), nil)
	}
	if in.Kind != "" && in.Kind != res.Kind {
		return Validation(res.Kind, res.ID, fmt.Sprintf("type %q does not match", in.Kind), nil)
	}
	if err := MergeAttributes(res, in.Attributes); err != nil {
		return err
	}
	for name, raw := range in.Extensions {
		if isNull(raw) {
			res.RemoveExtension(name)
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
	return nil
}

func mergeObject(dst, patch map[string]any) {
	for key, value := range patch {
		if value == nil {
			delete(dst, key)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				mergeObject(existing, nested)
				continue
			}
			fresh := make(map[string]any, len(nested))
			mergeObject(fresh, nested)
			dst[key] = fresh
			continue
		}
		dst[key] = value
	}
}
