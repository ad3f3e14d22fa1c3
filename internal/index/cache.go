package index

import (
	"slices"

	"evalgo.org/gridstore/models"
)

// Map maintenance. Every function here is called with i.mu held for writing.
//
// Invariant: each id of a loaded list is present in records, and a loaded
// list equals the listing-ordered set of cached records of its kind whose
// containers include the list's container.

// listKeysOf returns the lists a record belongs to: the kind-wide list and
// one per container.
func listKeysOf(r *models.Resource) []listKey {
	keys := []listKey{{kind: r.Kind}}
	for _, c := range r.Containers() {
		keys = append(keys, listKey{r.Kind, c})
	}
	return keys
}

// put inserts a record absent from the cache. newest is true when the record
// was just created and therefore sorts last in every listing.
func (i *Index) put(r *models.Resource, newest bool) {
	i.records[recordKey{r.Kind, r.ID}] = r
	for _, lk := range listKeysOf(r) {
		i.placeInList(lk, r.ID, newest)
	}
}

// replace swaps old for r and migrates list membership when the containers
// changed.
func (i *Index) replace(old, r *models.Resource) {
	i.records[recordKey{r.Kind, r.ID}] = r
	before := listKeysOf(old)
	after := listKeysOf(r)
	for _, lk := range before {
		if !slices.Contains(after, lk) {
			i.removeFromList(lk, r.ID)
		}
	}
	for _, lk := range after {
		if !slices.Contains(before, lk) {
			i.placeInList(lk, r.ID, false)
		}
	}
}

// remove deletes a record and its list entries.
func (i *Index) remove(key recordKey) {
	old, ok := i.records[key]
	if !ok {
		return
	}
	delete(i.records, key)
	for _, lk := range listKeysOf(old) {
		i.removeFromList(lk, key.id)
	}
}

// drop deletes a record and unloads every list that held it, so the next
// read of those lists goes back to the backing store.
func (i *Index) drop(key recordKey) {
	old, ok := i.records[key]
	if !ok {
		return
	}
	delete(i.records, key)
	for _, lk := range listKeysOf(old) {
		delete(i.lists, lk)
	}
}

// unloadKind unloads every list of kind. A record changed out of band may
// have joined lists it was never cached in, so none of them can be trusted.
func (i *Index) unloadKind(kind models.Kind) {
	for lk := range i.lists {
		if lk.kind == kind {
			delete(i.lists, lk)
		}
	}
}

func (i *Index) removeFromList(lk listKey, id string) {
	ids, ok := i.lists[lk]
	if !ok {
		return
	}
	i.lists[lk] = slices.DeleteFunc(ids, func(s string) bool { return s == id })
}

// placeInList adds id to a loaded list at its listing position. New records
// go last. Otherwise the position comes from the loaded kind-wide list; when
// that is unknown the list is unloaded rather than guessed.
func (i *Index) placeInList(lk listKey, id string, newest bool) {
	ids, ok := i.lists[lk]
	if !ok || slices.Contains(ids, id) {
		return
	}
	if newest {
		i.lists[lk] = append(ids, id)
		return
	}
	if lk.container != "" {
		if all, ok := i.lists[listKey{kind: lk.kind}]; ok {
			if pos := slices.Index(all, id); pos >= 0 {
				rank := make(map[string]int, len(all))
				for n, other := range all {
					rank[other] = n
				}
				at := len(ids)
				for n, other := range ids {
					if rank[other] > pos {
						at = n
						break
					}
				}
				i.lists[lk] = slices.Insert(ids, at, id)
				return
			}
		}
	}
	delete(i.lists, lk)
}
