// Package syncstate holds the per-storage snapshot the sync engine
// persists between runs: which items were last seen in which
// collections, and under what etag/hash, so the planner can classify
// each item as unchanged, changed, deleted, or never seen.
package syncstate

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"vdirsync/vderr"
)

// ItemState is the last-observed state of one item.
type ItemState struct {
	Href string `yaml:"href"`
	UID  string `yaml:"uid"`
	ETag string `yaml:"etag"`
	Hash string `yaml:"hash"`
}

// CollectionState is the last-observed state of one collection.
type CollectionState struct {
	ID    string      `yaml:"id"`
	Href  string      `yaml:"href"`
	Items []ItemState `yaml:"items"`
}

// ItemByUID returns the item state for uid, if present.
func (c CollectionState) ItemByUID(uid string) (ItemState, bool) {
	for _, it := range c.Items {
		if it.UID == uid {
			return it, true
		}
	}
	return ItemState{}, false
}

// StorageState is the full persisted state of one storage side of a
// sync pair.
type StorageState struct {
	Collections []CollectionState `yaml:"collections"`
}

// CollectionByID returns the collection state with the given id, if
// present.
func (s StorageState) CollectionByID(id string) (CollectionState, bool) {
	for _, c := range s.Collections {
		if c.ID == id {
			return c, true
		}
	}
	return CollectionState{}, false
}

// WithCollection returns a copy of s with coll inserted or replacing
// any existing collection of the same ID.
func (s StorageState) WithCollection(coll CollectionState) StorageState {
	out := StorageState{Collections: make([]CollectionState, 0, len(s.Collections)+1)}
	replaced := false
	for _, c := range s.Collections {
		if c.ID == coll.ID {
			out.Collections = append(out.Collections, coll)
			replaced = true
			continue
		}
		out.Collections = append(out.Collections, c)
	}
	if !replaced {
		out.Collections = append(out.Collections, coll)
	}
	return out
}

// WithoutCollection returns a copy of s with the collection of the given
// id removed.
func (s StorageState) WithoutCollection(id string) StorageState {
	out := StorageState{Collections: make([]CollectionState, 0, len(s.Collections))}
	for _, c := range s.Collections {
		if c.ID != id {
			out.Collections = append(out.Collections, c)
		}
	}
	return out
}

// Load reads and parses a StorageState YAML document from path. A
// missing file is not an error: it returns an empty StorageState, the
// equivalent of the teacher's DefaultConfig() for a never-before-seen
// sync pair.
func Load(path string) (StorageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StorageState{}, nil
		}
		return StorageState{}, vderr.Wrapf(vderr.Io, err, "reading sync state %q", path)
	}
	var state StorageState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return StorageState{}, vderr.Wrapf(vderr.InvalidData, err, "parsing sync state %q", path)
	}
	return state, nil
}

// Save marshals state as YAML and writes it to path, creating parent
// directories as needed.
func Save(path string, state StorageState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return vderr.Wrapf(vderr.Io, err, "creating sync state directory %q", dir)
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return vderr.Wrapf(vderr.InvalidData, err, "marshaling sync state")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return vderr.Wrapf(vderr.Io, err, "writing sync state %q", path)
	}
	return nil
}
