package docdb

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Memory is an in-process implementation of Database. It is used by unit
// tests and by deployments that do not need persistence. All operations are
// serialized with a single lock; documents are deep-copied on the way in and
// out so callers can never alias stored state.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

// NewMemory creates an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Document)}
}

// Close implements Database. It is a no-op.
func (m *Memory) Close(ctx context.Context) error {
	return nil
}

// FindOne implements Database.
func (m *Memory) FindOne(ctx context.Context, collection string, filter Filter, fields ...string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.collections[collection] {
		if matches(doc, filter) {
			return project(deepCopy(doc).(Document), fields), nil
		}
	}
	return nil, ErrNoDocument
}

// Find implements Database.
func (m *Memory) Find(ctx context.Context, collection string, filter Filter, fields ...string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Document
	for _, doc := range m.collections[collection] {
		if matches(doc, filter) {
			result = append(result, project(deepCopy(doc).(Document), fields))
		}
	}
	return result, nil
}

// Insert implements Database.
func (m *Memory) Insert(ctx context.Context, collection string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := doc["_id"]
	if !ok {
		return fmt.Errorf("document without _id")
	}
	for _, stored := range m.collections[collection] {
		if reflect.DeepEqual(stored["_id"], id) {
			return fmt.Errorf("duplicate _id %v", id)
		}
	}
	m.collections[collection] = append(m.collections[collection], deepCopy(doc).(Document))
	return nil
}

// Update implements Database.
func (m *Memory) Update(ctx context.Context, collection string, filter Filter, update Update) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched int64
	for _, doc := range m.collections[collection] {
		if !matches(doc, filter) {
			continue
		}
		matched++
		for path, value := range update.Set {
			setPath(doc, strings.Split(path, "."), deepCopy(value))
		}
		for _, path := range update.Unset {
			unsetPath(doc, strings.Split(path, "."))
		}
		for path, elements := range update.AddToSet {
			addToSet(doc, strings.Split(path, "."), elements)
		}
		for path, element := range update.Pull {
			pull(doc, strings.Split(path, "."), element)
		}
	}
	return matched, nil
}

// Delete implements Database.
func (m *Memory) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	var kept []Document
	for _, doc := range m.collections[collection] {
		if matches(doc, filter) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	m.collections[collection] = kept
	return deleted, nil
}

// lookup returns all values reachable at path, fanning out through arrays
// the way the document database does for dotted paths.
func lookup(value interface{}, path []string) []interface{} {
	if len(path) == 0 {
		return []interface{}{value}
	}
	switch v := value.(type) {
	case map[string]interface{}:
		child, ok := v[path[0]]
		if !ok {
			return nil
		}
		return lookup(child, path[1:])
	case []interface{}:
		var out []interface{}
		for _, element := range v {
			out = append(out, lookup(element, path)...)
		}
		return out
	}
	return nil
}

func valueMatches(stored, want interface{}) bool {
	if in, ok := want.(In); ok {
		for _, candidate := range in {
			if reflect.DeepEqual(stored, candidate) {
				return true
			}
		}
		return false
	}
	return reflect.DeepEqual(stored, want)
}

func matches(doc Document, filter Filter) bool {
	for path, want := range filter {
		found := false
		for _, stored := range lookup(doc, strings.Split(path, ".")) {
			if valueMatches(stored, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func setPath(doc map[string]interface{}, path []string, value interface{}) {
	if len(path) == 1 {
		doc[path[0]] = value
		return
	}
	child, ok := doc[path[0]].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		doc[path[0]] = child
	}
	setPath(child, path[1:], value)
}

func unsetPath(doc map[string]interface{}, path []string) {
	if len(path) == 1 {
		delete(doc, path[0])
		return
	}
	if child, ok := doc[path[0]].(map[string]interface{}); ok {
		unsetPath(child, path[1:])
	}
}

func addToSet(doc map[string]interface{}, path []string, elements []interface{}) {
	existing, _ := pathValue(doc, path).([]interface{})
	for _, element := range elements {
		present := false
		for _, stored := range existing {
			if reflect.DeepEqual(stored, element) {
				present = true
				break
			}
		}
		if !present {
			existing = append(existing, deepCopy(element))
		}
	}
	setPath(doc, path, existing)
}

func pull(doc map[string]interface{}, path []string, element Filter) {
	existing, ok := pathValue(doc, path).([]interface{})
	if !ok {
		return
	}
	kept := make([]interface{}, 0, len(existing))
	for _, stored := range existing {
		remove := true
		for elementPath, want := range element {
			found := false
			for _, v := range lookup(stored, strings.Split(elementPath, ".")) {
				if valueMatches(v, want) {
					found = true
					break
				}
			}
			if !found {
				remove = false
				break
			}
		}
		if !remove {
			kept = append(kept, stored)
		}
	}
	setPath(doc, path, kept)
}

// pathValue walks maps only, it does not fan out through arrays.
func pathValue(doc map[string]interface{}, path []string) interface{} {
	if len(path) == 1 {
		return doc[path[0]]
	}
	if child, ok := doc[path[0]].(map[string]interface{}); ok {
		return pathValue(child, path[1:])
	}
	return nil
}

func project(doc Document, fields []string) Document {
	if len(fields) == 0 {
		return doc
	}
	out := Document{}
	if id, ok := doc["_id"]; ok {
		out["_id"] = id
	}
	for _, field := range fields {
		if value, ok := doc[field]; ok {
			out[field] = value
		}
	}
	return out
}

func deepCopy(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, element := range v {
			out[key] = deepCopy(element)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, element := range v {
			out[i] = deepCopy(element)
		}
		return out
	default:
		return value
	}
}

var _ Database = (*Memory)(nil)
