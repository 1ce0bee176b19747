package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type uniqueIndex struct {
	name   string
	fields []string
}

// Memory is an in-process Documents backend. Documents go through a BSON
// round trip so field names, unique constraints and sorting behave like the
// MongoDB backend. Used by tests and STORE_BACKEND=memory.
type Memory struct {
	mu      sync.RWMutex
	docs    map[string][]bson.M
	indexes map[string][]uniqueIndex
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string][]bson.M),
		indexes: make(map[string][]uniqueIndex),
	}
}

func (m *Memory) Append(ctx context.Context, coll string, doc any) (string, error) {
	stored, err := toDocument(doc)
	if err != nil {
		return "", fmt.Errorf("%w: encode document for %s: %w", ErrStore, coll, err)
	}
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = primitive.NewObjectID()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", fmt.Errorf("%w: store is closed", ErrStore)
	}
	indexes := append([]uniqueIndex{{name: "_id_", fields: []string{"_id"}}}, m.indexes[coll]...)
	for _, existing := range m.docs[coll] {
		for _, idx := range indexes {
			if conflicts(idx.fields, stored, existing) {
				return "", fmt.Errorf("%w: %s violates index %s", ErrDuplicate, coll, idx.name)
			}
		}
	}
	m.docs[coll] = append(m.docs[coll], stored)
	return idString(stored["_id"]), nil
}

func (m *Memory) Find(ctx context.Context, coll string, q Query, out any) error {
	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Pointer || target.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("%w: find result must be a pointer to a slice, got %T", ErrStore, out)
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("%w: store is closed", ErrStore)
	}
	var matches []bson.M
	for _, doc := range m.docs[coll] {
		if matchesFilter(doc, q.Filter) {
			matches = append(matches, doc)
		}
	}
	m.mu.RUnlock()

	if q.SortBy != "" {
		sort.SliceStable(matches, func(i, j int) bool {
			a, _ := lookup(matches[i], q.SortBy)
			b, _ := lookup(matches[j], q.SortBy)
			if q.Descending {
				return less(b, a)
			}
			return less(a, b)
		})
	}
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	slice := target.Elem()
	result := reflect.MakeSlice(slice.Type(), 0, len(matches))
	for _, doc := range matches {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: decode %s: %w", ErrStore, coll, err)
		}
		elem := reflect.New(slice.Type().Elem())
		if err := bson.Unmarshal(raw, elem.Interface()); err != nil {
			return fmt.Errorf("%w: decode %s: %w", ErrStore, coll, err)
		}
		result = reflect.Append(result, elem.Elem())
	}
	slice.Set(result)
	return nil
}

func (m *Memory) EnsureUnique(ctx context.Context, coll, name string, fields ...string) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: index %s has no fields", ErrStore, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes[coll] {
		if idx.name == name {
			return nil
		}
	}
	m.indexes[coll] = append(m.indexes[coll], uniqueIndex{name: name, fields: fields})
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("%w: store is closed", ErrStore)
	}
	return nil
}

func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Count returns the number of documents in coll.
func (m *Memory) Count(coll string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[coll])
}

func toDocument(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// conflicts reports whether a and b collide on a unique index. Like a
// partial index, documents without the first field are not constrained.
func conflicts(fields []string, a, b bson.M) bool {
	if _, ok := lookup(a, fields[0]); !ok {
		return false
	}
	for _, f := range fields {
		av, aok := lookup(a, f)
		bv, bok := lookup(b, f)
		if aok != bok || !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}

func matchesFilter(doc bson.M, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := lookup(doc, key)
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// lookup resolves a dotted path. Nested documents decode as bson.M or
// primitive.D depending on the driver defaults, both are handled.
func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case bson.M:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			cur = next
		case primitive.D:
			found := false
			for _, e := range v {
				if e.Key == part {
					cur, found = e.Value, true
					break
				}
			}
			if !found {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, true
}

func less(a, b any) bool {
	switch av := a.(type) {
	case primitive.DateTime:
		bv, ok := b.(primitive.DateTime)
		return ok && av < bv
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	case int32:
		bv, ok := b.(int32)
		return ok && av < bv
	case int64:
		bv, ok := b.(int64)
		return ok && av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	}
	return false
}
