// Package docstore defines the document-store port the chat engine is built
// against: point reads and conditional writes, filtered queries, and live
// query subscriptions with authoritative snapshots. Backends: an in-memory
// store for tests and local development, and MongoDB for production.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get and Update when the document does not exist.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrClosed is returned once the store has been shut down.
	ErrClosed = errors.New("docstore: store closed")
)

// Document is a stored record: an id plus a field map. Nested values are
// represented as map[string]any and addressed with dotted paths.
type Document struct {
	ID     string
	Fields map[string]any
}

// Op is a query comparison operator.
type Op string

const (
	OpEq       Op = "=="
	OpGt       Op = ">"
	OpLt       Op = "<"
	OpContains Op = "array-contains"
)

// Filter restricts a query to documents whose field at Path relates to Value
// by Op. OpContains matches when the field is an array containing Value.
type Filter struct {
	Path  string
	Op    Op
	Value any
}

// Order names the single field a query sorts on.
type Order struct {
	Path string
	Desc bool
}

// Query describes a filtered, ordered, bounded read over one collection.
// StartAfter, when non-nil, is a cursor value on the order-by field: only
// documents strictly past it (in sort direction) are returned.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    Order
	Limit      int
	StartAfter any
}

// Update is a single field mutation applied by Service.Update. Increments are
// atomic per document and treat a missing field as zero.
type Update struct {
	Path  string
	Inc   bool
	Value any
}

// Set returns an update that writes v at the dotted path.
func Set(path string, v any) Update {
	return Update{Path: path, Value: v}
}

// Inc returns an update that atomically adds delta to the integer at the
// dotted path.
func Inc(path string, delta int64) Update {
	return Update{Path: path, Inc: true, Value: delta}
}

// IndexSpec describes a secondary index a backend should maintain for a
// query pattern. Key order matters for compound indexes. Backends without
// secondary indexes ignore these.
type IndexSpec struct {
	Collection string
	Keys       []Order
	Unique     bool
}

// Subscription is a handle on a standing query subscription. Unsubscribe stops
// delivery and releases backend resources; it is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// SnapshotFunc receives the full current result of a subscribed query. Each
// call replaces the previous result wholesale; deliveries for one
// subscription never overlap and arrive in emission order.
type SnapshotFunc func(docs []Document)

// Service is the store contract. Implementations must apply writes to a
// single document atomically; there is no cross-document transaction.
type Service interface {
	// Get reads one document. Returns ErrNotFound when absent.
	Get(ctx context.Context, collection, id string) (Document, error)

	// PutIfAbsent creates the document only if no document with the id
	// exists. Losing the creation race is not an error: the call returns nil
	// whether this writer or a concurrent one created the document.
	PutIfAbsent(ctx context.Context, collection, id string, fields map[string]any) error

	// Update applies the field updates to an existing document. Returns
	// ErrNotFound when the document does not exist.
	Update(ctx context.Context, collection, id string, updates ...Update) error

	// Query runs a one-shot read.
	Query(ctx context.Context, q Query) ([]Document, error)

	// Subscribe delivers the current result of q immediately, then again
	// after every change that may affect it. Errors are reported through
	// onError without ending the subscription unless the store is closed.
	Subscribe(q Query, onSnapshot SnapshotFunc, onError func(error)) Subscription

	// Now returns the store's write timestamp. Document timestamps must come
	// from here, never from the caller's clock, so ordering is decided by a
	// single authority.
	Now() time.Time
}

// Str returns the string at the dotted path, or "".
func (d Document) Str(path string) string {
	s, _ := lookupPath(d.Fields, path).(string)
	return s
}

// Time returns the time at the dotted path, or the zero time.
func (d Document) Time(path string) time.Time {
	t, _ := lookupPath(d.Fields, path).(time.Time)
	return t
}

// Int returns the integer at the dotted path, coercing the numeric types a
// backend may decode into, or 0.
func (d Document) Int(path string) int64 {
	n, _ := asInt64(lookupPath(d.Fields, path))
	return n
}

// Strs returns the string array at the dotted path, or nil.
func (d Document) Strs(path string) []string {
	switch v := lookupPath(d.Fields, path).(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// IntMap returns the map of integers at the dotted path, or an empty map.
func (d Document) IntMap(path string) map[string]int64 {
	out := map[string]int64{}
	m, ok := lookupPath(d.Fields, path).(map[string]any)
	if !ok {
		return out
	}
	for k, v := range m {
		if n, ok := asInt64(v); ok {
			out[k] = n
		}
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// lookupPath walks a dotted path through nested field maps.
func lookupPath(fields map[string]any, path string) any {
	cur := any(fields)
	for path != "" {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		head := path
		if i := strings.IndexByte(path, '.'); i >= 0 {
			head, path = path[:i], path[i+1:]
		} else {
			path = ""
		}
		cur, ok = m[head]
		if !ok {
			return nil
		}
	}
	return cur
}
