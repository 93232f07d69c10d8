// Package docstore defines the shared document store contract consumed by the
// agent: predicate-filtered change streams, point reads, field updates, batched
// writes and claim leases over pending items.
//
// Two backends implement it:
//
//	sqlitestore     local single-file store, push notifications via fsnotify
//	firestorestore  shared production store (Cloud Firestore snapshot listeners)
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shopops/internal/types"
)

// Document is a single record in a collection.
type Document struct {
	ID   string
	Data map[string]any
}

// Op is a filter comparison operator.
type Op string

const (
	OpEqual    Op = "=="
	OpNotEqual Op = "!="
)

// Filter is a single top-level field predicate.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents from one collection. When DocID is set the query
// addresses a single document and Where is ignored.
type Query struct {
	Collection string
	DocID      string
	Where      []Filter
	Limit      int
}

// Eq is shorthand for an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// Ne is shorthand for an inequality filter.
func Ne(field string, value any) Filter {
	return Filter{Field: field, Op: OpNotEqual, Value: value}
}

// Matches reports whether data satisfies every filter of the query.
// Backends that cannot push the predicate down use it client-side.
func (q Query) Matches(doc Document) bool {
	if q.DocID != "" {
		return doc.ID == q.DocID
	}
	for _, f := range q.Where {
		v, ok := doc.Data[f.Field]
		equal := ok && fmt.Sprint(v) == fmt.Sprint(f.Value)
		switch f.Op {
		case OpNotEqual:
			if equal {
				return false
			}
		default:
			if !equal {
				return false
			}
		}
	}
	return true
}

func (q Query) String() string {
	if q.DocID != "" {
		return q.Collection + "/" + q.DocID
	}
	return fmt.Sprintf("%s%v", q.Collection, q.Where)
}

// ChangeKind classifies a change stream entry.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is a single entry in a change notification batch.
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Stream is one established change stream. The first batch returned by Next
// is the initial snapshot: every document matching the query as ChangeAdded.
// Next blocks until a batch is available; any error ends the stream.
type Stream interface {
	Next(ctx context.Context) ([]Change, error)
	Stop()
}

// Write is a single operation in a batch.
type Write struct {
	Collection string
	ID         string
	Fields     map[string]any
}

// Store is the document store used by every consumer in the agent.
type Store interface {
	// Watch opens a change stream for the query.
	Watch(ctx context.Context, q Query) (Stream, error)

	// Get reads one document. Returns ErrNotFound when missing.
	Get(ctx context.Context, collection, id string) (Document, error)

	// List returns the documents matching the query.
	List(ctx context.Context, q Query) ([]Document, error)

	// Set creates or replaces a document.
	Set(ctx context.Context, collection, id string, data map[string]any) error

	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Batch applies several field updates atomically.
	Batch(ctx context.Context, writes []Write) error

	// Claim atomically takes a lease on a pending item. It returns false when
	// the item is no longer pending or another owner holds an unexpired lease.
	Claim(ctx context.Context, collection, id, owner string, lease time.Duration) (bool, error)

	Close() error
}

// Lister is the read-only slice of Store used by lookups.
type Lister interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, q Query) ([]Document, error)
}

// ClaimAllowed is the claim predicate shared by the backends. The current
// holder may always renew its own lease; consumers pair it with an InFlight
// set so a renewal never overlaps a delivery that is still running.
func ClaimAllowed(data map[string]any, owner string, now time.Time) bool {
	if status, _ := data["status"].(string); status != string(types.StatusPending) {
		return false
	}
	holder, _ := data["claimedBy"].(string)
	if holder == "" || holder == owner {
		return true
	}
	expires, ok := timeField(data["claimExpiresAt"])
	if !ok {
		return true
	}
	return now.After(expires)
}

func timeField(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

// Decode converts a document into a typed value through its JSON form. The
// document id is injected under "id".
func Decode(doc Document, out any) error {
	data := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		data[k] = v
	}
	data["id"] = doc.ID
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", doc.ID, err)
	}
	return nil
}

// PendingItem decodes a pending item document.
func PendingItem(doc Document) (*types.PendingItem, error) {
	var item types.PendingItem
	if err := Decode(doc, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DoneFields are the fields written when an item completes.
func DoneFields(now time.Time, extra map[string]any) map[string]any {
	fields := map[string]any{
		"status":      string(types.StatusDone),
		"processedAt": now,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// ErrorFields are the fields written when an item fails.
func ErrorFields(now time.Time, msg string) map[string]any {
	return map[string]any{
		"status":       string(types.StatusError),
		"processedAt":  now,
		"errorMessage": msg,
	}
}
