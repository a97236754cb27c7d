// Package store is the document-database contract used by the service and
// its SQLite adapter. Documents are JSON objects grouped in collections;
// queries can be evaluated once (List) or observed (Subscribe).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

const (
	CollectionUsers       = "users"
	CollectionAlerts      = "emergency_requests"
	CollectionSignals     = "signals"
	CollectionSystemLogs  = "system_logs"
	CollectionCredentials = "credentials"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
	// ErrLagged is delivered when a subscriber fell too far behind the change feed.
	ErrLagged = errors.New("subscription fell behind the change feed")
)

type serverTimestamp struct{}

// ServerTimestamp is replaced with the store's write time when used as a top-level field value.
var ServerTimestamp = serverTimestamp{}

type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	List(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
}

type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DataTo decodes the document fields into v.
func (d *Document) DataTo(v any) error {
	b, err := json.Marshal(d.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
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

type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Snapshot is one delivery of a subscription. The first snapshot carries every
// matching document as ChangeAdded; later ones carry incremental changes.
type Snapshot struct {
	Changes []Change
	Err     error
}

// Fields converts a struct into a top-level field map using its JSON tags.
func Fields(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
