package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db   *sql.DB
	feed *feed
	now  func() time.Time
	// mu orders writes against subscription snapshots so every write is
	// either in a subscriber's initial snapshot or delivered through the feed.
	mu sync.RWMutex
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		feed: newFeed(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (collection, id)
		);

		CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	s.feed.close()
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, collection, id)
}

func (s *SQLiteStore) get(ctx context.Context, collection, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id)

	var (
		raw                  string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&raw, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error reading %s/%s: %w", collection, id, err)
	}
	return decodeDocument(collection, id, raw, createdAt, updatedAt)
}

func (s *SQLiteStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(ctx, collection, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	created := s.now()
	if existing != nil {
		created = existing.CreatedAt
	}
	return s.write(ctx, collection, id, fields, created)
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(ctx, collection, id)
	if err != nil {
		return err
	}
	merged := make(map[string]any, len(existing.Data)+len(fields))
	for k, v := range existing.Data {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return s.write(ctx, collection, id, merged, existing.CreatedAt)
}

func (s *SQLiteStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if err := s.write(ctx, collection, id, fields, s.now()); err != nil {
		return "", err
	}
	return id, nil
}

// write persists fields and publishes the stored form. Callers hold mu.
func (s *SQLiteStore) write(ctx context.Context, collection, id string, fields map[string]any, created time.Time) error {
	now := s.now()
	resolved := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			v = now
		}
		resolved[k] = v
	}

	raw, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("error encoding %s/%s: %w", collection, id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, id, string(raw), created, now)
	if err != nil {
		return fmt.Errorf("error writing %s/%s: %w", collection, id, err)
	}

	doc, err := decodeDocument(collection, id, string(raw), created, now)
	if err != nil {
		return err
	}
	s.feed.publish(*doc)
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(ctx, q)
}

func (s *SQLiteStore) list(ctx context.Context, q Query) ([]Document, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q.DocID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
			q.Collection, q.DocID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, data, created_at, updated_at FROM documents WHERE collection = ? ORDER BY created_at`,
			q.Collection)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id, raw              string
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&id, &raw, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("error scanning %s: %w", q.Collection, err)
		}
		doc, err := decodeDocument(q.Collection, id, raw, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", q.Collection, err)
	}

	return q.apply(docs), nil
}

func (s *SQLiteStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, sub := s.feed.subscribe()
	initial, err := s.list(ctx, q.Take(0))
	if err != nil {
		s.feed.unsubscribe(id)
		return nil, err
	}
	return startSubscription(ctx, q, initial, s.feed, id, sub), nil
}

// SubscriberCount reports active subscriptions.
func (s *SQLiteStore) SubscriberCount() int {
	return s.feed.count()
}

func decodeDocument(collection, id, raw string, createdAt, updatedAt time.Time) (*Document, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("error decoding %s/%s: %w", collection, id, err)
	}
	return &Document{
		Collection: collection,
		ID:         id,
		Data:       data,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}
