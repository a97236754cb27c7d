// Package registry serves the administrative and list views over the
// stored collections and the writes that go with them.
package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mr1hm/go-green-corridor/internal/audit"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/store"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNotFieldUnit = errors.New("availability applies to field units only")
	ErrInvalidInput = errors.New("invalid input")
)

// LogLimit bounds the system log view.
const LogLimit = 50

type Registry struct {
	store     store.Store
	validator *schema.Validator
	audit     *audit.Recorder
	logger    *slog.Logger
}

func New(s store.Store, v *schema.Validator, rec *audit.Recorder) *Registry {
	return &Registry{
		store:     s,
		validator: v,
		audit:     rec,
		logger:    slog.With("component", "registry"),
	}
}

// Watch subscribes to every change of a collection; list views re-read
// on each snapshot.
func (r *Registry) Watch(ctx context.Context, collection string) (*store.Subscription, error) {
	return r.store.Subscribe(ctx, store.Collection(collection))
}

// list runs q and decodes every valid document with decode. Failures
// degrade to an empty list.
func list[T any](ctx context.Context, r *Registry, q store.Query, schemaID string, decode func(*store.Document) (T, error)) []T {
	docs, err := r.store.List(ctx, q)
	if err != nil {
		r.logger.Error("failed to list documents", "collection", q.Collection, "error", err)
		return []T{}
	}
	out := make([]T, 0, len(docs))
	for i := range docs {
		if schemaID != "" {
			if err := r.validator.Validate(docs[i].Data, schemaID); err != nil {
				r.logger.Warn("skipping invalid document", "collection", q.Collection, "id", docs[i].ID, "error", err)
				continue
			}
		}
		v, err := decode(&docs[i])
		if err != nil {
			r.logger.Warn("skipping undecodable document", "collection", q.Collection, "id", docs[i].ID, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}
