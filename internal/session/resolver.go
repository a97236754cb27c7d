// Package session resolves an authenticated identity into its live
// profile and decides which dashboard view the identity may see.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/store"
)

// ProfileUpdate is one observation of a profile document. Missing is set
// when the document does not exist; Err when it exists but is unusable.
type ProfileUpdate struct {
	Profile *models.UserProfile
	Missing bool
	Err     error
}

type Resolver struct {
	store     store.Store
	validator *schema.Validator
	logger    *slog.Logger
}

func NewResolver(s store.Store, v *schema.Validator) *Resolver {
	return &Resolver{store: s, validator: v, logger: slog.With("component", "session")}
}

// Load reads the profile once.
func (r *Resolver) Load(ctx context.Context, uid string) ProfileUpdate {
	doc, err := r.store.Get(ctx, store.CollectionUsers, uid)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("profile document missing", "uid", uid)
		return ProfileUpdate{Missing: true}
	}
	if err != nil {
		r.logger.Error("failed to load profile", "uid", uid, "error", err)
		return ProfileUpdate{Err: err}
	}
	return r.decode(doc)
}

// Watch streams the profile of uid until ctx is done. A missing document
// keeps the subscription open so its later creation is delivered.
func (r *Resolver) Watch(ctx context.Context, uid string) (<-chan ProfileUpdate, error) {
	q := store.Doc(store.CollectionUsers, uid)
	sub, err := r.store.Subscribe(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("error subscribing to profile %s: %w", uid, err)
	}

	out := make(chan ProfileUpdate, 1)
	go func() {
		defer close(out)
		for {
			lagged := r.pump(ctx, uid, sub, out)
			sub.Close()
			if !lagged {
				return
			}
			// the fresh initial snapshot carries the current document
			if sub, err = r.store.Subscribe(ctx, q); err != nil {
				r.logger.Error("profile resubscribe failed", "uid", uid, "error", err)
				r.send(ctx, out, ProfileUpdate{Err: err})
				return
			}
		}
	}()
	return out, nil
}

// pump forwards snapshots until the subscription ends. It reports whether
// the subscription fell behind and should be reopened.
func (r *Resolver) pump(ctx context.Context, uid string, sub *store.Subscription, out chan<- ProfileUpdate) bool {
	for snap := range sub.C {
		if snap.Err != nil {
			if errors.Is(snap.Err, store.ErrLagged) {
				return true
			}
			r.logger.Error("profile subscription failed", "uid", uid, "error", snap.Err)
			r.send(ctx, out, ProfileUpdate{Err: snap.Err})
			return false
		}
		if !r.send(ctx, out, r.apply(uid, snap)) {
			return false
		}
	}
	return false
}

func (r *Resolver) apply(uid string, snap store.Snapshot) ProfileUpdate {
	if len(snap.Changes) == 0 {
		// only the initial snapshot of a missing document is empty
		r.logger.Warn("profile document missing", "uid", uid)
		return ProfileUpdate{Missing: true}
	}
	last := snap.Changes[len(snap.Changes)-1]
	if last.Kind == store.ChangeRemoved {
		r.logger.Warn("profile document removed", "uid", uid)
		return ProfileUpdate{Missing: true}
	}
	return r.decode(&last.Doc)
}

func (r *Resolver) decode(doc *store.Document) ProfileUpdate {
	if err := r.validator.Validate(doc.Data, schema.UserProfile); err != nil {
		r.logger.Error("invalid profile document", "uid", doc.ID, "error", err)
		return ProfileUpdate{Err: err}
	}
	var p models.UserProfile
	if err := doc.DataTo(&p); err != nil {
		r.logger.Error("failed to decode profile", "uid", doc.ID, "error", err)
		return ProfileUpdate{Err: err}
	}
	if p.UID == "" {
		p.UID = doc.ID
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	return ProfileUpdate{Profile: &p}
}

func (r *Resolver) send(ctx context.Context, out chan<- ProfileUpdate, u ProfileUpdate) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
