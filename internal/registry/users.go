package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/store"
)

// vehicleRoles are the roles shown in the vehicle fleet view.
var vehicleRoles = []models.Role{models.RoleAmbulance, models.RoleFire, models.RolePolice}

// CreateProfile stores the profile of a new account. Status starts pending
// and field units start offline.
func (r *Registry) CreateProfile(ctx context.Context, p models.UserProfile) (*models.UserProfile, error) {
	if !p.Role.Valid() {
		return nil, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	p.Status = models.StatusPending
	p.Availability = ""
	if p.Role.IsField() {
		p.Availability = models.AvailabilityOffline
	}
	p.SchemaVersion = models.ProfileSchemaVersion

	if err := r.validator.Validate(p, schema.UserProfile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields, err := store.Fields(p)
	if err != nil {
		return nil, err
	}
	fields["createdAt"] = store.ServerTimestamp
	if err := r.store.Set(ctx, store.CollectionUsers, p.UID, fields); err != nil {
		return nil, fmt.Errorf("error saving profile %s: %w", p.UID, err)
	}
	r.audit.Info(ctx, p.Email, "registered as %s", p.Role)
	return r.User(ctx, p.UID)
}

// User reads one profile.
func (r *Registry) User(ctx context.Context, uid string) (*models.UserProfile, error) {
	doc, err := r.store.Get(ctx, store.CollectionUsers, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.validator.Validate(doc.Data, schema.UserProfile); err != nil {
		return nil, err
	}
	p, err := decodeProfile(doc)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Registry) Users(ctx context.Context) []models.UserProfile {
	return list(ctx, r, store.Collection(store.CollectionUsers), schema.UserProfile, decodeProfile)
}

// Vehicles lists the emergency vehicle units.
func (r *Registry) Vehicles(ctx context.Context) []models.UserProfile {
	q := store.Collection(store.CollectionUsers).Where("role", store.OpIn, vehicleRoles)
	return list(ctx, r, q, schema.UserProfile, decodeProfile)
}

// SetStatus is the admin verify/suspend action.
func (r *Registry) SetStatus(ctx context.Context, actor, uid string, status models.Status) error {
	switch status {
	case models.StatusVerified, models.StatusSuspended, models.StatusPending:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if err := r.update(ctx, uid, map[string]any{"status": status}); err != nil {
		return err
	}
	r.logger.Info("user status changed", "uid", uid, "status", status, "actor", actor)
	r.audit.Info(ctx, actor, "set status of %s to %s", uid, status)
	return nil
}

// SetAvailability toggles a field unit between online and offline.
func (r *Registry) SetAvailability(ctx context.Context, uid string, a models.Availability) error {
	p, err := r.User(ctx, uid)
	if err != nil {
		return err
	}
	if !p.Role.IsField() {
		return ErrNotFieldUnit
	}
	if err := r.update(ctx, uid, map[string]any{"availability": a}); err != nil {
		return err
	}
	r.logger.Info("availability changed", "uid", uid, "availability", a)
	return nil
}

func (r *Registry) update(ctx context.Context, uid string, fields map[string]any) error {
	err := r.store.Update(ctx, store.CollectionUsers, uid, fields)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func decodeProfile(doc *store.Document) (models.UserProfile, error) {
	var p models.UserProfile
	if err := doc.DataTo(&p); err != nil {
		return p, err
	}
	if p.UID == "" {
		p.UID = doc.ID
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	return p, nil
}
