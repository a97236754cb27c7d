package registry

import (
	"context"
	"fmt"

	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/store"
)

// Register stores a completed installation with a server-side timestamp.
func (r *Registry) Register(ctx context.Context, sig models.SignalInstallation) (string, error) {
	if sig.Status == "" {
		sig.Status = models.SignalStatusWorking
	}
	if sig.GeoFenceRadius == 0 {
		sig.GeoFenceRadius = models.DefaultGeoFenceRadius
	}
	if err := r.validator.Validate(sig, schema.SignalInstallation); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	fields, err := store.Fields(sig)
	if err != nil {
		return "", err
	}
	fields["installedAt"] = store.ServerTimestamp

	id, err := r.store.Add(ctx, store.CollectionSignals, fields)
	if err != nil {
		return "", fmt.Errorf("error saving signal %s: %w", sig.LightID, err)
	}
	r.logger.Info("signal registered", "id", id, "light_id", sig.LightID, "registered_by", sig.RegisteredBy)
	r.audit.Info(ctx, sig.RegisteredBy, "installed signal %s", sig.LightID)
	return id, nil
}

// Signals lists installations, newest first.
func (r *Registry) Signals(ctx context.Context) []models.SignalInstallation {
	q := store.Collection(store.CollectionSignals).Order("installedAt", true)
	return list(ctx, r, q, schema.SignalInstallation, decodeSignal)
}

func decodeSignal(doc *store.Document) (models.SignalInstallation, error) {
	var s models.SignalInstallation
	if err := doc.DataTo(&s); err != nil {
		return s, err
	}
	s.ID = doc.ID
	return s, nil
}
