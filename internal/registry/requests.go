package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/store"
)

// Requests lists emergency requests, newest first.
func (r *Registry) Requests(ctx context.Context) []models.EmergencyAlert {
	q := store.Collection(store.CollectionAlerts).Order("timestamp", true)
	return list(ctx, r, q, schema.EmergencyAlert, decodeAlert)
}

// Report raises a new active emergency request.
func (r *Registry) Report(ctx context.Context, actor string, alert models.EmergencyAlert) (string, error) {
	alert.Status = models.AlertStatusActive
	alert.ReportedBy = actor
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if err := r.validator.Validate(alert, schema.EmergencyAlert); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields, err := store.Fields(alert)
	if err != nil {
		return "", err
	}
	id, err := r.store.Add(ctx, store.CollectionAlerts, fields)
	if err != nil {
		return "", fmt.Errorf("error saving request: %w", err)
	}
	r.logger.Info("emergency request raised", "id", id, "type", alert.Type, "actor", actor)
	r.audit.Warn(ctx, actor, "raised %s request %s", alert.Type, id)
	return id, nil
}

// CloseRequest marks an emergency request as closed.
func (r *Registry) CloseRequest(ctx context.Context, actor, id string) error {
	err := r.store.Update(ctx, store.CollectionAlerts, id, map[string]any{"status": models.AlertStatusClosed})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	r.audit.Info(ctx, actor, "closed request %s", id)
	return nil
}

func decodeAlert(doc *store.Document) (models.EmergencyAlert, error) {
	var a models.EmergencyAlert
	if err := doc.DataTo(&a); err != nil {
		return a, err
	}
	a.ID = doc.ID
	return a, nil
}

// Logs lists the most recent system log entries.
func (r *Registry) Logs(ctx context.Context) []models.SystemLog {
	q := store.Collection(store.CollectionSystemLogs).Order("timestamp", true).Take(LogLimit)
	return list(ctx, r, q, "", func(doc *store.Document) (models.SystemLog, error) {
		var l models.SystemLog
		if err := doc.DataTo(&l); err != nil {
			return l, err
		}
		l.ID = doc.ID
		return l, nil
	})
}

// Overview counts the entities shown on the admin dashboard.
type Overview struct {
	Users          int `json:"users"`
	PendingUsers   int `json:"pendingUsers"`
	Vehicles       int `json:"vehicles"`
	OnlineVehicles int `json:"onlineVehicles"`
	Signals        int `json:"signals"`
	ActiveRequests int `json:"activeRequests"`
}

func (r *Registry) Overview(ctx context.Context) Overview {
	var o Overview
	for _, u := range r.Users(ctx) {
		o.Users++
		if u.Status == models.StatusPending {
			o.PendingUsers++
		}
	}
	for _, v := range r.Vehicles(ctx) {
		o.Vehicles++
		if v.Online() {
			o.OnlineVehicles++
		}
	}
	o.Signals = len(r.Signals(ctx))
	for _, a := range r.Requests(ctx) {
		if a.Status == models.AlertStatusActive {
			o.ActiveRequests++
		}
	}
	return o
}
