// Package dispatch matches active emergency alerts to the online field
// unit they concern.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/session"
	"github.com/mr1hm/go-green-corridor/internal/store"
)

// DefaultRecencyWindow bounds how old an alert may be and still notify.
const DefaultRecencyWindow = 30 * time.Minute

type Notification struct {
	UID        string                `json:"uid"`
	Role       models.Role           `json:"role"`
	AlertID    string                `json:"alertId"`
	Alert      models.EmergencyAlert `json:"alert"`
	NotifiedAt time.Time             `json:"notifiedAt"`
}

// ProfileSource streams a user's profile.
type ProfileSource interface {
	Watch(ctx context.Context, uid string) (<-chan session.ProfileUpdate, error)
}

type Dispatcher struct {
	profiles  ProfileSource
	store     store.Store
	validator *schema.Validator
	window    time.Duration
	now       func() time.Time
	observers []func(Notification)
	logger    *slog.Logger
}

type Option func(*Dispatcher)

func WithRecencyWindow(d time.Duration) Option {
	return func(ds *Dispatcher) { ds.window = d }
}

func WithClock(now func() time.Time) Option {
	return func(ds *Dispatcher) { ds.now = now }
}

// WithObserver registers fn to see every notification after delivery.
func WithObserver(fn func(Notification)) Option {
	return func(ds *Dispatcher) { ds.observers = append(ds.observers, fn) }
}

func New(profiles ProfileSource, s store.Store, v *schema.Validator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		profiles:  profiles,
		store:     s,
		validator: v,
		window:    DefaultRecencyWindow,
		now:       time.Now,
		logger:    slog.With("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// activeAlerts is the subscription held while the unit is eligible.
var activeAlerts = store.Collection(store.CollectionAlerts).Where("status", store.OpEq, models.AlertStatusActive)

// Run follows uid's profile and calls notify once for every relevant, recent
// alert entering the active set while the unit is verified and online. It
// returns when ctx is done or the profile stream ends.
func (d *Dispatcher) Run(ctx context.Context, uid string, notify func(Notification)) error {
	updates, err := d.profiles.Watch(ctx, uid)
	if err != nil {
		return fmt.Errorf("error watching profile: %w", err)
	}

	r := &run{d: d, uid: uid, notify: notify, seen: make(map[string]bool)}
	defer r.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			r.profile(ctx, u)
		case snap, ok := <-r.alertsC():
			if !ok {
				r.unsubscribe()
				continue
			}
			r.snapshot(ctx, snap)
		}
	}
}

type run struct {
	d      *Dispatcher
	uid    string
	notify func(Notification)

	role     models.Role
	eligible bool
	alerts   *store.Subscription
	initial  bool
	seen     map[string]bool
}

func (r *run) alertsC() <-chan store.Snapshot {
	if r.alerts == nil {
		return nil
	}
	return r.alerts.C
}

func (r *run) profile(ctx context.Context, u session.ProfileUpdate) {
	eligible := u.Profile != nil && u.Profile.Status == models.StatusVerified && u.Profile.Online()
	if eligible {
		r.role = u.Profile.Role
	}

	switch {
	case eligible && !r.eligible:
		r.eligible = true
		if r.subscribe(ctx) {
			r.d.logger.Info("unit online, watching alerts", "uid", r.uid, "role", r.role)
		}
	case !eligible && r.eligible:
		r.eligible = false
		r.unsubscribe()
		r.d.logger.Info("unit unavailable, stopped watching alerts", "uid", r.uid)
	}
}

func (r *run) subscribe(ctx context.Context) bool {
	sub, err := r.d.store.Subscribe(ctx, activeAlerts)
	if err != nil {
		r.d.logger.Error("failed to subscribe to alerts", "uid", r.uid, "error", err)
		return false
	}
	r.alerts = sub
	r.initial = true
	return true
}

func (r *run) unsubscribe() {
	if r.alerts != nil {
		r.alerts.Close()
		r.alerts = nil
	}
}

func (r *run) snapshot(ctx context.Context, snap store.Snapshot) {
	if snap.Err != nil {
		r.unsubscribe()
		if errors.Is(snap.Err, store.ErrLagged) && r.eligible {
			// the fresh initial snapshot is reconciled against seen
			r.d.logger.Warn("alert subscription fell behind, resubscribing", "uid", r.uid)
			r.subscribe(ctx)
			return
		}
		// resubscribed on the next transition into eligibility
		r.d.logger.Error("alert subscription failed", "uid", r.uid, "error", snap.Err)
		return
	}

	if r.initial {
		// alerts that left the active set while unobserved may notify again
		r.initial = false
		present := make(map[string]bool, len(snap.Changes))
		for _, c := range snap.Changes {
			present[c.Doc.ID] = true
		}
		for id := range r.seen {
			if !present[id] {
				delete(r.seen, id)
			}
		}
	}

	for _, c := range snap.Changes {
		switch c.Kind {
		case store.ChangeRemoved:
			delete(r.seen, c.Doc.ID)
		case store.ChangeAdded:
			r.added(c.Doc)
		}
	}
}

func (r *run) added(doc store.Document) {
	if r.seen[doc.ID] {
		return
	}
	alert, err := r.d.decode(doc)
	if err != nil {
		r.d.logger.Warn("skipping invalid alert", "id", doc.ID, "error", err)
		return
	}
	now := r.d.now()
	if alert.Age(now) >= r.d.window {
		return
	}
	if !Relevant(alert.Type, r.role) {
		return
	}

	r.seen[doc.ID] = true
	n := Notification{UID: r.uid, Role: r.role, AlertID: doc.ID, Alert: alert, NotifiedAt: now}
	r.d.logger.Info("dispatching alert", "uid", r.uid, "role", r.role, "alert", doc.ID, "type", alert.Type)
	r.notify(n)
	for _, fn := range r.d.observers {
		fn(n)
	}
}

func (d *Dispatcher) decode(doc store.Document) (models.EmergencyAlert, error) {
	var a models.EmergencyAlert
	if err := d.validator.Validate(doc.Data, schema.EmergencyAlert); err != nil {
		return a, err
	}
	if err := doc.DataTo(&a); err != nil {
		return a, err
	}
	t, err := models.ParseAlertType(string(a.Type))
	if err != nil {
		return a, err
	}
	a.Type = t
	a.ID = doc.ID
	return a, nil
}
