// Package ingestion polls an external alert feed into the emergency
// requests collection.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-green-corridor/internal/config"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/store"
	"github.com/mr1hm/go-green-corridor/internal/worker"
)

const (
	OutcomeInserted = "inserted"
	OutcomeUpdated  = "updated"
	OutcomeSkipped  = "skipped"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

// idPrefix namespaces feed ids inside the collection.
const idPrefix = "feed_"

var errInvalidAlert = errors.New("invalid feed alert")

type Manager struct {
	cfg       config.IngestionConfig
	workers   config.WorkerConfig
	store     store.Store
	validator *schema.Validator
	fetcher   Fetcher
	observe   func(outcome string)
	pool      *worker.Pool[FeedAlert]
	wg        sync.WaitGroup
}

// NewManager wires a poller; observe, if non-nil, receives each item outcome.
func NewManager(cfg *config.Config, s store.Store, v *schema.Validator, fetcher Fetcher, observe func(string)) *Manager {
	return &Manager{
		cfg:       cfg.Ingestion,
		workers:   cfg.Worker,
		store:     s,
		validator: v,
		fetcher:   fetcher,
		observe:   observe,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.pool = worker.NewPool("ingestion", m.workers.Count, m.workers.BufferSize, m.process, nil)
	m.pool.Start(ctx)

	if m.cfg.Enabled && m.fetcher != nil {
		m.wg.Add(1)
		go m.runPoller(ctx)
	}
}

func (m *Manager) runPoller(ctx context.Context) {
	defer m.wg.Done()
	slog.Info("starting alert feed poller", "interval", m.cfg.PollInterval)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("alert feed poller shutting down")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	alerts, err := m.fetcher.Fetch(ctx)
	if err != nil {
		slog.Error("alert feed poll failed", "error", err)
		return
	}
	for _, a := range alerts {
		if !m.pool.Submit(ctx, a) {
			return
		}
	}
	slog.Debug("alert feed poll complete", "count", len(alerts))
}

// process inserts unseen alerts, updates alerts whose status changed and
// skips the rest.
func (m *Manager) process(ctx context.Context, a FeedAlert) error {
	outcome, err := m.apply(ctx, a)
	if m.observe != nil {
		m.observe(outcome)
	}
	switch outcome {
	case OutcomeInserted, OutcomeUpdated:
		slog.Info("ingested alert", "id", a.ID, "type", a.Type, "status", a.Status, "outcome", outcome)
	case OutcomeInvalid:
		slog.Warn("rejected feed alert", "id", a.ID, "error", err)
	case OutcomeFailed:
		slog.Error("error storing feed alert", "id", a.ID, "error", err)
	}
	return err
}

func (m *Manager) apply(ctx context.Context, a FeedAlert) (string, error) {
	if a.ID == "" {
		return OutcomeInvalid, fmt.Errorf("%w: missing id", errInvalidAlert)
	}
	if a.Status == "" {
		a.Status = "active"
	}
	fields, err := store.Fields(a)
	if err != nil {
		return OutcomeInvalid, err
	}
	delete(fields, "id")
	if err := m.validator.Validate(fields, schema.EmergencyAlert); err != nil {
		return OutcomeInvalid, fmt.Errorf("%w: %v", errInvalidAlert, err)
	}

	id := idPrefix + a.ID
	existing, err := m.store.Get(ctx, store.CollectionAlerts, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := m.store.Set(ctx, store.CollectionAlerts, id, fields); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeInserted, nil
	case err != nil:
		return OutcomeFailed, err
	}

	if existing.Data["status"] == a.Status {
		return OutcomeSkipped, nil
	}
	update := map[string]any{"status": a.Status}
	if a.Description != "" {
		update["description"] = a.Description
	}
	if err := m.store.Update(ctx, store.CollectionAlerts, id, update); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeUpdated, nil
}

// Submit queues one alert for processing, as the poller does.
func (m *Manager) Submit(ctx context.Context, a FeedAlert) bool {
	return m.pool.Submit(ctx, a)
}

func (m *Manager) Stop() {
	m.wg.Wait()
	m.pool.Stop()
	slog.Info("ingestion manager stopped")
}
