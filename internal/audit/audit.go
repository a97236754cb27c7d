// Package audit records administrative events into the system log.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mr1hm/go-green-corridor/internal/store"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

type Recorder struct {
	store  store.Store
	logger *slog.Logger
}

func NewRecorder(s store.Store) *Recorder {
	return &Recorder{store: s, logger: slog.With("component", "audit")}
}

// Record writes one system log entry. Failures are logged and never
// returned: auditing must not fail the action being audited.
func (r *Recorder) Record(ctx context.Context, level, actor, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_, err := r.store.Add(ctx, store.CollectionSystemLogs, map[string]any{
		"level":     level,
		"actor":     actor,
		"message":   msg,
		"timestamp": store.ServerTimestamp,
	})
	if err != nil {
		r.logger.Error("failed to record system log", "message", msg, "error", err)
	}
}

func (r *Recorder) Info(ctx context.Context, actor, format string, args ...any) {
	r.Record(ctx, LevelInfo, actor, format, args...)
}

func (r *Recorder) Warn(ctx context.Context, actor, format string, args ...any) {
	r.Record(ctx, LevelWarning, actor, format, args...)
}
