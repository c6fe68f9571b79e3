package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/authcore/internal/metrics"
	"github.com/sakif/authcore/internal/repository"
)

// DefaultPruneInterval is how often expired sessions are removed.
const DefaultPruneInterval = 24 * time.Hour

// Janitor periodically removes expired sessions from stores that do not
// expire them on their own (the SQL adapters).
type Janitor struct {
	sessions repository.SessionStore
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewJanitor creates a Janitor. A non-positive interval means DefaultPruneInterval.
func NewJanitor(sessions repository.SessionStore, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &Janitor{sessions: sessions, interval: interval, metrics: m, logger: logger}
}

// RunOnce prunes once and returns how many sessions were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Janitor.RunOnce")
	n, err := j.sessions.Prune(ctx)
	endSpan(span, err)
	if err != nil {
		return 0, dependencyErr(depSessions, err)
	}
	j.metrics.SessionsPruned(n)
	return n, nil
}

// Run prunes every interval until ctx is cancelled. Errors are logged and
// the loop keeps going.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.RunOnce(ctx)
			if err != nil {
				j.logger.WarnContext(ctx, "session prune failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				j.logger.InfoContext(ctx, "pruned expired sessions", slog.Int64("count", n))
			}
		}
	}
}
