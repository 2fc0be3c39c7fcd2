package eventassembler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Remover deletes events the assembler has already consumed (everything at
// or before the cursor). It runs on its own, longer schedule.
type Remover struct {
	store    *Store
	logger   *slog.Logger
	interval time.Duration
}

// NewRemover creates an event Remover.
func NewRemover(pool *pgxpool.Pool, logger *slog.Logger, interval time.Duration) *Remover {
	return &Remover{store: NewStore(pool), logger: logger, interval: interval}
}

// Run starts the remover loop. It blocks until ctx is cancelled.
func (r *Remover) Run(ctx context.Context) error {
	r.logger.Info("event remover started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("event remover stopped")
			return nil
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error("event remover tick", "error", err)
			}
		}
	}
}

// Tick deletes events up to the current cursor once.
func (r *Remover) Tick(ctx context.Context) error {
	cursor, err := r.store.GetCursor(ctx)
	if err != nil {
		return err
	}
	if cursor == 0 {
		r.logger.Debug("event cursor not initialized yet, nothing to clear")
		return nil
	}
	n, err := r.store.DeleteEventsUntil(ctx, cursor)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("old events removed", "count", n, "cursor", cursor)
	}
	return nil
}
