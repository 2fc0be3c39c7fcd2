package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/internal/platform"
	"github.com/ruleengine/controlplane/internal/telemetry"
	"github.com/ruleengine/controlplane/pkg/tenant"
)

// statusRank orders job states so the reconciler only ever writes forward.
var statusRank = map[string]int{
	StatusPending:   0,
	StatusSubmitted: 1,
	StatusRunnable:  2,
	StatusStarting:  3,
	StatusRunning:   4,
	StatusFailed:    5,
	StatusSucceeded: 5,
}

// Reconciler is the background loop that syncs executor-reported job state
// back onto Job rows and releases job locks on terminal transitions.
type Reconciler struct {
	pool     *pgxpool.Pool
	batch    *platform.BatchClient
	rdb      *redis.Client
	logger   *slog.Logger
	interval time.Duration
}

// NewReconciler creates a job status Reconciler.
func NewReconciler(pool *pgxpool.Pool, batch *platform.BatchClient, rdb *redis.Client, logger *slog.Logger, interval time.Duration) *Reconciler {
	return &Reconciler{pool: pool, batch: batch, rdb: rdb, logger: logger, interval: interval}
}

// Run starts the reconciler loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("job reconciler started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job reconciler stopped")
			return nil
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.logger.Error("job reconciler tick", "error", err)
			}
		}
	}
}

// tick reconciles every tenant once.
func (r *Reconciler) tick(ctx context.Context) error {
	tenants, err := db.New(r.pool).ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	for _, t := range tenants {
		if err := r.reconcileTenant(ctx, t.Slug); err != nil {
			r.logger.Error("reconciling tenant jobs", "tenant", t.Slug, "error", err)
		}
	}
	return nil
}

// reconcileTenant syncs the active jobs of a single tenant.
func (r *Reconciler) reconcileTenant(ctx context.Context, slug string) error {
	conn, err := tenant.AcquireScoped(ctx, r.pool, slug)
	if err != nil {
		return err
	}
	defer conn.Release()

	store := NewStore(conn)
	lock := NewLock(conn)

	active, err := store.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	byBatchID := make(map[string]*Job, len(active))
	ids := make([]string, 0, len(active))
	for _, j := range active {
		byBatchID[j.BatchJobID] = j
		ids = append(ids, j.BatchJobID)
	}

	statuses, err := r.batch.DescribeJobs(ctx, ids)
	if err != nil {
		return err
	}

	for _, st := range statuses {
		j, ok := byBatchID[st.JobID]
		if !ok {
			continue
		}
		if statusRank[st.Status] <= statusRank[j.Status] {
			continue
		}
		if err := store.SetStatus(ctx, j.ID, st.Status, st.StatusReason); err != nil {
			r.logger.Error("writing job status", "job_id", j.ID, "error", err)
			continue
		}
		telemetry.JobsReconciledTotal.WithLabelValues(st.Status).Inc()
		r.logger.Info("job status reconciled",
			"job_id", j.ID,
			"from", j.Status,
			"to", st.Status,
		)
		if IsTerminal(st.Status) {
			if err := lock.Release(ctx, j.ID); err != nil {
				r.logger.Error("releasing job lock", "job_id", j.ID, "error", err)
			}
			if r.rdb != nil {
				r.rdb.Publish(ctx, "ruleengine:job:status", j.ID.String()+":"+st.Status)
			}
		}
	}

	// Expired jobs are destroyed by TTL alongside reconciliation.
	if n, err := store.DeleteExpired(ctx); err != nil {
		r.logger.Error("deleting expired jobs", "tenant", slug, "error", err)
	} else if n > 0 {
		r.logger.Info("expired jobs removed", "tenant", slug, "count", n)
	}
	return nil
}
