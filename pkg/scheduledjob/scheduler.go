package scheduledjob

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/ruleengine/controlplane/internal/apierr"
	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/pkg/job"
	"github.com/ruleengine/controlplane/pkg/secret"
	"github.com/ruleengine/controlplane/pkg/tenant"
)

// Scheduler hosts the in-process cron entries for every enabled
// ScheduledJob row. It loads all rows once at worker start. Register and
// Deregister update the entries in place when a handler holds this
// scheduler; the API process's handler holds none, so rows created or
// patched there get entries at the worker's next start, and a firing whose
// row is gone or disabled does nothing.
type Scheduler struct {
	pool     *pgxpool.Pool
	cron     *cron.Cron
	executor job.Executor
	sts      job.IdentityChecker
	lm       job.PermissionChecker
	secrets  secret.Store
	opts     job.Options
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID // (customer/name) → entry
}

// NewScheduler creates a Scheduler. Call Load then Start.
func NewScheduler(pool *pgxpool.Pool, executor job.Executor, sts job.IdentityChecker, lm job.PermissionChecker, secrets secret.Store, opts job.Options, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pool:     pool,
		cron:     cron.New(),
		executor: executor,
		sts:      sts,
		lm:       lm,
		secrets:  secrets,
		opts:     opts,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
	}
}

func entryKey(customer, name string) string {
	return customer + "/" + name
}

// Load registers cron entries for every enabled scheduled job of every
// active tenant.
func (s *Scheduler) Load(ctx context.Context) error {
	tenants, err := db.New(s.pool).ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	for _, t := range tenants {
		conn, err := tenant.AcquireScoped(ctx, s.pool, t.Slug)
		if err != nil {
			s.logger.Error("acquiring tenant connection", "tenant", t.Slug, "error", err)
			continue
		}
		jobs, err := NewStore(conn).List(ctx)
		conn.Release()
		if err != nil {
			s.logger.Error("listing scheduled jobs", "tenant", t.Slug, "error", err)
			continue
		}
		for _, sj := range jobs {
			if !sj.Enabled {
				continue
			}
			if err := s.Register(t.Slug, sj); err != nil {
				s.logger.Error("registering scheduled job", "name", sj.Name, "error", err)
			}
		}
	}
	return nil
}

// Start runs the cron loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("scheduled job scheduler started", "entries", len(s.entries))
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduled job scheduler stopped")
}

// Register adds or replaces the cron entry for a scheduled job.
func (s *Scheduler) Register(tenantSlug string, sj *ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey(sj.Customer, sj.Name)
	if id, ok := s.entries[key]; ok {
		s.cron.Remove(id)
		delete(s.entries, key)
	}
	name, customer := sj.Name, sj.Customer
	id, err := s.cron.AddFunc(sj.Schedule, func() {
		s.fire(tenantSlug, customer, name)
	})
	if err != nil {
		return fmt.Errorf("adding cron entry for %s: %w", sj.Name, err)
	}
	s.entries[key] = id
	return nil
}

// Deregister removes the cron entry of a scheduled job.
func (s *Scheduler) Deregister(customer, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entryKey(customer, name)
	if id, ok := s.entries[key]; ok {
		s.cron.Remove(id)
		delete(s.entries, key)
	}
}

// fire runs one scheduled job: it re-reads the row (the schedule may have
// been disabled since registration) and re-runs admission with the frozen
// ruleset/region selection. A held job lock is not an error: the run is
// simply skipped and retried on the next firing.
func (s *Scheduler) fire(tenantSlug, customer, name string) {
	ctx := context.Background()
	conn, err := tenant.AcquireScoped(ctx, s.pool, tenantSlug)
	if err != nil {
		s.logger.Error("acquiring tenant connection for scheduled run", "tenant", tenantSlug, "error", err)
		return
	}
	defer conn.Release()

	sj, err := NewStore(conn).Get(ctx, customer, name)
	if err != nil || sj == nil || !sj.Enabled {
		return
	}

	svc := job.NewService(conn, s.executor, s.sts, s.lm, s.secrets, s.opts, s.logger)
	created, err := svc.Submit(ctx, job.Request{
		TenantName:    sj.TenantName,
		Customer:      sj.Customer,
		TargetRegions: sj.Regions,
		Rulesets:      sj.Rulesets,
	})
	if err != nil {
		if apierr.From(err).Status == 403 {
			s.logger.Info("scheduled run skipped, tenant job lock held; retrying next tick",
				"schedule", name, "tenant", sj.TenantName)
			return
		}
		s.logger.Error("scheduled run failed", "schedule", name, "tenant", sj.TenantName, "error", err)
		return
	}
	s.logger.Info("scheduled run submitted", "schedule", name, "job_id", created.ID)
}
