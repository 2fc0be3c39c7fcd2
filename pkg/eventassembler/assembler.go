package eventassembler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/internal/telemetry"
	"github.com/ruleengine/controlplane/pkg/eventmapping"
	"github.com/ruleengine/controlplane/pkg/job"
	"github.com/ruleengine/controlplane/pkg/license"
	"github.com/ruleengine/controlplane/pkg/ruleset"
)

// mappingVersion is the metadata version the assembler reads mappings
// under. Mapping publication tracks the same default.
const mappingVersion = "1.0.0"

// Submitter submits the multi-tenant batch job. Satisfied by
// platform.BatchClient.
type Submitter interface {
	SubmitJob(ctx context.Context, name string, env map[string]string) (string, error)
}

// Config holds the assembler's tunables.
type Config struct {
	Partitions          int
	PageSize            int
	Interval            time.Duration
	DeploymentAccountID string
	Envs                job.EnvBuilder
}

// Assembler is the periodic pipeline turning partitioned audit events into
// BatchResults rows plus one multi-tenant event-driven batch job.
type Assembler struct {
	pool     *pgxpool.Pool
	store    *Store
	licenses *license.Service
	rulesets *ruleset.Store
	mappings *eventmapping.Provider
	batch    Submitter
	cfg      Config
	logger   *slog.Logger

	// Per-invocation caches; reset every tick.
	tenantByAccount map[string]*db.Tenant
	tenantByName    map[string]*db.Tenant
	edLicense       map[string]*license.License
	licenseRules    map[string]map[string]struct{}
}

// New creates an Assembler.
func New(pool *pgxpool.Pool, mappings *eventmapping.Provider, batch Submitter, cfg Config, logger *slog.Logger) *Assembler {
	return &Assembler{
		pool:     pool,
		store:    NewStore(pool),
		licenses: license.NewService(pool, logger),
		rulesets: ruleset.NewStore(pool),
		mappings: mappings,
		batch:    batch,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts the assembler loop. Single-writer by construction: one
// goroutine, no overlapping invocations.
func (a *Assembler) Run(ctx context.Context) error {
	a.logger.Info("event assembler started", "interval", a.cfg.Interval, "partitions", a.cfg.Partitions)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("event assembler stopped")
			return nil
		case <-ticker.C:
			started := time.Now()
			if err := a.Tick(ctx); err != nil {
				a.logger.Error("event assembler tick", "error", err)
			}
			telemetry.EventAssemblerTickDuration.Observe(time.Since(started).Seconds())
		}
	}
}

// eventHeap merges the per-partition streams by timestamp.
type eventHeap []Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].Timestamp < h[j].Timestamp }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// obtainEvents range-queries every partition since the cursor and k-way
// merges the sorted streams by timestamp.
func (a *Assembler) obtainEvents(ctx context.Context, since float64) ([]Event, error) {
	h := &eventHeap{}
	for partition := 0; partition < a.cfg.Partitions; partition++ {
		events, err := a.store.GetEvents(ctx, partition, since, a.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			heap.Push(h, e)
		}
	}
	heap.Init(h)
	merged := make([]Event, 0, h.Len())
	for h.Len() > 0 {
		merged = append(merged, heap.Pop(h).(Event))
	}
	return merged, nil
}

func (a *Assembler) resetCaches() {
	a.tenantByAccount = make(map[string]*db.Tenant)
	a.tenantByName = make(map[string]*db.Tenant)
	a.edLicense = make(map[string]*license.License)
	a.licenseRules = make(map[string]map[string]struct{})
}

// Tick runs one assembler invocation. No events is a no-op; otherwise the
// cursor advances before the batch job is submitted, so a submission
// failure loses that window rather than reprocessing it — the scanner side
// stays idempotent and the upstream change sources retry.
func (a *Assembler) Tick(ctx context.Context) error {
	a.resetCaches()

	cursor, err := a.store.GetCursor(ctx)
	if err != nil {
		return err
	}
	events, err := a.obtainEvents(ctx, cursor)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.logger.Debug("no events to assemble")
		return nil
	}
	telemetry.EventAssemblerBatchSize.Observe(float64(len(events)))

	startEvent, endEvent := events[0], events[len(events)-1]
	if err := a.store.SetCursor(ctx, endEvent.Timestamp); err != nil {
		return err
	}
	a.logger.Info("event cursor advanced", "cursor", endEvent.Timestamp, "events", len(events))

	// Bucket raw records by vendor, filter, dedupe, group.
	var awsRecords, maestroRecords []map[string]any
	for _, e := range events {
		switch e.Vendor {
		case VendorAWS:
			awsRecords = append(awsRecords, e.Events...)
		case VendorMaestro:
			maestroRecords = append(maestroRecords, e.Events...)
		default:
			a.logger.Warn("unknown event vendor", "vendor", e.Vendor)
		}
	}

	awsProc := awsProcessor{deploymentAccountID: a.cfg.DeploymentAccountID}
	awsGroupedMap := awsProc.group(
		withoutDuplicates(awsProc.prepared(awsRecords)),
		func(accountID, source, eventName string) []string {
			return a.awsRules(ctx, accountID, source, eventName)
		},
	)
	maestroProc := maestroProcessor{}
	maestroGroupedMap := maestroProc.group(
		withoutDuplicates(maestroProc.prepared(maestroRecords)),
		func(cloud, tenantName, source, eventName string) []string {
			return a.maestroRules(ctx, cloud, tenantName, source, eventName)
		},
	)

	var results []*BatchResults
	results = append(results, a.handleAWS(ctx, awsGroupedMap)...)
	results = append(results, a.handleMaestro(ctx, maestroGroupedMap)...)
	if len(results) == 0 {
		a.logger.Info("no batch results derived from events")
		return nil
	}

	submittedAt := time.Now().UTC()
	ids := make([]string, 0, len(results))
	for _, br := range results {
		br.RegistrationStart = fmt.Sprintf("%f", startEvent.Timestamp)
		br.RegistrationEnd = fmt.Sprintf("%f", endEvent.Timestamp)
		br.SubmittedAt = submittedAt.Format(time.RFC3339)
		br.Status = job.StatusSubmitted
		if err := a.store.CreateBatchResults(ctx, br); err != nil {
			return err
		}
		ids = append(ids, br.ID.String())
	}

	env := a.cfg.Envs.ForBatchResults(ids, submittedAt)
	batchID, err := a.batch.SubmitJob(ctx, job.BatchJobName("events", submittedAt), env)
	if err != nil {
		// The cursor has already advanced: this window is lost by design.
		a.logger.Error("submitting event-driven batch job", "error", err)
		return err
	}
	a.logger.Info("event-driven batch job submitted", "batch_job_id", batchID, "batch_results", len(ids))
	return nil
}

// tenantByAcc resolves an active tenant by cloud account id, cached per tick.
func (a *Assembler) tenantByAcc(ctx context.Context, accountID string) *db.Tenant {
	if t, ok := a.tenantByAccount[accountID]; ok {
		return t
	}
	var t db.Tenant
	err := a.pool.QueryRow(ctx, `
		SELECT id, name, slug, customer, cloud, project, active_regions, is_active, created_at
		FROM public.tenants WHERE project = $1 AND is_active = true LIMIT 1
	`, accountID).Scan(&t.ID, &t.Name, &t.Slug, &t.Customer, &t.Cloud, &t.Project, &t.ActiveRegions, &t.IsActive, &t.CreatedAt)
	if err != nil {
		a.tenantByAccount[accountID] = nil
		return nil
	}
	a.tenantByAccount[accountID] = &t
	return &t
}

// tenantByNameCached resolves an active tenant by name, cached per tick.
func (a *Assembler) tenantByNameCached(ctx context.Context, name string) *db.Tenant {
	if t, ok := a.tenantByName[name]; ok {
		return t
	}
	t, err := db.New(a.pool).GetTenantByName(ctx, name)
	if err != nil || !t.IsActive {
		a.tenantByName[name] = nil
		return nil
	}
	a.tenantByName[name] = &t
	return &t
}

// eventDrivenLicense resolves the tenant's event-driven license, cached per
// tick.
func (a *Assembler) eventDrivenLicense(ctx context.Context, tenant *db.Tenant) *license.License {
	if lic, ok := a.edLicense[tenant.Name]; ok {
		return lic
	}
	lic, err := a.licenses.EventDrivenLicense(ctx, *tenant)
	if err != nil {
		a.logger.Error("resolving event-driven license", "tenant", tenant.Name, "error", err)
		lic = nil
	}
	a.edLicense[tenant.Name] = lic
	return lic
}

// allowedRules returns the union of rules across the license's rulesets for
// the given cloud, cached per (license, cloud) per tick.
func (a *Assembler) allowedRules(ctx context.Context, lic *license.License, cloud string) map[string]struct{} {
	cacheKey := lic.LicenseKey + "#" + cloud
	if rules, ok := a.licenseRules[cacheKey]; ok {
		return rules
	}
	rules := make(map[string]struct{})
	for _, id := range lic.RulesetIDs {
		item, err := a.rulesets.ByLMID(ctx, id)
		if err != nil {
			a.logger.Error("fetching licensed ruleset", "lm_id", id, "error", err)
			continue
		}
		if item == nil || item.Cloud != cloud {
			continue
		}
		for _, rule := range item.Rules {
			rules[rule] = struct{}{}
		}
	}
	a.licenseRules[cacheKey] = rules
	return rules
}

// awsRules maps (accountID, source, eventName) through the account tenant's
// event-driven license mapping.
func (a *Assembler) awsRules(ctx context.Context, accountID, source, eventName string) []string {
	tenant := a.tenantByAcc(ctx, accountID)
	if tenant == nil {
		return nil
	}
	lic := a.eventDrivenLicense(ctx, tenant)
	if lic == nil {
		return nil
	}
	mapping, err := a.mappings.Get(ctx, lic.LicenseKey, mappingVersion, "AWS")
	if err != nil || mapping == nil {
		return nil
	}
	return mapping.Rules(source, eventName)
}

// maestroRules maps (cloud, tenantName, source, eventName) through the
// tenant's event-driven license mapping.
func (a *Assembler) maestroRules(ctx context.Context, cloud, tenantName, source, eventName string) []string {
	tenant := a.tenantByNameCached(ctx, tenantName)
	if tenant == nil {
		return nil
	}
	lic := a.eventDrivenLicense(ctx, tenant)
	if lic == nil {
		return nil
	}
	mapping, err := a.mappings.Get(ctx, lic.LicenseKey, mappingVersion, cloud)
	if err != nil || mapping == nil {
		return nil
	}
	return mapping.Rules(source, eventName)
}

// handleAWS turns the per-account grouping into BatchResults, restricting
// regions to the tenant's active set and rules to its license scope.
func (a *Assembler) handleAWS(ctx context.Context, grouped awsGrouped) []*BatchResults {
	var out []*BatchResults
	for accountID, regionRules := range grouped {
		tenant := a.tenantByAcc(ctx, accountID)
		if tenant == nil {
			a.logger.Info("no tenant for account", "account_id", accountID)
			continue
		}
		lic := a.eventDrivenLicense(ctx, tenant)
		if lic == nil {
			continue
		}

		// Regions not active in the tenant are excluded.
		active := make(map[string]struct{}, len(tenant.ActiveRegions))
		for _, r := range tenant.ActiveRegions {
			active[r] = struct{}{}
		}
		accessible := make(map[string]map[string]struct{})
		for region, rules := range regionRules {
			if _, ok := active[region]; !ok {
				a.logger.Warn("excluding region inactive in tenant", "tenant", tenant.Name, "region", region)
				continue
			}
			accessible[region] = rules
		}
		if len(accessible) == 0 {
			continue
		}

		restricted := restrictRegionRuleMap(accessible, a.allowedRules(ctx, lic, tenant.Cloud))
		if len(restricted) == 0 {
			a.logger.Info("no rules left after license restriction", "tenant", tenant.Name)
			continue
		}
		out = append(out, &BatchResults{
			TenantName:      tenant.Name,
			Customer:        tenant.Customer,
			CloudIdentifier: tenant.Project,
			Rules:           compressRegionRuleMap(restricted),
		})
	}
	return out
}

// handleMaestro turns the per-cloud, per-tenant grouping into BatchResults.
func (a *Assembler) handleMaestro(ctx context.Context, grouped maestroGrouped) []*BatchResults {
	var out []*BatchResults
	for cloud, byTenant := range grouped {
		for tenantName, regionRules := range byTenant {
			tenant := a.tenantByNameCached(ctx, tenantName)
			if tenant == nil {
				a.logger.Warn("tenant not found for maestro event", "tenant", tenantName)
				continue
			}
			lic := a.eventDrivenLicense(ctx, tenant)
			if lic == nil {
				continue
			}
			restricted := restrictRegionRuleMap(regionRules, a.allowedRules(ctx, lic, cloud))
			if len(restricted) == 0 {
				continue
			}
			out = append(out, &BatchResults{
				TenantName:      tenant.Name,
				Customer:        tenant.Customer,
				CloudIdentifier: tenant.Project,
				Rules:           compressRegionRuleMap(restricted),
			})
		}
	}
	return out
}
