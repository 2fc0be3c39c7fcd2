package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ruleengine/controlplane/internal/apierr"
	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/internal/telemetry"
	"github.com/ruleengine/controlplane/pkg/license"
	"github.com/ruleengine/controlplane/pkg/rulename"
	"github.com/ruleengine/controlplane/pkg/ruleset"
	"github.com/ruleengine/controlplane/pkg/secret"
)

// Executor submits work to the scanner backend. Satisfied by
// platform.BatchClient.
type Executor interface {
	SubmitJob(ctx context.Context, name string, env map[string]string) (string, error)
	TerminateJob(ctx context.Context, jobID, reason string) error
}

// IdentityChecker answers the AWS cloud-identifier validation. Satisfied by
// platform.STSClient.
type IdentityChecker interface {
	CallerAccount(ctx context.Context, accessKeyID, secretAccessKey, sessionToken string) (string, error)
}

// PermissionChecker asks LM whether a TLK may be exhausted. Satisfied by
// license.LMClient.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, customer, tenantName, tenantLicenseKey string) (bool, error)
}

// Options carries the deployment configuration admission needs.
type Options struct {
	AllowSimultaneousJobs bool
	SkipCloudIDValidation bool
	JobsTTL               time.Duration
	CredentialsTTL        time.Duration
	Envs                  EnvBuilder
}

// Service encapsulates job admission, termination, and queries. It operates
// on a tenant-scoped connection plus the cross-tenant collaborators.
type Service struct {
	dbtx     db.DBTX
	store    *Store
	lock     *Lock
	licenses *license.Service
	rulesets *ruleset.Store
	executor Executor
	sts      IdentityChecker
	lm       PermissionChecker
	secrets  secret.Store
	opts     Options
	logger   *slog.Logger
}

// NewService creates a job Service over a tenant-scoped connection.
func NewService(dbtx db.DBTX, executor Executor, sts IdentityChecker, lm PermissionChecker, secrets secret.Store, opts Options, logger *slog.Logger) *Service {
	return &Service{
		dbtx:     dbtx,
		store:    NewStore(dbtx),
		lock:     NewLock(dbtx),
		licenses: license.NewService(dbtx, logger),
		rulesets: ruleset.NewStore(dbtx),
		executor: executor,
		sts:      sts,
		lm:       lm,
		secrets:  secrets,
		opts:     opts,
		logger:   logger,
	}
}

// Store exposes the job store for read paths.
func (s *Service) Store() *Store {
	return s.store
}

// Lock exposes the tenant job lock.
func (s *Service) Lock() *Lock {
	return s.lock
}

// obtainTenant loads and validates the target tenant.
func (s *Service) obtainTenant(ctx context.Context, tenantName, customer string) (db.Tenant, error) {
	tenant, err := db.New(s.dbtx).GetTenantByName(ctx, tenantName)
	if err != nil {
		return db.Tenant{}, apierr.NotFound("the requested tenant '%s' is not found", tenantName)
	}
	if !tenant.IsActive {
		return db.Tenant{}, apierr.NotFound("the requested tenant '%s' is not found", tenantName)
	}
	if customer != "" && tenant.Customer != customer {
		return db.Tenant{}, apierr.NotFound("the requested tenant '%s' is not found", tenantName)
	}
	return tenant, nil
}

// resolveRegions applies the region rules: Azure and GCP always scan
// globally; AWS and Kubernetes require every requested region to be active
// in the tenant (400 otherwise) and default to all active regions when none
// are requested.
func resolveRegions(tenant db.Tenant, requested []string) ([]string, error) {
	if tenant.Cloud == CloudAzure || tenant.Cloud == CloudGoogle {
		return []string{GlobalRegion}, nil
	}
	active := make(map[string]struct{}, len(tenant.ActiveRegions))
	for _, r := range tenant.ActiveRegions {
		active[r] = struct{}{}
	}
	var missing []string
	for _, r := range requested {
		if _, ok := active[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return nil, apierr.BadRequest("regions: %s not active in tenant: %s", join(missing), tenant.Name)
	}
	if len(requested) == 0 {
		return append([]string(nil), tenant.ActiveRegions...), nil
	}
	return append([]string(nil), requested...), nil
}

func join(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// candidateLicenses collects the licenses to resolve against: the explicit
// one, or every license reachable from the tenant.
func (s *Service) candidateLicenses(ctx context.Context, tenant db.Tenant, licenseKey string) ([]*license.License, error) {
	if licenseKey != "" {
		lic, err := s.licenses.Get(ctx, licenseKey)
		if err != nil {
			return nil, err
		}
		if lic == nil {
			return nil, apierr.BadRequest("license %s not found", licenseKey)
		}
		if !lic.IsApplicable(tenant.Customer, tenant.Name) {
			return nil, apierr.Forbidden("license %s is not applicable for tenant %s", licenseKey, tenant.Name)
		}
		return []*license.License{lic}, nil
	}
	return s.licenses.IterTenantLicenses(ctx, tenant)
}

// resolveRulesetsForScan runs license collection, ruleset resolution, and
// the LM permission check.
func (s *Service) resolveRulesetsForScan(ctx context.Context, tenant db.Tenant, domain, licenseKey string, names []ruleset.Name) (Resolution, error) {
	licenses, err := s.candidateLicenses(ctx, tenant, licenseKey)
	if err != nil {
		return Resolution{}, err
	}
	if len(licenses) > 0 && s.licenses.AllExpired(licenses) {
		return Resolution{}, apierr.Forbidden("all licenses have expired")
	}

	res, err := newResolver(s.rulesets).Resolve(ctx, tenant, domain, names, licenses)
	if err != nil {
		return Resolution{}, err
	}
	if len(res.Standard) == 0 && len(res.Licensed) == 0 {
		return Resolution{}, apierr.BadRequest("no licensed and standard rulesets are found")
	}

	if res.License != nil {
		tlk := res.License.TenantLicenseKey(tenant.Customer)
		allowed, err := s.lm.CheckPermission(ctx, tenant.Customer, tenant.Name, tlk)
		if err != nil {
			return Resolution{}, err
		}
		if !allowed {
			return Resolution{}, apierr.Forbidden(
				"tenant '%s' could not be granted to start a licensed job with tenant license %s", tenant.Name, tlk)
		}
	}
	return res, nil
}

// storeCredentials validates (unless disabled) and stores job credentials,
// returning the secret key the executor reads.
func (s *Service) storeCredentials(ctx context.Context, tenant db.Tenant, credentials map[string]string) (string, error) {
	if !s.opts.SkipCloudIDValidation {
		switch tenant.Cloud {
		case CloudAWS:
			account, err := s.sts.CallerAccount(ctx,
				credentials["aws_access_key_id"],
				credentials["aws_secret_access_key"],
				credentials["aws_session_token"],
			)
			if err != nil {
				return "", apierr.BadRequest("invalid AWS credentials provided")
			}
			if account != tenant.Project {
				return "", apierr.BadRequest(
					"target account identifier didn't match with one provided in the credentials")
			}
		case CloudGoogle:
			if credentials["project_id"] != tenant.Project {
				return "", apierr.BadRequest(
					"target account identifier didn't match with one provided in the credentials")
			}
		}
	}
	payload, err := json.Marshal(credentials)
	if err != nil {
		return "", fmt.Errorf("marshalling credentials: %w", err)
	}
	key := secret.PrepareName(tenant.Name)
	if err := s.secrets.Create(ctx, key, string(payload), s.opts.CredentialsTTL); err != nil {
		return "", fmt.Errorf("storing credentials: %w", err)
	}
	return key, nil
}

// resolveRulesToScan intersects the requested rule fragments with the rules
// available from the resolved rulesets.
func resolveRulesToScan(rulesToScan []string, available []string, cloud string) ([]string, error) {
	if len(rulesToScan) == 0 {
		return nil, nil
	}
	resolver := rulename.NewResolver(available, rulename.AllowMultiple())
	resolved, unresolved := resolver.Resolve(rulesToScan)
	if len(unresolved) > 0 {
		return nil, apierr.BadRequest(
			"these rules are not allowed by your %s license: %s", cloud, join(unresolved))
	}
	return resolved, nil
}

// Submit admits and dispatches a standard job.
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	started := time.Now()
	defer func() {
		telemetry.JobAdmissionDuration.Observe(time.Since(started).Seconds())
	}()

	tenant, err := s.obtainTenant(ctx, req.TenantName, req.Customer)
	if err != nil {
		return nil, err
	}
	if !ValidCloud(tenant.Cloud) {
		return nil, apierr.BadRequest("cannot start job for tenant with cloud %s", tenant.Cloud)
	}

	regions, err := resolveRegions(tenant, req.TargetRegions)
	if err != nil {
		return nil, err
	}

	if !s.opts.AllowSimultaneousJobs {
		blocker, err := s.lock.LockedFor(ctx, regions)
		if err != nil {
			return nil, err
		}
		if blocker != uuid.Nil {
			telemetry.JobLockConflictsTotal.Inc()
			return nil, apierr.Forbidden(
				"some requested regions are already being scanned in another tenant`s job %s", blocker)
		}
	}

	var credentialsKey string
	if len(req.Credentials) > 0 {
		credentialsKey, err = s.storeCredentials(ctx, tenant, req.Credentials)
		if err != nil {
			return nil, err
		}
	}

	names := make([]ruleset.Name, 0, len(req.Rulesets))
	for _, raw := range req.Rulesets {
		names = append(names, ruleset.ParseName(raw))
	}
	res, err := s.resolveRulesetsForScan(ctx, tenant, tenant.Cloud, req.LicenseKey, names)
	if err != nil {
		return nil, err
	}

	rulesToScan, err := resolveRulesToScan(req.RulesToScan, res.RuleNames(), tenant.Cloud)
	if err != nil {
		return nil, err
	}

	affectedLicense := ""
	var affectedTLKs []string
	if res.License != nil {
		affectedLicense = res.License.LicenseKey
		affectedTLKs = []string{res.License.TenantLicenseKey(tenant.Customer)}
	}

	created, err := s.store.Create(ctx, CreateParams{
		TenantName:      tenant.Name,
		Customer:        tenant.Customer,
		Regions:         regions,
		Rulesets:        res.Serialize(),
		RulesToScan:     rulesToScan,
		CredentialsKey:  credentialsKey,
		AffectedLicense: affectedLicense,
		TTL:             s.opts.JobsTTL,
	})
	if err != nil {
		return nil, err
	}

	targetRegions := regions
	if tenant.Cloud == CloudAzure || tenant.Cloud == CloudGoogle {
		// The scanner derives scope from the project for global clouds.
		targetRegions = nil
	}
	env := s.opts.Envs.ForJob(JobEnvParams{
		JobID:            created.ID.String(),
		JobType:          TypeStandard,
		TargetRegions:    targetRegions,
		CredentialsKey:   credentialsKey,
		AffectedLicenses: affectedTLKs,
		LifetimeMinutes:  req.TimeoutMinutes,
		SubmittedAt:      created.SubmittedAt,
	})
	batchID, err := s.executor.SubmitJob(ctx, BatchJobName(tenant.Name, created.SubmittedAt), env)
	if err != nil {
		return nil, apierr.TooManyRequests("executor submission failed, retry later")
	}
	if err := s.store.SetBatchJobID(ctx, created.ID, batchID); err != nil {
		return nil, err
	}
	created.BatchJobID = batchID

	if err := s.lock.Acquire(ctx, created.ID, regions); err != nil {
		return nil, err
	}

	telemetry.JobsAdmittedTotal.WithLabelValues(tenant.Cloud, TypeStandard).Inc()
	s.logger.Info("job admitted",
		"job_id", created.ID,
		"tenant", tenant.Name,
		"regions", regions,
		"rulesets", created.Rulesets,
	)
	return created, nil
}

// ResolveForSchedule runs the validation and resolution half of admission
// without locking or dispatching. Scheduled-job registration uses it to
// freeze the ruleset/region selection a schedule is bound to.
func (s *Service) ResolveForSchedule(ctx context.Context, req Request) (regions []string, rulesets []string, err error) {
	tenant, err := s.obtainTenant(ctx, req.TenantName, req.Customer)
	if err != nil {
		return nil, nil, err
	}
	if !ValidCloud(tenant.Cloud) {
		return nil, nil, apierr.BadRequest("cannot start job for tenant with cloud %s", tenant.Cloud)
	}
	regions, err = resolveRegions(tenant, req.TargetRegions)
	if err != nil {
		return nil, nil, err
	}
	names := make([]ruleset.Name, 0, len(req.Rulesets))
	for _, raw := range req.Rulesets {
		names = append(names, ruleset.ParseName(raw))
	}
	res, err := s.resolveRulesetsForScan(ctx, tenant, tenant.Cloud, req.LicenseKey, names)
	if err != nil {
		return nil, nil, err
	}
	return regions, res.Serialize(), nil
}

// SubmitK8s admits and dispatches a Kubernetes platform job. The job lock
// key is the platform id rather than regions.
func (s *Service) SubmitK8s(ctx context.Context, req K8sRequest) (*Job, error) {
	platformItem, err := s.store.GetPlatform(ctx, req.PlatformID)
	if err != nil {
		return nil, err
	}
	if platformItem == nil || (req.Customer != "" && platformItem.Customer != req.Customer) {
		return nil, apierr.NotFound("active platform: %s not found", req.PlatformID)
	}
	tenant, err := s.obtainTenant(ctx, platformItem.TenantName, req.Customer)
	if err != nil {
		return nil, err
	}

	if !s.opts.AllowSimultaneousJobs {
		blocker, err := s.lock.LockedFor(ctx, []string{platformItem.PlatformID})
		if err != nil {
			return nil, err
		}
		if blocker != uuid.Nil {
			telemetry.JobLockConflictsTotal.Inc()
			return nil, apierr.Forbidden("job %s is already running for tenant %s", blocker, tenant.Name)
		}
	}

	names := make([]ruleset.Name, 0, len(req.Rulesets))
	for _, raw := range req.Rulesets {
		names = append(names, ruleset.ParseName(raw))
	}
	res, err := s.resolveRulesetsForScan(ctx, tenant, CloudKubernetes, req.LicenseKey, names)
	if err != nil {
		return nil, err
	}

	var credentialsKey string
	if req.Token != "" {
		credentialsKey = secret.PrepareName(tenant.Name)
		if err := s.secrets.Create(ctx, credentialsKey, req.Token, s.opts.CredentialsTTL); err != nil {
			return nil, fmt.Errorf("storing platform token: %w", err)
		}
	}

	affectedLicense := ""
	var affectedTLKs []string
	if res.License != nil {
		affectedLicense = res.License.LicenseKey
		affectedTLKs = []string{res.License.TenantLicenseKey(tenant.Customer)}
	}

	created, err := s.store.Create(ctx, CreateParams{
		TenantName:      tenant.Name,
		Customer:        tenant.Customer,
		Regions:         []string{},
		Rulesets:        res.Serialize(),
		CredentialsKey:  credentialsKey,
		AffectedLicense: affectedLicense,
		PlatformID:      platformItem.PlatformID,
		TTL:             s.opts.JobsTTL,
	})
	if err != nil {
		return nil, err
	}

	env := s.opts.Envs.ForJob(JobEnvParams{
		JobID:            created.ID.String(),
		JobType:          TypeStandard,
		CredentialsKey:   credentialsKey,
		PlatformID:       platformItem.PlatformID,
		AffectedLicenses: affectedTLKs,
		LifetimeMinutes:  req.TimeoutMinutes,
		SubmittedAt:      created.SubmittedAt,
	})
	batchID, err := s.executor.SubmitJob(ctx, BatchJobName(tenant.Name, created.SubmittedAt), env)
	if err != nil {
		return nil, apierr.TooManyRequests("executor submission failed, retry later")
	}
	if err := s.store.SetBatchJobID(ctx, created.ID, batchID); err != nil {
		return nil, err
	}
	created.BatchJobID = batchID

	if err := s.lock.Acquire(ctx, created.ID, []string{platformItem.PlatformID}); err != nil {
		return nil, err
	}
	telemetry.JobsAdmittedTotal.WithLabelValues(CloudKubernetes, TypeStandard).Inc()
	return created, nil
}

// Terminate cancels a non-terminal job on the user's behalf.
func (s *Service) Terminate(ctx context.Context, id uuid.UUID, user, customer string) error {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if j == nil || (customer != "" && j.Customer != customer) {
		return apierr.NotFound("job %s not found", id)
	}
	if IsTerminal(j.Status) {
		return apierr.BadRequest("can not terminate job with status %s", j.Status)
	}

	reason := fmt.Sprintf("Initiated by user '%s' (customer '%s')", user, j.Customer)
	if err := s.executor.TerminateJob(ctx, j.BatchJobID, reason); err != nil {
		s.logger.Error("terminating batch job", "job_id", id, "error", err)
	}
	if err := s.store.SetStatus(ctx, id, StatusFailed, reason); err != nil {
		return err
	}
	return s.lock.Release(ctx, id)
}
