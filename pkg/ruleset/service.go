package ruleset

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ruleengine/controlplane/internal/apierr"
	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/internal/platform"
	"github.com/ruleengine/controlplane/pkg/license"
	"github.com/ruleengine/controlplane/pkg/rulename"
)

// Service encapsulates ruleset composition, versioning, and release.
type Service struct {
	store          *Store
	s3             *platform.S3Client
	lm             *license.LMClient
	logger         *slog.Logger
	rulesetsBucket string
	systemCustomer string
}

// NewService creates a ruleset Service.
func NewService(dbtx db.DBTX, s3 *platform.S3Client, lm *license.LMClient, logger *slog.Logger, rulesetsBucket, systemCustomer string) *Service {
	return &Service{
		store:          NewStore(dbtx),
		s3:             s3,
		lm:             lm,
		logger:         logger,
		rulesetsBucket: rulesetsBucket,
		systemCustomer: systemCustomer,
	}
}

// Store exposes the underlying store for resolver paths.
func (s *Service) Store() *Store {
	return s.store
}

// CreateRequest holds the recognized options for a ruleset create.
type CreateRequest struct {
	Customer        string   `json:"customer"`
	Name            string   `json:"name" validate:"required"`
	Version         string   `json:"version"`
	Cloud           string   `json:"cloud" validate:"required,oneof=AWS AZURE GOOGLE KUBERNETES"`
	RuleSourceID    string   `json:"rule_source_id"`
	Rules           []string `json:"rules"`
	ExcludedRules   []string `json:"excluded_rules"`
	Platforms       []string `json:"platforms"`
	Categories      []string `json:"categories"`
	ServiceSections []string `json:"service_sections"`
	Sources         []string `json:"sources"`
	GitProjectID    string   `json:"git_project_id"`
	GitRef          string   `json:"git_ref"`
	Description     string   `json:"description"`
	EventDriven     bool     `json:"event_driven"`
}

// Create assembles and persists a new ruleset version per the composition
// pipeline: version resolution, cloud validation, rule collection,
// deduplication, exclusion, mapping filters, bundle upload.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Ruleset, error) {
	customer := req.Customer
	if customer == "" {
		customer = s.systemCustomer
	}
	if req.EventDriven {
		customer = s.systemCustomer
	}

	version, err := s.resolveDesiredVersion(ctx, customer, req)
	if err != nil {
		return nil, err
	}

	// Cloud is immutable across versions of a name.
	prior, err := s.store.GetLatest(ctx, customer, req.Name)
	if err != nil {
		return nil, err
	}
	if prior != nil && prior.Cloud != req.Cloud {
		return nil, apierr.BadRequest("ruleset %s already exists for cloud %s", req.Name, prior.Cloud)
	}

	rules, err := s.collectRules(ctx, customer, req)
	if err != nil {
		return nil, err
	}
	rules = dedupeLatest(rules)
	rules = s.applyExclusions(rules, req.ExcludedRules)
	rules = applyMappingFilters(rules, req)
	if len(rules) == 0 {
		return nil, apierr.BadRequest("no rules left for the ruleset after filtering")
	}

	policies := make(map[string]map[string]any, len(rules))
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		policies[r.Name] = r.BuildPolicy()
		names = append(names, r.Name)
	}
	bundle := BundleFromPolicyMap(policies)

	key := BundleKey(customer, req.Name, version)
	if err := s.s3.GzPutJSON(ctx, s.rulesetsBucket, key, bundle); err != nil {
		return nil, apierr.ServiceUnavailable("uploading ruleset bundle failed")
	}

	created, err := s.store.Create(ctx, &Ruleset{
		Customer:    customer,
		Name:        req.Name,
		Version:     version,
		Cloud:       req.Cloud,
		Rules:       names,
		EventDriven: req.EventDriven,
		S3Bucket:    s.rulesetsBucket,
		S3Key:       key,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("ruleset created", "customer", customer, "name", req.Name, "version", version, "rules", len(names))
	return created, nil
}

// resolveDesiredVersion picks the version for a create: explicit and unique,
// or inherited from a GITHUB_RELEASE source's release tag.
func (s *Service) resolveDesiredVersion(ctx context.Context, customer string, req CreateRequest) (string, error) {
	if req.Version != "" {
		if !IsSemVer(req.Version) {
			return "", apierr.BadRequest("version %s is not a valid semantic version", req.Version)
		}
		existing, err := s.store.Get(ctx, customer, req.Name, req.Version)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return "", apierr.Conflict("ruleset %s version %s already exists", req.Name, req.Version)
		}
		return req.Version, nil
	}
	if req.RuleSourceID != "" {
		rs, err := s.store.GetRuleSource(ctx, req.RuleSourceID)
		if err != nil {
			return "", err
		}
		if rs == nil {
			return "", apierr.NotFound("rule source %s not found", req.RuleSourceID)
		}
		if rs.Type == SourceGithubRelease && IsSemVer(rs.ReleaseTag) {
			v, _ := ParseVersion(rs.ReleaseTag)
			existing, err := s.store.Get(ctx, customer, req.Name, v.String())
			if err != nil {
				return "", err
			}
			if existing != nil {
				return "", apierr.Conflict("ruleset %s version %s already exists", req.Name, v.String())
			}
			return v.String(), nil
		}
	}
	return "", apierr.BadRequest("cannot resolve version for ruleset %s: specify one explicitly", req.Name)
}

// collectRules gathers candidate rules by priority: explicit list → rule
// source → git project/ref → all rules for (customer, cloud).
func (s *Service) collectRules(ctx context.Context, customer string, req CreateRequest) ([]*Rule, error) {
	switch {
	case len(req.Rules) > 0:
		rules, err := s.store.GetRulesByNames(ctx, customer, req.Rules)
		if err != nil {
			return nil, err
		}
		if len(rules) < len(req.Rules) {
			found := make(map[string]struct{}, len(rules))
			for _, r := range rules {
				found[r.Name] = struct{}{}
			}
			var missing []string
			for _, name := range req.Rules {
				if _, ok := found[name]; !ok {
					missing = append(missing, name)
				}
			}
			return nil, apierr.NotFound("rules not found: %v", missing)
		}
		return rules, nil
	case req.RuleSourceID != "":
		rs, err := s.store.GetRuleSource(ctx, req.RuleSourceID)
		if err != nil {
			return nil, err
		}
		if rs == nil {
			return nil, apierr.NotFound("rule source %s not found", req.RuleSourceID)
		}
		return s.store.ListRulesBySource(ctx, rs)
	case req.GitProjectID != "":
		return s.store.ListRulesByLocation(ctx, customer, req.GitProjectID, req.GitRef)
	default:
		return s.store.ListRules(ctx, customer, req.Cloud)
	}
}

// dedupeLatest keeps the newest rule per name.
func dedupeLatest(rules []*Rule) []*Rule {
	byName := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		if prev, ok := byName[r.Name]; !ok || r.UpdatedDate.After(prev.UpdatedDate) {
			byName[r.Name] = r
		}
	}
	out := make([]*Rule, 0, len(byName))
	for _, r := range rules {
		if byName[r.Name] == r {
			out = append(out, r)
		}
	}
	return out
}

// applyExclusions drops rules whose names fuzzily match any excluded item.
func (s *Service) applyExclusions(rules []*Rule, excluded []string) []*Rule {
	if len(excluded) == 0 {
		return rules
	}
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name)
	}
	resolver := rulename.NewResolver(names, rulename.AllowMultiple())
	resolved, _ := resolver.Resolve(excluded)
	drop := make(map[string]struct{}, len(resolved))
	for _, name := range resolved {
		drop[name] = struct{}{}
	}
	out := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if _, ok := drop[r.Name]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// applyMappingFilters keeps rules whose comment index matches every supplied
// filter dimension.
func applyMappingFilters(rules []*Rule, req CreateRequest) []*Rule {
	if len(req.Platforms) == 0 && len(req.Categories) == 0 &&
		len(req.ServiceSections) == 0 && len(req.Sources) == 0 {
		return rules
	}
	matches := func(value string, allowed []string) bool {
		if len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if value == a {
				return true
			}
		}
		return false
	}
	out := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		idx := ParseComment(r.Comment)
		if matches(idx.Platform, req.Platforms) &&
			matches(idx.Category, req.Categories) &&
			matches(idx.ServiceSection, req.ServiceSections) &&
			matches(idx.Source, req.Sources) {
			out = append(out, r)
		}
	}
	return out
}

// UpdateRequest holds the recognized options for a ruleset update.
type UpdateRequest struct {
	Customer      string   `json:"customer"`
	Version       string   `json:"version"`
	TargetVersion string   `json:"target_version" validate:"required"`
	RulesToAttach []string `json:"rules_to_attach"`
	RulesToDetach []string `json:"rules_to_detach"`
	Force         bool     `json:"force"`
}

// Update produces a new version of an existing ruleset. The current bundle
// is fetched, the attach/detach delta applied, remaining rules refreshed to
// their latest versions, and the result compared by content hash: an
// unchanged bundle is rejected unless force is set.
func (s *Service) Update(ctx context.Context, name string, req UpdateRequest) (*Ruleset, error) {
	customer := req.Customer
	if customer == "" {
		customer = s.systemCustomer
	}

	var current *Ruleset
	var err error
	if req.Version != "" {
		current, err = s.store.Get(ctx, customer, name, req.Version)
	} else {
		current, err = s.store.GetLatest(ctx, customer, name)
	}
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apierr.NotFound("ruleset %s not found", name)
	}
	if !IsSemVer(req.TargetVersion) {
		return nil, apierr.BadRequest("target version %s is not a valid semantic version", req.TargetVersion)
	}
	if existing, err := s.store.Get(ctx, customer, name, req.TargetVersion); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apierr.Conflict("ruleset %s version %s already exists", name, req.TargetVersion)
	}

	var bundle Bundle
	ok, err := s.s3.GzGetJSON(ctx, current.S3Bucket, current.S3Key, &bundle)
	if err != nil {
		return nil, apierr.ServiceUnavailable("fetching current ruleset bundle failed")
	}
	if !ok {
		return nil, apierr.NotFound("bundle for ruleset %s version %s is missing", name, current.Version)
	}
	policies := bundle.PolicyMap()
	oldHash := HashPolicyMap(policies)

	// Detach first, resolving fragments against the current rule names.
	if len(req.RulesToDetach) > 0 {
		names := make([]string, 0, len(policies))
		for n := range policies {
			names = append(names, n)
		}
		resolver := rulename.NewResolver(names, rulename.AllowMultiple())
		resolved, unresolved := resolver.Resolve(req.RulesToDetach)
		if len(unresolved) > 0 {
			return nil, apierr.BadRequest("rules to detach not found in ruleset: %v", unresolved)
		}
		for _, n := range resolved {
			delete(policies, n)
		}
	}

	// Attach new rules.
	if len(req.RulesToAttach) > 0 {
		attached, err := s.store.GetRulesByNames(ctx, customer, req.RulesToAttach)
		if err != nil {
			return nil, err
		}
		if len(attached) < len(req.RulesToAttach) {
			return nil, apierr.NotFound("some rules to attach were not found")
		}
		for _, r := range attached {
			policies[r.Name] = r.BuildPolicy()
		}
	}

	// Refresh the remaining rules against the current latest rule versions.
	remaining := make([]string, 0, len(policies))
	for n := range policies {
		remaining = append(remaining, n)
	}
	if len(remaining) == 0 {
		return nil, apierr.BadRequest("update would leave ruleset %s empty", name)
	}
	fresh, err := s.store.GetRulesByNames(ctx, customer, remaining)
	if err != nil {
		return nil, err
	}
	for _, r := range fresh {
		policies[r.Name] = r.BuildPolicy()
	}

	newHash := HashPolicyMap(policies)
	if newHash == oldHash && !req.Force {
		return nil, apierr.Conflict("ruleset %s content did not change; pass force to version anyway", name)
	}

	newBundle := BundleFromPolicyMap(policies)
	key := BundleKey(customer, name, req.TargetVersion)
	if err := s.s3.GzPutJSON(ctx, s.rulesetsBucket, key, newBundle); err != nil {
		return nil, apierr.ServiceUnavailable("uploading ruleset bundle failed")
	}

	names := make([]string, 0, len(policies))
	for n := range policies {
		names = append(names, n)
	}
	created, err := s.store.Create(ctx, &Ruleset{
		Customer:    customer,
		Name:        name,
		Version:     req.TargetVersion,
		Cloud:       current.Cloud,
		Rules:       names,
		EventDriven: current.EventDriven,
		S3Bucket:    s.rulesetsBucket,
		S3Key:       key,
		Description: current.Description,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("ruleset updated", "name", name, "version", req.TargetVersion, "forced", req.Force)
	return created, nil
}

// ReleaseRequest selects rulesets to publish to LM.
type ReleaseRequest struct {
	Customer string `json:"customer"`
	Name     string `json:"name" validate:"required"`
	Version  string `json:"version"`
	// DisplayName is the human-facing name LM shows for the ruleset.
	DisplayName string `json:"display_name"`
}

// ReleaseResult is the per-ruleset outcome of a release.
type ReleaseResult struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// Release publishes the selected ruleset versions to LM with presigned
// download URLs. One failing ruleset does not fail the others; the caller
// maps all-released to 201 and anything else to 207.
func (s *Service) Release(ctx context.Context, reqs []ReleaseRequest) ([]ReleaseResult, bool, error) {
	results := make([]ReleaseResult, 0, len(reqs))
	allOK := true
	for _, req := range reqs {
		res := s.releaseOne(ctx, req)
		if res.Status >= 300 {
			allOK = false
		}
		results = append(results, res)
	}
	return results, allOK, nil
}

func (s *Service) releaseOne(ctx context.Context, req ReleaseRequest) ReleaseResult {
	customer := req.Customer
	if customer == "" {
		customer = s.systemCustomer
	}
	var item *Ruleset
	var err error
	if req.Version != "" {
		item, err = s.store.Get(ctx, customer, req.Name, req.Version)
	} else {
		item, err = s.store.GetLatest(ctx, customer, req.Name)
	}
	if err != nil {
		return ReleaseResult{Name: req.Name, Version: req.Version, Status: 500, Message: "lookup failed"}
	}
	if item == nil {
		return ReleaseResult{Name: req.Name, Version: req.Version, Status: 404, Message: "ruleset not found"}
	}

	url, err := s.s3.PresignGet(ctx, item.S3Bucket, item.S3Key, time.Hour)
	if err != nil {
		s.logger.Error("presigning ruleset bundle", "name", item.Name, "error", err)
		return ReleaseResult{Name: item.Name, Version: item.Version, Status: 503, Message: "presigning download url failed"}
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = item.Name
	}
	err = s.lm.ReleaseRuleset(ctx, license.RulesetReleasePayload{
		Name:        item.Name,
		Version:     item.Version,
		Cloud:       item.Cloud,
		Description: item.Description,
		DisplayName: displayName,
		DownloadURL: url,
		Rules:       item.Rules,
	})
	if err != nil {
		s.logger.Error("releasing ruleset to LM", "name", item.Name, "version", item.Version, "error", err)
		return ReleaseResult{Name: item.Name, Version: item.Version, Status: apierr.From(err).Status, Message: err.Error()}
	}
	return ReleaseResult{Name: item.Name, Version: item.Version, Status: 201}
}

// Delete removes one version or, with allVersions, every version of a name.
func (s *Service) Delete(ctx context.Context, customer, name, version string, allVersions bool) error {
	if customer == "" {
		customer = s.systemCustomer
	}
	if allVersions {
		n, err := s.store.DeleteAllVersions(ctx, customer, name)
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.NotFound("ruleset %s not found", name)
		}
		return nil
	}
	if version == "" {
		return apierr.BadRequest("version is required unless all_versions is set")
	}
	if err := s.store.Delete(ctx, customer, name, version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierr.NotFound("ruleset %s version %s not found", name, version)
		}
		return err
	}
	return nil
}

// Get returns a specific or the latest version of a ruleset.
func (s *Service) Get(ctx context.Context, customer, name, version string) (*Ruleset, error) {
	if customer == "" {
		customer = s.systemCustomer
	}
	var item *Ruleset
	var err error
	if version == "" || version == "latest" {
		item, err = s.store.GetLatest(ctx, customer, name)
	} else {
		item, err = s.store.Get(ctx, customer, name, version)
	}
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apierr.NotFound("ruleset %s not found", name)
	}
	return item, nil
}

// List returns a customer's rulesets.
func (s *Service) List(ctx context.Context, customer, cloud string, eventDriven bool) ([]*Ruleset, error) {
	if customer == "" {
		customer = s.systemCustomer
	}
	return s.store.List(ctx, customer, cloud, eventDriven)
}
