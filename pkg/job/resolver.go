package job

import (
	"context"
	"sort"
	"strings"

	"github.com/ruleengine/controlplane/internal/apierr"
	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/pkg/license"
	"github.com/ruleengine/controlplane/pkg/ruleset"
)

// ResolvedRuleset is a ruleset reference selected for a scan, together with
// the rule names it carries.
type ResolvedRuleset struct {
	Name  ruleset.Name
	Rules []string
}

// Resolution is the outcome of ruleset resolution for one admission.
type Resolution struct {
	Standard []ResolvedRuleset
	License  *license.License
	Licensed []ResolvedRuleset
}

// Serialize flattens the resolution into the ordered name[:version[:licenseKey]]
// list the executor environment carries.
func (r Resolution) Serialize() []string {
	out := make([]string, 0, len(r.Standard)+len(r.Licensed))
	for _, rs := range r.Standard {
		out = append(out, rs.Name.String())
	}
	for _, rs := range r.Licensed {
		name := rs.Name
		if r.License != nil {
			name.LicenseKey = r.License.LicenseKey
		}
		out = append(out, name.String())
	}
	sort.Strings(out)
	return out
}

// RuleNames returns the union of rule names across the resolved rulesets.
func (r Resolution) RuleNames() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range [][]ResolvedRuleset{r.Standard, r.Licensed} {
		for _, rs := range set {
			for _, rule := range rs.Rules {
				if _, ok := seen[rule]; ok {
					continue
				}
				seen[rule] = struct{}{}
				out = append(out, rule)
			}
		}
	}
	return out
}

// rulesetCatalog is the slice of the ruleset store the resolver needs.
// *ruleset.Store satisfies it; tests use in-memory fakes.
type rulesetCatalog interface {
	ByLMID(ctx context.Context, lmID string) (*ruleset.Ruleset, error)
	Get(ctx context.Context, customer, name, version string) (*ruleset.Ruleset, error)
	GetLatest(ctx context.Context, customer, name string) (*ruleset.Ruleset, error)
}

// resolver implements ruleset resolution against licenses and local
// rulesets. It caches licensed ruleset lookups within one admission.
type resolver struct {
	rulesets rulesetCatalog

	licensedCache map[string]*ruleset.Ruleset
}

func newResolver(rulesets rulesetCatalog) *resolver {
	return &resolver{
		rulesets:      rulesets,
		licensedCache: make(map[string]*ruleset.Ruleset),
	}
}

func (r *resolver) licensedRuleset(ctx context.Context, lmID string) (*ruleset.Ruleset, error) {
	if item, ok := r.licensedCache[lmID]; ok {
		return item, nil
	}
	item, err := r.rulesets.ByLMID(ctx, lmID)
	if err != nil {
		return nil, err
	}
	r.licensedCache[lmID] = item
	return item, nil
}

func ambiguousLicenses(licenses map[string][]ResolvedRuleset) *apierr.Error {
	keys := make([]string, 0, len(licenses))
	for k := range licenses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return apierr.Conflict(
		"Ambiguous situation. Multiple licenses: %s - can be used for this job "+
			"but only one license per job is currently allowed. Specify the desired license key",
		strings.Join(keys, ", "),
	)
}

// resolveAllFromLicenses handles the no-names case: every ruleset every
// license carries for the tenant's cloud is collected; more than one
// contributing license is ambiguous.
func (r *resolver) resolveAllFromLicenses(ctx context.Context, tenant db.Tenant, domain string, licenses []*license.License) (*license.License, []ResolvedRuleset, error) {
	byLicense := make(map[string][]ResolvedRuleset)
	licenseByKey := make(map[string]*license.License)
	for _, lic := range licenses {
		if lic.TenantLicenseKey(tenant.Customer) == "" {
			continue
		}
		var collected []ResolvedRuleset
		seen := make(map[string]struct{})
		for _, id := range lic.RulesetIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			item, err := r.licensedRuleset(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			if item == nil || item.Cloud != domain {
				continue
			}
			collected = append(collected, ResolvedRuleset{
				Name:  ruleset.Name{Name: id, LicenseKey: lic.LicenseKey},
				Rules: item.Rules,
			})
		}
		if len(collected) > 0 {
			byLicense[lic.LicenseKey] = collected
			licenseByKey[lic.LicenseKey] = lic
		}
	}
	if len(byLicense) == 0 {
		return nil, nil, apierr.BadRequest("no appropriate rulesets can be resolved from license(s)")
	}
	if len(byLicense) > 1 {
		return nil, nil, ambiguousLicenses(byLicense)
	}
	for key, collected := range byLicense {
		return licenseByKey[key], collected, nil
	}
	return nil, nil, nil // unreachable
}

// resolveLocal handles names without licenses: each name must resolve to a
// local ruleset of the tenant's customer with a matching cloud.
func (r *resolver) resolveLocal(ctx context.Context, tenant db.Tenant, domain string, names []ruleset.Name) ([]ResolvedRuleset, error) {
	var local []ResolvedRuleset
	for _, name := range names {
		var item *ruleset.Ruleset
		var err error
		if name.Version != "" {
			item, err = r.rulesets.Get(ctx, tenant.Customer, name.Name, name.Version)
		} else {
			item, err = r.rulesets.GetLatest(ctx, tenant.Customer, name.Name)
		}
		if err != nil {
			return nil, err
		}
		if item == nil {
			if name.Version != "" {
				return nil, apierr.NotFound("licensed or local ruleset %s %s not found", name.Name, name.Version)
			}
			return nil, apierr.NotFound("no versions of licensed or local ruleset %s found", name.Name)
		}
		if item.Cloud != domain {
			return nil, apierr.BadRequest("local ruleset %s is supposed to be used with %s", item.Name, item.Cloud)
		}
		local = append(local, ResolvedRuleset{
			Name:  ruleset.Name{Name: item.Name, Version: item.Version},
			Rules: item.Rules,
		})
	}
	return local, nil
}

// matchLicensed reports whether a license satisfies a ruleset name: the LM
// id must be in the license, the cloud must match, and a requested version
// must exist among the licensed item's versions.
func (r *resolver) matchLicensed(ctx context.Context, lic *license.License, domain string, name ruleset.Name) (*ruleset.Ruleset, error) {
	found := false
	for _, id := range lic.RulesetIDs {
		if id == name.Name {
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}
	item, err := r.licensedRuleset(ctx, name.Name)
	if err != nil {
		return nil, err
	}
	if item == nil || item.Cloud != domain {
		return nil, nil
	}
	if name.Version != "" {
		hasVersion := false
		for _, v := range item.Versions {
			if v == name.Version {
				hasVersion = true
				break
			}
		}
		if !hasVersion {
			return nil, nil
		}
	}
	return item, nil
}

// resolveFromNamesAndLicenses handles the mixed case: each name is tried
// against every license; unmatched names fall through to local resolution.
func (r *resolver) resolveFromNamesAndLicenses(ctx context.Context, tenant db.Tenant, domain string, names []ruleset.Name, licenses []*license.License) (Resolution, error) {
	utilized := make(map[ruleset.Name]struct{})
	byLicense := make(map[string][]ResolvedRuleset)
	licenseByKey := make(map[string]*license.License)
	for _, lic := range licenses {
		if lic.TenantLicenseKey(tenant.Customer) == "" {
			continue
		}
		for _, name := range names {
			item, err := r.matchLicensed(ctx, lic, domain, name)
			if err != nil {
				return Resolution{}, err
			}
			if item == nil {
				continue
			}
			byLicense[lic.LicenseKey] = append(byLicense[lic.LicenseKey], ResolvedRuleset{
				Name:  ruleset.Name{Name: name.Name, Version: name.Version, LicenseKey: lic.LicenseKey},
				Rules: item.Rules,
			})
			licenseByKey[lic.LicenseKey] = lic
			utilized[name] = struct{}{}
		}
	}
	if len(byLicense) > 1 {
		return Resolution{}, ambiguousLicenses(byLicense)
	}

	var res Resolution
	for key, collected := range byLicense {
		res.License = licenseByKey[key]
		res.Licensed = collected
	}

	var remaining []ruleset.Name
	for _, name := range names {
		if _, ok := utilized[name]; !ok {
			remaining = append(remaining, name)
		}
	}
	local, err := r.resolveLocal(ctx, tenant, domain, remaining)
	if err != nil {
		return Resolution{}, err
	}
	res.Standard = local
	return res, nil
}

// Resolve runs the full ruleset resolution for one admission.
func (r *resolver) Resolve(ctx context.Context, tenant db.Tenant, domain string, names []ruleset.Name, licenses []*license.License) (Resolution, error) {
	switch {
	case len(names) == 0 && len(licenses) == 0:
		return Resolution{}, apierr.BadRequest(
			"no licenses are activated for tenant %s and no ruleset names provided; "+
				"specify ruleset names to use local rulesets or activate a license", tenant.Name)
	case len(names) == 0:
		lic, licensed, err := r.resolveAllFromLicenses(ctx, tenant, domain, licenses)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{License: lic, Licensed: licensed}, nil
	case len(licenses) == 0:
		local, err := r.resolveLocal(ctx, tenant, domain, names)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Standard: local}, nil
	default:
		return r.resolveFromNamesAndLicenses(ctx, tenant, domain, names, licenses)
	}
}
