package license

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruleengine/controlplane/internal/db"
)

// Service is the read-side view over the cached license replica: which
// licenses a tenant can use, and which one authorizes event-driven scans.
type Service struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a license Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger, now: time.Now}
}

// Store exposes the underlying store for sync paths.
func (s *Service) Store() *Store {
	return s.store
}

// Get returns a license by key, or nil.
func (s *Service) Get(ctx context.Context, licenseKey string) (*License, error) {
	return s.store.Get(ctx, licenseKey)
}

// List returns every cached license.
func (s *Service) List(ctx context.Context) ([]*License, error) {
	return s.store.List(ctx)
}

// IterTenantLicenses returns the licenses reachable from the tenant's
// customer via its active license applications, filtered to ones applicable
// to the tenant.
func (s *Service) IterTenantLicenses(ctx context.Context, tenant db.Tenant) ([]*License, error) {
	meta, err := s.store.ActiveApplicationMeta(ctx, tenant.Customer)
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(meta))
	for _, key := range meta {
		keys = append(keys, key)
	}
	licenses, err := s.store.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := licenses[:0]
	for _, l := range licenses {
		if l.IsApplicable(tenant.Customer, tenant.Name) {
			out = append(out, l)
		}
	}
	return out, nil
}

// AllExpired reports whether every license in the set is expired.
func (s *Service) AllExpired(licenses []*License) bool {
	if len(licenses) == 0 {
		return false
	}
	now := s.now()
	for _, l := range licenses {
		if !l.IsExpired(now) {
			return false
		}
	}
	return true
}

// EventDrivenLicense returns the license authorizing event-driven scans for
// the tenant, or nil when none applies. The tenant's active application meta
// names a license key per cloud; that license must be applicable, not
// expired, and have event-driven active.
func (s *Service) EventDrivenLicense(ctx context.Context, tenant db.Tenant) (*License, error) {
	meta, err := s.store.ActiveApplicationMeta(ctx, tenant.Customer)
	if err != nil {
		return nil, err
	}
	key, ok := meta[tenant.Cloud]
	if !ok {
		s.logger.Debug("tenant has no license for its cloud", "tenant", tenant.Name, "cloud", tenant.Cloud)
		return nil, nil
	}
	l, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if l == nil {
		s.logger.Error("license key present in application but license replica missing", "license_key", key)
		return nil, nil
	}
	if !l.AllowsEventDriven(tenant.Customer, tenant.Name, s.now()) {
		return nil, nil
	}
	return l, nil
}

// LicenseForCloud returns the applicable license for the tenant's cloud
// without event-driven requirements, or nil.
func (s *Service) LicenseForCloud(ctx context.Context, tenant db.Tenant) (*License, error) {
	meta, err := s.store.ActiveApplicationMeta(ctx, tenant.Customer)
	if err != nil {
		return nil, err
	}
	key, ok := meta[tenant.Cloud]
	if !ok {
		return nil, nil
	}
	l, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if l == nil || !l.IsApplicable(tenant.Customer, tenant.Name) {
		return nil, nil
	}
	return l, nil
}
