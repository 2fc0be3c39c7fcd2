// Package license holds the cached replica of License Manager licenses and
// answers the applicability questions job admission and the event assembler
// ask: which licenses cover a tenant, are they expired, and do they allow
// event-driven scans.
package license

import (
	"time"
)

// CustomerEntry is the per-customer grant inside a license.
type CustomerEntry struct {
	TenantLicenseKey string `json:"tenant_license_key"`
	// Tenants restricts the grant to the listed tenant names. Empty means
	// every tenant of the customer.
	Tenants []string `json:"tenants,omitempty"`
}

// EventDriven is the event-driven section of a license.
type EventDriven struct {
	Active bool `json:"active"`
}

// License is the cached replica of an LM-issued license.
type License struct {
	LicenseKey  string
	Customers   map[string]CustomerEntry
	RulesetIDs  []string
	EventDriven EventDriven
	Expiration  time.Time
	CreatedAt   time.Time
}

// IsExpired reports whether the license expired as of now.
func (l *License) IsExpired(now time.Time) bool {
	return now.After(l.Expiration)
}

// TenantLicenseKey returns the TLK granted to the customer, or "".
func (l *License) TenantLicenseKey(customer string) string {
	return l.Customers[customer].TenantLicenseKey
}

// IsApplicable reports whether the license covers the given
// (customer, tenant): the customer entry must exist, and when the entry
// scopes tenants the tenant must be listed.
func (l *License) IsApplicable(customer, tenantName string) bool {
	entry, ok := l.Customers[customer]
	if !ok {
		return false
	}
	if len(entry.Tenants) == 0 {
		return true
	}
	for _, t := range entry.Tenants {
		if t == tenantName {
			return true
		}
	}
	return false
}

// AllowsEventDriven reports whether the license authorizes event-driven
// scans for the tenant right now.
func (l *License) AllowsEventDriven(customer, tenantName string, now time.Time) bool {
	return l.EventDriven.Active && !l.IsExpired(now) && l.IsApplicable(customer, tenantName)
}
