package license

import (
	"testing"
	"time"
)

var (
	past   = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	future = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	now    = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func TestLicenseIsExpired(t *testing.T) {
	if (&License{Expiration: future}).IsExpired(now) {
		t.Error("future expiration must not be expired")
	}
	if !(&License{Expiration: past}).IsExpired(now) {
		t.Error("past expiration must be expired")
	}
}

func TestLicenseIsApplicable(t *testing.T) {
	l := &License{
		LicenseKey: "L1",
		Customers: map[string]CustomerEntry{
			"C1": {TenantLicenseKey: "tlk-1"},
			"C2": {TenantLicenseKey: "tlk-2", Tenants: []string{"T9"}},
		},
	}

	if !l.IsApplicable("C1", "T1") {
		t.Error("empty scope must cover every tenant of the customer")
	}
	if l.IsApplicable("C3", "T1") {
		t.Error("unknown customer must not be applicable")
	}
	if l.IsApplicable("C2", "T1") {
		t.Error("scoped entry must reject unlisted tenants")
	}
	if !l.IsApplicable("C2", "T9") {
		t.Error("scoped entry must accept listed tenants")
	}
}

func TestLicenseTenantLicenseKey(t *testing.T) {
	l := &License{Customers: map[string]CustomerEntry{"C1": {TenantLicenseKey: "tlk-1"}}}
	if got := l.TenantLicenseKey("C1"); got != "tlk-1" {
		t.Errorf("TenantLicenseKey = %q", got)
	}
	if got := l.TenantLicenseKey("C2"); got != "" {
		t.Errorf("TenantLicenseKey for unknown customer = %q", got)
	}
}

func TestAllowsEventDriven(t *testing.T) {
	base := License{
		Customers:   map[string]CustomerEntry{"C1": {TenantLicenseKey: "tlk-1"}},
		Expiration:  future,
		EventDriven: EventDriven{Active: true},
	}

	l := base
	if !l.AllowsEventDriven("C1", "T1", now) {
		t.Error("active, applicable, unexpired license must allow event-driven")
	}

	l = base
	l.EventDriven.Active = false
	if l.AllowsEventDriven("C1", "T1", now) {
		t.Error("inactive event-driven flag must deny")
	}

	l = base
	l.Expiration = past
	if l.AllowsEventDriven("C1", "T1", now) {
		t.Error("expired license must deny")
	}

	l = base
	if l.AllowsEventDriven("C9", "T1", now) {
		t.Error("inapplicable license must deny")
	}
}

func TestParseSigningKeyRoundTrip(t *testing.T) {
	key, pemData, err := GenerateSigningKey("kid-1")
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseSigningKey("kid-1", pemData)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.KID != "kid-1" {
		t.Errorf("kid = %q", parsed.KID)
	}
	if parsed.Key.N.Cmp(key.Key.N) != 0 {
		t.Error("parsed key differs from generated key")
	}
}
