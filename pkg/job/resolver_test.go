package job

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/ruleengine/controlplane/internal/apierr"
	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/pkg/license"
	"github.com/ruleengine/controlplane/pkg/ruleset"
)

// fakeCatalog is an in-memory rulesetCatalog.
type fakeCatalog struct {
	licensed map[string]*ruleset.Ruleset            // by LM id
	local    map[string]map[string]*ruleset.Ruleset // customer → name → latest
}

func (f *fakeCatalog) ByLMID(_ context.Context, lmID string) (*ruleset.Ruleset, error) {
	return f.licensed[lmID], nil
}

func (f *fakeCatalog) Get(_ context.Context, customer, name, version string) (*ruleset.Ruleset, error) {
	item := f.local[customer][name]
	if item == nil || item.Version != version {
		return nil, nil
	}
	return item, nil
}

func (f *fakeCatalog) GetLatest(_ context.Context, customer, name string) (*ruleset.Ruleset, error) {
	return f.local[customer][name], nil
}

var testTenant = db.Tenant{
	Name:          "T1",
	Customer:      "C1",
	Cloud:         CloudAWS,
	Project:       "111122223333",
	ActiveRegions: []string{"us-east-1", "eu-west-1"},
	IsActive:      true,
}

func awsLicense(key string) *license.License {
	return &license.License{
		LicenseKey: key,
		Customers:  map[string]license.CustomerEntry{"C1": {TenantLicenseKey: "tlk-" + key}},
		RulesetIDs: []string{"RS-AWS-CORE"},
		EventDriven: license.EventDriven{
			Active: true,
		},
		Expiration: time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func coreCatalog() *fakeCatalog {
	return &fakeCatalog{
		licensed: map[string]*ruleset.Ruleset{
			"RS-AWS-CORE": {
				Name:     "RS-AWS-CORE",
				Cloud:    CloudAWS,
				Licensed: true,
				LMID:     "RS-AWS-CORE",
				Rules:    []string{"ecc-aws-001-x", "ecc-aws-002-y"},
				Versions: []string{"1.0.0"},
			},
		},
		local: map[string]map[string]*ruleset.Ruleset{
			"C1": {
				"LOCAL": {Name: "LOCAL", Version: "2.0.0", Cloud: CloudAWS, Rules: []string{"ecc-aws-050-z"}},
			},
		},
	}
}

func TestResolveNoNamesNoLicenses(t *testing.T) {
	r := newResolver(coreCatalog())
	_, err := r.Resolve(context.Background(), testTenant, CloudAWS, nil, nil)
	if apierr.From(err).Status != 400 {
		t.Errorf("err = %v, want 400", err)
	}
}

func TestResolveAllFromSingleLicense(t *testing.T) {
	r := newResolver(coreCatalog())
	res, err := r.Resolve(context.Background(), testTenant, CloudAWS, nil, []*license.License{awsLicense("L1")})
	if err != nil {
		t.Fatal(err)
	}
	if res.License == nil || res.License.LicenseKey != "L1" {
		t.Fatalf("license = %+v", res.License)
	}
	if got := res.Serialize(); !reflect.DeepEqual(got, []string{"RS-AWS-CORE::L1"}) {
		t.Errorf("Serialize = %v", got)
	}
	if got := res.RuleNames(); len(got) != 2 {
		t.Errorf("RuleNames = %v", got)
	}
}

func TestResolveAmbiguousLicenses(t *testing.T) {
	r := newResolver(coreCatalog())
	_, err := r.Resolve(context.Background(), testTenant, CloudAWS, nil,
		[]*license.License{awsLicense("L1"), awsLicense("L2")})
	e := apierr.From(err)
	if e.Status != 409 {
		t.Fatalf("err = %v, want 409", err)
	}
	if !containsAll(e.Message, "L1", "L2", "Specify the desired license key") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestResolveLocalByName(t *testing.T) {
	r := newResolver(coreCatalog())
	res, err := r.Resolve(context.Background(), testTenant, CloudAWS,
		[]ruleset.Name{{Name: "LOCAL"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.License != nil {
		t.Error("local resolution must not select a license")
	}
	if got := res.Serialize(); !reflect.DeepEqual(got, []string{"LOCAL:2.0.0"}) {
		t.Errorf("Serialize = %v", got)
	}
}

func TestResolveLocalMissingName(t *testing.T) {
	r := newResolver(coreCatalog())
	_, err := r.Resolve(context.Background(), testTenant, CloudAWS,
		[]ruleset.Name{{Name: "NOPE"}}, nil)
	if apierr.From(err).Status != 404 {
		t.Errorf("err = %v, want 404", err)
	}
}

func TestResolveLocalCloudMismatch(t *testing.T) {
	catalog := coreCatalog()
	catalog.local["C1"]["AZ"] = &ruleset.Ruleset{Name: "AZ", Version: "1.0.0", Cloud: CloudAzure}
	r := newResolver(catalog)
	_, err := r.Resolve(context.Background(), testTenant, CloudAWS,
		[]ruleset.Name{{Name: "AZ"}}, nil)
	if apierr.From(err).Status != 400 {
		t.Errorf("err = %v, want 400", err)
	}
}

func TestResolveNamesAndLicensesMixed(t *testing.T) {
	r := newResolver(coreCatalog())
	res, err := r.Resolve(context.Background(), testTenant, CloudAWS,
		[]ruleset.Name{{Name: "RS-AWS-CORE"}, {Name: "LOCAL"}},
		[]*license.License{awsLicense("L1")})
	if err != nil {
		t.Fatal(err)
	}
	if res.License == nil || res.License.LicenseKey != "L1" {
		t.Fatalf("license = %+v", res.License)
	}
	got := res.Serialize()
	want := []string{"LOCAL:2.0.0", "RS-AWS-CORE::L1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Serialize = %v, want %v", got, want)
	}
}

func TestResolveLicensedVersionGate(t *testing.T) {
	r := newResolver(coreCatalog())
	// Version 1.0.0 is released by the license.
	res, err := r.Resolve(context.Background(), testTenant, CloudAWS,
		[]ruleset.Name{{Name: "RS-AWS-CORE", Version: "1.0.0"}},
		[]*license.License{awsLicense("L1")})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Licensed) != 1 {
		t.Fatalf("licensed = %+v", res.Licensed)
	}

	// An unknown version falls through to local resolution and misses.
	_, err = r.Resolve(context.Background(), testTenant, CloudAWS,
		[]ruleset.Name{{Name: "RS-AWS-CORE", Version: "9.9.9"}},
		[]*license.License{awsLicense("L1")})
	if apierr.From(err).Status != 404 {
		t.Errorf("err = %v, want 404", err)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		found := false
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
