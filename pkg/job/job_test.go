package job

import (
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/ruleengine/controlplane/internal/apierr"
	"github.com/ruleengine/controlplane/internal/db"
	"github.com/ruleengine/controlplane/pkg/license"
	"github.com/ruleengine/controlplane/pkg/ruleset"
)

func TestIsTerminal(t *testing.T) {
	for _, st := range []string{StatusPending, StatusSubmitted, StatusRunnable, StatusStarting, StatusRunning} {
		if IsTerminal(st) {
			t.Errorf("%s must not be terminal", st)
		}
	}
	for _, st := range []string{StatusSucceeded, StatusFailed} {
		if !IsTerminal(st) {
			t.Errorf("%s must be terminal", st)
		}
	}
}

func TestResolveRegions(t *testing.T) {
	aws := db.Tenant{Name: "T1", Cloud: CloudAWS, ActiveRegions: []string{"us-east-1", "eu-west-1"}}

	got, err := resolveRegions(aws, []string{"us-east-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"us-east-1"}) {
		t.Errorf("regions = %v", got)
	}

	// Empty request scans all active regions.
	got, err = resolveRegions(aws, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, aws.ActiveRegions) {
		t.Errorf("regions = %v", got)
	}

	// Requesting an inactive region is a bad request.
	if _, err := resolveRegions(aws, []string{"us-west-2"}); err == nil {
		t.Error("inactive region must be rejected")
	} else if apierr.From(err).Status != 400 {
		t.Errorf("status = %d, want 400", apierr.From(err).Status)
	}

	// Azure and GCP always scan globally.
	for _, cloud := range []string{CloudAzure, CloudGoogle} {
		got, err := resolveRegions(db.Tenant{Cloud: cloud}, []string{"westeurope"})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, []string{GlobalRegion}) {
			t.Errorf("%s regions = %v, want [global]", cloud, got)
		}
	}
}

func TestResolutionSerialize(t *testing.T) {
	lic := &license.License{LicenseKey: "L1"}
	res := Resolution{
		Standard: []ResolvedRuleset{{Name: ruleset.Name{Name: "LOCAL", Version: "1.0.0"}}},
		License:  lic,
		Licensed: []ResolvedRuleset{{Name: ruleset.Name{Name: "RS-AWS-CORE"}}},
	}
	got := res.Serialize()
	want := []string{"LOCAL:1.0.0", "RS-AWS-CORE::L1"}
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Serialize = %v, want %v", got, want)
	}
}

func TestResolutionRuleNames(t *testing.T) {
	res := Resolution{
		Standard: []ResolvedRuleset{{Rules: []string{"a", "b"}}},
		Licensed: []ResolvedRuleset{{Rules: []string{"b", "c"}}},
	}
	got := res.RuleNames()
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("RuleNames = %v", got)
	}
}

func TestResolveRulesToScan(t *testing.T) {
	available := []string{"ecc-aws-001-x", "ecc-aws-002-y"}

	got, err := resolveRulesToScan([]string{"001"}, available, CloudAWS)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"ecc-aws-001-x"}) {
		t.Errorf("resolved = %v", got)
	}

	if _, err := resolveRulesToScan([]string{"999"}, available, CloudAWS); err == nil {
		t.Error("unresolvable rule must be rejected")
	} else if apierr.From(err).Status != 400 {
		t.Errorf("status = %d, want 400", apierr.From(err).Status)
	}

	got, err = resolveRulesToScan(nil, available, CloudAWS)
	if err != nil || got != nil {
		t.Errorf("empty request = %v, %v", got, err)
	}
}

func TestBatchJobName(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	name := BatchJobName("tenant one", at)
	for _, ch := range []byte(name) {
		ok := ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '-' || ch == '_'
		if !ok {
			t.Fatalf("invalid character %q in batch job name %q", ch, name)
		}
	}
}

func TestEnvBuilder(t *testing.T) {
	b := EnvBuilder{
		AWSRegion:        "eu-central-1",
		ReportsBucket:    "reports",
		RulesetsBucket:   "rulesets",
		StatisticsBucket: "stats",
		LogLevel:         "DEBUG",
		LifetimeMinutes:  120,
		SystemCustomer:   "SYSTEM",
	}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	env := b.ForJob(JobEnvParams{
		JobID:            "j-1",
		JobType:          TypeStandard,
		TargetRegions:    []string{"us-east-1", "eu-west-1"},
		CredentialsKey:   "ck",
		AffectedLicenses: []string{"tlk-1"},
		SubmittedAt:      at,
	})
	if env[EnvJobID] != "j-1" || env[EnvJobType] != TypeStandard {
		t.Errorf("env = %v", env)
	}
	if env[EnvTargetRegions] != "us-east-1,eu-west-1" {
		t.Errorf("target regions = %q", env[EnvTargetRegions])
	}
	if env[EnvAffectedLicenses] != "tlk-1" || env[EnvCredentialsKey] != "ck" {
		t.Errorf("env = %v", env)
	}
	if env[EnvSubmittedAt] != "2025-06-01T12:00:00Z" {
		t.Errorf("submitted at = %q", env[EnvSubmittedAt])
	}
	if _, ok := env[EnvBatchResultsIDs]; ok {
		t.Error("standard jobs must not carry batch results ids")
	}

	ed := b.ForBatchResults([]string{"br-1", "br-2"}, at)
	if ed[EnvBatchResultsIDs] != "br-1,br-2" {
		t.Errorf("batch results ids = %q", ed[EnvBatchResultsIDs])
	}
	if ed[EnvJobType] != TypeEventDriven {
		t.Errorf("job type = %q", ed[EnvJobType])
	}
	if _, ok := ed[EnvJobID]; ok {
		t.Error("event-driven runs must not carry a single job id")
	}
}

func TestStatusRankForwardOnly(t *testing.T) {
	order := []string{StatusPending, StatusSubmitted, StatusRunnable, StatusStarting, StatusRunning, StatusSucceeded}
	for i := 1; i < len(order); i++ {
		if statusRank[order[i]] <= statusRank[order[i-1]] {
			t.Errorf("rank(%s) must exceed rank(%s)", order[i], order[i-1])
		}
	}
	if statusRank[StatusFailed] != statusRank[StatusSucceeded] {
		t.Error("both terminal states must rank equally")
	}
}
