package ruleset

import (
	"testing"
	"time"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in   string
		want Name
	}{
		{"RS-AWS-CORE", Name{Name: "RS-AWS-CORE"}},
		{"RS-AWS-CORE:1.0.0", Name{Name: "RS-AWS-CORE", Version: "1.0.0"}},
		{"RS-AWS-CORE:1.0.0:L1", Name{Name: "RS-AWS-CORE", Version: "1.0.0", LicenseKey: "L1"}},
		{"RS-AWS-CORE::L1", Name{Name: "RS-AWS-CORE", LicenseKey: "L1"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseName(tt.in); got != tt.want {
				t.Errorf("ParseName(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if got := tt.want.String(); got != tt.in {
				t.Errorf("String() = %q, want %q", got, tt.in)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	v, err := ParseVersion("1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "1.2.3" {
		t.Errorf("String = %q", v.String())
	}
	if !IsSemVer("v2.0.0") {
		t.Error("leading v must be tolerated")
	}
	for _, bad := range []string{"1.2", "1.2.3.4", "a.b.c", ""} {
		if IsSemVer(bad) {
			t.Errorf("IsSemVer(%q) = true", bad)
		}
	}

	older, _ := ParseVersion("1.2.3")
	newer, _ := ParseVersion("1.10.0")
	if older.Compare(newer) != -1 || newer.Compare(older) != 1 {
		t.Error("numeric comparison must not be lexicographic")
	}
	if older.Compare(older) != 0 {
		t.Error("equal versions must compare 0")
	}
}

func TestHashPolicyMapStability(t *testing.T) {
	a := map[string]map[string]any{
		"r1": {"name": "r1", "resource": "aws.s3", "filters": []any{"x"}},
		"r2": {"name": "r2", "resource": "aws.ec2"},
	}
	b := map[string]map[string]any{
		"r2": {"name": "r2", "resource": "aws.ec2"},
		"r1": {"resource": "aws.s3", "name": "r1", "filters": []any{"x"}},
	}
	if HashPolicyMap(a) != HashPolicyMap(b) {
		t.Error("hash must be independent of map construction order")
	}

	c := map[string]map[string]any{
		"r1": {"name": "r1", "resource": "aws.s3"},
		"r2": {"name": "r2", "resource": "aws.ec2"},
	}
	if HashPolicyMap(a) == HashPolicyMap(c) {
		t.Error("hash must change when policy content changes")
	}
}

func TestBundlePolicyNamesMatchRules(t *testing.T) {
	rules := []*Rule{
		{Name: "ecc-aws-001-x", Resource: "aws.s3", Severity: "High"},
		{Name: "ecc-aws-002-y", Resource: "aws.ec2"},
	}
	policies := make(map[string]map[string]any)
	for _, r := range rules {
		policies[r.Name] = r.BuildPolicy()
	}
	bundle := BundleFromPolicyMap(policies)

	names := bundle.PolicyNames()
	if len(names) != len(rules) {
		t.Fatalf("bundle has %d policies, want %d", len(names), len(rules))
	}
	for _, r := range rules {
		if _, ok := names[r.Name]; !ok {
			t.Errorf("bundle missing policy %s", r.Name)
		}
	}
}

func TestParseComment(t *testing.T) {
	idx := ParseComment("AWS#security#storage#github")
	want := CommentIndex{Platform: "AWS", Category: "security", ServiceSection: "storage", Source: "github"}
	if idx != want {
		t.Errorf("ParseComment = %+v, want %+v", idx, want)
	}
	partial := ParseComment("AWS#security")
	if partial.Platform != "AWS" || partial.Category != "security" || partial.Source != "" {
		t.Errorf("partial comment = %+v", partial)
	}
}

func TestDedupeLatest(t *testing.T) {
	older := &Rule{Name: "r1", UpdatedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := &Rule{Name: "r1", UpdatedDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	other := &Rule{Name: "r2", UpdatedDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}

	out := dedupeLatest([]*Rule{older, newer, other})
	if len(out) != 2 {
		t.Fatalf("deduped to %d rules, want 2", len(out))
	}
	for _, r := range out {
		if r.Name == "r1" && !r.UpdatedDate.Equal(newer.UpdatedDate) {
			t.Error("dedupe must keep the newest rule per name")
		}
	}
}

func TestApplyMappingFilters(t *testing.T) {
	rules := []*Rule{
		{Name: "r1", Comment: "AWS#security#storage#github"},
		{Name: "r2", Comment: "AWS#cost#compute#github"},
		{Name: "r3", Comment: "GCP#security#storage#gitlab"},
	}

	out := applyMappingFilters(rules, CreateRequest{Categories: []string{"security"}})
	if len(out) != 2 {
		t.Fatalf("category filter kept %d, want 2", len(out))
	}

	out = applyMappingFilters(rules, CreateRequest{Platforms: []string{"AWS"}, Categories: []string{"security"}})
	if len(out) != 1 || out[0].Name != "r1" {
		t.Fatalf("conjunctive filter = %+v", out)
	}

	out = applyMappingFilters(rules, CreateRequest{})
	if len(out) != 3 {
		t.Fatal("no filters must keep everything")
	}
}
