package rulename

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		id   string
		want Parsed
	}{
		{
			id:   "ecc-aws-042-human-name",
			want: Parsed{Vendor: "ecc", Cloud: "AWS", Number: "042", HumanName: "human-name"},
		},
		{
			id:   "ecc-azure-001-storage",
			want: Parsed{Vendor: "ecc", Cloud: "AZURE", Number: "001", HumanName: "storage"},
		},
		{
			id:   "ecc-gcp-100",
			want: Parsed{Vendor: "ecc", Cloud: "GOOGLE", Number: "100"},
		},
		{
			id:   "ecc-k8s-005-pod-security",
			want: Parsed{Vendor: "ecc", Cloud: "KUBERNETES", Number: "005", HumanName: "pod-security"},
		},
		{
			// Second token is not a cloud: everything after the vendor is
			// the human name.
			id:   "ecc-something-else",
			want: Parsed{Vendor: "ecc", HumanName: "something-else"},
		},
		{
			id:   "ecc",
			want: Parsed{Vendor: "ecc"},
		},
		{
			id:   "",
			want: Parsed{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := Parse(tt.id)
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.id, got, tt.want)
			}
		})
	}
}

func TestResolverUnique(t *testing.T) {
	r := NewResolver([]string{"ecc-aws-001-x", "ecc-aws-002-y"})

	res := r.ResolveOne("001")
	if !res.Resolved || !reflect.DeepEqual(res.Names, []string{"ecc-aws-001-x"}) {
		t.Errorf("ResolveOne(001) = %+v", res)
	}

	res = r.ResolveOne("missing")
	if res.Resolved {
		t.Errorf("expected unresolved, got %+v", res)
	}
}

func TestResolverAmbiguous(t *testing.T) {
	from := []string{"ecc-aws-001-x", "ecc-aws-010-z"}

	// Both ids contain "ecc-aws-0": without options the fragment must be
	// reported unresolved, never silently collapsed.
	strict := NewResolver(from)
	if res := strict.ResolveOne("ecc-aws-0"); res.Resolved {
		t.Errorf("strict resolver resolved ambiguous input: %+v", res)
	}

	multiple := NewResolver(from, AllowMultiple())
	res := multiple.ResolveOne("ecc-aws-0")
	if !res.Resolved || len(res.Names) != 2 {
		t.Errorf("AllowMultiple = %+v", res)
	}

	ambiguous := NewResolver(from, AllowAmbiguous())
	res = ambiguous.ResolveOne("ecc-aws-0")
	if !res.Resolved || len(res.Names) != 1 {
		t.Errorf("AllowAmbiguous = %+v", res)
	}
}

func TestResolveMany(t *testing.T) {
	r := NewResolver([]string{"ecc-aws-001-x", "ecc-aws-002-y"}, AllowMultiple())
	resolved, unresolved := r.Resolve([]string{"001", "002", "zzz"})
	if !reflect.DeepEqual(resolved, []string{"ecc-aws-001-x", "ecc-aws-002-y"}) {
		t.Errorf("resolved = %v", resolved)
	}
	if !reflect.DeepEqual(unresolved, []string{"zzz"}) {
		t.Errorf("unresolved = %v", unresolved)
	}
}
