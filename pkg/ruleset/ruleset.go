// Package ruleset implements ruleset composition and versioning: resolving,
// creating, updating, and releasing versioned bundles of policy rules, plus
// the content-hash guard that blocks no-op version bumps.
package ruleset

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ruleset is one version of a named rule bundle for a specific cloud.
type Ruleset struct {
	ID          uuid.UUID
	Customer    string
	Name        string
	Version     string // SemVer or "" for unversioned licensed items
	Cloud       string
	Rules       []string
	Licensed    bool
	EventDriven bool
	LMID        string // LM ruleset id for licensed rulesets
	S3Bucket    string
	S3Key       string
	LicenseKeys []string
	Description string
	CreatedAt   time.Time
	// Versions is populated on licensed rulesets: every version LM has
	// released for the LM id.
	Versions []string
}

// Name is a ruleset reference in name[:version[:licenseKey]] form, used in
// job requests and in the executor environment.
type Name struct {
	Name       string
	Version    string
	LicenseKey string
}

// ParseName splits a name[:version[:licenseKey]] reference.
func ParseName(s string) Name {
	parts := strings.SplitN(s, ":", 3)
	n := Name{Name: parts[0]}
	if len(parts) > 1 {
		n.Version = parts[1]
	}
	if len(parts) > 2 {
		n.LicenseKey = parts[2]
	}
	return n
}

// String serializes the reference, omitting trailing empty parts.
func (n Name) String() string {
	switch {
	case n.LicenseKey != "":
		return n.Name + ":" + n.Version + ":" + n.LicenseKey
	case n.Version != "":
		return n.Name + ":" + n.Version
	default:
		return n.Name
	}
}

// Version is a parsed SemVer major.minor.patch triple.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses "major.minor.patch". Leading "v" is tolerated.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(s, "v")
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: want major.minor.patch", s)
	}
	var v Version
	var err error
	if v.Major, err = strconv.Atoi(parts[0]); err != nil {
		return Version{}, fmt.Errorf("invalid major in %q", s)
	}
	if v.Minor, err = strconv.Atoi(parts[1]); err != nil {
		return Version{}, fmt.Errorf("invalid minor in %q", s)
	}
	if v.Patch, err = strconv.Atoi(parts[2]); err != nil {
		return Version{}, fmt.Errorf("invalid patch in %q", s)
	}
	return v, nil
}

// String renders the version back to major.minor.patch.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 comparing v to o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmp(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmp(v.Minor, o.Minor)
	default:
		return cmp(v.Patch, o.Patch)
	}
}

func cmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsSemVer reports whether s parses as major.minor.patch.
func IsSemVer(s string) bool {
	_, err := ParseVersion(s)
	return err == nil
}

// Rule is one policy rule with the metadata the composition and mapping
// paths need.
type Rule struct {
	ID          string // customer#cloud#name#version
	Name        string
	Customer    string
	Cloud       string
	Version     string
	Resource    string
	Description string
	Filters     []byte // raw JSON filter expression
	Location    string // project#ref#path
	CommitHash  string
	UpdatedDate time.Time
	Severity    string
	Mitre       []string
	// Events maps event source → event names; input to the event mapping
	// collector.
	Events map[string][]string
	// Comment is the classification index: platform#category#serviceSection#source.
	Comment string
}

// CommentIndex is the decomposition of a rule's comment field.
type CommentIndex struct {
	Platform       string
	Category       string
	ServiceSection string
	Source         string
}

// ParseComment splits the rule comment index.
func ParseComment(comment string) CommentIndex {
	parts := strings.SplitN(comment, "#", 4)
	var idx CommentIndex
	if len(parts) > 0 {
		idx.Platform = parts[0]
	}
	if len(parts) > 1 {
		idx.Category = parts[1]
	}
	if len(parts) > 2 {
		idx.ServiceSection = parts[2]
	}
	if len(parts) > 3 {
		idx.Source = parts[3]
	}
	return idx
}

// BuildPolicy renders the rule as the policy document that goes into a
// bundle.
func (r Rule) BuildPolicy() map[string]any {
	policy := map[string]any{
		"name":     r.Name,
		"resource": r.Resource,
	}
	if r.Description != "" {
		policy["description"] = r.Description
	}
	if len(r.Filters) > 0 {
		policy["filters"] = json.RawMessage(r.Filters)
	}
	if r.Severity != "" || r.Comment != "" {
		meta := map[string]any{}
		if r.Severity != "" {
			meta["severity"] = r.Severity
		}
		if r.Comment != "" {
			meta["comment"] = r.Comment
		}
		policy["metadata"] = meta
	}
	return policy
}

// RuleSource describes where rules were synced from.
type RuleSource struct {
	ID           uuid.UUID
	Customer     string
	Type         string // GITHUB, GITLAB, GITHUB_RELEASE
	GitProjectID string
	GitRef       string
	ReleaseTag   string
	CommitHash   string
	SyncedAt     time.Time
	SyncStatus   string
}

// Rule source types.
const (
	SourceGithub        = "GITHUB"
	SourceGitlab        = "GITLAB"
	SourceGithubRelease = "GITHUB_RELEASE"
)
