package ruleset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path"
	"sort"
)

// Bundle is the policy document uploaded to the blob store for a ruleset
// version.
type Bundle struct {
	Policies []map[string]any `json:"policies"`
}

// PolicyNames returns the names of the bundle's policies as a set.
func (b Bundle) PolicyNames() map[string]struct{} {
	out := make(map[string]struct{}, len(b.Policies))
	for _, p := range b.Policies {
		if name, ok := p["name"].(string); ok {
			out[name] = struct{}{}
		}
	}
	return out
}

// PolicyMap indexes the bundle's policies by name.
func (b Bundle) PolicyMap() map[string]map[string]any {
	out := make(map[string]map[string]any, len(b.Policies))
	for _, p := range b.Policies {
		if name, ok := p["name"].(string); ok {
			out[name] = p
		}
	}
	return out
}

// BundleFromPolicyMap builds a bundle with deterministically ordered
// policies.
func BundleFromPolicyMap(policies map[string]map[string]any) Bundle {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	b := Bundle{Policies: make([]map[string]any, 0, len(names))}
	for _, name := range names {
		b.Policies = append(b.Policies, policies[name])
	}
	return b
}

// HashPolicyMap computes the compare-by-content hash of a name→policy map:
// entries are stable-serialized in name order, each policy hashed with
// SHA-256, and the concatenated digests hashed once more. Two maps with the
// same policies always hash equal regardless of construction order.
func HashPolicyMap(policies map[string]map[string]any) string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	total := sha256.New()
	for _, name := range names {
		// encoding/json writes map keys in sorted order, which makes the
		// per-policy serialization stable.
		data, err := json.Marshal(policies[name])
		if err != nil {
			data = []byte(name)
		}
		digest := sha256.Sum256(data)
		total.Write(digest[:])
	}
	return hex.EncodeToString(total.Sum(nil))
}

// BundleKey builds the blob-store key for a standard ruleset version:
// rulesets/standard/<customer>/<name>/<version>.json.gz
func BundleKey(customer, name, version string) string {
	return path.Join("rulesets", "standard", customer, name, version+".json.gz")
}

// LicensedBundleKey builds the blob-store key for a licensed ruleset:
// rulesets/licensed/<license>/<ruleset-id>.json.gz
func LicensedBundleKey(licenseKey, rulesetID string) string {
	return path.Join("rulesets", "licensed", licenseKey, rulesetID+".json.gz")
}
