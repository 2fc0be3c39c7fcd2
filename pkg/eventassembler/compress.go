package eventassembler

import (
	"sort"
	"strings"
)

// compressRegionRuleMap shrinks a region→rules map by inverting it to
// rules→regions and grouping rules under a CSV of their sorted region
// tuple. On small payloads the benefit is marginal; the scanner parses both
// shapes.
//
//	{"eu-central-1": {one two three}, "eu-west-1": {one two}}
//	→ {"eu-central-1": ["three"], "eu-central-1,eu-west-1": ["one", "two"]}
func compressRegionRuleMap(mapping map[string]map[string]struct{}) map[string][]string {
	ruleRegions := make(map[string][]string)
	for region, rules := range mapping {
		for rule := range rules {
			ruleRegions[rule] = append(ruleRegions[rule], region)
		}
	}

	out := make(map[string][]string)
	for rule, regions := range ruleRegions {
		sort.Strings(regions)
		key := strings.Join(regions, ",")
		out[key] = append(out[key], rule)
	}
	for key := range out {
		sort.Strings(out[key])
	}
	return out
}
