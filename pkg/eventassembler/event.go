// Package eventassembler implements the cursor-driven audit event pipeline:
// partitioned ingestion, timestamp-ordered merging, per-vendor filtering and
// deduplication, event→rule mapping, per-tenant BatchResults production, and
// multi-tenant batch job submission.
package eventassembler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event vendors.
const (
	VendorAWS     = "AWS"
	VendorMaestro = "MAESTRO"
)

// Event is one audit-event partition record. Partition assignment is random
// at creation; the timestamp is insertion time.
type Event struct {
	ID        uuid.UUID
	Partition int
	Timestamp float64
	Vendor    string
	Events    []map[string]any
	CreatedAt time.Time
}

// BatchResults describes the event-driven scope (rules × regions) a single
// batch job run must cover for one tenant.
type BatchResults struct {
	ID                uuid.UUID
	TenantName        string
	Customer          string
	CloudIdentifier   string
	Rules             map[string][]string // region (or region CSV) → rule names
	RegistrationStart string
	RegistrationEnd   string
	SubmittedAt       string
	Status            string
	CreatedAt         time.Time
}

// digest produces a stable identity for an event record so duplicates from
// the overlap window collapse. encoding/json emits map keys sorted, which
// makes the digest independent of key order.
func digest(record map[string]any) string {
	data, err := json.Marshal(record)
	if err != nil {
		return err.Error()
	}
	return string(data)
}

// withoutDuplicates yields each distinct record once, preserving order.
func withoutDuplicates(records []map[string]any) []map[string]any {
	emitted := make(map[string]struct{}, len(records))
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		d := digest(r)
		if _, ok := emitted[d]; ok {
			continue
		}
		emitted[d] = struct{}{}
		out = append(out, r)
	}
	return out
}

// deepGet walks nested maps by keys, returning "" when any hop is missing
// or not a string at the leaf.
func deepGet(record map[string]any, keys ...string) string {
	var current any = record
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[key]
	}
	s, _ := current.(string)
	return s
}

// restrictRegionRuleMap intersects each region's rules with the allowed set,
// dropping regions that end up empty.
func restrictRegionRuleMap(mapping map[string]map[string]struct{}, allowed map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for region, rules := range mapping {
		intersection := make(map[string]struct{})
		for rule := range rules {
			if _, ok := allowed[rule]; ok {
				intersection[rule] = struct{}{}
			}
		}
		if len(intersection) > 0 {
			out[region] = intersection
		}
	}
	return out
}
