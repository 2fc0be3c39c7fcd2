// Package shard implements the sharded, merge-friendly on-disk
// representation of scan findings: parts keyed by (policy, region), N-way
// distributed shards, timestamp-monotonic merge, set difference, and
// gzip-JSON persistence in the blob store.
package shard

import (
	"crypto/sha256"
	"encoding/json"
	"sort"
	"strings"
)

// GlobalRegion is the location used for findings that are not bound to a
// concrete cloud region.
const GlobalRegion = "global"

// Error kinds carried in Part.Error as a "kind:message" string.
const (
	ErrorKindAccess      = "ACCESS"
	ErrorKindCredentials = "CREDENTIALS"
	ErrorKindClient      = "CLIENT"
	ErrorKindSkipped     = "SKIPPED"
	ErrorKindInternal    = "INTERNAL"
)

// Resource is one raw finding produced by the scanner.
type Resource map[string]any

// Part records the outcome of one policy execution against one location.
//
// Policy, Location and Timestamp always exist: the policy was last executed
// against the location at the timestamp. A nil Error means the latest
// execution succeeded and Resources is the truth as of Timestamp. A non-nil
// Error means the latest execution failed at Timestamp; in that case
// Resources and PreviousTimestamp carry the last successful state, and when
// PreviousTimestamp is nil the policy never succeeded and Resources must be
// ignored.
type Part struct {
	Policy            string     `json:"p"`
	Location          string     `json:"l"`
	Timestamp         float64    `json:"t"`
	Resources         []Resource `json:"r"`
	Error             *string    `json:"e,omitempty"`
	PreviousTimestamp *float64   `json:"T,omitempty"`
}

// HasError reports whether the latest execution failed.
func (p Part) HasError() bool {
	return p.Error != nil
}

// LastSuccessfulTimestamp returns the timestamp of the latest successful
// execution, or nil when the policy never succeeded.
func (p Part) LastSuccessfulTimestamp() *float64 {
	if p.Error == nil {
		t := p.Timestamp
		return &t
	}
	return p.PreviousTimestamp
}

// ErrorKind returns the kind prefix of the error string, or "" without error.
func (p Part) ErrorKind() string {
	if p.Error == nil {
		return ""
	}
	kind, _, _ := strings.Cut(*p.Error, ":")
	return kind
}

// ErrorMessage returns the message half of the error string.
func (p Part) ErrorMessage() string {
	if p.Error == nil {
		return ""
	}
	_, msg, _ := strings.Cut(*p.Error, ":")
	return msg
}

// hashResource produces a stable digest of a resource. encoding/json
// serializes map keys in sorted order, which makes the digest independent of
// insertion order; nested maps are normalized recursively by the encoder.
func hashResource(r Resource) [32]byte {
	data, err := json.Marshal(r)
	if err != nil {
		// Resources come straight out of json decoding, so they always
		// re-encode; the fallback keeps the digest total.
		data = []byte(err.Error())
	}
	return sha256.Sum256(data)
}

// resourceSet indexes resources by digest for set arithmetic.
func resourceSet(resources []Resource) map[[32]byte]Resource {
	set := make(map[[32]byte]Resource, len(resources))
	for _, r := range resources {
		set[hashResource(r)] = r
	}
	return set
}

// subtractResources returns the resources of a that are not in b, in a
// deterministic order.
func subtractResources(a, b []Resource) []Resource {
	old := resourceSet(b)
	type keyed struct {
		key [32]byte
		r   Resource
	}
	var kept []keyed
	seen := make(map[[32]byte]struct{})
	for _, r := range a {
		k := hashResource(r)
		if _, ok := old[k]; ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, keyed{key: k, r: r})
	}
	sort.Slice(kept, func(i, j int) bool {
		return string(kept[i].key[:]) < string(kept[j].key[:])
	})
	out := make([]Resource, 0, len(kept))
	for _, k := range kept {
		out = append(out, k.r)
	}
	return out
}
