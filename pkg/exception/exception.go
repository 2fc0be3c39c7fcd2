// Package exception implements resource exceptions: tenant-scoped rules
// that exclude individual cloud resources from findings, matched by ARN, by
// (id, type, location), or by tag filters, and the filter that intersects a
// shards collection against them.
package exception

import (
	"time"

	"github.com/google/uuid"
)

// ResourceException excludes resources from findings until it expires.
// Exactly one identification mode is set: ARN, the (resourceId,
// resourceType, location) triple, or tag filters.
type ResourceException struct {
	ID           uuid.UUID
	Customer     string
	TenantName   string
	ARN          string
	ResourceID   string
	ResourceType string
	Location     string
	// TagsFilters are "key=value" tokens; a resource matches when it
	// carries every listed tag.
	TagsFilters []string
	ExpireAt    time.Time
	CreatedAt   time.Time
}

// Expired reports whether the exception lapsed as of now.
func (e ResourceException) Expired(now time.Time) bool {
	return now.After(e.ExpireAt)
}

// Mode names the identification mode an exception uses.
func (e ResourceException) Mode() string {
	switch {
	case e.ARN != "":
		return "arn"
	case e.ResourceID != "":
		return "resource"
	case len(e.TagsFilters) > 0:
		return "tags"
	default:
		return "invalid"
	}
}
