// Package scheduledjob implements cron-bound job definitions: registration
// freezes the ruleset/region selection the admission resolver produced, and
// an in-process scheduler re-runs admission with that frozen selection on
// every firing.
package scheduledjob

import (
	"time"

	"github.com/google/uuid"
)

// TypeStandard is the only scheduled job type.
const TypeStandard = "STANDARD"

// ScheduledJob is one persisted cron-bound job definition. Name uniqueness
// is (customer, name).
type ScheduledJob struct {
	ID          uuid.UUID
	Name        string
	Customer    string
	TenantName  string
	Type        string
	Schedule    string // cron expression
	Description string
	// Rulesets and Regions are the frozen selection admission resolved at
	// registration time; firings reuse it without re-resolving.
	Rulesets  []string
	Regions   []string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
