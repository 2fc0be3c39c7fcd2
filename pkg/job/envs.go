package job

import (
	"strconv"
	"strings"
	"time"
)

// Executor environment variable names. These are the wire contract with the
// scanner container; do not rename.
const (
	EnvBatchResultsIDs    = "BATCH_RESULTS_IDS"
	EnvJobID              = "CUSTODIAN_JOB_ID"
	EnvTargetRegions      = "TARGET_REGIONS"
	EnvAffectedLicenses   = "AFFECTED_LICENSES"
	EnvJobType            = "JOB_TYPE"
	EnvSubmittedAt        = "SUBMITTED_AT"
	EnvCredentialsKey     = "CREDENTIALS_KEY"
	EnvPlatformID         = "PLATFORM_ID"
	EnvSystemCustomer     = "SYSTEM_CUSTOMER_NAME"
	EnvJobLifetimeMinutes = "BATCH_JOB_LIFETIME_MINUTES"
	EnvLogLevel           = "BATCH_JOB_LOG_LEVEL"
	EnvReportsBucket      = "REPORTS_BUCKET_NAME"
	EnvRulesetsBucket     = "RULESETS_BUCKET_NAME"
	EnvStatisticsBucket   = "STATISTICS_BUCKET_NAME"
	EnvAWSRegion          = "AWS_REGION"
	EnvMinCoreVersion     = "MIN_CORE_VERSION"
	EnvCurrentCoreVersion = "CURRENT_CORE_VERSION"
)

// EnvBuilder assembles executor environments from deployment configuration.
type EnvBuilder struct {
	AWSRegion          string
	ReportsBucket      string
	RulesetsBucket     string
	StatisticsBucket   string
	LogLevel           string
	LifetimeMinutes    int
	SystemCustomer     string
	MinCoreVersion     string
	CurrentCoreVersion string
}

// Common returns the bootstrap environment every run gets.
func (b EnvBuilder) Common(jobType string, submittedAt time.Time) map[string]string {
	return map[string]string{
		EnvReportsBucket:      b.ReportsBucket,
		EnvRulesetsBucket:     b.RulesetsBucket,
		EnvStatisticsBucket:   b.StatisticsBucket,
		EnvAWSRegion:          b.AWSRegion,
		EnvJobLifetimeMinutes: strconv.Itoa(b.LifetimeMinutes),
		EnvLogLevel:           b.LogLevel,
		EnvJobType:            jobType,
		EnvSubmittedAt:        submittedAt.UTC().Format(time.RFC3339),
		EnvSystemCustomer:     b.SystemCustomer,
		EnvMinCoreVersion:     b.MinCoreVersion,
		EnvCurrentCoreVersion: b.CurrentCoreVersion,
	}
}

// JobEnvParams describes one standard or scheduled run.
type JobEnvParams struct {
	JobID            string
	JobType          string
	TargetRegions    []string
	CredentialsKey   string
	PlatformID       string
	AffectedLicenses []string
	LifetimeMinutes  int // overrides the deployment default when > 0
	SubmittedAt      time.Time
}

// ForJob builds the environment for a single-tenant run.
func (b EnvBuilder) ForJob(p JobEnvParams) map[string]string {
	env := b.Common(p.JobType, p.SubmittedAt)
	env[EnvJobID] = p.JobID
	if len(p.TargetRegions) > 0 {
		env[EnvTargetRegions] = strings.Join(p.TargetRegions, ",")
	}
	if p.CredentialsKey != "" {
		env[EnvCredentialsKey] = p.CredentialsKey
	}
	if p.PlatformID != "" {
		env[EnvPlatformID] = p.PlatformID
	}
	if len(p.AffectedLicenses) > 0 {
		env[EnvAffectedLicenses] = strings.Join(p.AffectedLicenses, ",")
	}
	if p.LifetimeMinutes > 0 {
		env[EnvJobLifetimeMinutes] = strconv.Itoa(p.LifetimeMinutes)
	}
	return env
}

// ForBatchResults builds the environment for a multi-tenant event-driven
// run covering the listed batch-results ids.
func (b EnvBuilder) ForBatchResults(ids []string, submittedAt time.Time) map[string]string {
	env := b.Common(TypeEventDriven, submittedAt)
	env[EnvBatchResultsIDs] = strings.Join(ids, ",")
	return env
}

// BatchJobName builds a Batch-safe job name from an owner and timestamp.
func BatchJobName(owner string, submittedAt time.Time) string {
	name := owner + "-" + submittedAt.UTC().Format(time.RFC3339)
	out := make([]byte, 0, len(name))
	for _, ch := range []byte(name) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
