// Package job implements scan job admission and dispatch: request
// validation, ruleset resolution against licenses and local rulesets, the
// per-tenant job lock, executor submission, lifecycle tracking, and the
// background status reconciler.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses, mirroring the executor's lifecycle. PENDING is the state at
// admission before the executor acknowledges the submission.
const (
	StatusPending   = "PENDING"
	StatusSubmitted = "SUBMITTED"
	StatusRunnable  = "RUNNABLE"
	StatusStarting  = "STARTING"
	StatusRunning   = "RUNNING"
	StatusFailed    = "FAILED"
	StatusSucceeded = "SUCCEEDED"
)

// IsTerminal reports whether a status is final.
func IsTerminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// Job types carried in the executor environment.
const (
	TypeStandard    = "standard"
	TypeEventDriven = "event-driven-multi-account"
	TypeScheduled   = "scheduled"
)

// Clouds a job can target.
const (
	CloudAWS        = "AWS"
	CloudAzure      = "AZURE"
	CloudGoogle     = "GOOGLE"
	CloudKubernetes = "KUBERNETES"
)

// GlobalRegion is the pseudo-region used for clouds scanned per project.
const GlobalRegion = "global"

// ValidCloud reports whether the cloud is one a job can be started for.
func ValidCloud(cloud string) bool {
	switch cloud {
	case CloudAWS, CloudAzure, CloudGoogle, CloudKubernetes:
		return true
	}
	return false
}

// Job is one persisted scan job, owned by exactly one tenant.
type Job struct {
	ID              uuid.UUID
	TenantName      string
	Customer        string
	Regions         []string
	Rulesets        []string
	RulesToScan     []string
	Status          string
	SubmittedAt     time.Time
	BatchJobID      string
	CredentialsKey  string
	AffectedLicense string
	PlatformID      string
	Reason          string
	ExpiresAt       *time.Time
	CreatedAt       time.Time
}

// Request holds the recognized options for a job admission.
type Request struct {
	TenantName     string            `json:"tenant_name" validate:"required"`
	Customer       string            `json:"customer"`
	TargetRegions  []string          `json:"target_regions"`
	Credentials    map[string]string `json:"credentials"`
	LicenseKey     string            `json:"license_key"`
	Rulesets       []string          `json:"rulesets"`
	RulesToScan    []string          `json:"rules_to_scan"`
	TimeoutMinutes int               `json:"timeout_minutes" validate:"omitempty,gte=1,lte=1440"`
}

// K8sRequest holds the recognized options for a Kubernetes job admission.
type K8sRequest struct {
	PlatformID     string   `json:"platform_id" validate:"required"`
	Customer       string   `json:"customer"`
	LicenseKey     string   `json:"license_key"`
	Rulesets       []string `json:"rulesets"`
	Token          string   `json:"token"`
	TimeoutMinutes int      `json:"timeout_minutes" validate:"omitempty,gte=1,lte=1440"`
}

// Platform is a registered Kubernetes platform a tenant owns.
type Platform struct {
	ID         uuid.UUID
	PlatformID string
	TenantName string
	Customer   string
	Name       string
	CreatedAt  time.Time
}
