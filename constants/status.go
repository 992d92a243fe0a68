package constants

import "strings"

// JobStatus is the canonical status of an analysis job.
type JobStatus string

// Stable values (store these exact strings in the ledger).
const (
	JobStatusNotStarted JobStatus = "NOT_STARTED"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusSucceeded  JobStatus = "SUCCEEDED"
	JobStatusFailed     JobStatus = "FAILED"
)

// ParseJobStatus accepts a stored status in any letter case.
func ParseJobStatus(s string) (JobStatus, bool) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case JobStatusNotStarted, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return st, true
	}
	return "", false
}

// ParseServiceStatus maps the service's operation status to a JobStatus.
// Unknown values are treated as still running.
func ParseServiceStatus(s string) JobStatus {
	switch s {
	case "notStarted":
		return JobStatusNotStarted
	case "running":
		return JobStatusRunning
	case "succeeded":
		return JobStatusSucceeded
	case "failed", "canceled":
		return JobStatusFailed
	default:
		return JobStatusRunning
	}
}
