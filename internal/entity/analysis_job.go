package entity

import (
	"time"

	"github.com/joseph-ayodele/docanalysis/constants"
)

// AnalysisJob represents a remote analysis job for data transfer between layers.
type AnalysisJob struct {
	ID                string              `json:"id"`
	OperationLocation string              `json:"operation_location,omitempty"`
	Status            constants.JobStatus `json:"status"`
	FileName          string              `json:"file_name,omitempty"`
	ContentType       string              `json:"content_type"`
	FileSize          int                 `json:"file_size"`
	ContentHash       string              `json:"content_hash,omitempty"`
	SubmittedAt       time.Time           `json:"submitted_at"`
	LastPolledAt      *time.Time          `json:"last_polled_at,omitempty"`
	FinishedAt        *time.Time          `json:"finished_at,omitempty"`
	Polls             int                 `json:"polls"`
	ErrorKind         *string             `json:"error_kind,omitempty"`
	ErrorMessage      *string             `json:"error_message,omitempty"`
	PageCount         *int                `json:"page_count,omitempty"`
}
