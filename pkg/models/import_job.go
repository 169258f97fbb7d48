package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ImportStatusPending    = "pending"
	ImportStatusProcessing = "processing"
	ImportStatusCompleted  = "completed"
	ImportStatusFailed     = "failed"
)

// RowError records why one CSV data row was rejected. Row is 1-based, header excluded.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportJob tracks an async annotation import. The API returns a job_id on
// POST /api/v1/datasets/{id}/imports; the client polls GET /api/v1/imports/{job_id}
// until status is completed or failed.
type ImportJob struct {
	ID            uuid.UUID  `db:"id"             json:"id"`
	DatasetID     uuid.UUID  `db:"dataset_id"     json:"dataset_id"`
	Filename      string     `db:"filename"       json:"filename"`
	Status        string     `db:"status"         json:"status"`
	TotalRows     int        `db:"total_rows"     json:"total_rows"`
	ProcessedRows int        `db:"processed_rows" json:"processed_rows"`
	CreatedCount  int        `db:"created_count"  json:"created_count"`
	UpdatedCount  int        `db:"updated_count"  json:"updated_count"`
	SkippedCount  int        `db:"skipped_count"  json:"skipped_count"`
	Errors        []RowError `db:"errors"         json:"errors"`
	ErrorMessage  *string    `db:"error_message"  json:"error_message,omitempty"`
	StartedAt     *time.Time `db:"started_at"     json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at"   json:"completed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"     json:"updated_at"`
}

// ImportProgress is the mutable part of an ImportJob while it is processing.
type ImportProgress struct {
	ProcessedRows int
	CreatedCount  int
	UpdatedCount  int
	SkippedCount  int
	Errors        []RowError
}
