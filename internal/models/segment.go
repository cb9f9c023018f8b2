package models

import (
	"time"

	"github.com/google/uuid"
)

// Archive status of a catalogued segment.
const (
	ArchiveStatusPending  = "pending"
	ArchiveStatusArchived = "archived"
	ArchiveStatusFailed   = "failed"
)

// Segment is a closed recording segment as stored in the catalog.
type Segment struct {
	ID            uuid.UUID `json:"id"`
	Channel       int       `json:"channel"`
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	Day           string    `json:"day"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	Bytes         int64     `json:"bytes"`
	ArchiveStatus string    `json:"archive_status"`
	S3Key         string    `json:"s3_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
