// Package persistence provides SQLite-backed storage for investigations and
// their sources.
package persistence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Investigation status constants, in lifecycle order.
const (
	StatusPending    = "pending"
	StatusGenerating = "generating"
	StatusScoring    = "scoring"
	StatusRefining   = "refining"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// ValidStatuses returns all valid investigation statuses.
func ValidStatuses() []string {
	return []string{
		StatusPending,
		StatusGenerating,
		StatusScoring,
		StatusRefining,
		StatusComplete,
		StatusFailed,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// Subject kind constants from the classification stage.
const (
	KindPerson       = "person"
	KindOrganization = "organization"
	KindTopic        = "topic"
	KindEvent        = "event"
)

// Investigation represents one brief-generation run's persisted artifact.
type Investigation struct {
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Score       *float64   `json:"score,omitempty"` // Null until the first scoring pass
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Subject     string     `json:"subject"`
	Kind        string     `json:"kind"`
	Draft       string     `json:"draft,omitempty"`
	Status      string     `json:"status"`
	FailReason  string     `json:"fail_reason,omitempty"`
	Refunded    bool       `json:"refunded"`
}

// Source is one cited source extracted during the research stage.
type Source struct {
	ID              string `json:"id"`
	InvestigationID string `json:"investigation_id"`
	Title           string `json:"title"`
	URL             string `json:"url"`
	Kind            string `json:"kind"` // "primary" or "secondary"
}

// NewInvestigation constructs a pending investigation with a fresh ID.
func NewInvestigation(subject, ownerID, kind string, createdAt time.Time) (*Investigation, error) {
	if subject == "" {
		return nil, fmt.Errorf("investigation subject cannot be empty")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("investigation owner cannot be empty")
	}
	return &Investigation{
		ID:        uuid.NewString(),
		Subject:   subject,
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: createdAt.UTC(),
	}, nil
}
