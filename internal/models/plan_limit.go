package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanLimit is a per-organization override of the default per-plan quotas.
// Read-only input to the quota validator; SOLO ignores it.
type PlanLimit struct {
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	AssistantsMax  *int      `json:"assistants_max" db:"assistants_max"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
