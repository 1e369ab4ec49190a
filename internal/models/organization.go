package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan is the organization's subscription tier, governing quota defaults.
type Plan string

const (
	PlanSolo Plan = "SOLO"
	PlanTeam Plan = "TEAM"
)

// DefaultTeamAssistantsMax is the TEAM assistant cap when no PlanLimit
// override exists. Effectively unbounded.
const DefaultTeamAssistantsMax = 99

type Organization struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	LegalID   string    `json:"legal_id" db:"legal_id"`
	Plan      Plan      `json:"plan" db:"plan"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
