package models

import (
	"time"

	"github.com/google/uuid"
)

// User statuses. The initial PENDING to ACTIVE transition is driven by the
// identity provider confirming credentials; the rest are admin actions.
const (
	UserStatusPending   = "PENDING"
	UserStatusActive    = "ACTIVE"
	UserStatusInactive  = "INACTIVE"
	UserStatusSuspended = "SUSPENDED"
	UserStatusDeleted   = "DELETED"
)

// User is a local account. When the account was provisioned from an
// invitation its ID equals the identity provider's user id.
type User struct {
	ID                     uuid.UUID  `json:"id" db:"id"`
	OrganizationID         *uuid.UUID `json:"organization_id" db:"organization_id"`
	Email                  string     `json:"email" db:"email"`
	LegalID                string     `json:"legal_id" db:"legal_id"`
	FirstName              string     `json:"first_name" db:"first_name"`
	LastName               string     `json:"last_name" db:"last_name"`
	DateOfBirth            *time.Time `json:"date_of_birth" db:"date_of_birth"`
	Status                 string     `json:"status" db:"status"`
	AssignedPsychologistID *uuid.UUID `json:"assigned_psychologist_id" db:"assigned_psychologist_id"`
	IsPsychologist         bool       `json:"is_psychologist" db:"is_psychologist"`
	ActiveRole             *Role      `json:"active_role" db:"active_role"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}
