package models

import (
	"time"

	"github.com/google/uuid"
)

// Invitation statuses. PENDING transitions to exactly one of ACCEPTED or
// REVOKED; an invitation never has two terminal transitions.
const (
	InvitationStatusPending  = "PENDING"
	InvitationStatusAccepted = "ACCEPTED"
	InvitationStatusRevoked  = "REVOKED"
)

// UserInvitation is a pending offer of membership, keyed by email, carrying
// the target role and profile seed data. At most one PENDING invitation may
// exist per (organization, email) and, when a legal id is supplied, per
// (organization, legal id).
type UserInvitation struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	Email          string     `json:"email" db:"email"`
	Role           Role       `json:"role" db:"role"`
	FirstName      string     `json:"first_name" db:"first_name"`
	LastName       string     `json:"last_name" db:"last_name"`
	LegalID        *string    `json:"legal_id" db:"legal_id"`
	DateOfBirth    *time.Time `json:"date_of_birth" db:"date_of_birth"`
	Status         string     `json:"status" db:"status"`
	Token          string     `json:"-" db:"token"`
	InvitedBy      uuid.UUID  `json:"invited_by" db:"invited_by"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}
