package models

// Role is the set of roles a user can hold. A user may hold several
// concurrently (e.g. ADMIN and PSYCHOLOGIST).
type Role string

const (
	RoleSuperadmin   Role = "SUPERADMIN"
	RoleOwner        Role = "OWNER"
	RoleAdmin        Role = "ADMIN"
	RoleAssistant    Role = "ASSISTANT"
	RolePsychologist Role = "PSYCHOLOGIST"
	RolePatient      Role = "PATIENT"
)

// AdministrativeRoles are the roles that exclude a psychologist from
// receiving a caseload during redistribution.
var AdministrativeRoles = []Role{RoleSuperadmin, RoleOwner, RoleAdmin}

// InvitableRoles are the roles a member invitation may carry.
var InvitableRoles = []Role{RoleAssistant, RolePsychologist, RolePatient}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleSuperadmin, RoleOwner, RoleAdmin, RoleAssistant, RolePsychologist, RolePatient:
		return true
	}
	return false
}

// HasRole reports whether the role set contains r.
func HasRole(roles []Role, r Role) bool {
	for _, held := range roles {
		if held == r {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the role set contains at least one of the
// required roles. Every authorization point goes through this check.
func HasAnyRole(roles []Role, required ...Role) bool {
	for _, want := range required {
		if HasRole(roles, want) {
			return true
		}
	}
	return false
}

// IsPureClinician reports whether the role set marks a psychologist with no
// administrative role; only pure clinicians receive patients during
// redistribution.
func IsPureClinician(roles []Role) bool {
	if !HasRole(roles, RolePsychologist) {
		return false
	}
	return !HasAnyRole(roles, AdministrativeRoles...)
}

// RequiresMajority reports whether the role requires the invitee to be an
// adult. Patients may be minors; staff may not.
func RequiresMajority(r Role) bool {
	return r == RoleAssistant || r == RolePsychologist
}
