package model

// Role is the closed set of caller roles carried in identity claims.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleClinicAdmin   Role = "clinic_admin"
	RoleNutri         Role = "nutri"
	RoleStaff         Role = "staff"
	RolePatient       Role = "patient"
)

// AllRoles lists every known role.
var AllRoles = []Role{
	RolePlatformAdmin,
	RoleClinicAdmin,
	RoleNutri,
	RoleStaff,
	RolePatient,
}

// ParseRole accepts only known role names. Anything else is treated as an
// absent role by callers.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RolePlatformAdmin, RoleClinicAdmin, RoleNutri, RoleStaff, RolePatient:
		return r, true
	}
	return "", false
}

// IsTeam reports whether the role is clinic personnel bound to one clinic.
func (r Role) IsTeam() bool {
	switch r {
	case RoleClinicAdmin, RoleNutri, RoleStaff:
		return true
	case RolePlatformAdmin, RolePatient:
		return false
	}
	return false
}

func (r Role) String() string {
	if r == "" {
		return "none"
	}
	return string(r)
}
