package model

// Claims is the verified identity of a caller. Empty fields mean the claim was
// absent from the token. Claims are immutable once resolved and are passed by
// value into every service call.
type Claims struct {
	UID      string
	Email    string
	Role     Role
	ClinicID string
}

func (c Claims) HasRole() bool {
	return c.Role != ""
}

func (c Claims) HasClinic() bool {
	return c.ClinicID != ""
}

// InClinic reports whether the caller's clinic claim matches clinicID.
func (c Claims) InClinic(clinicID string) bool {
	return c.ClinicID != "" && c.ClinicID == clinicID
}
