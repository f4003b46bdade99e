package patient

import (
	"strings"

	"github.com/jwalitptl/nutri-api/internal/model"
)

// patientField is a bit set of writable patient fields.
type patientField uint8

const (
	fieldName patientField = 1 << iota
	fieldEmail
	fieldPhone
	fieldAssignedNutri

	contactFields = fieldName | fieldEmail | fieldPhone
	allFields     = contactFields | fieldAssignedNutri
)

var fieldNames = []struct {
	field patientField
	name  string
}{
	{fieldName, "name"},
	{fieldEmail, "email"},
	{fieldPhone, "phone"},
	{fieldAssignedNutri, "assignedNutriUid"},
}

func (f patientField) String() string {
	var names []string
	for _, fn := range fieldNames {
		if f&fn.field != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

// writableFields is the per-role write table for PATCH /patients/:id. Roles
// missing from the table may not update patients at all.
var writableFields = map[model.Role]patientField{
	model.RolePlatformAdmin: allFields,
	model.RoleClinicAdmin:   allFields,
	model.RoleNutri:         contactFields,
	model.RoleStaff:         contactFields,
}

func requestedFields(req model.UpdatePatientRequest) patientField {
	var f patientField
	if req.Name != nil {
		f |= fieldName
	}
	if req.Email != nil {
		f |= fieldEmail
	}
	if req.Phone != nil {
		f |= fieldPhone
	}
	if req.AssignedNutriUID.Set {
		f |= fieldAssignedNutri
	}
	return f
}

// View projects a patient for the caller's role. Staff get the summary; any
// role this switch does not know about gets the summary as well.
func View(role model.Role, p *model.Patient) interface{} {
	switch role {
	case model.RolePlatformAdmin, model.RoleClinicAdmin, model.RoleNutri, model.RolePatient:
		return p
	case model.RoleStaff:
		return p.Summary()
	}
	return p.Summary()
}

func ViewList(role model.Role, patients []*model.Patient) []interface{} {
	out := make([]interface{}, 0, len(patients))
	for _, p := range patients {
		out = append(out, View(role, p))
	}
	return out
}
