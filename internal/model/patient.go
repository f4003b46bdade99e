package model

import (
	"bytes"
	"encoding/json"
	"time"
)

type Patient struct {
	ID               string    `db:"id" json:"id"`
	ClinicID         string    `db:"clinic_id" json:"clinicId"`
	Name             string    `db:"name" json:"name"`
	Email            *string   `db:"email" json:"email"`
	Phone            *string   `db:"phone" json:"phone"`
	LinkedUID        *string   `db:"linked_uid" json:"linkedUid"`
	AssignedNutriUID *string   `db:"assigned_nutri_uid" json:"assignedNutriUid"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

func (p *Patient) GetClinicID() string {
	return p.ClinicID
}

// IsLinkedTo reports whether the record is linked to uid.
func (p *Patient) IsLinkedTo(uid string) bool {
	return p.LinkedUID != nil && *p.LinkedUID == uid
}

// PatientSummary is the reduced projection served to staff.
type PatientSummary struct {
	ID       string  `json:"id"`
	ClinicID string  `json:"clinicId"`
	Name     string  `json:"name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
}

func (p *Patient) Summary() PatientSummary {
	return PatientSummary{
		ID:       p.ID,
		ClinicID: p.ClinicID,
		Name:     p.Name,
		Email:    p.Email,
		Phone:    p.Phone,
	}
}

type CreatePatientRequest struct {
	// ClinicID is honoured for platform admins only.
	ClinicID string  `json:"clinicId" binding:"omitempty,max=128"`
	Name     string  `json:"name" binding:"required,min=1,max=200"`
	Email    *string `json:"email" binding:"omitempty,email,max=254"`
	Phone    *string `json:"phone" binding:"omitempty,max=40"`
}

type UpdatePatientRequest struct {
	Name             *string        `json:"name" binding:"omitempty,min=1,max=200"`
	Email            *string        `json:"email" binding:"omitempty,email,max=254"`
	Phone            *string        `json:"phone" binding:"omitempty,max=40"`
	AssignedNutriUID OptionalString `json:"assignedNutriUid"`
}

type LinkPatientRequest struct {
	LinkedUID OptionalString `json:"linkedUid"`
}

type MoveClinicRequest struct {
	ToClinicID string  `json:"toClinicId" binding:"required,max=128"`
	Reason     *string `json:"reason" binding:"omitempty,max=500"`
}

type PatientFilters struct {
	ClinicID  string
	LinkedUID string
	Limit     int
}

// OptionalString distinguishes an absent JSON field from an explicit null.
type OptionalString struct {
	Set   bool
	Value *string
}

func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

func (o OptionalString) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}
