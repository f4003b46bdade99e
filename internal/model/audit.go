package model

import "time"

const (
	// Patient audit actions
	AuditActionClinicMove = "clinic_move"
)

// PatientAuditRecord is an append-only entry in a patient's audit history.
type PatientAuditRecord struct {
	ID           string    `db:"id" json:"id"`
	PatientID    string    `db:"patient_id" json:"patientId"`
	Action       string    `db:"action" json:"action"`
	FromClinicID string    `db:"from_clinic_id" json:"fromClinicId"`
	ToClinicID   string    `db:"to_clinic_id" json:"toClinicId"`
	ByUID        string    `db:"by_uid" json:"byUid"`
	ByRole       Role      `db:"by_role" json:"byRole"`
	Reason       *string   `db:"reason" json:"reason,omitempty"`
	At           time.Time `db:"at" json:"at"`
}
