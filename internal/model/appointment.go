package model

import (
	"time"
)

type AppointmentStatus string

const (
	AppointmentStatusRequested AppointmentStatus = "requested"
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case AppointmentStatusCancelled, AppointmentStatusCompleted:
		return true
	case AppointmentStatusRequested, AppointmentStatusScheduled:
		return false
	}
	return false
}

type Appointment struct {
	ID              string            `db:"id" json:"id"`
	ClinicID        string            `db:"clinic_id" json:"clinicId"`
	PatientID       string            `db:"patient_id" json:"patientId"`
	PatientUID      string            `db:"patient_uid" json:"patientUid"`
	Status          AppointmentStatus `db:"status" json:"status"`
	Notes           string            `db:"notes" json:"notes,omitempty"`
	RequestedAt     time.Time         `db:"requested_at" json:"requestedAt"`
	ScheduledFor    *time.Time        `db:"scheduled_for" json:"scheduledFor"`
	CancelledAt     *time.Time        `db:"cancelled_at" json:"cancelledAt,omitempty"`
	CancelledByUID  *string           `db:"cancelled_by_uid" json:"cancelledByUid,omitempty"`
	CancelledByRole *Role             `db:"cancelled_by_role" json:"cancelledByRole,omitempty"`
	CompletedAt     *time.Time        `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`
}

func (a *Appointment) GetClinicID() string {
	return a.ClinicID
}

// RequestAppointmentRequest is the patient's request body. Any clinic or
// patient identifiers a client adds are ignored.
type RequestAppointmentRequest struct {
	Notes string `json:"notes" binding:"max=1000"`
}

type ScheduleAppointmentRequest struct {
	ScheduledFor time.Time `json:"scheduledFor" binding:"required"`
}

type AppointmentFilters struct {
	ClinicID   string
	PatientUID string
	Limit      int
}
