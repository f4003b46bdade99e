package repository

import (
	"context"
	"errors"

	"github.com/jwalitptl/nutri-api/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateLink is returned when a second patient would be linked to
	// an identity that already has one.
	ErrDuplicateLink = errors.New("identity already linked to another patient")
)

// MaxListResults caps every list query.
const MaxListResults = 50

type (
	PatientReader interface {
		GetPatient(ctx context.Context, id string) (*model.Patient, error)
		FindPatientByLinkedUID(ctx context.Context, uid string) (*model.Patient, error)
		ListPatients(ctx context.Context, filters model.PatientFilters) ([]*model.Patient, error)
		ListPatientAudit(ctx context.Context, patientID string) ([]*model.PatientAuditRecord, error)
	}

	AppointmentReader interface {
		GetAppointment(ctx context.Context, id string) (*model.Appointment, error)
		ListAppointments(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error)
	}

	// Tx is the view of the store inside one transaction.
	Tx interface {
		PatientReader
		AppointmentReader

		CreatePatient(ctx context.Context, patient *model.Patient) error
		UpdatePatient(ctx context.Context, patient *model.Patient) error
		AppendPatientAudit(ctx context.Context, record *model.PatientAuditRecord) error

		CreateAppointment(ctx context.Context, appointment *model.Appointment) error
		UpdateAppointment(ctx context.Context, appointment *model.Appointment) error
	}

	// Store is the document store. Outside RunInTx every call is a single-shot
	// operation.
	Store interface {
		Tx

		// RunInTx runs fn atomically. Writes made through tx are committed only
		// when fn returns nil and are discarded on error or panic. fn may be
		// invoked more than once and must not have side effects outside tx.
		RunInTx(ctx context.Context, fn func(tx Tx) error) error
		Ping(ctx context.Context) error
		Close() error
	}
)
