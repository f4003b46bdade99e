package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwalitptl/nutri-api/internal/model"
)

const patientColumns = `id, clinic_id, name, email, phone, linked_uid, assigned_nutri_uid, created_at, updated_at`

func (q *queries) CreatePatient(ctx context.Context, patient *model.Patient) error {
	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.ext.ExecContext(ctx, query,
		patient.ID,
		patient.ClinicID,
		patient.Name,
		patient.Email,
		patient.Phone,
		patient.LinkedUID,
		patient.AssignedNutriUID,
		patient.CreatedAt,
		patient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", mapWriteError(err))
	}
	return nil
}

func (q *queries) GetPatient(ctx context.Context, id string) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	return get[model.Patient](ctx, q.ext, query, id)
}

func (q *queries) FindPatientByLinkedUID(ctx context.Context, uid string) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE linked_uid = $1`
	return get[model.Patient](ctx, q.ext, query, uid)
}

func (q *queries) UpdatePatient(ctx context.Context, patient *model.Patient) error {
	query := `
		UPDATE patients
		SET clinic_id = $1, name = $2, email = $3, phone = $4,
			linked_uid = $5, assigned_nutri_uid = $6, updated_at = $7
		WHERE id = $8
	`
	res, err := q.ext.ExecContext(ctx, query,
		patient.ClinicID,
		patient.Name,
		patient.Email,
		patient.Phone,
		patient.LinkedUID,
		patient.AssignedNutriUID,
		patient.UpdatedAt,
		patient.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", mapWriteError(err))
	}
	return expectOneRow(res)
}

func (q *queries) ListPatients(ctx context.Context, filters model.PatientFilters) ([]*model.Patient, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filters.ClinicID != "" {
		args = append(args, filters.ClinicID)
		conditions = append(conditions, fmt.Sprintf("clinic_id = $%d", len(args)))
	}
	if filters.LinkedUID != "" {
		args = append(args, filters.LinkedUID)
		conditions = append(conditions, fmt.Sprintf("linked_uid = $%d", len(args)))
	}

	query := `SELECT ` + patientColumns + ` FROM patients`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, listLimit(filters.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	patients := make([]*model.Patient, 0)
	if err := q.selectContext(ctx, &patients, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

func (q *queries) AppendPatientAudit(ctx context.Context, record *model.PatientAuditRecord) error {
	query := `
		INSERT INTO patient_audit (id, patient_id, action, from_clinic_id, to_clinic_id, by_uid, by_role, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.ext.ExecContext(ctx, query,
		record.ID,
		record.PatientID,
		record.Action,
		record.FromClinicID,
		record.ToClinicID,
		record.ByUID,
		record.ByRole,
		record.Reason,
		record.At,
	)
	if err != nil {
		return fmt.Errorf("failed to append patient audit: %w", err)
	}
	return nil
}

func (q *queries) ListPatientAudit(ctx context.Context, patientID string) ([]*model.PatientAuditRecord, error) {
	query := `
		SELECT id, patient_id, action, from_clinic_id, to_clinic_id, by_uid, by_role, reason, at
		FROM patient_audit
		WHERE patient_id = $1
		ORDER BY at DESC, id DESC
	`
	records := make([]*model.PatientAuditRecord, 0)
	if err := q.selectContext(ctx, &records, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list patient audit: %w", err)
	}
	return records, nil
}
