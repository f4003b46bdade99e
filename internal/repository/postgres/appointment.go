package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/repository"
)

const appointmentColumns = `id, clinic_id, patient_id, patient_uid, status, notes, requested_at, scheduled_for,
	cancelled_at, cancelled_by_uid, cancelled_by_role, completed_at, created_at, updated_at`

func (q *queries) CreateAppointment(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (` + appointmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := q.ext.ExecContext(ctx, query,
		appointment.ID,
		appointment.ClinicID,
		appointment.PatientID,
		appointment.PatientUID,
		appointment.Status,
		appointment.Notes,
		appointment.RequestedAt,
		appointment.ScheduledFor,
		appointment.CancelledAt,
		appointment.CancelledByUID,
		appointment.CancelledByRole,
		appointment.CompletedAt,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (q *queries) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	return get[model.Appointment](ctx, q.ext, query, id)
}

func (q *queries) UpdateAppointment(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments
		SET status = $1, scheduled_for = $2, cancelled_at = $3, cancelled_by_uid = $4,
			cancelled_by_role = $5, completed_at = $6, updated_at = $7
		WHERE id = $8
	`
	res, err := q.ext.ExecContext(ctx, query,
		appointment.Status,
		appointment.ScheduledFor,
		appointment.CancelledAt,
		appointment.CancelledByUID,
		appointment.CancelledByRole,
		appointment.CompletedAt,
		appointment.UpdatedAt,
		appointment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return expectOneRow(res)
}

func (q *queries) ListAppointments(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filters.ClinicID != "" {
		args = append(args, filters.ClinicID)
		conditions = append(conditions, fmt.Sprintf("clinic_id = $%d", len(args)))
	}
	if filters.PatientUID != "" {
		args = append(args, filters.PatientUID)
		conditions = append(conditions, fmt.Sprintf("patient_uid = $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, listLimit(filters.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	appointments := make([]*model.Appointment, 0)
	if err := q.selectContext(ctx, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (q *queries) selectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q.ext, dest, query, args...)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
