package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"github.com/jwalitptl/nutri-api/internal/audit"
	"github.com/jwalitptl/nutri-api/internal/authz"
	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/repository"
	"github.com/jwalitptl/nutri-api/internal/service/event"
	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
	"github.com/jwalitptl/nutri-api/pkg/metrics"
)

// CancellationLockWindow is how close to its start a scheduled appointment
// stops being cancellable.
const CancellationLockWindow = 24 * time.Hour

const resource = "appointment"

type Service struct {
	store   repository.Store
	events  event.Publisher
	auditor *audit.Logger
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store repository.Store, events event.Publisher, auditor *audit.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		events:  events,
		auditor: auditor,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// RequestAppointment creates a requested appointment for the caller's linked
// patient record. Clinic and patient come from that record, never the body.
func (s *Service) RequestAppointment(ctx context.Context, actor model.Claims, req model.RequestAppointmentRequest) (*model.Appointment, error) {
	if actor.Role != model.RolePatient {
		return nil, apperrors.Forbidden("only patients may request appointments")
	}

	patient, err := s.store.FindPatientByLinkedUID(ctx, actor.UID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Forbidden("patient not linked")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve linked patient: %w", err)
	}

	now := s.clock()
	apt := &model.Appointment{
		ID:          uuid.NewString(),
		ClinicID:    patient.ClinicID,
		PatientID:   patient.ID,
		PatientUID:  actor.UID,
		Status:      model.AppointmentStatusRequested,
		Notes:       strings.TrimSpace(req.Notes),
		RequestedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateAppointment(ctx, apt); err != nil {
		s.metrics.Transition("request", "error")
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}

	s.committed(ctx, actor, apt, "request", "", model.EventAppointmentRequested)
	return apt, nil
}

// ListAppointments returns the newest appointments visible to the caller.
func (s *Service) ListAppointments(ctx context.Context, actor model.Claims) ([]*model.Appointment, error) {
	filters := model.AppointmentFilters{Limit: repository.MaxListResults}

	switch {
	case actor.Role == model.RolePatient:
		filters.PatientUID = actor.UID
	case actor.Role == model.RolePlatformAdmin:
	case actor.Role.IsTeam():
		if !actor.HasClinic() {
			return nil, apperrors.Forbidden("missing clinic scope")
		}
		filters.ClinicID = actor.ClinicID
	default:
		return nil, apperrors.Forbidden("missing role claim")
	}

	appointments, err := s.store.ListAppointments(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

// GetAppointment returns one appointment. Anything outside the caller's scope
// reads as not found.
func (s *Service) GetAppointment(ctx context.Context, actor model.Claims, id string) (*model.Appointment, error) {
	switch {
	case actor.Role == model.RolePlatformAdmin:
		return s.fetch(ctx, s.store, id)
	case actor.Role == model.RolePatient:
		apt, err := s.fetch(ctx, s.store, id)
		if err != nil {
			return nil, err
		}
		if apt.PatientUID != actor.UID {
			return nil, apperrors.NotFound(resource)
		}
		return apt, nil
	case actor.Role.IsTeam():
		return authz.GetInClinic(ctx, resource, s.store.GetAppointment, id, actor.ClinicID)
	}
	return nil, apperrors.Forbidden("missing role claim")
}

// CancelAppointment cancels inside one transaction. Cancelling an already
// cancelled appointment returns it unchanged.
func (s *Service) CancelAppointment(ctx context.Context, actor model.Claims, id string) (*model.Appointment, error) {
	var (
		result  *model.Appointment
		changed bool
		from    model.AppointmentStatus
	)

	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		changed = false

		apt, err := s.fetch(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := authorizeCancel(actor, apt); err != nil {
			return err
		}
		if apt.Status == model.AppointmentStatusCancelled {
			result = apt
			return nil
		}

		now := s.clock()
		if err := checkCancellable(apt, now); err != nil {
			return err
		}

		from = apt.Status
		uid, role := actor.UID, actor.Role
		apt.Status = model.AppointmentStatusCancelled
		apt.CancelledAt = &now
		apt.CancelledByUID = &uid
		apt.CancelledByRole = &role
		apt.UpdatedAt = now

		if err := tx.UpdateAppointment(ctx, apt); err != nil {
			return fmt.Errorf("failed to cancel appointment: %w", err)
		}
		result = apt
		changed = true
		return nil
	})
	if err != nil {
		s.metrics.Transition("cancel", outcome(err))
		return nil, err
	}

	if changed {
		s.committed(ctx, actor, result, "cancel", from, model.EventAppointmentCancelled)
	} else {
		s.metrics.Transition("cancel", "noop")
	}
	return result, nil
}

// ScheduleAppointment sets or moves the appointment time.
func (s *Service) ScheduleAppointment(ctx context.Context, actor model.Claims, id string, at time.Time) (*model.Appointment, error) {
	if err := authz.Authorize(actor,
		model.RolePlatformAdmin, model.RoleClinicAdmin, model.RoleNutri, model.RoleStaff,
	).Err(); err != nil {
		return nil, err
	}

	now := s.clock()
	at = at.UTC().Truncate(time.Microsecond)
	if !at.After(now) {
		return nil, apperrors.Validation("invalid request body", apperrors.FieldError{
			Field:   "scheduledFor",
			Message: "must be in the future",
		})
	}

	var (
		result *model.Appointment
		from   model.AppointmentStatus
	)
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		apt, err := s.fetchInScope(ctx, tx, actor, id)
		if err != nil {
			return err
		}

		if apt.Status.IsTerminal() {
			return apperrors.Forbidden(fmt.Sprintf("appointment is %s", apt.Status))
		}
		switch apt.Status {
		case model.AppointmentStatusRequested, model.AppointmentStatusScheduled:
		default:
			return apperrors.Integrity(fmt.Sprintf("appointment %s has unknown status %q", apt.ID, apt.Status))
		}

		from = apt.Status
		apt.Status = model.AppointmentStatusScheduled
		apt.ScheduledFor = &at
		apt.UpdatedAt = now

		if err := tx.UpdateAppointment(ctx, apt); err != nil {
			return fmt.Errorf("failed to schedule appointment: %w", err)
		}
		result = apt
		return nil
	})
	if err != nil {
		s.metrics.Transition("schedule", outcome(err))
		return nil, err
	}

	s.committed(ctx, actor, result, "schedule", from, model.EventAppointmentScheduled)
	return result, nil
}

// CompleteAppointment marks a scheduled appointment as held. Completing a
// completed appointment returns it unchanged.
func (s *Service) CompleteAppointment(ctx context.Context, actor model.Claims, id string) (*model.Appointment, error) {
	if err := authz.Authorize(actor,
		model.RolePlatformAdmin, model.RoleClinicAdmin, model.RoleNutri,
	).Err(); err != nil {
		return nil, err
	}

	var (
		result  *model.Appointment
		changed bool
	)
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		changed = false

		apt, err := s.fetchInScope(ctx, tx, actor, id)
		if err != nil {
			return err
		}

		switch apt.Status {
		case model.AppointmentStatusScheduled:
		case model.AppointmentStatusCompleted:
			result = apt
			return nil
		case model.AppointmentStatusRequested:
			return apperrors.Forbidden("appointment is not scheduled")
		case model.AppointmentStatusCancelled:
			return apperrors.Forbidden("appointment is cancelled")
		default:
			return apperrors.Integrity(fmt.Sprintf("appointment %s has unknown status %q", apt.ID, apt.Status))
		}

		now := s.clock()
		apt.Status = model.AppointmentStatusCompleted
		apt.CompletedAt = &now
		apt.UpdatedAt = now

		if err := tx.UpdateAppointment(ctx, apt); err != nil {
			return fmt.Errorf("failed to complete appointment: %w", err)
		}
		result = apt
		changed = true
		return nil
	})
	if err != nil {
		s.metrics.Transition("complete", outcome(err))
		return nil, err
	}

	if changed {
		s.committed(ctx, actor, result, "complete", model.AppointmentStatusScheduled, model.EventAppointmentCompleted)
	} else {
		s.metrics.Transition("complete", "noop")
	}
	return result, nil
}

// authorizeCancel decides whether actor may cancel apt. Patients act on their
// own appointments, clinic personnel within their clinic.
func authorizeCancel(actor model.Claims, apt *model.Appointment) error {
	switch {
	case actor.Role == model.RolePlatformAdmin:
		return nil
	case actor.Role == model.RolePatient:
		if apt.PatientUID != actor.UID {
			return apperrors.Forbidden("appointment belongs to another patient")
		}
		return nil
	case actor.Role.IsTeam():
		if !actor.InClinic(apt.ClinicID) {
			return apperrors.Forbidden("appointment belongs to another clinic")
		}
		return nil
	}
	return apperrors.Forbidden("missing role claim")
}

// checkCancellable applies the state machine and the 24h rule.
func checkCancellable(apt *model.Appointment, now time.Time) error {
	switch apt.Status {
	case model.AppointmentStatusRequested:
		return nil
	case model.AppointmentStatusScheduled:
		if apt.ScheduledFor == nil {
			return apperrors.Integrity(fmt.Sprintf("scheduled appointment %s has no scheduledFor", apt.ID))
		}
		if apt.ScheduledFor.Sub(now) < CancellationLockWindow {
			return apperrors.Forbidden("24h cancellation lock")
		}
		return nil
	case model.AppointmentStatusCompleted:
		return apperrors.Forbidden("completed appointments cannot be cancelled")
	case model.AppointmentStatusCancelled:
		return nil
	}
	return apperrors.Integrity(fmt.Sprintf("appointment %s has unknown status %q", apt.ID, apt.Status))
}

func (s *Service) fetch(ctx context.Context, r repository.AppointmentReader, id string) (*model.Appointment, error) {
	apt, err := r.GetAppointment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(resource)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment: %w", err)
	}
	return apt, nil
}

// fetchInScope hides appointments of other clinics from clinic personnel.
func (s *Service) fetchInScope(ctx context.Context, tx repository.Tx, actor model.Claims, id string) (*model.Appointment, error) {
	if actor.Role == model.RolePlatformAdmin {
		return s.fetch(ctx, tx, id)
	}
	return authz.GetInClinic(ctx, resource, tx.GetAppointment, id, actor.ClinicID)
}

func (s *Service) committed(ctx context.Context, actor model.Claims, apt *model.Appointment, transition string, from model.AppointmentStatus, eventType string) {
	s.metrics.Transition(transition, "ok")
	s.auditor.Transition(actor, resource, apt.ID, transition,
		zap.String("from", string(from)),
		zap.String("to", string(apt.Status)),
		zap.String("appointment_clinic_id", apt.ClinicID),
	)
	event.Emit(ctx, s.events, s.logger, eventType, actor, apt.ClinicID, apt.ID, apt, apt.UpdatedAt)
}

func outcome(err error) string {
	appErr, ok := apperrors.As(err)
	if !ok {
		return "error"
	}
	switch appErr.Kind {
	case apperrors.KindForbidden:
		return "denied"
	case apperrors.KindNotFound:
		return "not_found"
	case apperrors.KindValidation:
		return "invalid"
	case apperrors.KindIntegrity:
		return "integrity"
	case apperrors.KindUnauthenticated, apperrors.KindConflict, apperrors.KindInternal:
		return "error"
	}
	return "error"
}
