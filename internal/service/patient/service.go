package patient

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
	"github.com/jwalitptl/nutri-api/internal/identity"
	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/repository"
	"github.com/jwalitptl/nutri-api/internal/service/event"
	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
)

const resource = "patient"

type Service struct {
	store     repository.Store
	directory identity.Directory
	events    event.Publisher
	auditor   *audit.Logger
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store repository.Store, directory identity.Directory, events event.Publisher, auditor *audit.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		events:    events,
		auditor:   auditor,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// ListPatients returns the newest patients visible to the caller. clinicID
// filters results for platform admins and is ignored for everyone else.
func (s *Service) ListPatients(ctx context.Context, actor model.Claims, clinicID string) ([]*model.Patient, error) {
	filters := model.PatientFilters{Limit: repository.MaxListResults}

	switch {
	case actor.Role == model.RolePatient:
		p, err := s.store.FindPatientByLinkedUID(ctx, actor.UID)
		if errors.Is(err, repository.ErrNotFound) {
			return []*model.Patient{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve linked patient: %w", err)
		}
		return []*model.Patient{p}, nil
	case actor.Role == model.RolePlatformAdmin:
		filters.ClinicID = strings.TrimSpace(clinicID)
	case actor.Role.IsTeam():
		if !actor.HasClinic() {
			return nil, apperrors.Forbidden("missing clinic scope")
		}
		filters.ClinicID = actor.ClinicID
	default:
		return nil, apperrors.Forbidden("missing role claim")
	}

	patients, err := s.store.ListPatients(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

func (s *Service) GetPatient(ctx context.Context, actor model.Claims, id string) (*model.Patient, error) {
	switch {
	case actor.Role == model.RolePlatformAdmin:
		return fetch(ctx, s.store, id)
	case actor.Role == model.RolePatient:
		p, err := fetch(ctx, s.store, id)
		if err != nil {
			return nil, err
		}
		if !p.IsLinkedTo(actor.UID) {
			return nil, apperrors.NotFound(resource)
		}
		return p, nil
	case actor.Role.IsTeam():
		return authz.GetInClinic(ctx, resource, s.store.GetPatient, id, actor.ClinicID)
	}
	return nil, apperrors.Forbidden("missing role claim")
}

// CreatePatient registers a patient. Clinic personnel create in their own
// clinic, platform admins name the clinic, and a patient creates their own
// record linked to themselves in their claimed clinic.
func (s *Service) CreatePatient(ctx context.Context, actor model.Claims, req model.CreatePatientRequest) (*model.Patient, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("invalid request body", apperrors.FieldError{Field: "name", Message: "field is required"})
	}

	var (
		clinicID  string
		linkedUID *string
		email     = req.Email
	)
	switch {
	case actor.Role == model.RolePatient:
		if !actor.HasClinic() {
			return nil, apperrors.Forbidden("missing clinic scope")
		}
		clinicID = actor.ClinicID
		uid := actor.UID
		linkedUID = &uid
		if email == nil && actor.Email != "" {
			e := actor.Email
			email = &e
		}
	case actor.Role == model.RolePlatformAdmin:
		clinicID = strings.TrimSpace(req.ClinicID)
		if clinicID == "" {
			return nil, apperrors.Validation("invalid request body", apperrors.FieldError{Field: "clinicId", Message: "field is required"})
		}
	case actor.Role.IsTeam():
		if !actor.HasClinic() {
			return nil, apperrors.Forbidden("missing clinic scope")
		}
		clinicID = actor.ClinicID
	default:
		return nil, apperrors.Forbidden("missing role claim")
	}

	now := s.clock()
	p := &model.Patient{
		ID:        uuid.NewString(),
		ClinicID:  clinicID,
		Name:      name,
		Email:     email,
		Phone:     req.Phone,
		LinkedUID: linkedUID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreatePatient(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateLink) {
			return nil, apperrors.Conflict("identity already linked to a patient")
		}
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}

	s.auditor.Transition(actor, resource, p.ID, "create", zap.String("patient_clinic_id", p.ClinicID))
	if linkedUID != nil {
		event.Emit(ctx, s.events, s.logger, model.EventPatientLinked, actor, p.ClinicID, p.ID, linkPayload(p), now)
	}
	return p, nil
}

// UpdatePatient applies a partial update restricted by the per-role write table.
func (s *Service) UpdatePatient(ctx context.Context, actor model.Claims, id string, req model.UpdatePatientRequest) (*model.Patient, error) {
	requested := requestedFields(req)
	if requested == 0 {
		return nil, apperrors.Validation("no fields to update", apperrors.FieldError{Field: "body", Message: "no writable fields"})
	}

	allowed, ok := writableFields[actor.Role]
	if !ok {
		return nil, apperrors.Forbidden(fmt.Sprintf("role %s may not update patients", actor.Role))
	}
	if denied := requested &^ allowed; denied != 0 {
		return nil, apperrors.Forbidden(fmt.Sprintf("role %s may not write %s", actor.Role, denied))
	}

	var name *string
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			return nil, apperrors.Validation("invalid request body", apperrors.FieldError{Field: "name", Message: "value is too short"})
		}
		name = &trimmed
	}

	var assigned *string
	if req.AssignedNutriUID.Set && req.AssignedNutriUID.Value != nil {
		// Out-of-scope records answer 404 before the directory is consulted.
		if _, err := fetchInScope(ctx, s.store, actor, id); err != nil {
			return nil, err
		}
		uid := strings.TrimSpace(*req.AssignedNutriUID.Value)
		if err := s.requireIdentity(ctx, "assignedNutriUid", uid); err != nil {
			return nil, err
		}
		assigned = &uid
	}

	var result *model.Patient
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		p, err := fetchInScope(ctx, tx, actor, id)
		if err != nil {
			return err
		}

		if name != nil {
			p.Name = *name
		}
		if req.Email != nil {
			email := *req.Email
			p.Email = &email
		}
		if req.Phone != nil {
			phone := *req.Phone
			p.Phone = &phone
		}
		if req.AssignedNutriUID.Set {
			p.AssignedNutriUID = assigned
		}
		p.UpdatedAt = s.clock()

		if err := tx.UpdatePatient(ctx, p); err != nil {
			return fmt.Errorf("failed to update patient: %w", err)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Transition(actor, resource, result.ID, "update", zap.String("fields", requested.String()))
	return result, nil
}

// LinkPatient sets or clears the identity linked to a patient record.
// linkedUID nil means unlink.
func (s *Service) LinkPatient(ctx context.Context, actor model.Claims, id string, linkedUID *string) (*model.Patient, error) {
	var uid string
	if linkedUID != nil {
		uid = strings.TrimSpace(*linkedUID)
		if uid == "" {
			return nil, apperrors.Validation("invalid request body", apperrors.FieldError{Field: "linkedUid", Message: "must not be empty"})
		}
	}

	switch actor.Role {
	case model.RolePatient:
		if linkedUID == nil {
			return nil, apperrors.Forbidden("patients cannot unlink")
		}
		if uid != actor.UID {
			return nil, apperrors.Forbidden("patients may only link themselves")
		}
	case model.RolePlatformAdmin, model.RoleClinicAdmin, model.RoleNutri:
		if linkedUID != nil {
			if _, err := fetchInScope(ctx, s.store, actor, id); err != nil {
				return nil, err
			}
			if err := s.requireIdentity(ctx, "linkedUid", uid); err != nil {
				return nil, err
			}
		}
	case model.RoleStaff:
		return nil, apperrors.Forbidden("staff may not link patients")
	default:
		return nil, apperrors.Forbidden("missing role claim")
	}

	var (
		result  *model.Patient
		changed bool
	)
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		changed = false

		p, err := fetchForLink(ctx, tx, actor, id)
		if err != nil {
			return err
		}

		if linkedUID == nil {
			if p.LinkedUID == nil {
				result = p
				return nil
			}
			p.LinkedUID = nil
		} else {
			if p.IsLinkedTo(uid) {
				result = p
				return nil
			}
			if actor.Role == model.RolePatient && p.LinkedUID != nil {
				return apperrors.Conflict("patient already linked to another identity")
			}

			other, err := tx.FindPatientByLinkedUID(ctx, uid)
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return fmt.Errorf("failed to check existing link: %w", err)
			case other.ID != p.ID:
				return apperrors.Conflict("identity already linked to another patient")
			}

			linked := uid
			p.LinkedUID = &linked
		}

		p.UpdatedAt = s.clock()
		if err := tx.UpdatePatient(ctx, p); err != nil {
			if errors.Is(err, repository.ErrDuplicateLink) {
				return apperrors.Conflict("identity already linked to another patient")
			}
			return fmt.Errorf("failed to link patient: %w", err)
		}
		result = p
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		action := "link"
		if result.LinkedUID == nil {
			action = "unlink"
		}
		s.auditor.Transition(actor, resource, result.ID, action, zap.String("linked_uid", uid))
		event.Emit(ctx, s.events, s.logger, model.EventPatientLinked, actor, result.ClinicID, result.ID, linkPayload(result), result.UpdatedAt)
	}
	return result, nil
}

// MoveClinic reassigns a patient to another clinic and appends an audit
// record in the same transaction.
func (s *Service) MoveClinic(ctx context.Context, actor model.Claims, id string, req model.MoveClinicRequest) (*model.Patient, error) {
	if err := authz.Authorize(actor, model.RolePlatformAdmin).Err(); err != nil {
		return nil, err
	}

	to := strings.TrimSpace(req.ToClinicID)
	if to == "" {
		return nil, apperrors.Validation("invalid request body", apperrors.FieldError{Field: "toClinicId", Message: "field is required"})
	}

	var reason *string
	if req.Reason != nil {
		if r := strings.TrimSpace(*req.Reason); r != "" {
			reason = &r
		}
	}

	var (
		result *model.Patient
		from   string
		moved  bool
	)
	err := s.store.RunInTx(ctx, func(tx repository.Tx) error {
		moved = false

		p, err := fetch(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.ClinicID == to {
			result = p
			return nil
		}

		now := s.clock()
		from = p.ClinicID
		p.ClinicID = to
		p.UpdatedAt = now
		if err := tx.UpdatePatient(ctx, p); err != nil {
			return fmt.Errorf("failed to move patient: %w", err)
		}

		record := &model.PatientAuditRecord{
			ID:           uuid.NewString(),
			PatientID:    p.ID,
			Action:       model.AuditActionClinicMove,
			FromClinicID: from,
			ToClinicID:   to,
			ByUID:        actor.UID,
			ByRole:       actor.Role,
			Reason:       reason,
			At:           now,
		}
		if err := tx.AppendPatientAudit(ctx, record); err != nil {
			return fmt.Errorf("failed to record clinic move: %w", err)
		}

		result = p
		moved = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if moved {
		s.auditor.Transition(actor, resource, result.ID, model.AuditActionClinicMove,
			zap.String("from_clinic_id", from),
			zap.String("to_clinic_id", to),
		)
		event.Emit(ctx, s.events, s.logger, model.EventPatientClinicMoved, actor, to, result.ID, map[string]string{
			"patientId":    result.ID,
			"fromClinicId": from,
			"toClinicId":   to,
		}, result.UpdatedAt)
	}
	return result, nil
}

// ListAudit returns a patient's audit history, newest first.
func (s *Service) ListAudit(ctx context.Context, actor model.Claims, id string) ([]*model.PatientAuditRecord, error) {
	if err := authz.Authorize(actor, model.RolePlatformAdmin).Err(); err != nil {
		return nil, err
	}
	if _, err := fetch(ctx, s.store, id); err != nil {
		return nil, err
	}

	records, err := s.store.ListPatientAudit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list patient audit: %w", err)
	}
	return records, nil
}

// linkPayload keeps contact details out of the event stream.
func linkPayload(p *model.Patient) map[string]interface{} {
	return map[string]interface{}{
		"patientId": p.ID,
		"linkedUid": p.LinkedUID,
	}
}

// requireIdentity rejects identifiers unknown to the identity provider.
func (s *Service) requireIdentity(ctx context.Context, field, uid string) error {
	if uid == "" {
		return apperrors.Validation("invalid request body", apperrors.FieldError{Field: field, Message: "must not be empty"})
	}
	exists, err := s.directory.UserExists(ctx, uid)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("identity lookup failed: %w", err))
	}
	if !exists {
		return apperrors.Validation("invalid request body", apperrors.FieldError{Field: field, Message: "identity does not exist"})
	}
	return nil
}

func fetch(ctx context.Context, r repository.PatientReader, id string) (*model.Patient, error) {
	p, err := r.GetPatient(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(resource)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}
	return p, nil
}

func fetchInScope(ctx context.Context, tx repository.Tx, actor model.Claims, id string) (*model.Patient, error) {
	if actor.Role == model.RolePlatformAdmin {
		return fetch(ctx, tx, id)
	}
	return authz.GetInClinic(ctx, resource, tx.GetPatient, id, actor.ClinicID)
}

// fetchForLink scopes patients to their claimed clinic when they carry one.
func fetchForLink(ctx context.Context, tx repository.Tx, actor model.Claims, id string) (*model.Patient, error) {
	if actor.Role == model.RolePatient && !actor.HasClinic() {
		return fetch(ctx, tx, id)
	}
	return fetchInScope(ctx, tx, actor, id)
}
