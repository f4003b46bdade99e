// Package memory is an in-process document store used for local development
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/repository"
)

type state struct {
	patients     map[string]model.Patient
	appointments map[string]model.Appointment
	audit        map[string][]model.PatientAuditRecord
}

func newState() *state {
	return &state{
		patients:     make(map[string]model.Patient),
		appointments: make(map[string]model.Appointment),
		audit:        make(map[string][]model.PatientAuditRecord),
	}
}

func (s *state) clone() *state {
	c := &state{
		patients:     make(map[string]model.Patient, len(s.patients)),
		appointments: make(map[string]model.Appointment, len(s.appointments)),
		audit:        make(map[string][]model.PatientAuditRecord, len(s.audit)),
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.audit {
		c.audit[k] = append([]model.PatientAuditRecord(nil), v...)
	}
	return c
}

// Store serializes all access behind one mutex. Transactions work on a copy
// of the data that replaces the committed state only when fn succeeds.
type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.st.clone()
	if err := fn(&txn{st: staged}); err != nil {
		return err
	}
	s.st = staged
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) view() (*txn, func()) {
	s.mu.Lock()
	return &txn{st: s.st}, s.mu.Unlock
}

func (s *Store) GetPatient(ctx context.Context, id string) (*model.Patient, error) {
	t, unlock := s.view()
	defer unlock()
	return t.GetPatient(ctx, id)
}

func (s *Store) FindPatientByLinkedUID(ctx context.Context, uid string) (*model.Patient, error) {
	t, unlock := s.view()
	defer unlock()
	return t.FindPatientByLinkedUID(ctx, uid)
}

func (s *Store) ListPatients(ctx context.Context, filters model.PatientFilters) ([]*model.Patient, error) {
	t, unlock := s.view()
	defer unlock()
	return t.ListPatients(ctx, filters)
}

func (s *Store) ListPatientAudit(ctx context.Context, patientID string) ([]*model.PatientAuditRecord, error) {
	t, unlock := s.view()
	defer unlock()
	return t.ListPatientAudit(ctx, patientID)
}

func (s *Store) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	t, unlock := s.view()
	defer unlock()
	return t.GetAppointment(ctx, id)
}

func (s *Store) ListAppointments(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error) {
	t, unlock := s.view()
	defer unlock()
	return t.ListAppointments(ctx, filters)
}

func (s *Store) CreatePatient(ctx context.Context, patient *model.Patient) error {
	t, unlock := s.view()
	defer unlock()
	return t.CreatePatient(ctx, patient)
}

func (s *Store) UpdatePatient(ctx context.Context, patient *model.Patient) error {
	t, unlock := s.view()
	defer unlock()
	return t.UpdatePatient(ctx, patient)
}

func (s *Store) AppendPatientAudit(ctx context.Context, record *model.PatientAuditRecord) error {
	t, unlock := s.view()
	defer unlock()
	return t.AppendPatientAudit(ctx, record)
}

func (s *Store) CreateAppointment(ctx context.Context, appointment *model.Appointment) error {
	t, unlock := s.view()
	defer unlock()
	return t.CreateAppointment(ctx, appointment)
}

func (s *Store) UpdateAppointment(ctx context.Context, appointment *model.Appointment) error {
	t, unlock := s.view()
	defer unlock()
	return t.UpdateAppointment(ctx, appointment)
}

// txn implements repository.Tx over a state the caller has locked.
type txn struct {
	st *state
}

func (t *txn) GetPatient(_ context.Context, id string) (*model.Patient, error) {
	p, ok := t.st.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (t *txn) FindPatientByLinkedUID(_ context.Context, uid string) (*model.Patient, error) {
	for _, p := range t.st.patients {
		if p.IsLinkedTo(uid) {
			p := p
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *txn) ListPatients(_ context.Context, filters model.PatientFilters) ([]*model.Patient, error) {
	out := make([]*model.Patient, 0)
	for _, p := range t.st.patients {
		if filters.ClinicID != "" && p.ClinicID != filters.ClinicID {
			continue
		}
		if filters.LinkedUID != "" && !p.IsLinkedTo(filters.LinkedUID) {
			continue
		}
		p := p
		out = append(out, &p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, filters.Limit), nil
}

func (t *txn) ListPatientAudit(_ context.Context, patientID string) ([]*model.PatientAuditRecord, error) {
	records := t.st.audit[patientID]
	out := make([]*model.PatientAuditRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		out = append(out, &r)
	}
	return out, nil
}

func (t *txn) GetAppointment(_ context.Context, id string) (*model.Appointment, error) {
	a, ok := t.st.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (t *txn) ListAppointments(_ context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error) {
	out := make([]*model.Appointment, 0)
	for _, a := range t.st.appointments {
		if filters.ClinicID != "" && a.ClinicID != filters.ClinicID {
			continue
		}
		if filters.PatientUID != "" && a.PatientUID != filters.PatientUID {
			continue
		}
		a := a
		out = append(out, &a)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, filters.Limit), nil
}

func (t *txn) CreatePatient(_ context.Context, patient *model.Patient) error {
	if err := t.checkLink(patient); err != nil {
		return err
	}
	t.st.patients[patient.ID] = *patient
	return nil
}

func (t *txn) UpdatePatient(_ context.Context, patient *model.Patient) error {
	if _, ok := t.st.patients[patient.ID]; !ok {
		return repository.ErrNotFound
	}
	if err := t.checkLink(patient); err != nil {
		return err
	}
	t.st.patients[patient.ID] = *patient
	return nil
}

// checkLink enforces at most one patient per linked identity.
func (t *txn) checkLink(patient *model.Patient) error {
	if patient.LinkedUID == nil {
		return nil
	}
	for id, p := range t.st.patients {
		if id != patient.ID && p.IsLinkedTo(*patient.LinkedUID) {
			return repository.ErrDuplicateLink
		}
	}
	return nil
}

func (t *txn) AppendPatientAudit(_ context.Context, record *model.PatientAuditRecord) error {
	t.st.audit[record.PatientID] = append(t.st.audit[record.PatientID], *record)
	return nil
}

func (t *txn) CreateAppointment(_ context.Context, appointment *model.Appointment) error {
	t.st.appointments[appointment.ID] = *appointment
	return nil
}

func (t *txn) UpdateAppointment(_ context.Context, appointment *model.Appointment) error {
	if _, ok := t.st.appointments[appointment.ID]; !ok {
		return repository.ErrNotFound
	}
	t.st.appointments[appointment.ID] = *appointment
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit <= 0 || limit > repository.MaxListResults {
		limit = repository.MaxListResults
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
