package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/nutri-api/internal/audit"
	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var (
	patientA    = model.Claims{UID: "uid-a", Role: model.RolePatient}
	patientB    = model.Claims{UID: "uid-b", Role: model.RolePatient}
	unlinked    = model.Claims{UID: "uid-z", Role: model.RolePatient}
	adminC1     = model.Claims{UID: "admin-1", Role: model.RoleClinicAdmin, ClinicID: "c1"}
	adminC2     = model.Claims{UID: "admin-2", Role: model.RoleClinicAdmin, ClinicID: "c2"}
	nutriC1     = model.Claims{UID: "nutri-1", Role: model.RoleNutri, ClinicID: "c1"}
	staffC1     = model.Claims{UID: "staff-1", Role: model.RoleStaff, ClinicID: "c1"}
	staffC2     = model.Claims{UID: "staff-2", Role: model.RoleStaff, ClinicID: "c2"}
	platform    = model.Claims{UID: "root", Role: model.RolePlatformAdmin}
	fixedNow    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backgroundC = context.Background()
)

type fixture struct {
	svc    *Service
	store  *memory.Store
	events *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	for _, p := range []model.Patient{
		{ID: "pa", ClinicID: "c1", Name: "Ada", LinkedUID: strPtr("uid-a"), CreatedAt: fixedNow, UpdatedAt: fixedNow},
		{ID: "pb", ClinicID: "c2", Name: "Bo", LinkedUID: strPtr("uid-b"), CreatedAt: fixedNow, UpdatedAt: fixedNow},
	} {
		p := p
		require.NoError(t, store.CreatePatient(backgroundC, &p))
	}

	events := &recordingPublisher{}
	svc := NewService(store, events, audit.Nop(), WithClock(func() time.Time { return fixedNow }))
	return &fixture{svc: svc, store: store, events: events}
}

// seed stores an appointment for patient A in clinic c1.
func (f *fixture) seed(t *testing.T, id string, status model.AppointmentStatus, scheduledFor *time.Time) {
	t.Helper()
	require.NoError(t, f.store.CreateAppointment(backgroundC, &model.Appointment{
		ID:           id,
		ClinicID:     "c1",
		PatientID:    "pa",
		PatientUID:   "uid-a",
		Status:       status,
		RequestedAt:  fixedNow.Add(-time.Hour),
		ScheduledFor: scheduledFor,
		CreatedAt:    fixedNow.Add(-time.Hour),
		UpdatedAt:    fixedNow.Add(-time.Hour),
	}))
}

func strPtr(v string) *string { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func requireKind(t *testing.T, err error, kind apperrors.Kind) *apperrors.AppError {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected an application error, got %v", err)
	require.Equal(t, kind, appErr.Kind, "unexpected kind for %v", err)
	return appErr
}

func TestRequestAppointment(t *testing.T) {
	f := newFixture(t)

	apt, err := f.svc.RequestAppointment(backgroundC, patientA, model.RequestAppointmentRequest{Notes: "  first visit "})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusRequested, apt.Status)
	assert.Equal(t, "c1", apt.ClinicID)
	assert.Equal(t, "pa", apt.PatientID)
	assert.Equal(t, "uid-a", apt.PatientUID)
	assert.Equal(t, "first visit", apt.Notes)
	assert.Nil(t, apt.ScheduledFor)
	assert.Equal(t, fixedNow, apt.RequestedAt)
	assert.Equal(t, []string{model.EventAppointmentRequested}, f.events.types())

	stored, err := f.store.GetAppointment(backgroundC, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, apt.ID, stored.ID)
}

func TestRequestAppointment_Rejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestAppointment(backgroundC, unlinked, model.RequestAppointmentRequest{})
	appErr := requireKind(t, err, apperrors.KindForbidden)
	assert.Equal(t, "patient not linked", appErr.Reason)

	_, err = f.svc.RequestAppointment(backgroundC, nutriC1, model.RequestAppointmentRequest{})
	requireKind(t, err, apperrors.KindForbidden)

	assert.Empty(t, f.events.types())
}

func TestListAppointments_Scoping(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestAppointment(backgroundC, patientA, model.RequestAppointmentRequest{})
	require.NoError(t, err)
	_, err = f.svc.RequestAppointment(backgroundC, patientB, model.RequestAppointmentRequest{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		actor   model.Claims
		clinics []string
	}{
		{"patient sees own", patientA, []string{"c1"}},
		{"other patient sees own", patientB, []string{"c2"}},
		{"clinic admin sees clinic", adminC1, []string{"c1"}},
		{"staff sees clinic", staffC1, []string{"c1"}},
		{"other clinic", adminC2, []string{"c2"}},
		{"platform admin sees all", platform, []string{"c2", "c1"}},
		{"unlinked patient sees nothing", unlinked, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := f.svc.ListAppointments(backgroundC, tt.actor)
			require.NoError(t, err)

			clinics := make([]string, 0, len(list))
			for _, a := range list {
				clinics = append(clinics, a.ClinicID)
			}
			assert.ElementsMatch(t, tt.clinics, clinics)
		})
	}

	_, err = f.svc.ListAppointments(backgroundC, model.Claims{UID: "x", Role: model.RoleNutri})
	requireKind(t, err, apperrors.KindForbidden)
}

func TestGetAppointment_Visibility(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusRequested, nil)

	for _, actor := range []model.Claims{patientA, adminC1, nutriC1, staffC1, platform} {
		apt, err := f.svc.GetAppointment(backgroundC, actor, "apt-1")
		require.NoError(t, err, actor.Role.String())
		assert.Equal(t, "apt-1", apt.ID)
	}

	for _, actor := range []model.Claims{patientB, adminC2} {
		_, err := f.svc.GetAppointment(backgroundC, actor, "apt-1")
		requireKind(t, err, apperrors.KindNotFound)
	}

	_, err := f.svc.GetAppointment(backgroundC, platform, "missing")
	requireKind(t, err, apperrors.KindNotFound)
}

func TestCancelAppointment_Requested(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusRequested, nil)

	apt, err := f.svc.CancelAppointment(backgroundC, patientA, "apt-1")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, apt.Status)
	require.NotNil(t, apt.CancelledAt)
	assert.Equal(t, fixedNow, *apt.CancelledAt)
	require.NotNil(t, apt.CancelledByUID)
	assert.Equal(t, "uid-a", *apt.CancelledByUID)
	require.NotNil(t, apt.CancelledByRole)
	assert.Equal(t, model.RolePatient, *apt.CancelledByRole)
	assert.Equal(t, []string{model.EventAppointmentCancelled}, f.events.types())
}

func TestCancelAppointment_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusRequested, nil)

	first, err := f.svc.CancelAppointment(backgroundC, adminC1, "apt-1")
	require.NoError(t, err)

	second, err := f.svc.CancelAppointment(backgroundC, patientA, "apt-1")
	require.NoError(t, err)

	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	require.NotNil(t, second.CancelledByUID)
	assert.Equal(t, "admin-1", *second.CancelledByUID)
	assert.Len(t, f.events.types(), 1)
}

func TestCancelAppointment_LockWindow(t *testing.T) {
	tests := []struct {
		name    string
		until   time.Duration
		allowed bool
	}{
		{"well ahead", 72 * time.Hour, true},
		{"one second past the window", CancellationLockWindow + time.Second, true},
		{"exactly at the window", CancellationLockWindow, true},
		{"one second inside the window", CancellationLockWindow - time.Second, false},
		{"one hour ahead", time.Hour, false},
		{"already started", -time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "apt-1", model.AppointmentStatusScheduled, timePtr(fixedNow.Add(tt.until)))

			apt, err := f.svc.CancelAppointment(backgroundC, patientA, "apt-1")
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, model.AppointmentStatusCancelled, apt.Status)
				return
			}

			appErr := requireKind(t, err, apperrors.KindForbidden)
			assert.Equal(t, "24h cancellation lock", appErr.Reason)

			stored, err := f.store.GetAppointment(backgroundC, "apt-1")
			require.NoError(t, err)
			assert.Equal(t, model.AppointmentStatusScheduled, stored.Status)
			assert.Empty(t, f.events.types())
		})
	}
}

func TestCancelAppointment_LockAppliesToStaffToo(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusScheduled, timePtr(fixedNow.Add(time.Hour)))

	_, err := f.svc.CancelAppointment(backgroundC, adminC1, "apt-1")
	requireKind(t, err, apperrors.KindForbidden)
}

func TestCancelAppointment_Rejections(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "done", model.AppointmentStatusCompleted, timePtr(fixedNow.Add(-48*time.Hour)))
	f.seed(t, "broken", model.AppointmentStatusScheduled, nil)
	f.seed(t, "open", model.AppointmentStatusRequested, nil)

	_, err := f.svc.CancelAppointment(backgroundC, patientA, "done")
	requireKind(t, err, apperrors.KindForbidden)

	_, err = f.svc.CancelAppointment(backgroundC, patientA, "broken")
	requireKind(t, err, apperrors.KindIntegrity)

	_, err = f.svc.CancelAppointment(backgroundC, adminC2, "open")
	appErr := requireKind(t, err, apperrors.KindForbidden)
	assert.Equal(t, "appointment belongs to another clinic", appErr.Reason)

	_, err = f.svc.CancelAppointment(backgroundC, patientB, "open")
	requireKind(t, err, apperrors.KindForbidden)

	_, err = f.svc.CancelAppointment(backgroundC, patientA, "missing")
	requireKind(t, err, apperrors.KindNotFound)

	stored, err := f.store.GetAppointment(backgroundC, "open")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusRequested, stored.Status)
	assert.Empty(t, f.events.types())
}

func TestScheduleAppointment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusRequested, nil)
	at := fixedNow.Add(72 * time.Hour)

	apt, err := f.svc.ScheduleAppointment(backgroundC, staffC1, "apt-1", at)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusScheduled, apt.Status)
	require.NotNil(t, apt.ScheduledFor)
	assert.Equal(t, at, *apt.ScheduledFor)

	later := at.Add(24 * time.Hour)
	apt, err = f.svc.ScheduleAppointment(backgroundC, nutriC1, "apt-1", later)
	require.NoError(t, err)
	assert.Equal(t, later, *apt.ScheduledFor)

	assert.Equal(t, []string{model.EventAppointmentScheduled, model.EventAppointmentScheduled}, f.events.types())
}

func TestScheduleAppointment_Rejections(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusRequested, nil)
	f.seed(t, "gone", model.AppointmentStatusCancelled, nil)
	future := fixedNow.Add(48 * time.Hour)

	_, err := f.svc.ScheduleAppointment(backgroundC, adminC1, "apt-1", fixedNow.Add(-time.Minute))
	appErr := requireKind(t, err, apperrors.KindValidation)
	require.Len(t, appErr.Fields, 1)
	assert.Equal(t, "scheduledFor", appErr.Fields[0].Field)

	_, err = f.svc.ScheduleAppointment(backgroundC, patientA, "apt-1", future)
	requireKind(t, err, apperrors.KindForbidden)

	_, err = f.svc.ScheduleAppointment(backgroundC, adminC2, "apt-1", future)
	requireKind(t, err, apperrors.KindNotFound)

	_, err = f.svc.ScheduleAppointment(backgroundC, adminC1, "gone", future)
	requireKind(t, err, apperrors.KindForbidden)
}

func TestScheduleAppointment_TerminalAndCorruptStates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "done", model.AppointmentStatusCompleted, timePtr(fixedNow.Add(-time.Hour)))
	f.seed(t, "odd", model.AppointmentStatus("pending"), nil)
	future := fixedNow.Add(48 * time.Hour)

	_, err := f.svc.ScheduleAppointment(backgroundC, adminC1, "done", future)
	appErr := requireKind(t, err, apperrors.KindForbidden)
	assert.Equal(t, "appointment is completed", appErr.Reason)

	_, err = f.svc.ScheduleAppointment(backgroundC, adminC1, "odd", future)
	requireKind(t, err, apperrors.KindIntegrity)

	stored, err := f.store.GetAppointment(backgroundC, "done")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, stored.Status)
	assert.Empty(t, f.events.types())
}

func TestCancelAppointment_CrossTenantStaff(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusRequested, nil)

	_, err := f.svc.CancelAppointment(backgroundC, staffC2, "apt-1")
	requireKind(t, err, apperrors.KindForbidden)

	stored, err := f.store.GetAppointment(backgroundC, "apt-1")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusRequested, stored.Status)
	assert.Nil(t, stored.CancelledAt)
}

func TestCancelAppointment_ConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusRequested, nil)

	callers := []model.Claims{patientA, adminC1, nutriC1, staffC1, platform, patientA, staffC1, adminC1}
	var wg sync.WaitGroup
	errs := make([]error, len(callers))
	for i, actor := range callers {
		wg.Add(1)
		go func(i int, actor model.Claims) {
			defer wg.Done()
			_, errs[i] = f.svc.CancelAppointment(backgroundC, actor, "apt-1")
		}(i, actor)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{model.EventAppointmentCancelled}, f.events.types())

	stored, err := f.store.GetAppointment(backgroundC, "apt-1")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledByUID)
	require.NotNil(t, stored.CancelledByRole)
}

func TestScheduleAndCancel_ConcurrentStayConsistent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusRequested, nil)
	soon := fixedNow.Add(2 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.ScheduleAppointment(backgroundC, staffC1, "apt-1", soon)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.CancelAppointment(backgroundC, adminC1, "apt-1")
		}()
	}
	wg.Wait()

	stored, err := f.store.GetAppointment(backgroundC, "apt-1")
	require.NoError(t, err)

	types := f.events.types()
	cancelled := 0
	for _, typ := range types {
		if typ == model.EventAppointmentCancelled {
			cancelled++
		}
	}

	switch stored.Status {
	case model.AppointmentStatusCancelled:
		assert.Equal(t, 1, cancelled)
		assert.Equal(t, model.EventAppointmentCancelled, types[len(types)-1])
		require.NotNil(t, stored.CancelledAt)
	case model.AppointmentStatusScheduled:
		assert.Zero(t, cancelled)
		require.NotNil(t, stored.ScheduledFor)
		assert.Equal(t, soon, *stored.ScheduledFor)
		assert.Nil(t, stored.CancelledAt)
	default:
		t.Fatalf("unexpected status %s", stored.Status)
	}
}

func TestCompleteAppointment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "apt-1", model.AppointmentStatusScheduled, timePtr(fixedNow.Add(-time.Hour)))
	f.seed(t, "open", model.AppointmentStatusRequested, nil)

	apt, err := f.svc.CompleteAppointment(backgroundC, nutriC1, "apt-1")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, apt.Status)
	require.NotNil(t, apt.CompletedAt)

	again, err := f.svc.CompleteAppointment(backgroundC, platform, "apt-1")
	require.NoError(t, err)
	assert.Equal(t, apt.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, []string{model.EventAppointmentCompleted}, f.events.types())

	_, err = f.svc.CompleteAppointment(backgroundC, nutriC1, "open")
	requireKind(t, err, apperrors.KindForbidden)

	_, err = f.svc.CompleteAppointment(backgroundC, staffC1, "apt-1")
	requireKind(t, err, apperrors.KindForbidden)

	_, err = f.svc.CompleteAppointment(backgroundC, adminC2, "apt-1")
	requireKind(t, err, apperrors.KindNotFound)
}
