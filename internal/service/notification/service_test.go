package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/repository/memory"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, to, subject, body string) error {
	return m.Called(ctx, to, subject, body).Error(0)
}

func strPtr(v string) *string { return &v }

func setup(t *testing.T) (*Service, *mockMailer) {
	t.Helper()
	store := memory.NewStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, p := range []model.Patient{
		{ID: "p-mail", ClinicID: "c1", Name: "Ada", Email: strPtr("ada@example.com"), CreatedAt: now, UpdatedAt: now},
		{ID: "p-nomail", ClinicID: "c1", Name: "Bo", CreatedAt: now, UpdatedAt: now},
	} {
		p := p
		require.NoError(t, store.CreatePatient(context.Background(), &p))
	}

	mailer := new(mockMailer)
	t.Cleanup(func() { mailer.AssertExpectations(t) })
	return NewService(store, mailer, zerolog.Nop(), nil), mailer
}

func cancelledEvent(t *testing.T, actor model.Claims, patientID string) model.Event {
	t.Helper()
	at := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	apt := model.Appointment{ID: "apt-1", ClinicID: "c1", PatientID: patientID, Status: model.AppointmentStatusCancelled, ScheduledFor: &at}
	evt, err := model.NewEvent(model.EventAppointmentCancelled, actor, "c1", apt.ID, apt, time.Now())
	require.NoError(t, err)
	return evt
}

func TestHandleEvent_ClinicCancellationNotifiesPatient(t *testing.T) {
	svc, mailer := setup(t)
	admin := model.Claims{UID: "admin-1", Role: model.RoleClinicAdmin, ClinicID: "c1"}

	mailer.On("Send", mock.Anything, "ada@example.com", cancelledSubject, mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "Hello Ada") && strings.Contains(body, "10 Jun 2025")
	})).Return(nil).Once()

	require.NoError(t, svc.HandleEvent(context.Background(), cancelledEvent(t, admin, "p-mail")))
}

func TestHandleEvent_Skips(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	admin := model.Claims{UID: "admin-1", Role: model.RoleClinicAdmin, ClinicID: "c1"}

	assert.NoError(t, svc.HandleEvent(ctx, cancelledEvent(t, model.Claims{UID: "u", Role: model.RolePatient}, "p-mail")), "self cancellation")
	assert.NoError(t, svc.HandleEvent(ctx, cancelledEvent(t, admin, "p-nomail")), "no email on file")
	assert.NoError(t, svc.HandleEvent(ctx, cancelledEvent(t, admin, "p-gone")), "patient deleted")

	other, err := model.NewEvent(model.EventAppointmentScheduled, admin, "c1", "apt-1", map[string]string{}, time.Now())
	require.NoError(t, err)
	assert.NoError(t, svc.HandleEvent(ctx, other), "other event types")
}

func TestHandleEvent_MailFailure(t *testing.T) {
	svc, mailer := setup(t)
	admin := model.Claims{UID: "admin-1", Role: model.RoleClinicAdmin, ClinicID: "c1"}
	mailer.On("Send", mock.Anything, "ada@example.com", cancelledSubject, mock.Anything).Return(errors.New("smtp down")).Once()

	err := svc.HandleEvent(context.Background(), cancelledEvent(t, admin, "p-mail"))
	assert.ErrorContains(t, err, "smtp down")
}

func TestHandleEvent_BadPayload(t *testing.T) {
	svc, _ := setup(t)
	evt := model.Event{ID: "e1", Type: model.EventAppointmentCancelled, ActorRole: model.RoleStaff, Data: []byte(`"nope"`)}

	assert.Error(t, svc.HandleEvent(context.Background(), evt))
}
