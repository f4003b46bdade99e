// Package notification emails patients about changes made to their
// appointments by the clinic.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/nutri-api/internal/email"
	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/repository"
	"github.com/jwalitptl/nutri-api/pkg/metrics"
)

const cancelledSubject = "Your appointment has been cancelled"

type Service struct {
	patients repository.PatientReader
	mailer   email.Service
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func NewService(patients repository.PatientReader, mailer email.Service, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		patients: patients,
		mailer:   mailer,
		logger:   logger,
		metrics:  m,
	}
}

// HandleEvent reacts to one domain event. Unknown event types are ignored.
func (s *Service) HandleEvent(ctx context.Context, evt model.Event) error {
	switch evt.Type {
	case model.EventAppointmentCancelled:
		return s.appointmentCancelled(ctx, evt)
	}
	return nil
}

func (s *Service) appointmentCancelled(ctx context.Context, evt model.Event) error {
	// Patients already know they cancelled.
	if evt.ActorRole == model.RolePatient {
		return nil
	}

	var apt model.Appointment
	if err := json.Unmarshal(evt.Data, &apt); err != nil {
		return fmt.Errorf("failed to decode appointment from event %s: %w", evt.ID, err)
	}

	p, err := s.patients.GetPatient(ctx, apt.PatientID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn().Str("patient_id", apt.PatientID).Str("event_id", evt.ID).Msg("patient for cancelled appointment not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load patient %s: %w", apt.PatientID, err)
	}
	if p.Email == nil || strings.TrimSpace(*p.Email) == "" {
		s.metrics.NotificationSent("skipped")
		return nil
	}

	if err := s.mailer.Send(ctx, *p.Email, cancelledSubject, cancelledBody(p, &apt)); err != nil {
		s.metrics.NotificationSent("failed")
		return err
	}

	s.metrics.NotificationSent("sent")
	s.logger.Info().Str("appointment_id", apt.ID).Str("patient_id", p.ID).Msg("cancellation notice sent")
	return nil
}

func cancelledBody(p *model.Patient, apt *model.Appointment) string {
	when := ""
	if apt.ScheduledFor != nil {
		when = " on " + apt.ScheduledFor.Format("Mon, 02 Jan 2006 15:04 MST")
	}
	return fmt.Sprintf(
		"Hello %s,\n\nYour appointment%s has been cancelled by the clinic.\nYou can request a new appointment at any time.\n",
		p.Name, when,
	)
}
