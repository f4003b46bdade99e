package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentRequested = "appointment.requested"
	EventAppointmentScheduled = "appointment.scheduled"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentCompleted = "appointment.completed"
	EventPatientLinked        = "patient.linked"
	EventPatientClinicMoved   = "patient.clinic_moved"
)

// Event is a domain event published after a committed change.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	ClinicID   string          `json:"clinicId"`
	EntityID   string          `json:"entityId"`
	ActorUID   string          `json:"actorUid"`
	ActorRole  Role            `json:"actorRole"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func NewEvent(eventType string, actor Claims, clinicID, entityID string, data interface{}, at time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ClinicID:   clinicID,
		EntityID:   entityID,
		ActorUID:   actor.UID,
		ActorRole:  actor.Role,
		Data:       raw,
		OccurredAt: at.UTC(),
	}, nil
}
