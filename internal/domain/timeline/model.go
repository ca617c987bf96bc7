// Package timeline is the read model of demonstration cases: the juridical
// entity they belong to, their ordered movements, and the inbound messages
// logged by the receiver. Scenario capture reads it; nothing in the scenario
// tables points back at it.
package timeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
)

// EntityContext is a juridical entity with its identifier namespaces.
type EntityContext struct {
	ID                uuid.UUID        `json:"id"`
	Name              string           `json:"name"`
	LegalID           string           `json:"legal_id,omitempty"`
	PatientNamespace  *hl7v2.Namespace `json:"patient_namespace,omitempty"`
	VisitNamespace    *hl7v2.Namespace `json:"visit_namespace,omitempty"`
	MovementNamespace *hl7v2.Namespace `json:"movement_namespace,omitempty"`
	StrictProfile     *bool            `json:"strict_profile,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Case is a demonstration patient stay.
type Case struct {
	ID                uuid.UUID  `json:"id"`
	EntityID          *uuid.UUID `json:"entity_id,omitempty"`
	Label             string     `json:"label"`
	PatientExternalID string     `json:"patient_external_id,omitempty"`
	VisitExternalID   string     `json:"visit_external_id,omitempty"`
	Family            string     `json:"family,omitempty"`
	Given             string     `json:"given,omitempty"`
	Sex               string     `json:"sex,omitempty"`
	BirthDate         *time.Time `json:"birth_date,omitempty"`
	CaseType          string     `json:"case_type"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Movement is one event of a case timeline.
type Movement struct {
	ID           uuid.UUID  `json:"id"`
	CaseID       uuid.UUID  `json:"case_id"`
	Trigger      string     `json:"trigger"`
	OccurredAt   time.Time  `json:"occurred_at"`
	Action       string     `json:"action"`
	LocationCode string     `json:"location_code,omitempty"`
	MedicalUnit  hl7v2.Unit `json:"medical_unit"`
	CareUnit     hl7v2.Unit `json:"care_unit"`
	Nature       string     `json:"nature,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// InboundMessage is a message previously received and logged.
type InboundMessage struct {
	ID          uuid.UUID `json:"id"`
	Trigger     string    `json:"trigger"`
	MessageType string    `json:"message_type"`
	ControlID   string    `json:"control_id,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	Payload     string    `json:"payload"`
}

// CaseTimeline is a case with its entity and ordered movements.
type CaseTimeline struct {
	Case      *Case          `json:"case"`
	Entity    *EntityContext `json:"entity,omitempty"`
	Movements []*Movement    `json:"movements"`
}
