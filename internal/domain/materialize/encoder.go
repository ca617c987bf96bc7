// Package materialize turns protocol-agnostic templates into concrete
// scenarios. The protocol-specific encoding is a StepEncoder chosen once
// per scenario.
package materialize

import (
	"fmt"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/fhir"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
)

// Subject is the patient stay every step of one scenario talks about.
type Subject struct {
	PatientID string
	VisitID   string

	Family    string
	Given     string
	Sex       string
	BirthDate *time.Time
	CaseType  string

	LocationCode string
	MedicalUnit  hl7v2.Unit
	CareUnit     hl7v2.Unit

	EntityName    string
	EntityLegalID string

	PatientNamespace  *hl7v2.Namespace
	VisitNamespace    *hl7v2.Namespace
	MovementNamespace *hl7v2.Namespace

	StrictProfile bool
}

// StepInput is one event to encode for the subject.
type StepInput struct {
	EventCode  string
	Trigger    string
	Timestamp  time.Time
	MovementID string
	Action     string
	Nature     string
}

// Encoded is a ready-to-store step payload.
type Encoded struct {
	Format      string
	MessageType string
	Payload     string
}

// StepEncoder encodes steps for one protocol.
type StepEncoder interface {
	Format() string
	Encode(subj Subject, in StepInput) (Encoded, error)
}

// NewStepEncoder returns the encoder for protocol. Materialization only
// produces single-protocol scenarios.
func NewStepEncoder(protocol string, header hl7v2.Header) (StepEncoder, error) {
	switch protocol {
	case scenario.ProtocolLegacy:
		return &LegacyEncoder{Header: header}, nil
	case scenario.ProtocolBundle:
		return &BundleEncoder{enc: fhir.NewBundleEncoder()}, nil
	default:
		return nil, apperr.Validation("protocol", "cannot materialize protocol %q", protocol)
	}
}

// cancelledTriggers maps each cancellation trigger to the trigger it
// cancels, written to ZBE-6.
var cancelledTriggers = map[string]string{
	"A11": "A01",
	"A12": "A02",
	"A13": "A03",
	"A38": "A05",
	"A52": "A21",
	"A53": "A22",
	"A55": "A54",
}

// LegacyEncoder produces HL7v2 PAM messages.
type LegacyEncoder struct {
	Header hl7v2.Header
}

func (e *LegacyEncoder) Format() string { return scenario.FormatHL7v2 }

func (e *LegacyEncoder) Encode(subj Subject, in StepInput) (Encoded, error) {
	trigger := hl7v2.NormalizeTrigger(in.Trigger)
	if trigger == "" {
		return Encoded{}, apperr.Validation("legacy", "event %s has no legacy trigger", in.EventCode)
	}

	hdr := e.Header
	hdr.Timestamp = in.Timestamp
	msg := hl7v2.ADTMessage{
		Trigger: trigger,
		Header:  hdr,
		Patient: hl7v2.Patient{
			Identifiers: []hl7v2.Identifier{{Value: subj.PatientID, Namespace: subj.PatientNamespace}},
			ExternalID:  subj.PatientID,
			Family:      subj.Family,
			Given:       subj.Given,
			BirthDate:   subj.BirthDate,
			Sex:         subj.Sex,
		},
		StrictProfile: subj.StrictProfile,
	}
	if !hl7v2.IsIdentityTrigger(trigger) {
		msg.Visit = &hl7v2.Visit{
			Identifier:          hl7v2.Identifier{Value: subj.VisitID, Namespace: subj.VisitNamespace},
			CaseType:            subj.CaseType,
			LocationCode:        subj.LocationCode,
			ResponsibleUnitCode: subj.MedicalUnit.Code,
		}
	}
	if hl7v2.IsMovementTrigger(trigger) && in.MovementID != "" {
		mv := &hl7v2.Movement{
			Identifier:  hl7v2.Identifier{Value: in.MovementID, Namespace: subj.MovementNamespace},
			Timestamp:   in.Timestamp,
			Action:      in.Action,
			Trigger:     trigger,
			MedicalUnit: subj.MedicalUnit,
			CareUnit:    subj.CareUnit,
			Nature:      in.Nature,
		}
		if original, ok := cancelledTriggers[trigger]; ok {
			mv.Action = hl7v2.ActionCancel
			mv.OriginalTrigger = original
		}
		msg.Movement = mv
	}

	data, err := hl7v2.EncodeADT(msg)
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{
		Format:      scenario.FormatHL7v2,
		MessageType: fmt.Sprintf("ADT^%s^%s", trigger, hl7v2.MessageStructure(trigger)),
		Payload:     string(data),
	}, nil
}

// BundleEncoder produces FHIR transaction Bundles.
type BundleEncoder struct {
	enc *fhir.BundleEncoder
}

func (e *BundleEncoder) Format() string { return scenario.FormatFHIR }

func (e *BundleEncoder) Encode(subj Subject, in StepInput) (Encoded, error) {
	data, err := e.enc.Encode(fhir.EncounterBundleInput{
		EventCode:     in.EventCode,
		Timestamp:     in.Timestamp,
		PatientIDs:    []fhir.QualifiedID{qualified(subj.PatientID, subj.PatientNamespace)},
		Family:        subj.Family,
		Given:         subj.Given,
		Gender:        subj.Sex,
		BirthDate:     subj.BirthDate,
		EntityName:    subj.EntityName,
		EntityLegalID: subj.EntityLegalID,
		VisitID:       qualified(subj.VisitID, subj.VisitNamespace),
		CaseType:      subj.CaseType,
		LocationCode:  subj.LocationCode,
	})
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{
		Format:      scenario.FormatFHIR,
		MessageType: "Bundle^transaction",
		Payload:     string(data),
	}, nil
}

func qualified(value string, ns *hl7v2.Namespace) fhir.QualifiedID {
	id := fhir.QualifiedID{Value: value}
	if ns != nil {
		id.Namespace = &fhir.Namespace{Name: ns.Name, Root: ns.Root}
	}
	return id
}
