package fhir

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

const (
	// EventCodeExtensionURL tags an Encounter with the semantic event code
	// that produced it.
	EventCodeExtensionURL = "http://meddatabridge.local/fhir/StructureDefinition/semantic-event-code"

	// FinessSystem qualifies the legal identifier of a juridical entity.
	FinessSystem = "urn:oid:1.2.250.1.71.4.2.2"

	identifierTypeSystem = "http://terminology.hl7.org/CodeSystem/v2-0203"
	actCodeSystem        = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
)

// encounterStatus maps semantic event codes to Encounter.status.
var encounterStatus = map[string]string{
	"ADMISSION_CONFIRMED": "in-progress",
	"ADMISSION_PLANNED":   "planned",
	"PRE_ADMISSION":       "planned",
	"REGISTRATION":        "arrived",
	"TRANSFER":            "in-progress",
	"CANCEL_TRANSFER":     "in-progress",
	"CHANGE_CLASS":        "in-progress",
	"LEAVE_OF_ABSENCE":    "onleave",
	"RETURN_FROM_LEAVE":   "in-progress",
	"DISCHARGE":           "finished",
	"CANCEL_DISCHARGE":    "in-progress",
	"CANCEL_ADMISSION":    "cancelled",
	"ENCOUNTER_UPDATE":    "in-progress",
}

// EncounterStatus returns the status for a semantic event code, "unknown"
// when unmapped.
func EncounterStatus(eventCode string) string {
	if s, ok := encounterStatus[strings.ToUpper(strings.TrimSpace(eventCode))]; ok {
		return s
	}
	return "unknown"
}

// Namespace is an identifier authority.
type Namespace struct {
	Name string
	Root string
}

// QualifiedID is a raw value optionally qualified by a namespace.
type QualifiedID struct {
	Value     string
	Namespace *Namespace
	TypeCode  string
}

// EncounterBundleInput is everything the Bundle Encoder needs for one step.
type EncounterBundleInput struct {
	EventCode string
	Timestamp time.Time

	PatientIDs []QualifiedID
	Family     string
	Given      string
	Gender     string
	BirthDate  *time.Time

	EntityName    string
	EntityLegalID string

	VisitID      QualifiedID
	CaseType     string
	LocationCode string
}

// BundleEncoder builds transaction Bundles. Its id source is replaceable so
// tests can produce stable fullUrls.
type BundleEncoder struct {
	newID func() string
}

// NewBundleEncoder returns an encoder backed by random UUIDs.
func NewBundleEncoder() *BundleEncoder {
	return &BundleEncoder{newID: uuid.NewString}
}

// Encode builds the Patient, Organization, Location, Practitioner and
// Encounter graph for in as a transaction Bundle.
func (e *BundleEncoder) Encode(in EncounterBundleInput) ([]byte, error) {
	if strings.TrimSpace(in.EventCode) == "" {
		return nil, apperr.Validation("event_code", "semantic event code is required")
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	patientURL := "urn:uuid:" + e.newID()
	orgURL := "urn:uuid:" + e.newID()
	locationURL := "urn:uuid:" + e.newID()
	practitionerURL := "urn:uuid:" + e.newID()
	encounterURL := "urn:uuid:" + e.newID()

	patient := Patient{
		Resource:   Resource{ResourceType: "Patient"},
		Identifier: identifiers(in.PatientIDs, "PI"),
		Gender:     mapGender(in.Gender),
	}
	if in.Family != "" || in.Given != "" {
		name := HumanName{Use: "official", Family: in.Family}
		if in.Given != "" {
			name.Given = []string{in.Given}
		}
		patient.Name = []HumanName{name}
	}
	if in.BirthDate != nil {
		patient.BirthDate = in.BirthDate.Format("2006-01-02")
	}

	org := Organization{
		Resource: Resource{ResourceType: "Organization"},
		Name:     in.EntityName,
		Active:   true,
	}
	if in.EntityLegalID != "" {
		org.Identifier = []Identifier{{System: FinessSystem, Value: in.EntityLegalID}}
	}

	locationName := "Unité de soins"
	if in.LocationCode != "" {
		locationName = in.LocationCode
	}
	location := Location{
		Resource:             Resource{ResourceType: "Location"},
		Status:               "active",
		Name:                 locationName,
		Mode:                 "instance",
		ManagingOrganization: &Reference{Reference: orgURL},
	}
	if in.LocationCode != "" {
		location.Identifier = []Identifier{{Value: in.LocationCode}}
	}

	practitioner := Practitioner{
		Resource: Resource{ResourceType: "Practitioner"},
		Active:   true,
		Name:     []HumanName{{Family: "Generique", Given: []string{"Praticien"}}},
	}

	start := ts.UTC()
	status := EncounterStatus(in.EventCode)
	period := &Period{Start: &start}
	if status == "finished" {
		period.End = &start
	}
	encounter := Encounter{
		Resource: Resource{ResourceType: "Encounter"},
		Extension: []Extension{{
			URL:       EventCodeExtensionURL,
			ValueCode: strings.ToUpper(strings.TrimSpace(in.EventCode)),
		}},
		Status:          status,
		Class:           encounterClass(in.CaseType),
		Subject:         Reference{Reference: patientURL},
		Participant:     []EncounterParticipant{{Individual: Reference{Reference: practitionerURL}}},
		Period:          period,
		Location:        []EncounterLocation{{Location: Reference{Reference: locationURL}, Status: "active"}},
		ServiceProvider: &Reference{Reference: orgURL},
	}
	if in.VisitID.Value != "" {
		encounter.Identifier = identifiers([]QualifiedID{in.VisitID}, "VN")
	}

	bundle := NewTransactionBundle(e.newID(), ts)
	entries := []struct {
		url      string
		kind     string
		resource interface{}
	}{
		{patientURL, "Patient", patient},
		{orgURL, "Organization", org},
		{locationURL, "Location", location},
		{practitionerURL, "Practitioner", practitioner},
		{encounterURL, "Encounter", encounter},
	}
	for _, entry := range entries {
		if err := bundle.AddCreate(entry.url, entry.kind, entry.resource); err != nil {
			return nil, err
		}
	}

	return json.Marshal(bundle)
}

// identifiers qualifies each id the same way PID-3 does: the namespace root
// becomes the system and the authority name the assigner.
func identifiers(ids []QualifiedID, defaultType string) []Identifier {
	var out []Identifier
	for _, id := range ids {
		if id.Value == "" {
			continue
		}
		typeCode := id.TypeCode
		if typeCode == "" {
			typeCode = defaultType
		}
		ident := Identifier{
			Use:   "usual",
			Value: id.Value,
			Type: &CodeableConcept{
				Coding: []Coding{{System: identifierTypeSystem, Code: typeCode}},
			},
		}
		if id.Namespace != nil {
			ident.System = "urn:oid:" + id.Namespace.Root
			ident.Assigner = &Reference{Display: id.Namespace.Name}
		}
		out = append(out, ident)
	}
	return out
}

func encounterClass(caseType string) Coding {
	switch strings.ToLower(strings.TrimSpace(caseType)) {
	case "outpatient", "consultation", "amb", "o":
		return Coding{System: actCodeSystem, Code: "AMB", Display: "ambulatory"}
	case "emergency", "urgence", "emer", "e":
		return Coding{System: actCodeSystem, Code: "EMER", Display: "emergency"}
	default:
		return Coding{System: actCodeSystem, Code: "IMP", Display: "inpatient encounter"}
	}
}

func mapGender(sex string) string {
	switch strings.ToLower(strings.TrimSpace(sex)) {
	case "m", "male":
		return "male"
	case "f", "female":
		return "female"
	case "o", "other":
		return "other"
	case "":
		return ""
	default:
		return "unknown"
	}
}
