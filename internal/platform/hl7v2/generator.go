package hl7v2

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SegmentSeparator joins segments of an encoded message.
	SegmentSeparator = "\r"

	// DefaultVersion is written to MSH-12.
	DefaultVersion = "2.5"

	timestampLayout       = "20060102150405"
	timestampOffsetLayout = "20060102150405-0700"
)

// Namespace is an identifier authority: an assigning authority name plus
// its universal (root) identifier.
type Namespace struct {
	Name     string `json:"name"`
	Root     string `json:"root"`
	RootType string `json:"root_type,omitempty"`
}

// Identifier is a raw value optionally qualified by a namespace.
type Identifier struct {
	Value     string     `json:"value"`
	Namespace *Namespace `json:"namespace,omitempty"`
	TypeCode  string     `json:"type_code,omitempty"`
}

// Patient carries the identity data encoded into PID.
type Patient struct {
	Identifiers []Identifier `json:"identifiers,omitempty"`
	ExternalID  string       `json:"external_id,omitempty"`
	Family      string       `json:"family,omitempty"`
	Given       string       `json:"given,omitempty"`
	BirthDate   *time.Time   `json:"birth_date,omitempty"`
	Sex         string       `json:"sex,omitempty"`
}

// Visit carries the encounter data encoded into PV1.
type Visit struct {
	Identifier          Identifier `json:"identifier"`
	CaseType            string     `json:"case_type,omitempty"`
	LocationCode        string     `json:"location_code,omitempty"`
	ResponsibleUnitCode string     `json:"responsible_unit_code,omitempty"`
}

// Unit is a label + code pair (XON.1 and XON.10).
type Unit struct {
	Label string `json:"label,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Movement carries the data encoded into the ZBE segment.
type Movement struct {
	Identifier      Identifier `json:"identifier"`
	Timestamp       time.Time  `json:"timestamp"`
	Action          string     `json:"action,omitempty"`
	Historic        bool       `json:"historic,omitempty"`
	Trigger         string     `json:"trigger,omitempty"`
	OriginalTrigger string     `json:"original_trigger,omitempty"`
	MedicalUnit     Unit       `json:"medical_unit"`
	CareUnit        Unit       `json:"care_unit"`
	Nature          string     `json:"nature,omitempty"`
}

// Header carries MSH routing data. Zero Timestamp means now; empty
// ControlID means a generated one.
type Header struct {
	SendingApplication   string    `json:"sending_application,omitempty"`
	SendingFacility      string    `json:"sending_facility,omitempty"`
	ReceivingApplication string    `json:"receiving_application,omitempty"`
	ReceivingFacility    string    `json:"receiving_facility,omitempty"`
	Timestamp            time.Time `json:"timestamp,omitempty"`
	ControlID            string    `json:"control_id,omitempty"`
	Version              string    `json:"version,omitempty"`
}

// ADTMessage is everything needed to encode one PAM message.
type ADTMessage struct {
	Trigger       string    `json:"trigger"`
	Header        Header    `json:"header"`
	Patient       Patient   `json:"patient"`
	Visit         *Visit    `json:"visit,omitempty"`
	Movement      *Movement `json:"movement,omitempty"`
	StrictProfile bool      `json:"strict_profile,omitempty"`
}

// EncodeADT validates msg against the PAM conformance rules and encodes it.
// On a conformance failure nothing is encoded.
func EncodeADT(msg ADTMessage) ([]byte, error) {
	trigger := NormalizeTrigger(msg.Trigger)
	if err := CheckConformance(trigger, msg.Movement != nil, msg.StrictProfile); err != nil {
		return nil, err
	}

	ts := msg.Header.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	segments := []string{
		HeaderSegment(msg.Header, trigger, ts),
		EventSegment(trigger, ts),
		IdentitySegment(msg.Patient),
	}
	if msg.Visit != nil {
		segments = append(segments, VisitSegment(*msg.Visit))
	}
	if msg.Movement != nil && !IsIdentityTrigger(trigger) {
		segments = append(segments, MovementSegment(*msg.Movement, trigger))
	}

	return []byte(strings.Join(segments, SegmentSeparator)), nil
}

// HeaderSegment builds MSH for the ADT trigger at ts.
func HeaderSegment(h Header, trigger string, ts time.Time) string {
	trigger = NormalizeTrigger(trigger)
	controlID := h.ControlID
	if controlID == "" {
		controlID = NewControlID()
	}
	version := h.Version
	if version == "" {
		version = DefaultVersion
	}

	seg := newSegment("MSH", 18)
	seg.set(2, `^~\&`)
	seg.set(3, escapeHL7(h.SendingApplication))
	seg.set(4, escapeHL7(h.SendingFacility))
	seg.set(5, escapeHL7(h.ReceivingApplication))
	seg.set(6, escapeHL7(h.ReceivingFacility))
	seg.set(7, FormatTimestamp(ts))
	seg.set(9, "ADT^"+trigger+"^"+MessageStructure(trigger))
	seg.set(10, controlID)
	seg.set(11, "P")
	seg.set(12, version)
	seg.set(17, "FRA")
	// Payloads stay UTF-8 in storage; the MLLP sender transcodes to MSH-18.
	seg.set(18, "8859/1")
	return seg.String()
}

// EventSegment builds EVN with the recorded and occurred timestamps.
func EventSegment(trigger string, ts time.Time) string {
	seg := newSegment("EVN", 6)
	seg.set(1, NormalizeTrigger(trigger))
	seg.set(2, FormatTimestamp(ts))
	seg.set(6, FormatTimestamp(ts))
	return seg.String()
}

// IdentitySegment builds PID. Namespace-qualified identifiers are repeated
// in PID-3; without any, the bare external id is used.
func IdentitySegment(p Patient) string {
	var qualified []string
	for _, id := range p.Identifiers {
		if id.Value == "" || id.Namespace == nil {
			continue
		}
		typeCode := id.TypeCode
		if typeCode == "" {
			typeCode = "PI"
		}
		qualified = append(qualified, formatCX(id, typeCode))
	}

	pid3 := strings.Join(qualified, "~")
	if pid3 == "" {
		pid3 = escapeHL7(p.ExternalID)
	}
	if pid3 == "" {
		for _, id := range p.Identifiers {
			if id.Value != "" {
				pid3 = escapeHL7(id.Value)
				break
			}
		}
	}

	seg := newSegment("PID", 8)
	seg.set(1, "1")
	seg.set(3, pid3)
	if p.Family != "" || p.Given != "" {
		seg.set(5, escapeHL7(p.Family)+"^"+escapeHL7(p.Given)+"^^^^^L")
	}
	if p.BirthDate != nil {
		seg.set(7, p.BirthDate.Format("20060102"))
	}
	seg.set(8, mapSex(p.Sex))
	return seg.String()
}

// VisitSegment builds PV1: class, location, responsible unit, visit number.
func VisitSegment(v Visit) string {
	seg := newSegment("PV1", 19)
	seg.set(1, "1")
	seg.set(2, PatientClass(v.CaseType))
	seg.set(3, escapeHL7(v.LocationCode))
	seg.set(10, escapeHL7(v.ResponsibleUnitCode))
	if v.Identifier.Value != "" {
		if v.Identifier.Namespace != nil {
			typeCode := v.Identifier.TypeCode
			if typeCode == "" {
				typeCode = "VN"
			}
			seg.set(19, formatCX(v.Identifier, typeCode))
		} else {
			seg.set(19, escapeHL7(v.Identifier.Value))
		}
	}
	return seg.String()
}

// MovementSegment builds the ZBE segment: exactly nine fields after the tag.
func MovementSegment(m Movement, trigger string) string {
	own := NormalizeTrigger(m.Trigger)
	if own == "" {
		own = NormalizeTrigger(trigger)
	}
	action := NormalizeAction(m.Action)

	original := ""
	if action == ActionUpdate || action == ActionCancel {
		original = NormalizeTrigger(m.OriginalTrigger)
		if original == "" {
			original = own
		}
	}

	historic := "N"
	if m.Historic {
		historic = "Y"
	}

	seg := newSegment("ZBE", 9)
	seg.set(1, formatEI(m.Identifier))
	if !m.Timestamp.IsZero() {
		seg.set(2, FormatTimestamp(m.Timestamp))
	}
	seg.set(4, action)
	seg.set(5, historic)
	seg.set(6, original)
	seg.set(7, formatXON(m.MedicalUnit))
	seg.set(8, formatXON(m.CareUnit))
	seg.set(9, ResolveNature(m.Nature, own))
	return seg.String()
}

// PatientClass maps a case type to PV1-2.
func PatientClass(caseType string) string {
	switch strings.ToLower(strings.TrimSpace(caseType)) {
	case "inpatient", "hospitalisation", "imp", "i":
		return "I"
	case "outpatient", "consultation", "amb", "o":
		return "O"
	case "emergency", "urgence", "emer", "e":
		return "E"
	default:
		return "U"
	}
}

// FormatTimestamp renders t as an HL7 DTM in UTC with an explicit +0000
// offset, so receivers do not read it as their local time.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampOffsetLayout)
}

// NewControlID returns a fresh MSH-10 value.
func NewControlID() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "MDB" + raw[:17]
}

// ---- Composite formatting ----

// formatCX renders value^^^name&root&type^typeCode.
func formatCX(id Identifier, typeCode string) string {
	ns := id.Namespace
	rootType := ns.RootType
	if rootType == "" {
		rootType = "ISO"
	}
	authority := escapeSub(ns.Name) + "&" + escapeSub(ns.Root) + "&" + rootType
	return fmt.Sprintf("%s^^^%s^%s", escapeHL7(id.Value), authority, typeCode)
}

// formatEI renders value^name^root^type, or the bare value.
func formatEI(id Identifier) string {
	if id.Namespace == nil {
		return escapeHL7(id.Value)
	}
	rootType := id.Namespace.RootType
	if rootType == "" {
		rootType = "ISO"
	}
	return fmt.Sprintf("%s^%s^%s^%s", escapeHL7(id.Value), escapeHL7(id.Namespace.Name), escapeHL7(id.Namespace.Root), rootType)
}

// formatXON renders label^^^^^^^^^code (XON.1 and XON.10).
func formatXON(u Unit) string {
	if u.Label == "" && u.Code == "" {
		return ""
	}
	return escapeHL7(u.Label) + strings.Repeat("^", 9) + escapeHL7(u.Code)
}

// escapeHL7 escapes HL7 special characters in a string.
// The HL7 escape sequences are:
//
//	\F\ = |  (field separator)
//	\S\ = ^  (component separator)
//	\R\ = ~  (repetition separator)
//	\E\ = \  (escape character)
//	\T\ = &  (subcomponent separator)
func escapeHL7(s string) string {
	// Escape backslash first to avoid double-escaping
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}

func escapeSub(s string) string {
	return escapeHL7(s)
}

// mapSex normalises administrative sex to the HL7 table 0001 subset.
func mapSex(sex string) string {
	switch strings.ToLower(strings.TrimSpace(sex)) {
	case "m", "male":
		return "M"
	case "f", "female":
		return "F"
	case "o", "other":
		return "O"
	case "":
		return ""
	default:
		return "U"
	}
}

// ---- Segment builder ----

// segment is a positional field list; index 1 is the first field after the
// segment name (MSH-2 for MSH since MSH-1 is the separator itself).
type segment struct {
	name   string
	fields []string
}

func newSegment(name string, size int) *segment {
	if name == "MSH" {
		size--
	}
	return &segment{name: name, fields: make([]string, size)}
}

func (s *segment) set(index int, value string) {
	i := index - 1
	if s.name == "MSH" {
		i--
	}
	if i < 0 || i >= len(s.fields) {
		return
	}
	s.fields[i] = value
}

func (s *segment) String() string {
	return s.name + "|" + strings.Join(s.fields, "|")
}
