package hl7v2

import (
	"strings"
	"testing"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

var testTime = time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)

func testNamespace(name string) *Namespace {
	return &Namespace{Name: name, Root: "1.2.250.1.71.4.2.7." + name}
}

func admissionMessage() ADTMessage {
	return ADTMessage{
		Trigger: "A01",
		Header: Header{
			SendingApplication:   "MEDDATABRIDGE",
			SendingFacility:      "MDB",
			ReceivingApplication: "RECV",
			ReceivingFacility:    "FAC",
			Timestamp:            testTime,
			ControlID:            "CTRL1",
		},
		Patient: Patient{
			Identifiers: []Identifier{{Value: "P100", Namespace: testNamespace("IPP")}},
			Family:      "Durand",
			Given:       "Claire",
			Sex:         "female",
		},
		Visit: &Visit{
			Identifier:          Identifier{Value: "V200", Namespace: testNamespace("NDA")},
			CaseType:            "inpatient",
			LocationCode:        "CARDIO-01",
			ResponsibleUnitCode: "UF1234",
		},
		Movement: &Movement{
			Identifier:  Identifier{Value: "M300"},
			Timestamp:   testTime,
			Trigger:     "A01",
			MedicalUnit: Unit{Label: "Cardiologie", Code: "UF1234"},
			CareUnit:    Unit{Label: "Soins cardio", Code: "UF5678"},
		},
	}
}

func segmentLine(t *testing.T, data []byte, name string) string {
	t.Helper()
	for _, line := range strings.Split(string(data), SegmentSeparator) {
		if strings.HasPrefix(line, name+"|") {
			return line
		}
	}
	t.Fatalf("segment %s not found in %q", name, data)
	return ""
}

func TestEncodeADT_Admission(t *testing.T) {
	data, err := EncodeADT(admissionMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	segs := strings.Split(string(data), SegmentSeparator)
	if len(segs) != 5 {
		t.Fatalf("expected 5 segments, got %d: %q", len(segs), data)
	}
	for i, name := range []string{"MSH", "EVN", "PID", "PV1", "ZBE"} {
		if !strings.HasPrefix(segs[i], name+"|") {
			t.Errorf("segment %d: expected %s, got %q", i, name, segs[i])
		}
	}

	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("encoded message does not parse: %v", err)
	}
	if msg.Type != "ADT^A01^ADT_A01" {
		t.Errorf("expected type ADT^A01^ADT_A01, got %q", msg.Type)
	}
	if msg.ControlID != "CTRL1" {
		t.Errorf("expected control id CTRL1, got %q", msg.ControlID)
	}
	if !msg.Timestamp.Equal(testTime) {
		t.Errorf("expected timestamp %v, got %v", testTime, msg.Timestamp)
	}
	if msg.PatientID() != "P100" {
		t.Errorf("expected patient id P100, got %q", msg.PatientID())
	}
	if msg.VisitNumber() != "V200" {
		t.Errorf("expected visit number V200, got %q", msg.VisitNumber())
	}
	if msg.MovementID() != "M300" {
		t.Errorf("expected movement id M300, got %q", msg.MovementID())
	}
}

func TestIdentitySegment_NamespaceQualified(t *testing.T) {
	pid := IdentitySegment(Patient{
		Identifiers: []Identifier{{Value: "P100", Namespace: &Namespace{Name: "IPP", Root: "1.2.3"}}},
	})
	if !strings.Contains(pid, "|P100^^^IPP&1.2.3&ISO^PI|") {
		t.Errorf("expected qualified PID-3, got %q", pid)
	}
}

func TestIdentitySegment_FallsBackToExternalID(t *testing.T) {
	pid := IdentitySegment(Patient{ExternalID: "EXT-9", Family: "Martin"})
	fields := strings.Split(pid, "|")
	if fields[3] != "EXT-9" {
		t.Errorf("expected bare external id in PID-3, got %q", fields[3])
	}
	if fields[5] != "Martin^^^^^^L" {
		t.Errorf("unexpected PID-5: %q", fields[5])
	}
}

func TestVisitSegment_Fields(t *testing.T) {
	pv1 := VisitSegment(Visit{
		Identifier:          Identifier{Value: "V1", Namespace: &Namespace{Name: "NDA", Root: "1.2.4"}},
		CaseType:            "emergency",
		LocationCode:        "URG",
		ResponsibleUnitCode: "UF9",
	})
	fields := strings.Split(pv1, "|")
	if len(fields) != 20 {
		t.Fatalf("expected PV1 with 19 fields, got %d", len(fields)-1)
	}
	if fields[2] != "E" {
		t.Errorf("expected class E, got %q", fields[2])
	}
	if fields[3] != "URG" {
		t.Errorf("expected PV1-3 URG, got %q", fields[3])
	}
	if fields[10] != "UF9" {
		t.Errorf("expected PV1-10 UF9, got %q", fields[10])
	}
	if fields[19] != "V1^^^NDA&1.2.4&ISO^VN" {
		t.Errorf("unexpected PV1-19: %q", fields[19])
	}
}

func TestMovementSegment_NineFields(t *testing.T) {
	zbe := MovementSegment(Movement{
		Identifier:  Identifier{Value: "M1", Namespace: &Namespace{Name: "MVT", Root: "1.2.5"}},
		Timestamp:   testTime,
		Action:      "insert",
		MedicalUnit: Unit{Label: "Cardio", Code: "UF1"},
		CareUnit:    Unit{Label: "Soins", Code: "UF2"},
		Nature:      "S",
	}, "A02")

	fields := strings.Split(zbe, "|")
	if len(fields) != 10 {
		t.Fatalf("expected ZBE with 9 fields, got %d: %q", len(fields)-1, zbe)
	}
	want := []string{
		"ZBE",
		"M1^MVT^1.2.5^ISO",
		"20240314093000+0000",
		"",
		"INSERT",
		"N",
		"",
		"Cardio^^^^^^^^^UF1",
		"Soins^^^^^^^^^UF2",
		"S",
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d: expected %q, got %q", i, want[i], fields[i])
		}
	}
}

func TestMovementSegment_UpdateFallsBackToOwnTrigger(t *testing.T) {
	zbe := MovementSegment(Movement{Identifier: Identifier{Value: "M1"}, Action: ActionUpdate, Historic: true}, "A01")
	fields := strings.Split(zbe, "|")
	if fields[4] != "UPDATE" {
		t.Errorf("expected UPDATE, got %q", fields[4])
	}
	if fields[5] != "Y" {
		t.Errorf("expected historic Y, got %q", fields[5])
	}
	if fields[6] != "A01" {
		t.Errorf("expected original trigger A01, got %q", fields[6])
	}
}

func TestMovementSegment_CancelUsesOriginalTrigger(t *testing.T) {
	zbe := MovementSegment(Movement{Action: ActionCancel, Trigger: "A12", OriginalTrigger: "A02"}, "A12")
	fields := strings.Split(zbe, "|")
	if fields[6] != "A02" {
		t.Errorf("expected original trigger A02, got %q", fields[6])
	}
}

func TestMovementSegment_UnknownActionBecomesInsert(t *testing.T) {
	zbe := MovementSegment(Movement{Action: "bogus"}, "A02")
	fields := strings.Split(zbe, "|")
	if fields[4] != "INSERT" {
		t.Errorf("expected INSERT, got %q", fields[4])
	}
	if fields[6] != "" {
		t.Errorf("expected empty original trigger for INSERT, got %q", fields[6])
	}
}

func TestMovementSegment_NatureDerivedFromTrigger(t *testing.T) {
	zbe := MovementSegment(Movement{Nature: "XX"}, "A02")
	fields := strings.Split(zbe, "|")
	if fields[9] != "H" {
		t.Errorf("expected derived nature H, got %q", fields[9])
	}
}

func TestEncodeADT_TransferRequiresMovement(t *testing.T) {
	msg := admissionMessage()
	msg.Trigger = "A02"
	msg.Movement = nil

	data, err := EncodeADT(msg)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if data != nil {
		t.Errorf("expected no output on failure, got %q", data)
	}
}

func TestEncodeADT_AdmissionWithoutMovement(t *testing.T) {
	msg := admissionMessage()
	msg.Movement = nil

	data, err := EncodeADT(msg)
	if err != nil {
		t.Fatalf("simplified admission must encode without movement: %v", err)
	}
	if strings.Contains(string(data), "ZBE|") {
		t.Errorf("expected no ZBE segment, got %q", data)
	}
}

func TestEncodeADT_IdentityTriggerNeverCarriesZBE(t *testing.T) {
	msg := admissionMessage()
	msg.Trigger = "A31"

	data, err := EncodeADT(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(data), "ZBE|") {
		t.Errorf("identity message must not carry ZBE: %q", data)
	}
	if got := segmentLine(t, data, "MSH"); !strings.Contains(got, "|ADT^A31^ADT_A05|") {
		t.Errorf("unexpected MSH-9 in %q", got)
	}
}

func TestEncodeADT_MergeNotImplemented(t *testing.T) {
	for _, trigger := range []string{"A40", "A47"} {
		msg := admissionMessage()
		msg.Trigger = trigger
		_, err := EncodeADT(msg)
		if !apperr.IsNotImplemented(err) {
			t.Errorf("%s: expected not implemented, got %v", trigger, err)
		}
	}
}

func TestEncodeADT_StrictProfileRejectsA08(t *testing.T) {
	msg := admissionMessage()
	msg.Trigger = "A08"
	msg.StrictProfile = true
	if _, err := EncodeADT(msg); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error in strict mode, got %v", err)
	}

	msg.StrictProfile = false
	if _, err := EncodeADT(msg); err != nil {
		t.Fatalf("A08 must encode when strict mode is off: %v", err)
	}
}

func TestEncodeADT_EmptyTrigger(t *testing.T) {
	msg := admissionMessage()
	msg.Trigger = " "
	if _, err := EncodeADT(msg); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEncodeADT_EscapesSpecialCharacters(t *testing.T) {
	msg := admissionMessage()
	msg.Patient.Family = "O|Brien^Smith"

	data, err := EncodeADT(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pid := segmentLine(t, data, "PID")
	if !strings.Contains(pid, `O\F\Brien\S\Smith`) {
		t.Errorf("expected escaped family name, got %q", pid)
	}
}

func TestEncodeADT_GeneratesControlID(t *testing.T) {
	msg := admissionMessage()
	msg.Header.ControlID = ""

	a, _ := EncodeADT(msg)
	b, _ := EncodeADT(msg)
	ma, _ := Parse(a)
	mb, _ := Parse(b)
	if ma.ControlID == "" || ma.ControlID == mb.ControlID {
		t.Errorf("expected distinct generated control ids, got %q and %q", ma.ControlID, mb.ControlID)
	}
}

func TestPatientClass(t *testing.T) {
	tests := map[string]string{
		"inpatient":  "I",
		"outpatient": "O",
		"emergency":  "E",
		"IMP":        "I",
		"":           "U",
	}
	for in, want := range tests {
		if got := PatientClass(in); got != want {
			t.Errorf("PatientClass(%q) = %q, want %q", in, got, want)
		}
	}
}
