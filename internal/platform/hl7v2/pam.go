package hl7v2

import (
	"strings"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

// Movement actions carried in ZBE-4.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionCancel = "CANCEL"
)

// identityTriggers only touch the patient identity and never carry a ZBE.
var identityTriggers = map[string]bool{
	"A28": true, // create patient
	"A31": true, // update patient
	"A40": true, // merge patient
	"A47": true, // change patient identifier
}

// mergeTriggers need an MRG segment, which this encoder does not produce.
var mergeTriggers = map[string]bool{
	"A40": true,
	"A47": true,
}

// movementTriggers require a movement object (ZBE segment).
var movementTriggers = map[string]bool{
	"A01": true, "A02": true, "A03": true, "A04": true, "A05": true,
	"A06": true, "A07": true, "A11": true, "A12": true, "A13": true,
	"A14": true, "A16": true, "A21": true, "A22": true, "A25": true,
	"A26": true, "A27": true, "A38": true, "A44": true, "A52": true,
	"A53": true, "A54": true, "A55": true, "Z99": true,
}

// simplifiedTriggers may be emitted without a movement: initial admission
// and simplified registration.
var simplifiedTriggers = map[string]bool{
	"A01": true,
	"A04": true,
}

// messageStructures maps a trigger to MSH-9.3.
var messageStructures = map[string]string{
	"A01": "ADT_A01", "A04": "ADT_A01", "A08": "ADT_A01", "A13": "ADT_A01",
	"A02": "ADT_A02",
	"A03": "ADT_A03",
	"A05": "ADT_A05", "A14": "ADT_A05", "A28": "ADT_A05", "A31": "ADT_A05",
	"A06": "ADT_A06", "A07": "ADT_A06",
	"A11": "ADT_A09", "A12": "ADT_A12", "A38": "ADT_A38",
	"A21": "ADT_A21", "A22": "ADT_A21", "A52": "ADT_A52", "A53": "ADT_A52",
	"A16": "ADT_A16", "A25": "ADT_A21", "A26": "ADT_A21", "A27": "ADT_A21",
	"A44": "ADT_A43", "A40": "ADT_A39", "A47": "ADT_A30",
	"A54": "ADT_A54", "A55": "ADT_A52",
	"Z99": "ADT_A01",
}

// NatureCodes is the closed ZBE-9 alphabet.
var NatureCodes = map[string]bool{
	"S": true, "H": true, "M": true, "L": true, "D": true, "SM": true,
}

// triggerNature derives ZBE-9 when the caller did not supply a valid code.
// The table is partial; unmapped triggers yield an empty nature.
var triggerNature = map[string]string{
	"A01": "SM",
	"A02": "H",
	"A03": "SM",
	"A04": "SM",
	"A06": "D",
	"A07": "D",
	"A21": "L",
	"A22": "L",
	"A54": "M",
	"A55": "M",
}

// NormalizeTrigger upper-cases and trims a trigger code. A full message
// type such as "ADT^A01^ADT_A01" yields "A01".
func NormalizeTrigger(trigger string) string {
	t := strings.ToUpper(strings.TrimSpace(trigger))
	if parts := strings.Split(t, "^"); len(parts) > 1 {
		t = parts[1]
	}
	return t
}

// IsIdentityTrigger reports whether the trigger only concerns identity.
func IsIdentityTrigger(trigger string) bool {
	return identityTriggers[NormalizeTrigger(trigger)]
}

// IsMovementTrigger reports whether the trigger needs a movement segment.
func IsMovementTrigger(trigger string) bool {
	return movementTriggers[NormalizeTrigger(trigger)]
}

// MessageStructure returns MSH-9.3 for trigger, ADT_A01 when unknown.
func MessageStructure(trigger string) string {
	if s, ok := messageStructures[NormalizeTrigger(trigger)]; ok {
		return s
	}
	return "ADT_A01"
}

// NormalizeAction maps unrecognised actions to INSERT.
func NormalizeAction(action string) string {
	switch a := strings.ToUpper(strings.TrimSpace(action)); a {
	case ActionInsert, ActionUpdate, ActionCancel:
		return a
	default:
		return ActionInsert
	}
}

// ResolveNature returns nature when it belongs to the ZBE-9 alphabet, else
// the trigger-derived code, else "".
func ResolveNature(nature, trigger string) string {
	n := strings.ToUpper(strings.TrimSpace(nature))
	if NatureCodes[n] {
		return n
	}
	return triggerNature[NormalizeTrigger(trigger)]
}

// ResolveStrictProfile applies an optional override (case or destination
// level) over the environment-wide default.
func ResolveStrictProfile(override *bool, envDefault bool) bool {
	if override != nil {
		return *override
	}
	return envDefault
}

// CheckConformance applies the structural rules before any segment is
// built. It fails fast, so no partial message is ever produced.
func CheckConformance(trigger string, hasMovement, strict bool) error {
	t := NormalizeTrigger(trigger)
	if t == "" {
		return apperr.Validation("trigger", "trigger is required")
	}
	if mergeTriggers[t] {
		return &apperr.NotImplementedError{
			Feature: "ADT^" + t,
			Reason:  "merge and identifier-change messages need an MRG segment",
		}
	}
	if strict && t == "A08" {
		return apperr.Validation("trigger", "A08 is disabled by the strict PAM profile, use Z99 or A31")
	}
	if identityTriggers[t] {
		return nil
	}
	if movementTriggers[t] && !hasMovement && !simplifiedTriggers[t] {
		return apperr.Validation("movement", "trigger %s requires a movement (ZBE) segment", t)
	}
	return nil
}
