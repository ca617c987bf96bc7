package replay

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/fhir"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/transport"
)

// positiveAck is the marker a legacy acknowledgement must carry to count as
// accepted.
var positiveAck = []byte("MSA|" + hl7v2.AckAccept)

// Outcome is the classification of one dispatched step.
type Outcome struct {
	Status  string
	AckCode string
	Message string
}

// StepCodec holds the protocol-specific parts of a replay: reading and
// rewriting payload timestamps, and classifying acknowledgements.
type StepCodec interface {
	// Kind is the transport endpoint kind the payloads travel over.
	Kind() string
	OriginalTime(payload string) (time.Time, error)
	Retime(payload string, ts time.Time) string
	Classify(ack []byte, sendErr error) Outcome
}

// Codec selects the StepCodec of each step. It is chosen once per scenario
// from the scenario protocol.
type Codec interface {
	ForStep(st *scenario.Step) StepCodec
}

// CodecFor returns the codec of a scenario protocol.
func CodecFor(protocol string) (Codec, error) {
	switch protocol {
	case scenario.ProtocolLegacy:
		return single{legacyCodec{}}, nil
	case scenario.ProtocolBundle:
		return single{bundleCodec{}}, nil
	case scenario.ProtocolMixed:
		return mixed{}, nil
	}
	return nil, apperr.Validation("protocol", "no codec for protocol %q", protocol)
}

type single struct{ StepCodec }

func (s single) ForStep(*scenario.Step) StepCodec { return s.StepCodec }

// mixed routes each step by its own format.
type mixed struct{}

func (mixed) ForStep(st *scenario.Step) StepCodec {
	if st.Format == scenario.FormatFHIR {
		return bundleCodec{}
	}
	return legacyCodec{}
}

type legacyCodec struct{}

func (legacyCodec) Kind() string { return transport.KindMLLP }

func (legacyCodec) OriginalTime(payload string) (time.Time, error) {
	return hl7v2.HeaderTimestamp([]byte(payload))
}

func (legacyCodec) Retime(payload string, ts time.Time) string {
	return string(hl7v2.RewriteTimestamps([]byte(payload), ts))
}

func (legacyCodec) Classify(ack []byte, sendErr error) Outcome {
	code := ""
	if msg, err := hl7v2.Parse(ack); err == nil {
		code = msg.AckCode()
	}
	switch {
	case sendErr != nil:
		return Outcome{Status: scenario.StepError, AckCode: code, Message: sendErr.Error()}
	case bytes.Contains(ack, positiveAck):
		return Outcome{Status: scenario.StepSent, AckCode: hl7v2.AckAccept}
	case len(bytes.TrimSpace(ack)) == 0:
		return Outcome{Status: scenario.StepError, Message: "empty acknowledgement"}
	case code == "":
		return Outcome{Status: scenario.StepError, Message: "malformed acknowledgement"}
	default:
		return Outcome{Status: scenario.StepError, AckCode: code, Message: "negative acknowledgement " + code + ackText(ack)}
	}
}

// ackText returns " (MSA-3)" when the acknowledgement carries a text message.
func ackText(ack []byte) string {
	msg, err := hl7v2.Parse(ack)
	if err != nil {
		return ""
	}
	if msa := msg.GetSegment("MSA"); msa != nil {
		if text := msa.GetField(3); text != "" {
			return " (" + text + ")"
		}
	}
	return ""
}

type bundleCodec struct{}

func (bundleCodec) Kind() string { return transport.KindFHIR }

func (bundleCodec) OriginalTime(payload string) (time.Time, error) {
	return fhir.BundleTimestamp([]byte(payload))
}

func (bundleCodec) Retime(payload string, ts time.Time) string {
	return string(fhir.RewriteTimestamps([]byte(payload), ts))
}

func (bundleCodec) Classify(body []byte, sendErr error) Outcome {
	outcome, isOutcome := fhir.ParseOutcome(body)
	if sendErr != nil {
		msg := sendErr.Error()
		if isOutcome && outcome.HasErrors() {
			msg = fmt.Sprintf("%s: %s", msg, outcome.Diagnostics())
		}
		return Outcome{Status: scenario.StepError, AckCode: hl7v2.AckError, Message: msg}
	}
	if isOutcome && outcome.HasErrors() {
		return Outcome{Status: scenario.StepError, AckCode: hl7v2.AckError, Message: outcome.Diagnostics()}
	}
	return Outcome{Status: scenario.StepSent, AckCode: hl7v2.AckAccept}
}

// triggerOf extracts the trigger event from a message type such as
// "ADT^A01^ADT_A01".
func triggerOf(messageType string) string {
	parts := strings.Split(messageType, "^")
	if len(parts) < 2 {
		return ""
	}
	return hl7v2.NormalizeTrigger(parts[1])
}

// isPrivate reports whether a message type is a local Z message that is
// never put on the wire. Z triggers of standard messages (ADT^Z99) are sent.
func isPrivate(messageType string) bool {
	mt := strings.ToUpper(strings.TrimSpace(messageType))
	return strings.HasPrefix(mt, "Z")
}
