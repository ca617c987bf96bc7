// Package scenario holds the replay data model: reusable templates,
// concrete scenarios with immutable step payloads, case bindings, and the
// execution runs with their step logs.
package scenario

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

// Scenario protocols.
const (
	ProtocolLegacy = "legacy"
	ProtocolBundle = "bundle"
	ProtocolMixed  = "mixed"
)

// Step payload formats.
const (
	FormatHL7v2 = "hl7v2"
	FormatFHIR  = "fhir"
)

// Time-shift anchor modes.
const (
	AnchorNow                = "now"
	AnchorAdmissionMinusDays = "admission_minus_days"
	AnchorFixedStart         = "fixed_start"
)

// Run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunPartial = "partial"
	RunError   = "error"
	RunDryRun  = "dry-run"
)

// Step log statuses.
const (
	StepSent    = "sent"
	StepSkipped = "skipped"
	StepError   = "error"
	StepDryRun  = "dry-run"
)

// Template is a protocol-agnostic workflow. It is seeded once and only read
// afterwards.
type Template struct {
	ID        uuid.UUID      `json:"id" yaml:"-"`
	Key       string         `json:"key" yaml:"key"`
	Name      string         `json:"name" yaml:"name"`
	Category  string         `json:"category,omitempty" yaml:"category"`
	Protocols []string       `json:"protocols" yaml:"protocols"`
	Tags      []string       `json:"tags" yaml:"tags"`
	Active    bool           `json:"active" yaml:"active"`
	Steps     []TemplateStep `json:"steps,omitempty" yaml:"steps"`
	CreatedAt time.Time      `json:"created_at" yaml:"-"`
}

type TemplateStep struct {
	ID           uuid.UUID `json:"id" yaml:"-"`
	TemplateID   uuid.UUID `json:"template_id" yaml:"-"`
	OrderIndex   int       `json:"order_index" yaml:"order"`
	EventCode    string    `json:"event_code" yaml:"event"`
	Narrative    string    `json:"narrative,omitempty" yaml:"narrative"`
	LegacyCode   string    `json:"legacy_code,omitempty" yaml:"legacy"`
	MessageRole  string    `json:"message_role,omitempty" yaml:"role"`
	DelaySeconds *int      `json:"delay_seconds,omitempty" yaml:"delay_seconds"`
}

// SupportsProtocol reports whether the template lists protocol.
func (t *Template) SupportsProtocol(protocol string) bool {
	for _, p := range t.Protocols {
		if p == protocol {
			return true
		}
	}
	return false
}

// TimeConfig drives the time-shift applied at replay.
type TimeConfig struct {
	AnchorMode        string     `json:"anchor_mode"`
	AnchorDaysOffset  int        `json:"anchor_days_offset"`
	FixedStart        *time.Time `json:"fixed_start,omitempty"`
	PreserveIntervals bool       `json:"preserve_intervals"`
	JitterMin         int        `json:"jitter_min"`
	JitterMax         int        `json:"jitter_max"`
	JitterEvents      []string   `json:"jitter_events"`
}

// Scenario is a concrete replayable sequence. Its steps are snapshots with
// no reference to the records they were built from.
type Scenario struct {
	ID          uuid.UUID  `json:"id"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Protocol    string     `json:"protocol"`
	DemoCaseID  *uuid.UUID `json:"demo_case_id,omitempty"`
	Tags        []string   `json:"tags"`
	Active      bool       `json:"active"`
	TimeConfig  TimeConfig `json:"time_config"`
	Steps       []Step     `json:"steps,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Step struct {
	ID           uuid.UUID `json:"id"`
	ScenarioID   uuid.UUID `json:"scenario_id"`
	OrderIndex   int       `json:"order_index"`
	Format       string    `json:"format"`
	MessageType  string    `json:"message_type"`
	EventCode    string    `json:"event_code,omitempty"`
	Payload      string    `json:"payload"`
	DelaySeconds int       `json:"delay_seconds"`
}

// Binding links a scenario to a demonstration case and remembers the
// identifiers drawn for its last run.
type Binding struct {
	ScenarioID      uuid.UUID         `json:"scenario_id"`
	DemoCaseID      uuid.UUID         `json:"demo_case_id"`
	LastIdentifiers map[string]string `json:"last_identifiers"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Run is one playback of a scenario against one destination.
type Run struct {
	ID            uuid.UUID              `json:"id"`
	ScenarioID    uuid.UUID              `json:"scenario_id"`
	DestinationID *uuid.UUID             `json:"destination_id,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
	Status        string                 `json:"status"`
	TotalSteps    int                    `json:"total_steps"`
	SuccessSteps  int                    `json:"success_steps"`
	ErrorSteps    int                    `json:"error_steps"`
	SkippedSteps  int                    `json:"skipped_steps"`
	DryRun        bool                   `json:"dry_run"`
	Options       map[string]interface{} `json:"options,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
}

// StepLog records one attempted step.
type StepLog struct {
	ID             uuid.UUID  `json:"id"`
	RunID          uuid.UUID  `json:"run_id"`
	StepID         *uuid.UUID `json:"step_id,omitempty"`
	DestinationID  *uuid.UUID `json:"destination_id,omitempty"`
	OrderIndex     int        `json:"order_index"`
	Status         string     `json:"status"`
	AckCode        string     `json:"ack_code,omitempty"`
	DurationMS     int64      `json:"duration_ms"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	PayloadExcerpt string     `json:"payload_excerpt,omitempty"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
	LoggedAt       time.Time  `json:"logged_at"`
}

// Count applies a step log status to the run counters. The total always
// equals the sum of the three outcome counters.
func (r *Run) Count(status string) {
	r.TotalSteps++
	switch status {
	case StepSent:
		r.SuccessSteps++
	case StepError:
		r.ErrorSteps++
	default:
		r.SkippedSteps++
	}
}

// FinalStatus derives the terminal status from the counters.
func (r *Run) FinalStatus() string {
	switch {
	case r.DryRun:
		return RunDryRun
	case r.ErrorSteps == 0:
		return RunSuccess
	case r.SuccessSteps > 0:
		return RunPartial
	default:
		return RunError
	}
}

// IsTerminal reports whether status ends a run.
func IsTerminal(status string) bool {
	return status != RunRunning
}

const excerptLimit = 512

// Excerpt truncates a payload for step logs, never inside a UTF-8 sequence.
func Excerpt(payload string) string {
	if len(payload) <= excerptLimit {
		return payload
	}
	i := excerptLimit
	for i > 0 && !utf8.RuneStart(payload[i]) {
		i--
	}
	return payload[:i] + "..."
}

// ValidProtocol reports whether p is a scenario protocol.
func ValidProtocol(p string) bool {
	switch p {
	case ProtocolLegacy, ProtocolBundle, ProtocolMixed:
		return true
	}
	return false
}

// FormatFor returns the step format a protocol produces.
func FormatFor(protocol string) string {
	if protocol == ProtocolBundle {
		return FormatFHIR
	}
	return FormatHL7v2
}

// Validate checks a scenario before it is stored: required fields, the
// protocol, the time configuration and the ordering of its steps.
func (s *Scenario) Validate() error {
	s.Key = strings.TrimSpace(s.Key)
	if s.Key == "" {
		return apperr.Validation("key", "is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return apperr.Validation("name", "is required")
	}
	if !ValidProtocol(s.Protocol) {
		return apperr.Validation("protocol", "must be legacy, bundle or mixed, got %q", s.Protocol)
	}
	if err := s.TimeConfig.Validate(); err != nil {
		return err
	}
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Format == "" {
			st.Format = FormatFor(s.Protocol)
		}
		if st.Format != FormatHL7v2 && st.Format != FormatFHIR {
			return apperr.Validation("steps", "step %d: unknown format %q", st.OrderIndex, st.Format)
		}
		if s.Protocol != ProtocolMixed && st.Format != FormatFor(s.Protocol) {
			return apperr.Validation("steps", "step %d: format %s does not match protocol %s", st.OrderIndex, st.Format, s.Protocol)
		}
		if st.MessageType == "" {
			return apperr.Validation("steps", "step %d: message_type is required", st.OrderIndex)
		}
		if st.DelaySeconds < 0 {
			return apperr.Validation("steps", "step %d: delay_seconds must not be negative", st.OrderIndex)
		}
	}
	return ValidateOrder(s.Steps)
}

// Validate checks the time configuration.
func (tc *TimeConfig) Validate() error {
	if tc.AnchorMode == "" {
		tc.AnchorMode = AnchorNow
	}
	switch tc.AnchorMode {
	case AnchorNow:
	case AnchorAdmissionMinusDays:
		if tc.AnchorDaysOffset < 0 {
			return apperr.Validation("time_config.anchor_days_offset", "must not be negative")
		}
	case AnchorFixedStart:
		if tc.FixedStart == nil {
			return apperr.Validation("time_config.fixed_start", "is required for fixed_start anchors")
		}
	default:
		return apperr.Validation("time_config.anchor_mode", "unknown anchor mode %q", tc.AnchorMode)
	}
	if tc.JitterMin < 0 || tc.JitterMax < tc.JitterMin {
		return apperr.Validation("time_config.jitter", "bounds must satisfy 0 <= min <= max, got [%d,%d]", tc.JitterMin, tc.JitterMax)
	}
	return nil
}

// ValidateOrder checks that step order indices are unique and consecutive,
// and sorts the steps by order index.
func ValidateOrder(steps []Step) error {
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].OrderIndex < steps[j].OrderIndex })
	for i := 1; i < len(steps); i++ {
		if steps[i].OrderIndex != steps[i-1].OrderIndex+1 {
			return apperr.Validation("steps", "order indices must be unique and consecutive, found %d after %d",
				steps[i].OrderIndex, steps[i-1].OrderIndex)
		}
	}
	return nil
}
