package materialize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/timeline"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/sandbox"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/sequence"
)

// Default identifier prefixes and width.
const (
	DefaultPatientPrefix  = "IPP"
	DefaultVisitPrefix    = "NDA"
	DefaultMovementPrefix = "MVT"
	identifierWidth       = 8
)

// Placeholders left in payloads when identifiers are drawn at replay.
const (
	PatientPlaceholder  = "{{PATIENT_ID}}"
	VisitPlaceholder    = "{{VISIT_ID}}"
	MovementPlaceholder = "{{MOVEMENT_ID}}"
)

// Defaults are the environment-wide settings of the materializer.
type Defaults struct {
	SendingApplication string
	SendingFacility    string
	NamespaceRoot      string
	StrictProfile      bool
}

// Options tune one materialization.
type Options struct {
	Protocol string `json:"protocol"`
	// GenerateIdentifiers draws patient and visit numbers now. When false,
	// the case identifiers are used, or placeholders resolved at replay.
	GenerateIdentifiers bool       `json:"generate_identifiers"`
	PatientPrefix       string     `json:"patient_prefix,omitempty"`
	VisitPrefix         string     `json:"visit_prefix,omitempty"`
	NamespaceRoot       string     `json:"namespace_root,omitempty"`
	EntityID            *uuid.UUID `json:"entity_id,omitempty"`
	CaseID              *uuid.UUID `json:"case_id,omitempty"`
	StrictProfile       *bool      `json:"strict_profile,omitempty"`
	Start               *time.Time `json:"start,omitempty"`
	Name                string     `json:"name,omitempty"`
}

// Materializer builds scenarios from templates.
type Materializer struct {
	scenarios *scenario.Service
	timeline  *timeline.Service
	seq       sequence.Generator
	people    *sandbox.DataGenerator
	defaults  Defaults
	now       func() time.Time
}

func New(scenarios *scenario.Service, tl *timeline.Service, seq sequence.Generator, people *sandbox.DataGenerator, defaults Defaults) *Materializer {
	return &Materializer{
		scenarios: scenarios,
		timeline:  tl,
		seq:       seq,
		people:    people,
		defaults:  defaults,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for keys and step timestamps.
func (m *Materializer) SetClock(now func() time.Time) {
	m.now = now
}

// Materialize encodes every step of the template and stores the result as
// a new scenario. Encoding errors abort before anything is stored.
func (m *Materializer) Materialize(ctx context.Context, templateKey string, opts Options) (*scenario.Scenario, error) {
	tpl, err := m.scenarios.GetTemplate(ctx, templateKey)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateKey, err)
	}
	if !tpl.Active {
		return nil, apperr.Validation("template", "template %s is inactive", tpl.Key)
	}
	if opts.Protocol == "" {
		opts.Protocol = tpl.Protocols[0]
	}
	if !tpl.SupportsProtocol(opts.Protocol) {
		return nil, apperr.Validation("protocol", "template %s does not support protocol %q", tpl.Key, opts.Protocol)
	}
	if len(tpl.Steps) == 0 {
		return nil, apperr.Validation("template", "template %s has no steps", tpl.Key)
	}

	encoder, err := NewStepEncoder(opts.Protocol, hl7v2.Header{
		SendingApplication: m.defaults.SendingApplication,
		SendingFacility:    m.defaults.SendingFacility,
	})
	if err != nil {
		return nil, err
	}

	subj, demoCase, err := m.subject(ctx, opts)
	if err != nil {
		return nil, err
	}
	identifiers, err := m.identifiers(ctx, &subj, demoCase, opts)
	if err != nil {
		return nil, err
	}

	now := m.now()
	start := now
	if opts.Start != nil {
		start = opts.Start.UTC()
	}

	sc := &scenario.Scenario{
		Key:         fmt.Sprintf("%s-%s-%s", tpl.Key, opts.Protocol, now.Format("20060102T150405.000000")),
		Name:        opts.Name,
		Description: fmt.Sprintf("Materialized from template %s", tpl.Key),
		Category:    tpl.Category,
		Protocol:    opts.Protocol,
		Tags:        append([]string{"template:" + tpl.Key}, tpl.Tags...),
		Active:      true,
		TimeConfig:  scenario.TimeConfig{AnchorMode: scenario.AnchorNow},
	}
	if sc.Name == "" {
		sc.Name = tpl.Name
	}
	if demoCase != nil {
		id := demoCase.ID
		sc.DemoCaseID = &id
	}

	ts := start
	for i, tstep := range tpl.Steps {
		delay := 0
		if i > 0 && tstep.DelaySeconds != nil {
			delay = *tstep.DelaySeconds
		}
		ts = ts.Add(time.Duration(delay) * time.Second)

		in := StepInput{
			EventCode: tstep.EventCode,
			Trigger:   tstep.LegacyCode,
			Timestamp: ts,
		}
		if opts.Protocol == scenario.ProtocolLegacy && hl7v2.IsMovementTrigger(tstep.LegacyCode) {
			in.MovementID, err = m.movementID(ctx, opts)
			if err != nil {
				return nil, err
			}
		}

		enc, err := encoder.Encode(subj, in)
		if err != nil {
			return nil, fmt.Errorf("template %s step %d (%s): %w", tpl.Key, tstep.OrderIndex, tstep.EventCode, err)
		}
		sc.Steps = append(sc.Steps, scenario.Step{
			OrderIndex:   i + 1,
			Format:       enc.Format,
			MessageType:  enc.MessageType,
			EventCode:    tstep.EventCode,
			Payload:      enc.Payload,
			DelaySeconds: delay,
		})
	}

	if err := m.scenarios.CreateScenario(ctx, sc); err != nil {
		return nil, err
	}
	if demoCase != nil {
		if err := m.scenarios.BindCase(ctx, sc.ID, demoCase.ID, identifiers); err != nil {
			return nil, fmt.Errorf("bind scenario %s: %w", sc.Key, err)
		}
	}
	return sc, nil
}

// subject resolves the demographics, entity context and strict profile.
func (m *Materializer) subject(ctx context.Context, opts Options) (Subject, *timeline.Case, error) {
	var subj Subject
	var demoCase *timeline.Case
	entityID := opts.EntityID

	if opts.CaseID != nil {
		c, err := m.timeline.GetCase(ctx, *opts.CaseID)
		if err != nil {
			return subj, nil, fmt.Errorf("case %s: %w", *opts.CaseID, err)
		}
		demoCase = c
		subj.Family, subj.Given, subj.Sex = c.Family, c.Given, c.Sex
		subj.BirthDate = c.BirthDate
		subj.CaseType = c.CaseType
		if entityID == nil {
			entityID = c.EntityID
		}
	} else {
		p := m.people.Person()
		birth := p.BirthDate
		subj.Family, subj.Given, subj.Sex = p.Family, p.Given, p.Sex
		subj.BirthDate = &birth
		subj.CaseType = "inpatient"
	}

	root := opts.NamespaceRoot
	if root == "" {
		root = m.defaults.NamespaceRoot
	}
	subj.PatientNamespace = &hl7v2.Namespace{Name: m.defaults.SendingFacility + "-IPP", Root: root + ".1", RootType: "ISO"}
	subj.VisitNamespace = &hl7v2.Namespace{Name: m.defaults.SendingFacility + "-NDA", Root: root + ".2", RootType: "ISO"}
	subj.MovementNamespace = &hl7v2.Namespace{Name: m.defaults.SendingFacility + "-MVT", Root: root + ".3", RootType: "ISO"}
	subj.LocationCode = "UF-MED"
	subj.MedicalUnit = hl7v2.Unit{Label: "Médecine", Code: "UF-MED"}
	subj.CareUnit = hl7v2.Unit{Label: "Unité de soins médecine", Code: "US-MED"}

	var strictOverride *bool
	if entityID != nil {
		e, err := m.timeline.GetEntity(ctx, *entityID)
		if err != nil {
			return subj, nil, fmt.Errorf("entity %s: %w", *entityID, err)
		}
		subj.EntityName = e.Name
		subj.EntityLegalID = e.LegalID
		if e.PatientNamespace != nil {
			subj.PatientNamespace = e.PatientNamespace
		}
		if e.VisitNamespace != nil {
			subj.VisitNamespace = e.VisitNamespace
		}
		if e.MovementNamespace != nil {
			subj.MovementNamespace = e.MovementNamespace
		}
		strictOverride = e.StrictProfile
	}
	if opts.StrictProfile != nil {
		strictOverride = opts.StrictProfile
	}
	subj.StrictProfile = hl7v2.ResolveStrictProfile(strictOverride, m.defaults.StrictProfile)
	if subj.EntityName == "" {
		subj.EntityName = m.defaults.SendingFacility
	}
	return subj, demoCase, nil
}

// identifiers fills the patient and visit numbers of subj. Exactly one
// value of each sequence is drawn per materialization.
func (m *Materializer) identifiers(ctx context.Context, subj *Subject, demoCase *timeline.Case, opts Options) (map[string]string, error) {
	switch {
	case opts.GenerateIdentifiers:
		patient, err := m.seq.Next(ctx, sequence.Patient)
		if err != nil {
			return nil, err
		}
		visit, err := m.seq.Next(ctx, sequence.Visit)
		if err != nil {
			return nil, err
		}
		subj.PatientID = sequence.Format(prefixOr(opts.PatientPrefix, DefaultPatientPrefix), patient, identifierWidth)
		subj.VisitID = sequence.Format(prefixOr(opts.VisitPrefix, DefaultVisitPrefix), visit, identifierWidth)
	case demoCase != nil && demoCase.PatientExternalID != "":
		subj.PatientID = demoCase.PatientExternalID
		subj.VisitID = demoCase.VisitExternalID
	default:
		subj.PatientID = PatientPlaceholder
		subj.VisitID = VisitPlaceholder
	}
	if subj.VisitID == "" {
		subj.VisitID = VisitPlaceholder
	}
	return map[string]string{"patient": subj.PatientID, "visit": subj.VisitID}, nil
}

func (m *Materializer) movementID(ctx context.Context, opts Options) (string, error) {
	if !opts.GenerateIdentifiers {
		return MovementPlaceholder, nil
	}
	v, err := m.seq.Next(ctx, sequence.Movement)
	if err != nil {
		return "", err
	}
	return sequence.Format(DefaultMovementPrefix, v, identifierWidth), nil
}

func prefixOr(prefix, def string) string {
	if p := strings.TrimSpace(prefix); p != "" {
		return p
	}
	return def
}
