// Package capture snapshots a live case timeline into a replayable
// scenario. Payloads are copied by value: the scenario keeps no reference
// to the movements, case or inbound messages it was built from.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/materialize"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/timeline"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
)

// Options tune one capture.
type Options struct {
	Key         string `json:"key,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Defaults are the environment-wide settings used for synthesized steps.
type Defaults struct {
	SendingApplication string
	SendingFacility    string
	StrictProfile      bool
}

type Capturer struct {
	timeline  *timeline.Service
	scenarios *scenario.Service
	encoder   *materialize.LegacyEncoder
	defaults  Defaults
	logger    zerolog.Logger
	now       func() time.Time
}

func New(tl *timeline.Service, scenarios *scenario.Service, defaults Defaults, logger zerolog.Logger) *Capturer {
	return &Capturer{
		timeline:  tl,
		scenarios: scenarios,
		encoder: &materialize.LegacyEncoder{Header: hl7v2.Header{
			SendingApplication: defaults.SendingApplication,
			SendingFacility:    defaults.SendingFacility,
		}},
		defaults: defaults,
		logger:   logger.With().Str("component", "capture").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for generated keys.
func (c *Capturer) SetClock(now func() time.Time) {
	c.now = now
}

// Capture builds and stores a legacy scenario from the case timeline. Each
// movement reuses a logged inbound message of the same trigger received
// within timeline.InboundWindow, or else gets a synthesized message whose
// identifiers are placeholders resolved at replay.
func (c *Capturer) Capture(ctx context.Context, caseID uuid.UUID, opts Options) (*scenario.Scenario, error) {
	tl, err := c.timeline.Timeline(ctx, caseID)
	if err != nil {
		return nil, err
	}
	subj := c.subject(tl)

	movements := tl.Movements
	if len(movements) == 0 {
		movements = []*timeline.Movement{{
			Trigger:    "A01",
			OccurredAt: tl.Case.CreatedAt,
			Action:     hl7v2.ActionInsert,
		}}
	}

	steps := make([]scenario.Step, 0, len(movements))
	reused := 0
	for i, mv := range movements {
		step, matched, err := c.step(ctx, subj, mv)
		if err != nil {
			return nil, fmt.Errorf("movement %d (%s): %w", i+1, mv.Trigger, err)
		}
		if matched {
			reused++
		}
		step.OrderIndex = i + 1
		if i > 0 {
			step.DelaySeconds = delaySeconds(movements[i-1].OccurredAt, mv.OccurredAt)
		}
		steps = append(steps, step)
	}

	sc := &scenario.Scenario{
		Key:         opts.Key,
		Name:        opts.Name,
		Description: opts.Description,
		Category:    tl.Case.CaseType,
		Protocol:    scenario.ProtocolLegacy,
		Tags:        []string{"capture"},
		Active:      true,
		TimeConfig: scenario.TimeConfig{
			AnchorMode:        scenario.AnchorNow,
			PreserveIntervals: true,
		},
		Steps: steps,
	}
	if sc.Key == "" {
		sc.Key = fmt.Sprintf("capture-%s-%s", caseID.String()[:8], c.now().Format("20060102T150405.000000"))
	}
	if sc.Name == "" {
		sc.Name = "Capture " + tl.Case.Label
	}
	if sc.Description == "" {
		sc.Description = fmt.Sprintf("Captured from case %s", tl.Case.Label)
	}
	id := tl.Case.ID
	sc.DemoCaseID = &id

	if err := c.scenarios.CreateScenario(ctx, sc); err != nil {
		return nil, err
	}
	identifiers := map[string]string{
		"patient": tl.Case.PatientExternalID,
		"visit":   tl.Case.VisitExternalID,
	}
	if err := c.scenarios.BindCase(ctx, sc.ID, tl.Case.ID, identifiers); err != nil {
		return nil, fmt.Errorf("bind scenario %s: %w", sc.Key, err)
	}

	c.logger.Info().
		Str("scenario_key", sc.Key).
		Str("case_id", caseID.String()).
		Int("steps", len(steps)).
		Int("reused", reused).
		Msg("timeline captured")
	return sc, nil
}

func (c *Capturer) step(ctx context.Context, subj materialize.Subject, mv *timeline.Movement) (scenario.Step, bool, error) {
	trigger := hl7v2.NormalizeTrigger(mv.Trigger)
	logged, err := c.timeline.MatchInbound(ctx, trigger, mv.OccurredAt)
	if err != nil {
		return scenario.Step{}, false, err
	}
	if logged != nil {
		return scenario.Step{
			Format:      scenario.FormatHL7v2,
			MessageType: logged.MessageType,
			EventCode:   trigger,
			Payload:     logged.Payload,
		}, true, nil
	}

	subj.LocationCode = mv.LocationCode
	subj.MedicalUnit = mv.MedicalUnit
	subj.CareUnit = mv.CareUnit
	enc, err := c.encoder.Encode(subj, materialize.StepInput{
		EventCode:  trigger,
		Trigger:    trigger,
		Timestamp:  mv.OccurredAt,
		MovementID: materialize.MovementPlaceholder,
		Action:     mv.Action,
		Nature:     mv.Nature,
	})
	if err != nil {
		return scenario.Step{}, false, err
	}
	return scenario.Step{
		Format:      enc.Format,
		MessageType: enc.MessageType,
		EventCode:   trigger,
		Payload:     enc.Payload,
	}, false, nil
}

func (c *Capturer) subject(tl *timeline.CaseTimeline) materialize.Subject {
	subj := materialize.Subject{
		PatientID: materialize.PatientPlaceholder,
		VisitID:   materialize.VisitPlaceholder,
		Family:    tl.Case.Family,
		Given:     tl.Case.Given,
		Sex:       tl.Case.Sex,
		BirthDate: tl.Case.BirthDate,
		CaseType:  tl.Case.CaseType,
	}
	var strictOverride *bool
	if e := tl.Entity; e != nil {
		subj.EntityName = e.Name
		subj.EntityLegalID = e.LegalID
		subj.PatientNamespace = e.PatientNamespace
		subj.VisitNamespace = e.VisitNamespace
		subj.MovementNamespace = e.MovementNamespace
		strictOverride = e.StrictProfile
	}
	subj.StrictProfile = hl7v2.ResolveStrictProfile(strictOverride, c.defaults.StrictProfile)
	return subj
}

// delaySeconds is the elapsed time between two movements, floored at zero.
func delaySeconds(prev, next time.Time) int {
	d := next.Sub(prev)
	if d < 0 {
		return 0
	}
	return int(d.Round(time.Second) / time.Second)
}
