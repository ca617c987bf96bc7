// Package replay plays scenarios back against destinations: time shifting,
// dispatch through the transport layer, acknowledgement classification and
// run/step logging.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/destination"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/events"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/sequence"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/telemetry"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/transport"
)

// Options tune one run.
type Options struct {
	DryRun bool `json:"dry_run"`
	// Immediate dispatches every step without waiting between them.
	Immediate bool `json:"immediate"`
	// ShiftTime moves the scenario onto its time configuration's anchor.
	ShiftTime bool `json:"shift_time"`
	// StartIndex is the order index to start from; zero means the first step.
	StartIndex int `json:"start_index"`
}

func (o Options) asMap() map[string]interface{} {
	return map[string]interface{}{
		"dry_run":     o.DryRun,
		"immediate":   o.Immediate,
		"shift_time":  o.ShiftTime,
		"start_index": o.StartIndex,
	}
}

// Deps are the collaborators of an Executor. Publisher, Metrics and Shifter
// are optional.
type Deps struct {
	Store         scenario.Store
	Sender        transport.Sender
	Sequence      sequence.Generator
	Shifter       *Shifter
	Publisher     events.Publisher
	Metrics       *telemetry.ReplayMetrics
	StrictDefault bool
	Logger        zerolog.Logger
}

type Executor struct {
	store         scenario.Store
	sender        transport.Sender
	seq           sequence.Generator
	shifter       *Shifter
	publisher     events.Publisher
	metrics       *telemetry.ReplayMetrics
	strictDefault bool
	logger        zerolog.Logger
	now           func() time.Time
	wait          func(ctx context.Context, d time.Duration) error
}

func NewExecutor(d Deps) *Executor {
	e := &Executor{
		store:         d.Store,
		sender:        d.Sender,
		seq:           d.Sequence,
		shifter:       d.Shifter,
		publisher:     d.Publisher,
		metrics:       d.Metrics,
		strictDefault: d.StrictDefault,
		logger:        d.Logger.With().Str("component", "replay").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
		wait:          sleep,
	}
	if e.shifter == nil {
		e.shifter = NewShifter(nil, nil)
	}
	if e.publisher == nil {
		e.publisher = events.Noop{}
	}
	return e
}

// SetClock replaces the clock used for run and dispatch timestamps.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// SetWaiter replaces the inter-step wait. It must return ctx.Err() when ctx
// is done before d has elapsed.
func (e *Executor) SetWaiter(wait func(ctx context.Context, d time.Duration) error) {
	e.wait = wait
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Check verifies that sc can be replayed against dest with opts. dest may be
// nil only for dry runs.
func (e *Executor) Check(sc *scenario.Scenario, dest *destination.Destination, opts Options) error {
	if len(sc.Steps) == 0 {
		return apperr.Validation("steps", "scenario %s has no step", sc.Key)
	}
	if !sc.Active {
		return apperr.Validation("scenario", "scenario %s is inactive", sc.Key)
	}
	codec, err := CodecFor(sc.Protocol)
	if err != nil {
		return err
	}
	if opts.StartIndex != 0 && stepsFrom(sc.Steps, opts.StartIndex) == nil {
		return apperr.Validation("start_index", "scenario %s has no step %d", sc.Key, opts.StartIndex)
	}
	if dest == nil {
		if !opts.DryRun {
			return apperr.Validation("destination", "is required unless dry_run is set")
		}
		return nil
	}
	if !dest.Active {
		return apperr.Validation("destination", "destination %s is inactive", dest.Name)
	}
	if sc.Protocol != scenario.ProtocolMixed {
		if kind := codec.ForStep(&sc.Steps[0]).Kind(); kind != dest.Kind {
			return apperr.Validation("destination", "%s scenarios need a %s destination, %s is %s", sc.Protocol, kind, dest.Name, dest.Kind)
		}
	}
	return nil
}

// Prepare checks the replay and stores a running Run for it.
func (e *Executor) Prepare(ctx context.Context, sc *scenario.Scenario, dest *destination.Destination, opts Options) (*scenario.Run, error) {
	if err := e.Check(sc, dest, opts); err != nil {
		return nil, err
	}
	run := &scenario.Run{
		ScenarioID: sc.ID,
		StartedAt:  e.now(),
		Status:     scenario.RunRunning,
		DryRun:     opts.DryRun,
		Options:    opts.asMap(),
	}
	if dest != nil {
		id := dest.ID
		run.DestinationID = &id
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run for %s: %w", sc.Key, err)
	}
	return run, nil
}

// Replay prepares and executes a run synchronously.
func (e *Executor) Replay(ctx context.Context, sc *scenario.Scenario, dest *destination.Destination, opts Options) (*scenario.Run, error) {
	run, err := e.Prepare(ctx, sc, dest, opts)
	if err != nil {
		return nil, err
	}
	return run, e.Execute(ctx, run, sc, dest, opts)
}

// runState is what one step needs to know about its run.
type runState struct {
	run    *scenario.Run
	dest   *destination.Destination
	codec  Codec
	plan   []time.Time
	ids    *placeholders
	strict bool
	dryRun bool
}

// Execute plays the steps of a prepared run in order. Step failures are
// recorded on their step log and never stop the run. Cancelling ctx stops
// the run between steps or during a send; logs already produced are kept and
// the run gets an accurate terminal status. Only a failure to persist a log
// aborts the run, which then ends in error.
func (e *Executor) Execute(ctx context.Context, run *scenario.Run, sc *scenario.Scenario, dest *destination.Destination, opts Options) error {
	codec, err := CodecFor(sc.Protocol)
	if err != nil {
		return err
	}
	steps := stepsFrom(sc.Steps, opts.StartIndex)
	destName := "dry-run"
	var strictOverride *bool
	if dest != nil {
		destName = dest.Name
		strictOverride = dest.StrictProfile
	}
	logger := e.logger.With().
		Str("run_id", run.ID.String()).
		Str("scenario_key", sc.Key).
		Str("destination", destName).
		Logger()

	state := &runState{
		run:    run,
		dest:   dest,
		codec:  codec,
		ids:    newPlaceholders(e.seq),
		strict: hl7v2.ResolveStrictProfile(strictOverride, e.strictDefault),
		dryRun: opts.DryRun,
	}
	if opts.ShiftTime {
		state.plan = e.shifter.Plan(sc.TimeConfig, steps, codec)
	}

	// Logs and the terminal status are written even after ctx is cancelled.
	persist := context.WithoutCancel(ctx)
	started := time.Now()
	e.metrics.RunStarted(persist, sc.Protocol)
	e.publish(persist, logger, events.Event{Type: events.RunStarted, RunID: run.ID.String(), ScenarioKey: sc.Key, Destination: destName})
	logger.Info().Int("steps", len(steps)).Bool("dry_run", opts.DryRun).Bool("shift_time", opts.ShiftTime).Msg("run started")

	var fatal error
	cancelled := false
	for i := range steps {
		st := &steps[i]
		if i > 0 && !opts.DryRun && !opts.Immediate {
			if err := e.wait(ctx, state.pause(steps, i)); err != nil {
				cancelled = true
				break
			}
		}
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		log, sent := e.runStep(ctx, state, st, i)
		if err := e.store.AppendStepLog(persist, log); err != nil {
			fatal = err
			break
		}
		run.Count(log.Status)

		ev := logger.Info()
		if log.Status == scenario.StepError {
			ev = logger.Warn().Str("error", log.ErrorMessage)
		}
		ev.Int("order_index", log.OrderIndex).
			Str("status", log.Status).
			Str("ack_code", log.AckCode).
			Dur("duration", time.Duration(log.DurationMS)*time.Millisecond).
			Msg("step logged")
		e.metrics.StepLogged(persist, st.Format, log.Status, sent)
		order := log.OrderIndex
		e.publish(persist, logger, events.Event{
			Type: events.StepLogged, RunID: run.ID.String(), ScenarioKey: sc.Key, Destination: destName,
			OrderIndex: &order, Status: log.Status, AckCode: log.AckCode,
		})

		// A send interrupted by cancellation ends the run after its log.
		if ctx.Err() != nil && i < len(steps)-1 {
			cancelled = true
			break
		}
	}

	finished := e.now()
	run.FinishedAt = &finished
	switch {
	case fatal != nil:
		run.Status = scenario.RunError
		run.ErrorMessage = "step log could not be stored: " + fatal.Error()
	case cancelled:
		run.Status = scenario.RunError
		if run.SuccessSteps > 0 {
			run.Status = scenario.RunPartial
		}
		run.ErrorMessage = fmt.Sprintf("cancelled after %d of %d steps", run.TotalSteps, len(steps))
	default:
		run.Status = run.FinalStatus()
	}
	if err := e.store.FinishRun(persist, run); err != nil && fatal == nil {
		fatal = err
	}

	if !opts.DryRun && sc.DemoCaseID != nil {
		if ids := state.ids.identifiers(); len(ids) > 0 {
			b := &scenario.Binding{ScenarioID: sc.ID, DemoCaseID: *sc.DemoCaseID, LastIdentifiers: ids}
			if err := e.store.UpsertBinding(persist, b); err != nil {
				logger.Warn().Err(err).Msg("binding not updated")
			}
		}
	}

	e.metrics.RunFinished(persist, sc.Protocol, run.Status, time.Since(started))
	e.publish(persist, logger, events.Event{Type: events.RunFinished, RunID: run.ID.String(), ScenarioKey: sc.Key, Destination: destName, Status: run.Status})
	logger.Info().
		Str("status", run.Status).
		Int("sent", run.SuccessSteps).
		Int("errors", run.ErrorSteps).
		Int("skipped", run.SkippedSteps).
		Msg("run finished")

	if fatal != nil {
		return &apperr.ScenarioExecutionError{RunID: run.ID.String(), Op: "persist run", Err: fatal}
	}
	return nil
}

// pause is the wait before step i: its delay_seconds, or the gap between
// the shifted timestamps when time shifting.
func (s *runState) pause(steps []scenario.Step, i int) time.Duration {
	if s.plan != nil {
		if d := s.plan[i].Sub(s.plan[i-1]); d > 0 {
			return d
		}
		return 0
	}
	return time.Duration(steps[i].DelaySeconds) * time.Second
}

// runStep produces the log of one step and the duration of its send.
func (e *Executor) runStep(ctx context.Context, s *runState, st *scenario.Step, i int) (*scenario.StepLog, time.Duration) {
	log := &scenario.StepLog{
		RunID:      s.run.ID,
		OrderIndex: st.OrderIndex,
		Status:     scenario.StepError,
	}
	if st.ID != uuid.Nil {
		id := st.ID
		log.StepID = &id
	}
	if s.dest != nil {
		id := s.dest.ID
		log.DestinationID = &id
	}
	sc := s.codec.ForStep(st)

	if isPrivate(st.MessageType) {
		log.Status = scenario.StepSkipped
		log.ErrorMessage = fmt.Sprintf("private message type %s is not dispatched", st.MessageType)
		log.PayloadExcerpt = scenario.Excerpt(st.Payload)
		return log, 0
	}
	if s.dest != nil && sc.Kind() != s.dest.Kind {
		log.Status = scenario.StepSkipped
		log.ErrorMessage = fmt.Sprintf("%s step cannot be sent to %s destination %s", st.Format, s.dest.Kind, s.dest.Name)
		log.PayloadExcerpt = scenario.Excerpt(st.Payload)
		return log, 0
	}
	if st.Format == scenario.FormatHL7v2 && s.strict {
		if t := triggerOf(st.MessageType); t != "" {
			if err := hl7v2.CheckConformance(t, true, true); apperr.IsValidation(err) {
				log.ErrorMessage = err.Error()
				log.PayloadExcerpt = scenario.Excerpt(st.Payload)
				return log, 0
			}
		}
	}

	payload, err := s.ids.resolve(ctx, st.Payload)
	if err != nil {
		log.ErrorMessage = "placeholders: " + err.Error()
		log.PayloadExcerpt = scenario.Excerpt(st.Payload)
		return log, 0
	}
	if s.plan != nil {
		payload = sc.Retime(payload, s.plan[i])
	}
	log.PayloadExcerpt = scenario.Excerpt(payload)

	if s.dryRun {
		log.Status = scenario.StepDryRun
		return log, 0
	}

	dispatched := e.now()
	log.DispatchedAt = &dispatched
	start := time.Now()
	ack, sendErr := e.sender.Send(ctx, s.dest.Endpoint(), []byte(payload))
	elapsed := time.Since(start)
	log.DurationMS = elapsed.Milliseconds()

	out := sc.Classify(ack, sendErr)
	log.Status = out.Status
	log.AckCode = out.AckCode
	log.ErrorMessage = out.Message
	return log, elapsed
}

func (e *Executor) publish(ctx context.Context, logger zerolog.Logger, ev events.Event) {
	ev.At = e.now()
	if err := e.publisher.Publish(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("event", ev.Type).Msg("run event not published")
	}
}

// stepsFrom returns the steps from order index start on, all of them when
// start is zero, nil when no step has that index.
func stepsFrom(steps []scenario.Step, start int) []scenario.Step {
	if start == 0 {
		return steps
	}
	for i := range steps {
		if steps[i].OrderIndex == start {
			return steps[i:]
		}
	}
	return nil
}
