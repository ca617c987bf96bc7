package replay

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
)

// criticalEvents anchor a patient's identity or stay. They are never
// jittered, whatever the scenario's jitter set says.
var criticalEvents = map[string]bool{
	"A01":                 true,
	"A04":                 true,
	"A05":                 true,
	"A28":                 true,
	"A31":                 true,
	"A40":                 true,
	"A47":                 true,
	"ADMISSION_CONFIRMED": true,
	"REGISTRATION":        true,
	"PRE_ADMISSION":       true,
	"PATIENT_CREATE":      true,
	"PATIENT_UPDATE":      true,
}

// Shifter moves a scenario onto a new time anchor while keeping the spacing
// of its steps. The random source is injected so tests are reproducible.
type Shifter struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewShifter(rng *rand.Rand, now func() time.Time) *Shifter {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Shifter{rng: rng, now: now}
}

// Anchor resolves the new start time of a scenario.
func (s *Shifter) Anchor(tc scenario.TimeConfig) time.Time {
	now := s.now().UTC()
	switch tc.AnchorMode {
	case scenario.AnchorAdmissionMinusDays:
		return now.AddDate(0, 0, -tc.AnchorDaysOffset)
	case scenario.AnchorFixedStart:
		if tc.FixedStart != nil {
			return tc.FixedStart.UTC()
		}
	}
	return now
}

// Plan returns the shifted timestamp of every step. With PreserveIntervals
// each step keeps its offset from the first step's original timestamp, read
// from the payload; when a payload has no readable timestamp the plan falls
// back to spacing by delay_seconds. Jitter is added last, per step, so it
// never accumulates.
func (s *Shifter) Plan(tc scenario.TimeConfig, steps []scenario.Step, codec Codec) []time.Time {
	anchor := s.Anchor(tc)
	plan := make([]time.Time, len(steps))

	var origins []time.Time
	if tc.PreserveIntervals {
		origins = originalTimes(steps, codec)
	}
	cursor := anchor
	for i := range steps {
		switch {
		case origins != nil:
			plan[i] = anchor.Add(origins[i].Sub(origins[0]))
		case i == 0:
			plan[i] = anchor
		default:
			cursor = cursor.Add(time.Duration(steps[i].DelaySeconds) * time.Second)
			plan[i] = cursor
		}
	}

	for i := range steps {
		plan[i] = plan[i].Add(s.jitter(tc, &steps[i]))
	}
	return plan
}

// jitter draws a perturbation in [JitterMin, JitterMax] minutes with a random
// sign for eligible, non-critical steps.
func (s *Shifter) jitter(tc scenario.TimeConfig, st *scenario.Step) time.Duration {
	if tc.JitterMax <= 0 || !eligible(tc.JitterEvents, st) || isCritical(st) {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	minutes := tc.JitterMin + s.rng.Intn(tc.JitterMax-tc.JitterMin+1)
	if s.rng.Intn(2) == 0 {
		minutes = -minutes
	}
	return time.Duration(minutes) * time.Minute
}

func originalTimes(steps []scenario.Step, codec Codec) []time.Time {
	out := make([]time.Time, len(steps))
	for i := range steps {
		ts, err := codec.ForStep(&steps[i]).OriginalTime(steps[i].Payload)
		if err != nil {
			return nil
		}
		out[i] = ts
	}
	return out
}

// eventCodes returns the codes a step answers to: its event code and, for
// legacy messages, the trigger of its message type.
func eventCodes(st *scenario.Step) []string {
	codes := make([]string, 0, 2)
	if ec := strings.ToUpper(strings.TrimSpace(st.EventCode)); ec != "" {
		codes = append(codes, ec)
	}
	if t := triggerOf(st.MessageType); t != "" {
		codes = append(codes, t)
	}
	return codes
}

func eligible(set []string, st *scenario.Step) bool {
	for _, code := range eventCodes(st) {
		for _, e := range set {
			if strings.EqualFold(strings.TrimSpace(e), code) {
				return true
			}
		}
	}
	return false
}

func isCritical(st *scenario.Step) bool {
	for _, code := range eventCodes(st) {
		if criticalEvents[code] {
			return true
		}
	}
	return false
}
