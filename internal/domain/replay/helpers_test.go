package replay

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/destination"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/sequence"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/transport"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// adt builds a minimal legacy message stamped at ts.
func adt(trigger string, ts time.Time, body string) string {
	stamp := hl7v2.FormatTimestamp(ts)
	msg := "MSH|^~\\&|MDB|MDB|RCV|RCV|" + stamp + "||ADT^" + trigger + "^ADT_A01|C" + trigger + "|P|2.5\r" +
		"EVN|" + trigger + "|" + stamp
	if body != "" {
		msg += "\r" + body
	}
	return msg
}

func legacyStep(order int, trigger string, ts time.Time, delay int) scenario.Step {
	return scenario.Step{
		OrderIndex:   order,
		Format:       scenario.FormatHL7v2,
		MessageType:  "ADT^" + trigger + "^ADT_A01",
		EventCode:    trigger,
		Payload:      adt(trigger, ts, "PID|1||{{PATIENT_ID}}^^^MDB||Durand^Paul"),
		DelaySeconds: delay,
	}
}

// recorder is a transport.Sender answering with a fixed acknowledgement.
type recorder struct {
	mu       sync.Mutex
	payloads []string
	reply    func(payload string) ([]byte, error)
}

func (r *recorder) Send(_ context.Context, _ transport.Endpoint, payload []byte) ([]byte, error) {
	r.mu.Lock()
	r.payloads = append(r.payloads, string(payload))
	r.mu.Unlock()
	if r.reply == nil {
		return ackFor(string(payload), hl7v2.AckAccept), nil
	}
	return r.reply(string(payload))
}

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func ackFor(payload, code string) []byte {
	msg, err := hl7v2.Parse([]byte(payload))
	if err != nil {
		return []byte("MSH|^~\\&|RCV|RCV|MDB|MDB|20240301080000||ACK|A1|P|2.5\rMSA|" + code + "|?")
	}
	return hl7v2.SerializeMessage(hl7v2.GenerateACK(msg, code))
}

type fixture struct {
	store     *scenario.MemoryStore
	scenarios *scenario.Service
	sender    *recorder
	exec      *Executor
	waits     []time.Duration
	dest      *destination.Destination
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  scenario.NewMemoryStore(),
		sender: &recorder{},
		dest: &destination.Destination{
			ID: uuid.New(), Name: "recv", Kind: transport.KindMLLP, Host: "127.0.0.1", Port: 2575, Active: true,
		},
	}
	f.scenarios = scenario.NewService(f.store)
	f.exec = NewExecutor(Deps{
		Store:    f.store,
		Sender:   f.sender,
		Sequence: sequence.NewMemory(nil),
		Shifter:  NewShifter(rand.New(rand.NewSource(1)), func() time.Time { return t0 }),
		Logger:   zerolog.Nop(),
	})
	f.exec.SetClock(func() time.Time { return t0 })
	f.exec.SetWaiter(func(ctx context.Context, d time.Duration) error {
		f.waits = append(f.waits, d)
		return ctx.Err()
	})
	return f
}

func (f *fixture) scenario(t *testing.T, protocol string, steps ...scenario.Step) *scenario.Scenario {
	t.Helper()
	sc := &scenario.Scenario{
		Key:      "sc-" + uuid.NewString()[:8],
		Name:     "test",
		Protocol: protocol,
		Active:   true,
		Steps:    steps,
	}
	if err := f.scenarios.CreateScenario(context.Background(), sc); err != nil {
		t.Fatalf("create scenario: %v", err)
	}
	return sc
}

func (f *fixture) logs(t *testing.T, runID uuid.UUID) []*scenario.StepLog {
	t.Helper()
	logs, err := f.store.ListStepLogs(context.Background(), runID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return logs
}

func segmentField(t *testing.T, payload, segment string, field int) string {
	t.Helper()
	msg, err := hl7v2.Parse([]byte(payload))
	if err != nil {
		t.Fatalf("parse %q: %v", strings.SplitN(payload, "\r", 2)[0], err)
	}
	seg := msg.GetSegment(segment)
	if seg == nil {
		t.Fatalf("no %s segment", segment)
	}
	return seg.GetField(field)
}
