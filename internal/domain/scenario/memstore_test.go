package scenario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

func TestMemoryStore_StepLogsBumpCounters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sc := validScenario()
	if err := store.Create(ctx, sc); err != nil {
		t.Fatalf("create scenario: %v", err)
	}
	run := &Run{ScenarioID: sc.ID, StartedAt: time.Now(), Status: RunRunning}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	for i, status := range []string{StepSent, StepError, StepSkipped} {
		if err := store.AppendStepLog(ctx, &StepLog{RunID: run.ID, OrderIndex: i + 1, Status: status}); err != nil {
			t.Fatalf("append log %d: %v", i, err)
		}
	}
	err := store.AppendStepLog(ctx, &StepLog{RunID: run.ID, OrderIndex: 2, Status: StepSent})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on duplicate order index, got %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.TotalSteps != 3 || got.SuccessSteps != 1 || got.ErrorSteps != 1 || got.SkippedSteps != 1 {
		t.Errorf("unexpected counters: %+v", got)
	}

	logs, err := store.ListStepLogs(ctx, run.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(logs))
	}
	for i, l := range logs {
		if l.OrderIndex != i+1 {
			t.Errorf("log %d has order %d", i, l.OrderIndex)
		}
	}
}

func TestMemoryStore_DuplicateScenarioKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, validScenario()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, validScenario()); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sc := validScenario()
	if err := store.Create(ctx, sc); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.GetByID(ctx, sc.ID)
	got.Steps[0].Payload = "mutated"

	again, _ := store.GetByID(ctx, sc.ID)
	if again.Steps[0].Payload == "mutated" {
		t.Error("store shares step slices with callers")
	}
}

func TestMemoryStore_DeleteCascadesRuns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sc := validScenario()
	_ = store.Create(ctx, sc)
	run := &Run{ScenarioID: sc.ID, StartedAt: time.Now(), Status: RunRunning}
	_ = store.CreateRun(ctx, run)

	if err := store.Delete(ctx, sc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetRun(ctx, run.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected run to be removed, got %v", err)
	}
}

func TestService_BindCase(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	sc := validScenario()
	if err := svc.CreateScenario(ctx, sc); err != nil {
		t.Fatalf("create: %v", err)
	}
	caseID := uuid.New()
	if err := svc.BindCase(ctx, sc.ID, caseID, map[string]string{"patient": "IPP0001"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	b, err := svc.GetBinding(ctx, sc.ID)
	if err != nil {
		t.Fatalf("get binding: %v", err)
	}
	if b.LastIdentifiers["patient"] != "IPP0001" {
		t.Errorf("unexpected identifiers: %v", b.LastIdentifiers)
	}
}
