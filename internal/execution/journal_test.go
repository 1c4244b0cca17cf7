package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dir := t.TempDir()
	journal, err := OpenJournal(filepath.Join(dir, "journal.db"), filepath.Join(dir, "journal.lock"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestJournalSaveAndGet(t *testing.T) {
	journal := openTestJournal(t)

	plan := NewPlan("invest", 1, "http://localhost:8545")
	plan.Steps = append(plan.Steps, Step{
		StepID: "step-1",
		Type:   StepTypeAddLiquidity,
		Status: StepStatusPending,
		Signer: SignerVault,
		Target: "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
		Data:   "0x",
		Value:  "0",
		Compensation: []Step{
			{
				StepID: "step-1-undo-01",
				Type:   StepTypeApproval,
				Status: StepStatusPending,
				Signer: SignerVault,
				Target: "0x397FF1542f962076d0BFE58eA045FfA2d347ACa0",
				Data:   "0x",
				Value:  "0",
			},
			{
				StepID: "step-1-undo-02",
				Type:   StepTypeRemoveLiq,
				Status: StepStatusPending,
				Signer: SignerVault,
				Target: "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
				Data:   "0x",
				Value:  "0",
			},
		},
	})
	if err := journal.Save(plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}

	got, err := journal.Get(plan.PlanID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if got.Operation != "invest" || got.Status != PlanStatusPlanned {
		t.Fatalf("unexpected plan: %+v", got)
	}
	if len(got.Steps) != 1 || len(got.Steps[0].Compensation) != 2 {
		t.Fatalf("compensation sequence not persisted: %+v", got.Steps)
	}
	if got.Steps[0].Compensation[0].Type != StepTypeApproval || got.Steps[0].Compensation[1].Type != StepTypeRemoveLiq {
		t.Fatalf("unexpected compensation order: %+v", got.Steps[0].Compensation)
	}
}

func TestJournalUpsertOverwrites(t *testing.T) {
	journal := openTestJournal(t)

	plan := NewPlan("divest", 1, "")
	if err := journal.Save(plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	plan.Status = PlanStatusFailed
	plan.Touch()
	if err := journal.Save(plan); err != nil {
		t.Fatalf("resave plan: %v", err)
	}
	got, err := journal.Get(plan.PlanID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if got.Status != PlanStatusFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
}

func TestJournalListFiltersByStatus(t *testing.T) {
	journal := openTestJournal(t)

	completed := NewPlan("deposit-token", 1, "")
	completed.Status = PlanStatusCompleted
	failed := NewPlan("withdraw-eth", 1, "")
	failed.Status = PlanStatusFailed
	for _, plan := range []Plan{completed, failed} {
		if err := journal.Save(plan); err != nil {
			t.Fatalf("save plan: %v", err)
		}
	}

	all, err := journal.List("", 10)
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(all))
	}

	onlyFailed, err := journal.List(string(PlanStatusFailed), 10)
	if err != nil {
		t.Fatalf("list failed plans: %v", err)
	}
	if len(onlyFailed) != 1 || onlyFailed[0].PlanID != failed.PlanID {
		t.Fatalf("unexpected filtered result: %+v", onlyFailed)
	}
}

func TestJournalGetMissing(t *testing.T) {
	journal := openTestJournal(t)
	if _, err := journal.Get("plan_missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestJournalLockBlocksSecondHolder(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	lockPath := filepath.Join(dir, "journal.lock")

	first, err := OpenJournal(dbPath, lockPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer first.Close()
	if err := first.Lock(context.Background()); err != nil {
		t.Fatalf("lock journal: %v", err)
	}

	// flock is per file description, so a second Journal on the same lock
	// path contends like a second process would.
	second, err := OpenJournal(dbPath, lockPath)
	if err != nil {
		t.Fatalf("open second journal: %v", err)
	}
	defer second.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := second.Lock(ctx); err == nil {
		second.Unlock()
		t.Fatal("expected second lock attempt to fail while first is held")
	}

	first.Unlock()
	if err := second.Lock(context.Background()); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	second.Unlock()
}

func TestJournalSaveRejectsEmptyID(t *testing.T) {
	journal := openTestJournal(t)
	if err := journal.Save(Plan{}); err == nil {
		t.Fatalf("expected missing id error")
	}
}
