package coordination

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ssuyashhhh/H2K/internal/state"
)

func TestCreateOrGetPortfolioIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.CreateOrGetPortfolio(ctx, "0xAbC123", 11155111)
	if err != nil {
		t.Fatalf("create portfolio: %v", err)
	}
	// Same wallet with different casing must resolve to the same portfolio.
	second, err := store.CreateOrGetPortfolio(ctx, "0xabc123", 11155111)
	if err != nil {
		t.Fatalf("get portfolio: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same portfolio, got %s and %s", first, second)
	}

	other, err := store.CreateOrGetPortfolio(ctx, "0xabc123", 1)
	if err != nil {
		t.Fatalf("create portfolio on another chain: %v", err)
	}
	if other == first {
		t.Fatalf("different chains must map to different portfolios")
	}
}

func TestInitExecutionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := state.New("p1", "e1", "input", "0xabc", 1)
	if err := store.InitExecution(ctx, st); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.InitExecution(ctx, st); !errors.Is(err, ErrExecutionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.InitExecution(ctx, nil); err == nil {
		t.Fatalf("expected error for nil state")
	}
}

func TestWriteAndGetStateAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := state.New("p1", "e1", "input", "0xabc", 1)
	st.Balances["USDC"] = 10000
	if err := store.InitExecution(ctx, st); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Mutating the caller's copy after a write must not affect the store.
	st.Balances["USDC"] = 1

	loaded, err := store.GetState(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Balances["USDC"] != 10000 {
		t.Fatalf("store leaked a shared reference: %g", loaded.Balances["USDC"])
	}

	loaded.Status = state.StatusFailed
	again, err := store.GetState(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Status == state.StatusFailed {
		t.Fatalf("reads must return independent copies")
	}

	st.Status = state.StatusRunning
	if err := store.WriteState(ctx, st); err != nil {
		t.Fatalf("write: %v", err)
	}
	updated, err := store.GetState(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if updated.Status != state.StatusRunning {
		t.Fatalf("write not applied: %s", updated.Status)
	}
}

func TestWriteStateUnknownExecution(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := state.New("p1", "missing", "input", "0xabc", 1)
	if err := store.WriteState(ctx, st); !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetState(ctx, "missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListExecutionsOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		st := state.New("p1", fmt.Sprintf("e%d", i), "input", "0xabc", 1)
		st.UpdatedAt = int64(1000 + i)
		if err := store.InitExecution(ctx, st); err != nil {
			t.Fatalf("init e%d: %v", i, err)
		}
	}

	items, err := store.ListExecutions(ctx, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].ExecutionID != "e4" || items[1].ExecutionID != "e3" || items[2].ExecutionID != "e2" {
		t.Fatalf("unexpected order: %s %s %s", items[0].ExecutionID, items[1].ExecutionID, items[2].ExecutionID)
	}

	all, err := store.ListExecutions(ctx, 0)
	if err != nil {
		t.Fatalf("list with default limit: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected all 5 items, got %d", len(all))
	}
}

func TestDecisionTrace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := state.New("p1", "e1", "input", "0xabc", 1)
	if err := store.InitExecution(ctx, st); err != nil {
		t.Fatalf("init: %v", err)
	}

	entries := []DecisionEntry{
		{Iteration: 1, AgentName: "orchestrator", Kind: DecisionKindRouting, NextAgent: "strategy_agent", Reasoning: "start"},
		{Iteration: 1, AgentName: "strategy_agent", Kind: DecisionKindAgentStep, Reasoning: "proposed", Payload: `{"action":"migrate"}`},
		{Iteration: 2, AgentName: "orchestrator", Kind: DecisionKindRouting, NextAgent: "risk_agent", Reasoning: "assess"},
	}
	for _, entry := range entries {
		if err := store.AppendDecision(ctx, "e1", entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	trace, err := store.Decisions(ctx, "e1")
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if len(trace) != 3 || trace[0].NextAgent != "strategy_agent" || trace[2].Iteration != 2 {
		t.Fatalf("unexpected trace: %+v", trace)
	}
	if trace[0].DecidedAt == 0 {
		t.Fatalf("decided_at should default to the current time")
	}
	step := trace[1]
	if step.Kind != DecisionKindAgentStep || step.AgentName != "strategy_agent" || step.Payload != `{"action":"migrate"}` {
		t.Fatalf("agent step attributes lost: %+v", step)
	}

	if err := store.AppendDecision(ctx, "missing", entries[0]); !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Decisions(ctx, "missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordRiskAssessment(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := state.New("p1", "e1", "input", "0xabc", 1)
	if err := store.InitExecution(ctx, st); err != nil {
		t.Fatalf("init: %v", err)
	}

	record := RiskRecord{
		Protocol:  "Yearn",
		RiskScore: 10,
		Safe:      false,
		Factors:   map[string]float64{"hack_history_impact": 6, "tvl_trust": 1.5},
	}
	if err := store.RecordRiskAssessment(ctx, "e1", record); err != nil {
		t.Fatalf("record: %v", err)
	}
	stored := store.risks["e1"]
	if len(stored) != 1 || stored[0].Factors["hack_history_impact"] != 6 {
		t.Fatalf("risk factors lost: %+v", stored)
	}
	if err := store.RecordRiskAssessment(ctx, "missing", record); !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
