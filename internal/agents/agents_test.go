package agents

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ssuyashhhh/H2K/internal/catalog"
	"github.com/ssuyashhhh/H2K/internal/coordination"
	"github.com/ssuyashhhh/H2K/internal/notify"
	"github.com/ssuyashhhh/H2K/internal/risk"
	"github.com/ssuyashhhh/H2K/internal/signer"
	"github.com/ssuyashhhh/H2K/internal/state"
	"github.com/ssuyashhhh/H2K/internal/strategy"
)

const (
	strategyKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	riskKey     = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

func newTestSigner(t *testing.T) *signer.Signer {
	t.Helper()
	registry, err := signer.NewRegistry(map[string]string{
		signer.RoleStrategy: strategyKey,
		signer.RoleRisk:     riskKey,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return signer.NewSigner(registry)
}

func demoState() *state.ExecutionState {
	st := state.New("p1", "e1", "optimize my yield", "0xabc", 1)
	st.Balances["USDC"] = 10000
	st.Balances["ETH"] = 2
	st.Positions["Aave"] = state.Position{Amount: 10000, APY: 0.05}
	return st
}

func TestStrategyAgentSignsMigrationProposal(t *testing.T) {
	sig := newTestSigner(t)
	agent := NewStrategyAgent(strategy.NewSelector(0, 0), catalog.Default(), sig)

	st := demoState()
	if err := agent.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if st.Proposal == nil || st.Proposal.Action != state.ActionMigrate {
		t.Fatalf("expected a migration proposal: %+v", st.Proposal)
	}
	if st.Proposal.Intent == nil {
		t.Fatalf("migration proposal must carry a signed intent")
	}
	if !sig.Verify(st.Proposal.Intent) {
		t.Fatalf("proposal intent does not verify")
	}

	want := fmt.Sprintf("DeFi Proposal: %s %g %s from %s to %s. APY gain: %.2f%%",
		st.Proposal.Action, st.Proposal.Amount, st.Proposal.Asset,
		st.Proposal.Source, st.Proposal.Destination, st.Proposal.APYGain*100)
	if st.Proposal.Intent.IntentText != want {
		t.Fatalf("unexpected intent text:\n got %q\nwant %q", st.Proposal.Intent.IntentText, want)
	}
	if len(st.ReasoningLog) == 0 {
		t.Fatalf("strategy agent should log its reasoning")
	}
}

func TestStrategyAgentHoldProposalIsUnsigned(t *testing.T) {
	sig := newTestSigner(t)
	agent := NewStrategyAgent(strategy.NewSelector(0, 0), catalog.Default(), sig)

	st := demoState()
	st.Positions["Yearn"] = state.Position{Amount: 5000, APY: 0.12}
	if err := agent.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if st.Proposal == nil || st.Proposal.Action != state.ActionHold {
		t.Fatalf("expected a hold proposal: %+v", st.Proposal)
	}
	if st.Proposal.Intent != nil {
		t.Fatalf("hold proposals are not signed")
	}
}

func TestStrategyAgentContinuesWithoutKey(t *testing.T) {
	registry, err := signer.NewRegistry(map[string]string{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	agent := NewStrategyAgent(strategy.NewSelector(0, 0), catalog.Default(), signer.NewSigner(registry))

	st := demoState()
	if err := agent.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// The proposal still lands on the state, the execution gate rejects it later.
	if st.Proposal == nil || st.Proposal.Intent != nil {
		t.Fatalf("expected an unsigned proposal: %+v", st.Proposal)
	}
	if len(st.Errors) == 0 {
		t.Fatalf("signing failure should be recorded on the state")
	}
}

func TestRiskAgentAssessesDestination(t *testing.T) {
	sig := newTestSigner(t)
	store := coordination.NewMemoryStore()
	agent := NewRiskAgent(risk.NewScorer(catalog.Default(), 0), sig, store)

	st := demoState()
	if err := store.InitExecution(context.Background(), st); err != nil {
		t.Fatalf("init execution: %v", err)
	}
	st.Proposal = &state.Proposal{Action: state.ActionMigrate, Destination: "Yearn", Asset: "USDC", Amount: 100}

	if err := agent.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if st.RiskAssessment == nil || st.RiskAssessment.Safe {
		t.Fatalf("Yearn must be assessed as unsafe: %+v", st.RiskAssessment)
	}
	if st.RiskAssessment.Intent == nil || !sig.Verify(st.RiskAssessment.Intent) {
		t.Fatalf("assessment intent missing or invalid")
	}
	if !strings.Contains(st.RiskAssessment.Intent.IntentText, "REJECTED") {
		t.Fatalf("unsafe assessment should be endorsed as REJECTED: %q", st.RiskAssessment.Intent.IntentText)
	}
	if !strings.Contains(st.RiskAssessment.Intent.IntentText, "hack_history_impact") {
		t.Fatalf("intent text should enumerate the factors: %q", st.RiskAssessment.Intent.IntentText)
	}
	last := st.ReasoningLog[len(st.ReasoningLog)-1]
	if !strings.Contains(last, "TOO RISKY") {
		t.Fatalf("unexpected reasoning: %q", last)
	}
}

func TestRiskAgentWithoutProposal(t *testing.T) {
	sig := newTestSigner(t)
	agent := NewRiskAgent(risk.NewScorer(catalog.Default(), 0), sig, nil)

	st := demoState()
	if err := agent.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if st.RiskAssessment == nil || !st.RiskAssessment.Safe || st.RiskAssessment.RiskScore != 0 {
		t.Fatalf("missing proposal should yield a zero-score safe assessment: %+v", st.RiskAssessment)
	}
}

func TestForecastAgent(t *testing.T) {
	st := demoState()
	if err := NewForecastAgent().Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if st.Forecast == nil || st.Forecast.Trend != "stable" || st.Forecast.Confidence != 0.85 {
		t.Fatalf("unexpected forecast: %+v", st.Forecast)
	}
}

func TestValidationAgentPasses(t *testing.T) {
	st := demoState()
	st.Proposal = &state.Proposal{Action: state.ActionMigrate, Destination: "Curve"}
	st.RiskAssessment = &state.Assessment{Safe: true}
	st.AppendReasoning("earlier step")

	if err := NewValidationAgent().Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if st.Validation == nil || !st.Validation.Passed {
		t.Fatalf("expected validation to pass: %+v", st.Validation)
	}
}

func TestValidationAgentFailsOnRecordedErrors(t *testing.T) {
	st := demoState()
	st.Proposal = &state.Proposal{Action: state.ActionMigrate}
	st.RiskAssessment = &state.Assessment{Safe: true}
	st.AppendReasoning("earlier step")
	st.AppendError("signature failure")

	if err := NewValidationAgent().Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if st.Validation == nil || st.Validation.Passed {
		t.Fatalf("recorded errors must fail validation: %+v", st.Validation)
	}
	if st.Validation.Checks["no_errors"] {
		t.Fatalf("no_errors check should be false")
	}
}

type recordingNotifier struct {
	events []notify.Event
}

func (*recordingNotifier) Channel() notify.Channel { return notify.ChannelLog }

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	n.events = append(n.events, event)
	return nil
}

func TestNotifyAgentDispatchesMigrationSummary(t *testing.T) {
	recorder := &recordingNotifier{}
	agent := NewNotifyAgent(notify.NewFanout(recorder))

	st := demoState()
	st.Proposal = &state.Proposal{
		Action:      state.ActionMigrate,
		Destination: "Curve",
		Asset:       "USDC",
		NewAPY:      0.08,
	}

	if err := agent.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(st.Notifications) != 2 {
		t.Fatalf("expected email plus dashboard update, got %d", len(st.Notifications))
	}
	if st.Notifications[0].Type != "email" || !strings.Contains(st.Notifications[0].Subject, "Curve") {
		t.Fatalf("unexpected email notification: %+v", st.Notifications[0])
	}
	if st.Notifications[1].Type != "dashboard_update" {
		t.Fatalf("unexpected second notification: %+v", st.Notifications[1])
	}

	// Only the user-facing email goes through the dispatcher.
	if len(recorder.events) != 1 || !strings.Contains(recorder.events[0].Subject, "Curve") {
		t.Fatalf("unexpected dispatched events: %+v", recorder.events)
	}
}

func TestNotifyAgentWithoutProposal(t *testing.T) {
	agent := NewNotifyAgent(nil)

	st := demoState()
	if err := agent.Execute(context.Background(), st); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(st.Notifications) != 1 || st.Notifications[0].Type != "dashboard_update" {
		t.Fatalf("expected only the dashboard update: %+v", st.Notifications)
	}
}
