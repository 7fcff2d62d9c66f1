package script

import (
	"context"

	"github.com/ssuyashhhh/H2K/internal/decision"
	"github.com/ssuyashhhh/H2K/internal/state"
)

// Provider 是确定性的路由决策方。
// 它按固定的流水线推进：策略 -> 风险 -> 预测 -> 校验 -> 执行，
// 执行派发本身即是终点；任何一步给出否定结论时转入通知后终止。
// 没有外部依赖，结果完全可复现。
type Provider struct{}

// New 构造脚本决策方。
func New() *Provider {
	return &Provider{}
}

// Decide 依据状态快照给出下一步。
func (*Provider) Decide(_ context.Context, dc decision.Context) (*decision.Decision, error) {
	switch {
	case !dc.HasProposal:
		return &decision.Decision{
			NextAgent: string(state.TargetStrategy),
			Reasoning: "No proposal yet. Routing to strategy agent to analyze yield opportunities.",
		}, nil

	case dc.ProposalAction == string(state.ActionHold):
		return notifyOrEnd(dc, "Proposal is to hold the current position. No execution needed.")

	case !dc.HasAssessment:
		return &decision.Decision{
			NextAgent: string(state.TargetRisk),
			Reasoning: "Migration proposal pending. Routing to risk agent for protocol assessment.",
		}, nil

	case !dc.AssessmentSafe:
		return notifyOrEnd(dc, "Risk assessment rejected the target protocol. Aborting migration.")

	case !dc.HasForecast:
		return &decision.Decision{
			NextAgent: string(state.TargetForecast),
			Reasoning: "Proposal cleared risk review. Routing to forecast agent for a market outlook.",
		}, nil

	case !dc.HasValidation:
		return &decision.Decision{
			NextAgent: string(state.TargetValidation),
			Reasoning: "Routing to validation agent for the final pre-execution checks.",
		}, nil

	case !dc.ValidationOK:
		return notifyOrEnd(dc, "Validation checks failed. Aborting migration.")

	case !dc.HasExecution:
		return &decision.Decision{
			NextAgent: string(state.TargetExecute),
			Reasoning: "All checks passed. Dispatching the migration for execution.",
		}, nil

	default:
		return notifyOrEnd(dc, "Execution finished. Summarizing the outcome for the user.")
	}
}

// notifyOrEnd 确保结束前恰好产生一轮用户通知。
func notifyOrEnd(dc decision.Context, reasoning string) (*decision.Decision, error) {
	if !dc.HasNotification {
		return &decision.Decision{
			NextAgent: string(state.TargetNotify),
			Reasoning: reasoning,
		}, nil
	}
	return &decision.Decision{
		NextAgent: string(state.TargetTerminal),
		Reasoning: "Workflow complete.",
	}, nil
}
