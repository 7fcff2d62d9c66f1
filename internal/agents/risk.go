package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ssuyashhhh/H2K/internal/coordination"
	"github.com/ssuyashhhh/H2K/internal/risk"
	"github.com/ssuyashhhh/H2K/internal/signer"
	"github.com/ssuyashhhh/H2K/internal/state"
	"github.com/ssuyashhhh/H2K/pkg/logger"
)

// RiskAgent 对迁移提案的目标协议做风险评估并签名背书。
type RiskAgent struct {
	scorer *risk.Scorer
	signer *signer.Signer
	store  coordination.Store
}

// NewRiskAgent 构造风险智能体。
func NewRiskAgent(scorer *risk.Scorer, sig *signer.Signer, store coordination.Store) *RiskAgent {
	return &RiskAgent{scorer: scorer, signer: sig, store: store}
}

// Name 实现 Agent 接口。
func (a *RiskAgent) Name() string { return signer.RoleRisk }

// Execute 实现 Agent 接口。
// 没有提案或提案为持有时没有可评估的对象，直接给出零分安全结论。
func (a *RiskAgent) Execute(ctx context.Context, st *state.ExecutionState) error {
	if st.Proposal == nil || st.Proposal.Action == state.ActionHold {
		st.RiskAssessment = &state.Assessment{
			RiskScore: 0,
			Safe:      true,
			Threshold: a.scorer.Threshold(),
		}
		st.AppendReasoning("No action to assess.")
		return nil
	}

	protocol := st.Proposal.Destination
	assessment := a.scorer.Assess(protocol)

	verdict := "APPROVED"
	if !assessment.Safe {
		verdict = "REJECTED"
	}
	intentText := fmt.Sprintf("Risk Assessment: %s scored %.1f/10. %s. Factors: %s",
		protocol, assessment.RiskScore, verdict, strings.Join(factorNames(assessment.Factors), ", "))
	intent, err := a.signer.Sign(signer.RoleRisk, intentText)
	if err != nil {
		st.AppendError(err.Error())
		logger.L().Warn("风险评估签名失败", "execution_id", st.ExecutionID, "error", err)
	} else {
		assessment.Intent = intent
	}

	if a.store != nil {
		record := coordination.RiskRecord{
			Protocol:  protocol,
			RiskScore: assessment.RiskScore,
			Safe:      assessment.Safe,
			Factors:   assessment.Factors,
		}
		if err := a.store.RecordRiskAssessment(ctx, st.ExecutionID, record); err != nil {
			logger.L().Warn("写入风险记录失败", "execution_id", st.ExecutionID, "error", err)
		}
	}

	st.RiskAssessment = assessment
	reasoning := fmt.Sprintf("Risk Score: %.1f/10. ", assessment.RiskScore)
	if assessment.Safe {
		reasoning += "SAFE"
	} else {
		reasoning += "TOO RISKY"
	}
	st.AppendReasoning(reasoning)
	return nil
}

func factorNames(factors map[string]float64) []string {
	names := make([]string, 0, len(factors))
	for name := range factors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
