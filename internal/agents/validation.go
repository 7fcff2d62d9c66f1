package agents

import (
	"context"
	"fmt"

	"github.com/ssuyashhhh/H2K/internal/signer"
	"github.com/ssuyashhhh/H2K/internal/state"
)

// ValidationAgent 在执行前做最终一致性检查。
type ValidationAgent struct{}

// NewValidationAgent 构造校验智能体。
func NewValidationAgent() *ValidationAgent {
	return &ValidationAgent{}
}

// Name 实现 Agent 接口。
func (*ValidationAgent) Name() string { return signer.RoleValidation }

// Execute 实现 Agent 接口。
func (*ValidationAgent) Execute(_ context.Context, st *state.ExecutionState) error {
	checks := map[string]bool{
		"has_proposal":       st.Proposal != nil,
		"risk_assessed":      st.RiskAssessment != nil,
		"no_errors":          len(st.Errors) == 0,
		"reasoning_complete": len(st.ReasoningLog) > 0,
	}

	passed := true
	for _, ok := range checks {
		if !ok {
			passed = false
			break
		}
	}

	st.Validation = &state.ValidationReport{Checks: checks, Passed: passed}

	verdict := "passed"
	if !passed {
		verdict = "failed"
	}
	st.AppendReasoning(fmt.Sprintf("Validation %s", verdict))
	return nil
}
