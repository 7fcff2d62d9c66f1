package agents

import (
	"context"
	"fmt"

	"github.com/ssuyashhhh/H2K/internal/catalog"
	"github.com/ssuyashhhh/H2K/internal/signer"
	"github.com/ssuyashhhh/H2K/internal/state"
	"github.com/ssuyashhhh/H2K/internal/strategy"
	"github.com/ssuyashhhh/H2K/pkg/logger"
)

// StrategyAgent 分析收益机会并产出迁移或持有提案。
// 迁移提案会以 strategy_agent 角色签名后附加到状态上。
type StrategyAgent struct {
	selector *strategy.Selector
	catalog  *catalog.Catalog
	signer   *signer.Signer
}

// NewStrategyAgent 构造策略智能体。
func NewStrategyAgent(selector *strategy.Selector, c *catalog.Catalog, sig *signer.Signer) *StrategyAgent {
	return &StrategyAgent{selector: selector, catalog: c, signer: sig}
}

// Name 实现 Agent 接口。
func (a *StrategyAgent) Name() string { return signer.RoleStrategy }

// Execute 实现 Agent 接口。
func (a *StrategyAgent) Execute(_ context.Context, st *state.ExecutionState) error {
	proposal := a.selector.Select(st.Positions, st.Balances, a.catalog.Opportunities())

	if proposal.Action == state.ActionMigrate {
		intentText := fmt.Sprintf("DeFi Proposal: %s %g %s from %s to %s. APY gain: %.2f%%",
			proposal.Action, proposal.Amount, proposal.Asset, proposal.Source, proposal.Destination, proposal.APYGain*100)
		intent, err := a.signer.Sign(signer.RoleStrategy, intentText)
		if err != nil {
			// 签名失败不阻断流程，缺签的提案会在执行闸门被拒绝。
			st.AppendError(err.Error())
			logger.L().Warn("策略提案签名失败", "execution_id", st.ExecutionID, "error", err)
		} else {
			proposal.Intent = intent
		}
	}

	st.Proposal = proposal
	st.AppendReasoning(proposal.Reasoning)
	return nil
}
