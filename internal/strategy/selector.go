package strategy

import (
	"fmt"

	"github.com/ssuyashhhh/H2K/internal/catalog"
	"github.com/ssuyashhhh/H2K/internal/state"
)

const (
	// DefaultMinGain 是触发迁移的最小 APY 提升。
	DefaultMinGain = 0.02
	// DefaultTestCap 是任何试验性迁移的金额上限。
	DefaultTestCap = 100.0
	// DefaultAsset 是试验性迁移使用的资产。
	DefaultAsset = "USDC"
)

// Selector 从当前持仓与候选机会中产出一个提案。
// 纯函数式组件：同样的输入永远得到同样的提案。
type Selector struct {
	minGain float64
	testCap float64
	asset   string
}

// NewSelector 构造 Selector，非法参数回落到默认值。
func NewSelector(minGain, testCap float64) *Selector {
	if minGain <= 0 {
		minGain = DefaultMinGain
	}
	if testCap <= 0 {
		testCap = DefaultTestCap
	}
	return &Selector{minGain: minGain, testCap: testCap, asset: DefaultAsset}
}

// Select 比较当前收益与最优机会，决定迁移或持有。
// 机会列表须保持稳定顺序；多个机会并列最优时取第一个，保证可复现。
// 迁移金额封顶为 min(可用余额, 试验上限)，这是对任何提案的硬性安全约束。
func (s *Selector) Select(positions map[string]state.Position, balances map[string]float64, opportunities []catalog.Opportunity) *state.Proposal {
	currentAPY := 0.0
	currentProtocol := ""
	for protocol, position := range positions {
		if position.APY > currentAPY {
			currentAPY = position.APY
			currentProtocol = protocol
		}
	}

	if len(opportunities) == 0 {
		return &state.Proposal{
			Action:    state.ActionHold,
			Reasoning: "No opportunities available. Holding current position.",
		}
	}

	best := opportunities[0]
	for _, opportunity := range opportunities[1:] {
		if opportunity.APY > best.APY {
			best = opportunity
		}
	}

	gain := best.APY - currentAPY
	if gain <= s.minGain {
		return &state.Proposal{
			Action:     state.ActionHold,
			CurrentAPY: currentAPY,
			NewAPY:     best.APY,
			APYGain:    gain,
			Reasoning:  fmt.Sprintf("Best APY is %.2f%%, only %.2f%% gain. Not worth gas costs.", best.APY*100, gain*100),
		}
	}

	source := currentProtocol
	if source == "" {
		source = "wallet"
	}
	amount := balances[s.asset]
	if amount > s.testCap {
		amount = s.testCap
	}

	return &state.Proposal{
		Action:      state.ActionMigrate,
		Source:      source,
		Destination: best.Protocol,
		Asset:       s.asset,
		Amount:      amount,
		CurrentAPY:  currentAPY,
		NewAPY:      best.APY,
		APYGain:     gain,
		Reasoning:   fmt.Sprintf("Found %.2f%% APY gain by moving to %s (test amount: %g %s)", gain*100, best.Protocol, amount, s.asset),
	}
}
