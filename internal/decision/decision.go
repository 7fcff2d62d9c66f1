package decision

import (
	"context"

	"github.com/ssuyashhhh/H2K/internal/state"
)

// PositionView 是决策上下文里的一条持仓视图。
type PositionView struct {
	Amount float64
	APY    float64
}

// ProposalView 摘要当前提案，决策方据此判断是否继续推进。
type ProposalView struct {
	Action      string
	Source      string
	Destination string
	Asset       string
	Amount      float64
	CurrentAPY  float64
	NewAPY      float64
	APYGain     float64
}

// AssessmentView 摘要风险评估结论及各因子贡献。
type AssessmentView struct {
	Protocol  string
	RiskScore float64
	Safe      bool
	Factors   map[string]float64
}

// ForecastView 摘要市场预测结论。
type ForecastView struct {
	Trend      string
	Volatility string
	Confidence float64
}

// Context 是提供给决策方的执行状态快照：用户请求、余额与持仓、
// 已累积的提案/评估/预测产出，以及最近的推理记录。
// 所有集合都是拷贝，决策方拿不到可变状态。
type Context struct {
	ExecutionID    string
	UserInput      string
	IterationCount int

	Balances  map[string]float64
	Positions map[string]PositionView

	Proposal   *ProposalView
	Assessment *AssessmentView
	Forecast   *ForecastView

	HasProposal     bool
	ProposalAction  string
	HasAssessment   bool
	AssessmentSafe  bool
	HasForecast     bool
	HasValidation   bool
	ValidationOK    bool
	HasExecution    bool
	HasNotification bool
	RecentReasoning []string
}

// Decision 是决策方返回的结构化路由指令。
type Decision struct {
	NextAgent string `json:"next_agent"`
	Reasoning string `json:"reasoning"`
}

// Provider 定义了路由决策的统一接口。
// 实现方可以是大模型，也可以是确定性脚本，路由器对两者一视同仁。
type Provider interface {
	Decide(ctx context.Context, dc Context) (*Decision, error)
}

// Snapshot 从执行状态构建决策上下文。
func Snapshot(st *state.ExecutionState) Context {
	dc := Context{
		ExecutionID:     st.ExecutionID,
		UserInput:       st.UserInput,
		IterationCount:  st.IterationCount,
		Balances:        make(map[string]float64, len(st.Balances)),
		Positions:       make(map[string]PositionView, len(st.Positions)),
		HasForecast:     st.Forecast != nil,
		HasExecution:    len(st.ExecutedTransactions)+len(st.PendingTransactions) > 0,
		HasNotification: len(st.Notifications) > 0,
		RecentReasoning: st.RecentReasoning(5),
	}
	for asset, amount := range st.Balances {
		dc.Balances[asset] = amount
	}
	for protocol, position := range st.Positions {
		dc.Positions[protocol] = PositionView{Amount: position.Amount, APY: position.APY}
	}

	if st.Proposal != nil {
		dc.HasProposal = true
		dc.ProposalAction = string(st.Proposal.Action)
		dc.Proposal = &ProposalView{
			Action:      string(st.Proposal.Action),
			Source:      st.Proposal.Source,
			Destination: st.Proposal.Destination,
			Asset:       st.Proposal.Asset,
			Amount:      st.Proposal.Amount,
			CurrentAPY:  st.Proposal.CurrentAPY,
			NewAPY:      st.Proposal.NewAPY,
			APYGain:     st.Proposal.APYGain,
		}
	}
	if st.RiskAssessment != nil {
		dc.HasAssessment = true
		dc.AssessmentSafe = st.RiskAssessment.Safe
		view := &AssessmentView{
			Protocol:  st.RiskAssessment.Protocol,
			RiskScore: st.RiskAssessment.RiskScore,
			Safe:      st.RiskAssessment.Safe,
			Factors:   make(map[string]float64, len(st.RiskAssessment.Factors)),
		}
		for name, value := range st.RiskAssessment.Factors {
			view.Factors[name] = value
		}
		dc.Assessment = view
	}
	if st.Forecast != nil {
		dc.Forecast = &ForecastView{
			Trend:      st.Forecast.Trend,
			Volatility: st.Forecast.Volatility,
			Confidence: st.Forecast.Confidence,
		}
	}
	if st.Validation != nil {
		dc.HasValidation = true
		dc.ValidationOK = st.Validation.Passed
	}
	return dc
}
