package agents

import (
	"context"
	"fmt"

	"github.com/ssuyashhhh/H2K/internal/signer"
	"github.com/ssuyashhhh/H2K/internal/state"
)

// ForecastAgent 给出市场展望。
// 目前是基于历史均值的保守固定预测，留待接入时序模型。
type ForecastAgent struct{}

// NewForecastAgent 构造预测智能体。
func NewForecastAgent() *ForecastAgent {
	return &ForecastAgent{}
}

// Name 实现 Agent 接口。
func (*ForecastAgent) Name() string { return signer.RoleForecast }

// Execute 实现 Agent 接口。
func (*ForecastAgent) Execute(_ context.Context, st *state.ExecutionState) error {
	forecast := &state.Forecast{
		Trend:      "stable",
		Volatility: "low",
		Confidence: 0.85,
		Outlook7d:  "APY expected to remain within 0.5% of current",
	}
	st.Forecast = forecast
	st.AppendReasoning(fmt.Sprintf("Market outlook: %s, volatility %s", forecast.Trend, forecast.Volatility))
	return nil
}
