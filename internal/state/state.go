package state

import (
	"fmt"
	"time"

	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
)

// AgentTarget 是路由器可以派发的目标的封闭枚举。
// 除了五个业务智能体外，还包含执行动作与终止两个控制目标。
type AgentTarget string

const (
	TargetStrategy   AgentTarget = "strategy_agent"
	TargetRisk       AgentTarget = "risk_agent"
	TargetForecast   AgentTarget = "forecast_agent"
	TargetNotify     AgentTarget = "notify_agent"
	TargetValidation AgentTarget = "validation_agent"
	TargetExecute    AgentTarget = "EXECUTE_ACTION"
	TargetTerminal   AgentTarget = "END"
)

// ErrUnknownTarget 表示决策提供方返回了枚举之外的路由目标。
var ErrUnknownTarget = xerrors.New(xerrors.CodeDecisionFailure, "未知的路由目标")

// ParseAgentTarget 在边界处校验路由目标，未识别的值返回统一的决策错误。
func ParseAgentTarget(raw string) (AgentTarget, error) {
	target := AgentTarget(raw)
	switch target {
	case TargetStrategy, TargetRisk, TargetForecast, TargetNotify, TargetValidation, TargetExecute, TargetTerminal:
		return target, nil
	default:
		return TargetTerminal, xerrors.Wrap(xerrors.CodeDecisionFailure, ErrUnknownTarget, fmt.Sprintf("无法识别的路由目标: %q", raw))
	}
}

// Status 表示一次执行在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Action 表示策略提案的动作类型。
type Action string

const (
	ActionMigrate Action = "migrate"
	ActionHold    Action = "hold"
)

// SignedIntent 是某个角色对一段意图文本的签名绑定。
// 签名必须能从 IntentText 原文恢复出 SignerAddress。
type SignedIntent struct {
	Role          string `json:"role"`
	IntentText    string `json:"intent_text"`
	Signature     string `json:"signature"`
	SignerAddress string `json:"signer_address"`
}

// Proposal 是策略智能体产出的候选动作。
type Proposal struct {
	Action      Action        `json:"action"`
	Source      string        `json:"source,omitempty"`
	Destination string        `json:"destination,omitempty"`
	Asset       string        `json:"asset,omitempty"`
	Amount      float64       `json:"amount"`
	CurrentAPY  float64       `json:"current_apy"`
	NewAPY      float64       `json:"new_apy"`
	APYGain     float64       `json:"apy_gain"`
	Reasoning   string        `json:"reasoning"`
	Intent      *SignedIntent `json:"intent,omitempty"`
}

// Assessment 是风险智能体对目标协议的评估结果。
type Assessment struct {
	Protocol  string             `json:"protocol"`
	RiskScore float64            `json:"risk_score"`
	Safe      bool               `json:"safe"`
	Threshold float64            `json:"threshold"`
	Factors   map[string]float64 `json:"factors,omitempty"`
	Note      string             `json:"note,omitempty"`
	Intent    *SignedIntent      `json:"intent,omitempty"`
}

// Forecast 是市场预测智能体给出的展望。
type Forecast struct {
	Trend      string  `json:"trend"`
	Volatility string  `json:"volatility"`
	Confidence float64 `json:"confidence"`
	Outlook7d  string  `json:"outlook_7d"`
}

// Notification 是通知智能体生成的一条用户通知。
type Notification struct {
	Type    string         `json:"type"`
	Subject string         `json:"subject,omitempty"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ValidationReport 记录校验智能体的最终检查结果。
type ValidationReport struct {
	Checks map[string]bool `json:"checks"`
	Passed bool            `json:"passed"`
}

// TransactionReceipt 是交易执行协作方返回的回执信封。
// 核心不解释链上语义，只透传 status/hash/block。
type TransactionReceipt struct {
	Status   string  `json:"status"`
	Hash     string  `json:"hash,omitempty"`
	Block    uint64  `json:"block,omitempty"`
	Protocol string  `json:"protocol,omitempty"`
	TxAction string  `json:"action,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
	Token    string  `json:"token,omitempty"`
	Error    string  `json:"error,omitempty"`
	Note     string  `json:"note,omitempty"`
}

// 交易回执的状态取值。
const (
	ReceiptStatusSuccess   = "success"
	ReceiptStatusSimulated = "simulated"
	ReceiptStatusFailed    = "failed"
)

// Position 表示钱包在某个协议中的持仓。
type Position struct {
	Amount float64 `json:"amount"`
	APY    float64 `json:"apy"`
}

// ExecutionState 是贯穿整个工作流的唯一可变记录。
// 同一次执行内由路由器串行驱动，不存在并发写入。
type ExecutionState struct {
	PortfolioID   string `json:"portfolio_id"`
	ExecutionID   string `json:"execution_id"`
	UserID        string `json:"user_id,omitempty"`
	UserInput     string `json:"user_input"`
	WalletAddress string `json:"wallet_address"`
	ChainID       int64  `json:"chain_id"`

	Balances  map[string]float64  `json:"balances"`
	Positions map[string]Position `json:"positions"`

	Proposal             *Proposal            `json:"proposal,omitempty"`
	RiskAssessment       *Assessment          `json:"risk_assessment,omitempty"`
	Forecast             *Forecast            `json:"forecast,omitempty"`
	Notifications        []Notification       `json:"notifications,omitempty"`
	Validation           *ValidationReport    `json:"validation,omitempty"`
	ExecutedTransactions []TransactionReceipt `json:"executed_transactions,omitempty"`
	PendingTransactions  []TransactionReceipt `json:"pending_transactions,omitempty"`

	Status         Status      `json:"status"`
	NextAgent      AgentTarget `json:"next_agent"`
	IterationCount int         `json:"iteration_count"`
	ReasoningLog   []string    `json:"reasoning_log,omitempty"`
	Errors         []string    `json:"errors,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// New 创建一次执行的初始状态。余额与持仓由调用方注入。
func New(portfolioID, executionID, userInput, wallet string, chainID int64) *ExecutionState {
	now := time.Now().Unix()
	return &ExecutionState{
		PortfolioID:   portfolioID,
		ExecutionID:   executionID,
		UserInput:     userInput,
		WalletAddress: wallet,
		ChainID:       chainID,
		Balances:      make(map[string]float64),
		Positions:     make(map[string]Position),
		Status:        StatusPending,
		NextAgent:     TargetStrategy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Touch 在每次写入后刷新更新时间。
func (s *ExecutionState) Touch() {
	s.UpdatedAt = time.Now().Unix()
}

// AppendReasoning 追加一条推理记录。推理日志只增不减。
func (s *ExecutionState) AppendReasoning(entry string) {
	if entry == "" {
		return
	}
	s.ReasoningLog = append(s.ReasoningLog, entry)
	s.Touch()
}

// AppendError 追加一条错误记录。错误列表只增不减。
func (s *ExecutionState) AppendError(entry string) {
	if entry == "" {
		return
	}
	s.Errors = append(s.Errors, entry)
	s.Touch()
}

// RecentReasoning 返回最近的 n 条推理记录，供决策上下文使用。
func (s *ExecutionState) RecentReasoning(n int) []string {
	if n <= 0 || len(s.ReasoningLog) == 0 {
		return nil
	}
	if len(s.ReasoningLog) <= n {
		return append([]string(nil), s.ReasoningLog...)
	}
	return append([]string(nil), s.ReasoningLog[len(s.ReasoningLog)-n:]...)
}

// Clone 返回状态的深拷贝，注册表与存储读取时使用，避免共享可变结构。
func (s *ExecutionState) Clone() *ExecutionState {
	if s == nil {
		return nil
	}
	clone := *s

	clone.Balances = make(map[string]float64, len(s.Balances))
	for k, v := range s.Balances {
		clone.Balances[k] = v
	}
	clone.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		clone.Positions[k] = v
	}

	if s.Proposal != nil {
		proposal := *s.Proposal
		if s.Proposal.Intent != nil {
			intent := *s.Proposal.Intent
			proposal.Intent = &intent
		}
		clone.Proposal = &proposal
	}
	if s.RiskAssessment != nil {
		assessment := *s.RiskAssessment
		if s.RiskAssessment.Intent != nil {
			intent := *s.RiskAssessment.Intent
			assessment.Intent = &intent
		}
		assessment.Factors = make(map[string]float64, len(s.RiskAssessment.Factors))
		for k, v := range s.RiskAssessment.Factors {
			assessment.Factors[k] = v
		}
		clone.RiskAssessment = &assessment
	}
	if s.Forecast != nil {
		forecast := *s.Forecast
		clone.Forecast = &forecast
	}
	if s.Validation != nil {
		validation := *s.Validation
		validation.Checks = make(map[string]bool, len(s.Validation.Checks))
		for k, v := range s.Validation.Checks {
			validation.Checks[k] = v
		}
		clone.Validation = &validation
	}

	clone.Notifications = cloneNotifications(s.Notifications)
	clone.ExecutedTransactions = append([]TransactionReceipt(nil), s.ExecutedTransactions...)
	clone.PendingTransactions = append([]TransactionReceipt(nil), s.PendingTransactions...)
	clone.ReasoningLog = append([]string(nil), s.ReasoningLog...)
	clone.Errors = append([]string(nil), s.Errors...)
	return &clone
}

func cloneNotifications(items []Notification) []Notification {
	if items == nil {
		return nil
	}
	cloned := make([]Notification, len(items))
	for i, item := range items {
		cloned[i] = item
		if item.Payload != nil {
			payload := make(map[string]any, len(item.Payload))
			for k, v := range item.Payload {
				payload[k] = v
			}
			cloned[i].Payload = payload
		}
	}
	return cloned
}
