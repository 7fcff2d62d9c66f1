package coordination

import (
	"context"
	"encoding/json"

	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
	"github.com/ssuyashhhh/H2K/internal/state"
)

// 协同存储层的标准错误。
var (
	// ErrExecutionNotFound 表示执行记录不存在。
	ErrExecutionNotFound = xerrors.New(xerrors.CodeNotFound, "执行记录不存在")
	// ErrExecutionConflict 表示执行 ID 已被占用。
	ErrExecutionConflict = xerrors.New(xerrors.CodeConflict, "执行 ID 已存在")
)

// 决策审计记录的类别：路由决策由编排方产生，智能体步骤由各智能体产生。
const (
	DecisionKindRouting   = "routing"
	DecisionKindAgentStep = "agent_step"
)

// DecisionEntry 是决策轨迹中的一条审计记录。
// 路由决策携带 NextAgent；智能体步骤携带该步产出的 Payload 摘要。
type DecisionEntry struct {
	Iteration int    `json:"iteration"`
	AgentName string `json:"agent_name,omitempty"`
	Kind      string `json:"kind,omitempty"`
	NextAgent string `json:"next_agent,omitempty"`
	Reasoning string `json:"reasoning"`
	Payload   string `json:"payload,omitempty"`
	DecidedAt int64  `json:"decided_at"`
}

// RiskRecord 是一条风险评估的历史记录，独立于执行快照留存。
type RiskRecord struct {
	Protocol   string             `json:"protocol"`
	RiskScore  float64            `json:"risk_score"`
	Safe       bool               `json:"safe"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	RecordedAt int64              `json:"recorded_at"`
}

// Store 抽象了组合、执行与决策轨迹的持久化接口。
// 执行快照整体读写：路由器每走一步就把最新状态写回，
// 读取方永远拿到深拷贝，不会与工作流共享可变结构。
type Store interface {
	// CreateOrGetPortfolio 依据钱包与链 ID 定位组合，不存在时创建。
	CreateOrGetPortfolio(ctx context.Context, wallet string, chainID int64) (string, error)
	// InitExecution 登记一次新的执行，ID 冲突返回 ErrExecutionConflict。
	InitExecution(ctx context.Context, st *state.ExecutionState) error
	// WriteState 覆盖写入执行的最新快照。
	WriteState(ctx context.Context, st *state.ExecutionState) error
	// GetState 读取执行快照的深拷贝。
	GetState(ctx context.Context, executionID string) (*state.ExecutionState, error)
	// ListExecutions 按更新时间倒序返回最近的执行快照。
	ListExecutions(ctx context.Context, limit int) ([]*state.ExecutionState, error)
	// AppendDecision 追加一条路由决策审计记录。
	AppendDecision(ctx context.Context, executionID string, entry DecisionEntry) error
	// Decisions 返回执行的全部决策轨迹。
	Decisions(ctx context.Context, executionID string) ([]DecisionEntry, error)
	// RecordRiskAssessment 留存一条风险评估历史。
	RecordRiskAssessment(ctx context.Context, executionID string, record RiskRecord) error
	// Close 释放底层资源。
	Close() error
}

const defaultListLimit = 50

// marshalFactors 把风险因子编码为 SQL 后端的 JSON 文本列。
func marshalFactors(factors map[string]float64) (string, error) {
	if len(factors) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(factors)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码风险因子失败")
	}
	return string(encoded), nil
}
