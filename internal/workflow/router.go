package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ssuyashhhh/H2K/internal/agents"
	"github.com/ssuyashhhh/H2K/internal/coordination"
	"github.com/ssuyashhhh/H2K/internal/decision"
	"github.com/ssuyashhhh/H2K/internal/gate"
	"github.com/ssuyashhhh/H2K/internal/observability/metrics"
	"github.com/ssuyashhhh/H2K/internal/state"
	"github.com/ssuyashhhh/H2K/pkg/logger"
)

const (
	// DefaultMaxIterations 是单次执行允许的最大路由步数。
	DefaultMaxIterations = 10
	// DefaultDecisionTimeout 是单次决策调用的超时时间。
	DefaultDecisionTimeout = 20 * time.Second
)

// Router 串行驱动一次执行：每一步先问决策方下一个目标，
// 再派发给对应的智能体或执行闸门，并把最新状态写回存储。
// 同一个执行自始至终只在一个协程里推进。
type Router struct {
	provider        decision.Provider
	gate            *gate.Gate
	store           coordination.Store
	agents          map[state.AgentTarget]agents.Agent
	maxIterations   int
	decisionTimeout time.Duration
	log             *slog.Logger
}

// RouterOption 定义可选配置。
type RouterOption func(*Router)

// WithMaxIterations 设置最大路由步数。
func WithMaxIterations(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// WithDecisionTimeout 设置决策调用超时。
func WithDecisionTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.decisionTimeout = d
		}
	}
}

// NewRouter 构造路由器。智能体按自身名称注册为路由目标。
func NewRouter(provider decision.Provider, g *gate.Gate, store coordination.Store, agentList []agents.Agent, opts ...RouterOption) *Router {
	r := &Router{
		provider:        provider,
		gate:            g,
		store:           store,
		agents:          make(map[state.AgentTarget]agents.Agent, len(agentList)),
		maxIterations:   DefaultMaxIterations,
		decisionTimeout: DefaultDecisionTimeout,
		log:             logger.Named("router"),
	}
	for _, ag := range agentList {
		if ag == nil {
			continue
		}
		r.agents[state.AgentTarget(ag.Name())] = ag
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run 将一次执行从当前状态推进到终止。
// 每走一步就持久化一次快照，中途崩溃后可以从最近快照续跑。
func (r *Router) Run(ctx context.Context, st *state.ExecutionState) error {
	st.Status = state.StatusRunning
	st.Touch()
	r.persist(ctx, st)

	for {
		done := r.Step(ctx, st)
		r.persist(ctx, st)
		if done {
			break
		}
		if ctx.Err() != nil {
			st.AppendError(ctx.Err().Error())
			st.Status = state.StatusFailed
			r.persist(ctx, st)
			return ctx.Err()
		}
	}

	if st.Status != state.StatusFailed {
		st.Status = state.StatusCompleted
	}
	st.Touch()
	r.persist(ctx, st)
	metrics.ObserveExecution(string(st.Status))

	logger.Audit().Info("执行结束",
		slog.String("execution_id", st.ExecutionID),
		slog.String("status", string(st.Status)),
		slog.Int("iterations", st.IterationCount),
		slog.Int("errors", len(st.Errors)),
	)
	return nil
}

// Step 推进一步，返回执行是否终止。
func (r *Router) Step(ctx context.Context, st *state.ExecutionState) bool {
	if st.IterationCount >= r.maxIterations {
		st.AppendReasoning(fmt.Sprintf("Maximum iterations (%d) reached. Terminating workflow.", r.maxIterations))
		st.NextAgent = state.TargetTerminal
		return true
	}

	dctx, cancel := context.WithTimeout(ctx, r.decisionTimeout)
	d, err := r.provider.Decide(dctx, decision.Snapshot(st))
	cancel()
	if err != nil {
		st.AppendError(err.Error())
		st.NextAgent = state.TargetTerminal
		st.Status = state.StatusFailed
		r.log.Error("路由决策失败", slog.String("execution_id", st.ExecutionID), slog.Any("error", err))
		return true
	}

	target, err := state.ParseAgentTarget(d.NextAgent)
	if err != nil {
		st.AppendError(err.Error())
		st.NextAgent = state.TargetTerminal
		st.Status = state.StatusFailed
		r.log.Error("决策目标无法识别",
			slog.String("execution_id", st.ExecutionID),
			slog.String("next_agent", d.NextAgent),
		)
		return true
	}

	st.NextAgent = target
	st.IterationCount++
	st.AppendReasoning(fmt.Sprintf("[orchestrator] %s", d.Reasoning))
	r.appendTrace(ctx, st, coordination.DecisionEntry{
		Iteration: st.IterationCount,
		AgentName: "orchestrator",
		Kind:      coordination.DecisionKindRouting,
		NextAgent: string(target),
		Reasoning: d.Reasoning,
	})

	switch target {
	case state.TargetTerminal:
		return true

	case state.TargetExecute:
		return r.execute(ctx, st)

	default:
		ag, ok := r.agents[target]
		if !ok {
			st.AppendError(fmt.Sprintf("no agent registered for target %s", target))
			st.NextAgent = state.TargetTerminal
			st.Status = state.StatusFailed
			return true
		}
		if agentErr := ag.Execute(ctx, st); agentErr != nil {
			// 智能体失败不立即终止，决策方依据剩余状态决定去向。
			st.AppendError(agentErr.Error())
			r.log.Warn("智能体执行失败",
				slog.String("execution_id", st.ExecutionID),
				slog.String("agent", ag.Name()),
				slog.Any("error", agentErr),
			)
		}
		r.appendTrace(ctx, st, coordination.DecisionEntry{
			Iteration: st.IterationCount,
			AgentName: ag.Name(),
			Kind:      coordination.DecisionKindAgentStep,
			Reasoning: lastReasoning(st),
			Payload:   agentPayload(target, st),
		})
		return false
	}
}

// execute 通过执行闸门派发交易。执行动作无论成败都是终局：
// 交易是不可逆的，成功后绝不回到路由循环，避免同一签名意图被重复派发。
// 闸门拒绝同样属于正常终局，不算执行失败。
func (r *Router) execute(ctx context.Context, st *state.ExecutionState) bool {
	receipt, err := r.gate.Execute(ctx, st)
	if err != nil {
		st.AppendError(err.Error())
		if receipt.Status != "" {
			st.ExecutedTransactions = append(st.ExecutedTransactions, receipt)
		}
		st.AppendReasoning(fmt.Sprintf("Execution rejected: %s", err.Error()))
		st.NextAgent = state.TargetTerminal
		return true
	}

	st.ExecutedTransactions = append(st.ExecutedTransactions, receipt)
	st.AppendReasoning(fmt.Sprintf("Executed %s of %g %s to %s (tx: %s, status: %s)",
		receipt.TxAction, receipt.Amount, receipt.Token, receipt.Protocol, receipt.Hash, receipt.Status))
	r.appendTrace(ctx, st, coordination.DecisionEntry{
		Iteration: st.IterationCount,
		AgentName: "execution_gate",
		Kind:      coordination.DecisionKindAgentStep,
		Reasoning: lastReasoning(st),
		Payload:   marshalPayload(receipt),
	})
	st.NextAgent = state.TargetTerminal
	return true
}

// appendTrace 追加一条决策审计记录，写入失败只告警不阻断执行。
func (r *Router) appendTrace(ctx context.Context, st *state.ExecutionState, entry coordination.DecisionEntry) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendDecision(ctx, st.ExecutionID, entry); err != nil {
		r.log.Warn("写入决策轨迹失败", slog.String("execution_id", st.ExecutionID), slog.Any("error", err))
	}
}

// agentPayload 摘要某个智能体步骤写入状态的产出，作为审计负载留存。
func agentPayload(target state.AgentTarget, st *state.ExecutionState) string {
	switch target {
	case state.TargetStrategy:
		if st.Proposal != nil {
			return marshalPayload(st.Proposal)
		}
	case state.TargetRisk:
		if st.RiskAssessment != nil {
			return marshalPayload(st.RiskAssessment)
		}
	case state.TargetForecast:
		if st.Forecast != nil {
			return marshalPayload(st.Forecast)
		}
	case state.TargetValidation:
		if st.Validation != nil {
			return marshalPayload(st.Validation)
		}
	case state.TargetNotify:
		if len(st.Notifications) > 0 {
			return marshalPayload(st.Notifications)
		}
	}
	return ""
}

func marshalPayload(artifact any) string {
	encoded, err := json.Marshal(artifact)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func lastReasoning(st *state.ExecutionState) string {
	if len(st.ReasoningLog) == 0 {
		return ""
	}
	return st.ReasoningLog[len(st.ReasoningLog)-1]
}

func (r *Router) persist(ctx context.Context, st *state.ExecutionState) {
	if r.store == nil {
		return
	}
	if err := r.store.WriteState(ctx, st); err != nil {
		r.log.Error("持久化执行状态失败",
			slog.String("execution_id", st.ExecutionID),
			slog.Any("error", err),
		)
	}
}
