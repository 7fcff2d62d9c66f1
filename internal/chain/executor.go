package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ssuyashhhh/H2K/internal/state"
)

// TradeRequest 描述一次待执行的链上动作。
type TradeRequest struct {
	Protocol string
	Action   string
	Amount   float64
	Token    string
}

// Executor 是交易执行协作方的统一边界。
// 核心只消费回执信封，不解释链上语义。
type Executor interface {
	Execute(ctx context.Context, req TradeRequest) (state.TransactionReceipt, error)
}

// Handler 处理某一个协议的交易。新增协议即注册新的 Handler，
// 而不是在执行器里增加分支。
type Handler interface {
	Execute(ctx context.Context, req TradeRequest) (state.TransactionReceipt, error)
}

// HandlerFunc 允许用函数直接充当 Handler。
type HandlerFunc func(ctx context.Context, req TradeRequest) (state.TransactionReceipt, error)

// Execute 实现 Handler 接口。
func (f HandlerFunc) Execute(ctx context.Context, req TradeRequest) (state.TransactionReceipt, error) {
	return f(ctx, req)
}

// Registry 按协议名派发交易，未注册的协议落到兜底 Handler。
type Registry struct {
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry 构造交易派发表。
func NewRegistry(fallback Handler) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		fallback: fallback,
	}
}

// Register 注册协议对应的 Handler。协议名不区分大小写。
func (r *Registry) Register(protocol string, handler Handler) {
	if handler == nil {
		return
	}
	r.handlers[strings.ToLower(strings.TrimSpace(protocol))] = handler
}

// Execute 实现 Executor 接口。
func (r *Registry) Execute(ctx context.Context, req TradeRequest) (state.TransactionReceipt, error) {
	if handler, ok := r.handlers[strings.ToLower(strings.TrimSpace(req.Protocol))]; ok {
		return handler.Execute(ctx, req)
	}
	if r.fallback != nil {
		return r.fallback.Execute(ctx, req)
	}
	receipt := state.TransactionReceipt{
		Status:   state.ReceiptStatusFailed,
		Protocol: req.Protocol,
		TxAction: req.Action,
		Amount:   req.Amount,
		Token:    req.Token,
		Error:    fmt.Sprintf("no handler registered for protocol %s", req.Protocol),
	}
	return receipt, fmt.Errorf("协议 %s 没有注册交易处理器", req.Protocol)
}

// SimulatedExecutor 在没有配置执行密钥时模拟交易，回执可复现。
type SimulatedExecutor struct{}

// Execute 返回一条 simulated 状态的回执。
func (SimulatedExecutor) Execute(_ context.Context, req TradeRequest) (state.TransactionReceipt, error) {
	return state.TransactionReceipt{
		Status:   state.ReceiptStatusSimulated,
		Hash:     fmt.Sprintf("simulated_%s_%s_%g_%s", strings.ToLower(req.Protocol), req.Action, req.Amount, req.Token),
		Block:    999999,
		Protocol: req.Protocol,
		TxAction: req.Action,
		Amount:   req.Amount,
		Token:    req.Token,
		Note:     "Transaction simulated - no execution key configured",
	}, nil
}
