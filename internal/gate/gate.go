package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/ssuyashhhh/H2K/internal/chain"
	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
	"github.com/ssuyashhhh/H2K/internal/signer"
	"github.com/ssuyashhhh/H2K/internal/state"
	"github.com/ssuyashhhh/H2K/pkg/logger"
)

// DefaultQuorumRoles 是默认的法定签名角色集合。
// 策略与风险两方必须同时在场并验签通过，交易才允许派发。
func DefaultQuorumRoles() []string {
	return []string{signer.RoleStrategy, signer.RoleRisk}
}

// Gate 是交易执行前的最后一道闸门。
// 它对共享状态上的签名意图做全员验签，任何一个法定角色缺席
// 或验签失败都会拒绝执行，这条路径上没有旁路。
type Gate struct {
	signer   *signer.Signer
	executor chain.Executor
	roles    []string
}

// New 构造执行闸门。roles 为空时使用默认法定角色集合。
func New(sig *signer.Signer, executor chain.Executor, roles []string) *Gate {
	if len(roles) == 0 {
		roles = DefaultQuorumRoles()
	}
	return &Gate{signer: sig, executor: executor, roles: roles}
}

// Roles 返回当前法定角色集合。
func (g *Gate) Roles() []string {
	return append([]string(nil), g.roles...)
}

// Execute 校验法定签名后派发交易。
// 验签失败时返回 INSUFFICIENT_SIGNATURES 错误并点名缺失或无效的角色；
// 验签通过后把提案转成交易请求交给执行方，回执原样透传给调用方。
func (g *Gate) Execute(ctx context.Context, st *state.ExecutionState) (state.TransactionReceipt, error) {
	if st == nil || st.Proposal == nil {
		return state.TransactionReceipt{}, xerrors.New(xerrors.CodeInvalidArgument, "没有可执行的提案")
	}

	intents := collectIntents(st)

	var missing, invalid []string
	for _, role := range g.roles {
		intent, ok := intents[role]
		if !ok || intent == nil {
			missing = append(missing, role)
			continue
		}
		if !g.signer.Verify(intent) {
			invalid = append(invalid, role)
		}
	}
	if len(missing) > 0 || len(invalid) > 0 {
		err := xerrors.New(
			xerrors.CodeInsufficientSignatures,
			quorumFailureMessage(missing, invalid),
			xerrors.WithMetadata("missing_roles", strings.Join(missing, ",")),
			xerrors.WithMetadata("invalid_roles", strings.Join(invalid, ",")),
		)
		logger.Audit().Warn("执行闸门拒绝交易",
			"execution_id", st.ExecutionID,
			"missing_roles", missing,
			"invalid_roles", invalid,
		)
		return state.TransactionReceipt{}, err
	}

	logger.Audit().Info("法定签名验签通过",
		"execution_id", st.ExecutionID,
		"roles", g.roles,
		"destination", st.Proposal.Destination,
		"amount", st.Proposal.Amount,
	)

	req := chain.TradeRequest{
		Protocol: st.Proposal.Destination,
		Action:   string(st.Proposal.Action),
		Amount:   st.Proposal.Amount,
		Token:    st.Proposal.Asset,
	}
	receipt, err := g.executor.Execute(ctx, req)
	if err != nil {
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(xerrors.CodeTransactionFailure, err, "交易执行失败")
		}
		return receipt, err
	}
	return receipt, nil
}

// collectIntents 从共享状态中收集各角色已附加的签名意图。
func collectIntents(st *state.ExecutionState) map[string]*state.SignedIntent {
	intents := make(map[string]*state.SignedIntent)
	if st.Proposal != nil && st.Proposal.Intent != nil {
		intents[st.Proposal.Intent.Role] = st.Proposal.Intent
	}
	if st.RiskAssessment != nil && st.RiskAssessment.Intent != nil {
		intents[st.RiskAssessment.Intent.Role] = st.RiskAssessment.Intent
	}
	return intents
}

func quorumFailureMessage(missing, invalid []string) string {
	parts := make([]string, 0, 2)
	if len(missing) > 0 {
		parts = append(parts, fmt.Sprintf("缺少角色签名: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		parts = append(parts, fmt.Sprintf("角色签名无效: %s", strings.Join(invalid, ", ")))
	}
	return strings.Join(parts, "; ")
}
