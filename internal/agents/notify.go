package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/ssuyashhhh/H2K/internal/notify"
	"github.com/ssuyashhhh/H2K/internal/state"
	"github.com/ssuyashhhh/H2K/pkg/logger"
)

// NotifyAgent 生成并派发面向用户的执行结果通知。
type NotifyAgent struct {
	dispatcher notify.Dispatcher
}

// NewNotifyAgent 构造通知智能体。dispatcher 为 nil 时只记录到状态。
func NewNotifyAgent(dispatcher notify.Dispatcher) *NotifyAgent {
	return &NotifyAgent{dispatcher: dispatcher}
}

// Name 实现 Agent 接口。
func (*NotifyAgent) Name() string { return string(state.TargetNotify) }

// Execute 实现 Agent 接口。
func (a *NotifyAgent) Execute(ctx context.Context, st *state.ExecutionState) error {
	var notifications []state.Notification

	if st.Proposal != nil && st.Proposal.Action == state.ActionMigrate {
		notifications = append(notifications, state.Notification{
			Type:    "email",
			Subject: fmt.Sprintf("Portfolio Update: Moving to %s", st.Proposal.Destination),
			Message: fmt.Sprintf("Your %s will earn %.2f%% APY", st.Proposal.Asset, st.Proposal.NewAPY*100),
		})
	}

	notifications = append(notifications, state.Notification{
		Type: "dashboard_update",
		Payload: map[string]any{
			"balances":  st.Balances,
			"positions": st.Positions,
		},
	})

	if a.dispatcher != nil {
		for _, n := range notifications {
			if n.Subject == "" && n.Message == "" {
				continue
			}
			event := notify.Event{
				ExecutionID: st.ExecutionID,
				PortfolioID: st.PortfolioID,
				Subject:     n.Subject,
				Message:     n.Message,
				OccurredAt:  time.Now(),
			}
			if err := a.dispatcher.Notify(ctx, event); err != nil {
				logger.L().Warn("派发用户通知失败", "execution_id", st.ExecutionID, "error", err)
			}
		}
	}

	st.Notifications = append(st.Notifications, notifications...)
	st.AppendReasoning(fmt.Sprintf("Sent %d notifications", len(notifications)))
	return nil
}
