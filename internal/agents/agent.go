package agents

import (
	"context"

	"github.com/ssuyashhhh/H2K/internal/state"
)

// Agent 是业务智能体的统一接口。
// 每个智能体在共享状态上完成自己的职责并留下推理记录，
// 路由去向由路由器决定，智能体自身不改写 NextAgent。
type Agent interface {
	Name() string
	Execute(ctx context.Context, st *state.ExecutionState) error
}
