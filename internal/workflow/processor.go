package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"github.com/ssuyashhhh/H2K/internal/coordination"
	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
	"github.com/ssuyashhhh/H2K/internal/state"
	"github.com/ssuyashhhh/H2K/pkg/logger"
)

// Processor 从队列消费执行 ID 并交给路由器推进。
type Processor struct {
	router      *Router
	store       coordination.Store
	consumer    Consumer
	workerCount int
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(router *Router, store coordination.Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		router:      router,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动执行处理循环，阻塞直到上下文取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置执行消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, executionID string) error {
	if p.store == nil || p.router == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}

	st, err := p.store.GetState(ctx, executionID)
	if err != nil {
		if stdErrors.Is(err, coordination.ErrExecutionNotFound) {
			logger.L().Warn("跳过未知执行", slog.String("execution_id", executionID))
			return nil
		}
		logger.L().Error("读取执行快照失败", slog.Any("error", err), slog.String("execution_id", executionID))
		return err
	}
	if st.Status == state.StatusCompleted || st.Status == state.StatusFailed {
		logger.L().Debug("执行已终止，跳过",
			slog.String("execution_id", executionID),
			slog.String("status", string(st.Status)),
		)
		return nil
	}

	return p.router.Run(ctx, st)
}
