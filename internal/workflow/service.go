package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssuyashhhh/H2K/internal/coordination"
	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
	"github.com/ssuyashhhh/H2K/internal/state"
	"github.com/ssuyashhhh/H2K/pkg/logger"
)

// 演示用的初始组合：一万 USDC 存在 Aave 吃 5% 年化，外加两个 ETH。
var demoPortfolio = struct {
	balances  map[string]float64
	positions map[string]state.Position
}{
	balances: map[string]float64{"USDC": 10000, "ETH": 2},
	positions: map[string]state.Position{
		"Aave": {Amount: 10000, APY: 0.05},
	},
}

// Service 负责执行的创建与查询。
type Service struct {
	store    coordination.Store
	producer Producer
	wallet   string
	chainID  int64
}

// NewService 构造执行服务。wallet 与 chainID 描述被管理的钱包。
func NewService(store coordination.Store, producer Producer, wallet string, chainID int64) *Service {
	return &Service{store: store, producer: producer, wallet: wallet, chainID: chainID}
}

// SubmitRequest 描述一次执行提交。
// 钱包地址缺省时使用服务配置的托管钱包；用户 ID 仅作归属记录。
type SubmitRequest struct {
	Message       string
	WalletAddress string
	UserID        string
}

// Submit 创建一次新的执行并推送到队列。
// 余额与持仓使用演示组合初始化，接入真实链上查询前保持确定性输入。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*state.ExecutionState, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户请求不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "执行服务未初始化")
	}

	wallet := strings.TrimSpace(req.WalletAddress)
	if wallet == "" {
		wallet = s.wallet
	}

	portfolioID, err := s.store.CreateOrGetPortfolio(ctx, wallet, s.chainID)
	if err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	st := state.New(portfolioID, executionID, req.Message, wallet, s.chainID)
	st.UserID = strings.TrimSpace(req.UserID)
	for asset, amount := range demoPortfolio.balances {
		st.Balances[asset] = amount
	}
	for protocol, position := range demoPortfolio.positions {
		st.Positions[protocol] = position
	}

	if err := s.store.InitExecution(ctx, st); err != nil {
		return nil, err
	}
	if err := s.producer.Publish(ctx, executionID); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeQueueFailure, err, "发布执行任务到队列失败")
		st.Status = state.StatusFailed
		st.AppendError(wrapped.Error())
		if storeErr := s.store.WriteState(ctx, st); storeErr != nil {
			logger.L().Error("回写入队失败状态出错",
				slog.Any("error", storeErr),
				slog.String("execution_id", executionID),
			)
		}
		return nil, wrapped
	}

	logger.Audit().Info("执行入队成功",
		slog.String("execution_id", executionID),
		slog.String("portfolio_id", portfolioID),
		slog.String("user_input", req.Message),
	)
	return st, nil
}

// Get 返回指定执行的快照。
func (s *Service) Get(ctx context.Context, id string) (*state.ExecutionState, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "协同存储未初始化")
	}
	return s.store.GetState(ctx, id)
}

// List 返回最近的执行快照。
func (s *Service) List(ctx context.Context, limit int) ([]*state.ExecutionState, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "协同存储未初始化")
	}
	return s.store.ListExecutions(ctx, limit)
}

// Decisions 返回指定执行的路由决策轨迹。
func (s *Service) Decisions(ctx context.Context, id string) ([]coordination.DecisionEntry, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "协同存储未初始化")
	}
	return s.store.Decisions(ctx, id)
}

// WaitUntilCompleted 在指定超时时间内轮询执行状态，测试与 CLI 调用使用。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*state.ExecutionState, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status == state.StatusCompleted || st.Status == state.StatusFailed {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return stdErrors.Join(errs...)
}
