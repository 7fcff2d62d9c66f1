package coordination

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
	"github.com/ssuyashhhh/H2K/internal/state"
)

// MemoryStore 将协同状态保存在进程内存中，适用于开发与测试。
type MemoryStore struct {
	mu         sync.RWMutex
	portfolios map[string]string
	executions map[string]*state.ExecutionState
	decisions  map[string][]DecisionEntry
	risks      map[string][]RiskRecord
}

// NewMemoryStore 创建一个内存存储实例。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[string]string),
		executions: make(map[string]*state.ExecutionState),
		decisions:  make(map[string][]DecisionEntry),
		risks:      make(map[string][]RiskRecord),
	}
}

func portfolioKey(wallet string, chainID int64) string {
	return fmt.Sprintf("%s@%d", strings.ToLower(strings.TrimSpace(wallet)), chainID)
}

// CreateOrGetPortfolio 实现 Store 接口。
func (s *MemoryStore) CreateOrGetPortfolio(_ context.Context, wallet string, chainID int64) (string, error) {
	key := portfolioKey(wallet, chainID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.portfolios[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.portfolios[key] = id
	return id, nil
}

// InitExecution 实现 Store 接口。
func (s *MemoryStore) InitExecution(_ context.Context, st *state.ExecutionState) error {
	if st == nil || strings.TrimSpace(st.ExecutionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行状态或执行 ID 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[st.ExecutionID]; ok {
		return ErrExecutionConflict
	}
	s.executions[st.ExecutionID] = st.Clone()
	return nil
}

// WriteState 实现 Store 接口。
func (s *MemoryStore) WriteState(_ context.Context, st *state.ExecutionState) error {
	if st == nil || strings.TrimSpace(st.ExecutionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行状态或执行 ID 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[st.ExecutionID]; !ok {
		return ErrExecutionNotFound
	}
	s.executions[st.ExecutionID] = st.Clone()
	return nil
}

// GetState 实现 Store 接口。
func (s *MemoryStore) GetState(_ context.Context, executionID string) (*state.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.executions[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return st.Clone(), nil
}

// ListExecutions 实现 Store 接口。
func (s *MemoryStore) ListExecutions(_ context.Context, limit int) ([]*state.ExecutionState, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]*state.ExecutionState, 0, len(s.executions))
	for _, st := range s.executions {
		items = append(items, st.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt != items[j].UpdatedAt {
			return items[i].UpdatedAt > items[j].UpdatedAt
		}
		return items[i].ExecutionID > items[j].ExecutionID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// AppendDecision 实现 Store 接口。
func (s *MemoryStore) AppendDecision(_ context.Context, executionID string, entry DecisionEntry) error {
	if entry.DecidedAt == 0 {
		entry.DecidedAt = time.Now().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[executionID]; !ok {
		return ErrExecutionNotFound
	}
	s.decisions[executionID] = append(s.decisions[executionID], entry)
	return nil
}

// Decisions 实现 Store 接口。
func (s *MemoryStore) Decisions(_ context.Context, executionID string) ([]DecisionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.executions[executionID]; !ok {
		return nil, ErrExecutionNotFound
	}
	return append([]DecisionEntry(nil), s.decisions[executionID]...), nil
}

// RecordRiskAssessment 实现 Store 接口。
func (s *MemoryStore) RecordRiskAssessment(_ context.Context, executionID string, record RiskRecord) error {
	if record.RecordedAt == 0 {
		record.RecordedAt = time.Now().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[executionID]; !ok {
		return ErrExecutionNotFound
	}
	s.risks[executionID] = append(s.risks[executionID], record)
	return nil
}

// Close 实现 Store 接口。内存存储无需释放资源。
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
