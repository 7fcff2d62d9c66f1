package coordination

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
	"github.com/ssuyashhhh/H2K/internal/state"
)

// MySQLStore 使用 MySQL 持久化协同状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS portfolios (
        id VARCHAR(64) PRIMARY KEY,
        wallet_address VARCHAR(64) NOT NULL,
        chain_id BIGINT NOT NULL,
        created_at BIGINT NOT NULL,
        UNIQUE KEY uniq_wallet_chain (wallet_address, chain_id)
)`,
		`CREATE TABLE IF NOT EXISTS executions (
        id VARCHAR(64) PRIMARY KEY,
        portfolio_id VARCHAR(64) NOT NULL,
        status VARCHAR(32) NOT NULL,
        snapshot LONGTEXT NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_execution_portfolio (portfolio_id),
        INDEX idx_execution_updated (updated_at)
)`,
		`CREATE TABLE IF NOT EXISTS decision_log (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        execution_id VARCHAR(64) NOT NULL,
        iteration INT NOT NULL,
        agent_name VARCHAR(64) NOT NULL DEFAULT '',
        kind VARCHAR(32) NOT NULL DEFAULT '',
        next_agent VARCHAR(64) NOT NULL DEFAULT '',
        reasoning TEXT,
        payload TEXT,
        decided_at BIGINT NOT NULL,
        INDEX idx_decision_execution (execution_id)
)`,
		`CREATE TABLE IF NOT EXISTS risk_records (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        execution_id VARCHAR(64) NOT NULL,
        protocol VARCHAR(128) NOT NULL,
        risk_score DOUBLE NOT NULL,
        safe TINYINT(1) NOT NULL,
        factors TEXT,
        recorded_at BIGINT NOT NULL,
        INDEX idx_risk_execution (execution_id)
)`,
	}
	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化协同存储表失败")
		}
	}
	return nil
}

// CreateOrGetPortfolio 实现 Store 接口。
func (s *MySQLStore) CreateOrGetPortfolio(ctx context.Context, wallet string, chainID int64) (string, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))

	const selectStmt = `SELECT id FROM portfolios WHERE wallet_address = ? AND chain_id = ?`
	var id string
	err := s.db.QueryRowContext(ctx, selectStmt, wallet, chainID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !stdErrors.Is(err, sql.ErrNoRows) {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询组合失败")
	}

	id = uuid.NewString()
	const insertStmt = `INSERT INTO portfolios (id, wallet_address, chain_id, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insertStmt, id, wallet, chainID, time.Now().Unix()); err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// 并发创建时输给了另一方，读回已有记录。
			if scanErr := s.db.QueryRowContext(ctx, selectStmt, wallet, chainID).Scan(&id); scanErr == nil {
				return id, nil
			}
		}
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建组合失败")
	}
	return id, nil
}

// InitExecution 实现 Store 接口。
func (s *MySQLStore) InitExecution(ctx context.Context, st *state.ExecutionState) error {
	if st == nil || strings.TrimSpace(st.ExecutionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行状态或执行 ID 不能为空")
	}
	snapshot, err := json.Marshal(st)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码执行快照失败")
	}

	const stmt = `INSERT INTO executions (id, portfolio_id, status, snapshot, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		st.ExecutionID,
		st.PortfolioID,
		string(st.Status),
		string(snapshot),
		st.CreatedAt,
		st.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrExecutionConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "登记执行失败")
	}
	return nil
}

// WriteState 实现 Store 接口。
func (s *MySQLStore) WriteState(ctx context.Context, st *state.ExecutionState) error {
	if st == nil || strings.TrimSpace(st.ExecutionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行状态或执行 ID 不能为空")
	}
	snapshot, err := json.Marshal(st)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码执行快照失败")
	}

	const stmt = `UPDATE executions SET status = ?, snapshot = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(st.Status), string(snapshot), st.UpdatedAt, st.ExecutionID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行快照失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if exists, checkErr := s.executionExists(ctx, st.ExecutionID); checkErr != nil {
			return checkErr
		} else if !exists {
			return ErrExecutionNotFound
		}
	}
	return nil
}

// GetState 实现 Store 接口。
func (s *MySQLStore) GetState(ctx context.Context, executionID string) (*state.ExecutionState, error) {
	const stmt = `SELECT snapshot FROM executions WHERE id = ?`

	var snapshot string
	if err := s.db.QueryRowContext(ctx, stmt, executionID).Scan(&snapshot); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行快照失败")
	}

	var st state.ExecutionState
	if err := json.Unmarshal([]byte(snapshot), &st); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行快照失败")
	}
	return &st, nil
}

// ListExecutions 实现 Store 接口。
func (s *MySQLStore) ListExecutions(ctx context.Context, limit int) ([]*state.ExecutionState, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	const stmt = `SELECT snapshot FROM executions ORDER BY updated_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行列表失败")
	}
	defer rows.Close()

	items := make([]*state.ExecutionState, 0, limit)
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行记录失败")
		}
		var st state.ExecutionState
		if err := json.Unmarshal([]byte(snapshot), &st); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行快照失败")
		}
		items = append(items, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行列表失败")
	}
	return items, nil
}

// AppendDecision 实现 Store 接口。
func (s *MySQLStore) AppendDecision(ctx context.Context, executionID string, entry DecisionEntry) error {
	if exists, err := s.executionExists(ctx, executionID); err != nil {
		return err
	} else if !exists {
		return ErrExecutionNotFound
	}
	if entry.DecidedAt == 0 {
		entry.DecidedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO decision_log (execution_id, iteration, agent_name, kind, next_agent, reasoning, payload, decided_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, executionID,
		entry.Iteration, entry.AgentName, entry.Kind, entry.NextAgent, entry.Reasoning, entry.Payload, entry.DecidedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入决策记录失败")
	}
	return nil
}

// Decisions 实现 Store 接口。
func (s *MySQLStore) Decisions(ctx context.Context, executionID string) ([]DecisionEntry, error) {
	if exists, err := s.executionExists(ctx, executionID); err != nil {
		return nil, err
	} else if !exists {
		return nil, ErrExecutionNotFound
	}

	const stmt = `SELECT iteration, agent_name, kind, next_agent, reasoning, payload, decided_at FROM decision_log
        WHERE execution_id = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, stmt, executionID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询决策记录失败")
	}
	defer rows.Close()

	var entries []DecisionEntry
	for rows.Next() {
		var entry DecisionEntry
		if err := rows.Scan(&entry.Iteration, &entry.AgentName, &entry.Kind, &entry.NextAgent, &entry.Reasoning, &entry.Payload, &entry.DecidedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析决策记录失败")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历决策记录失败")
	}
	return entries, nil
}

// RecordRiskAssessment 实现 Store 接口。
func (s *MySQLStore) RecordRiskAssessment(ctx context.Context, executionID string, record RiskRecord) error {
	if exists, err := s.executionExists(ctx, executionID); err != nil {
		return err
	} else if !exists {
		return ErrExecutionNotFound
	}
	if record.RecordedAt == 0 {
		record.RecordedAt = time.Now().Unix()
	}

	factors, err := marshalFactors(record.Factors)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO risk_records (execution_id, protocol, risk_score, safe, factors, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, executionID, record.Protocol, record.RiskScore, record.Safe, factors, record.RecordedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入风险记录失败")
	}
	return nil
}

func (s *MySQLStore) executionExists(ctx context.Context, executionID string) (bool, error) {
	const stmt = `SELECT 1 FROM executions WHERE id = ?`
	var one int
	if err := s.db.QueryRowContext(ctx, stmt, executionID).Scan(&one); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录失败")
	}
	return true, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
