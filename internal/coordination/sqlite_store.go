package coordination

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
	"github.com/ssuyashhhh/H2K/internal/state"
)

// SQLiteStore 用单文件 SQLite 持久化协同状态，适合单机部署。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开（必要时创建）SQLite 数据库文件并初始化表结构。
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "SQLite 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 SQLite 失败")
	}
	// modernc 驱动不支持并发写，限制单连接避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS portfolios (
        id TEXT PRIMARY KEY,
        wallet_address TEXT NOT NULL,
        chain_id INTEGER NOT NULL,
        created_at INTEGER NOT NULL,
        UNIQUE (wallet_address, chain_id)
)`,
		`CREATE TABLE IF NOT EXISTS executions (
        id TEXT PRIMARY KEY,
        portfolio_id TEXT NOT NULL,
        status TEXT NOT NULL,
        snapshot TEXT NOT NULL,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_updated ON executions (updated_at)`,
		`CREATE TABLE IF NOT EXISTS decision_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        execution_id TEXT NOT NULL,
        iteration INTEGER NOT NULL,
        agent_name TEXT NOT NULL DEFAULT '',
        kind TEXT NOT NULL DEFAULT '',
        next_agent TEXT NOT NULL DEFAULT '',
        reasoning TEXT,
        payload TEXT NOT NULL DEFAULT '',
        decided_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_execution ON decision_log (execution_id)`,
		`CREATE TABLE IF NOT EXISTS risk_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        execution_id TEXT NOT NULL,
        protocol TEXT NOT NULL,
        risk_score REAL NOT NULL,
        safe INTEGER NOT NULL,
        factors TEXT NOT NULL DEFAULT '',
        recorded_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_execution ON risk_records (execution_id)`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 SQLite 表失败")
		}
	}
	return &SQLiteStore{db: db}, nil
}

// CreateOrGetPortfolio 实现 Store 接口。
func (s *SQLiteStore) CreateOrGetPortfolio(ctx context.Context, wallet string, chainID int64) (string, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))

	id := uuid.NewString()
	const insertStmt = `INSERT OR IGNORE INTO portfolios (id, wallet_address, chain_id, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insertStmt, id, wallet, chainID, time.Now().Unix()); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建组合失败")
	}

	const selectStmt = `SELECT id FROM portfolios WHERE wallet_address = ? AND chain_id = ?`
	if err := s.db.QueryRowContext(ctx, selectStmt, wallet, chainID).Scan(&id); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询组合失败")
	}
	return id, nil
}

// InitExecution 实现 Store 接口。
func (s *SQLiteStore) InitExecution(ctx context.Context, st *state.ExecutionState) error {
	if st == nil || strings.TrimSpace(st.ExecutionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行状态或执行 ID 不能为空")
	}
	snapshot, err := json.Marshal(st)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码执行快照失败")
	}

	const stmt = `INSERT INTO executions (id, portfolio_id, status, snapshot, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		st.ExecutionID,
		st.PortfolioID,
		string(st.Status),
		string(snapshot),
		st.CreatedAt,
		st.UpdatedAt,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrExecutionConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "登记执行失败")
	}
	return nil
}

// WriteState 实现 Store 接口。
func (s *SQLiteStore) WriteState(ctx context.Context, st *state.ExecutionState) error {
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
func (s *SQLiteStore) GetState(ctx context.Context, executionID string) (*state.ExecutionState, error) {
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
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit int) ([]*state.ExecutionState, error) {
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
func (s *SQLiteStore) AppendDecision(ctx context.Context, executionID string, entry DecisionEntry) error {
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
func (s *SQLiteStore) Decisions(ctx context.Context, executionID string) ([]DecisionEntry, error) {
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
func (s *SQLiteStore) RecordRiskAssessment(ctx context.Context, executionID string, record RiskRecord) error {
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

func (s *SQLiteStore) executionExists(ctx context.Context, executionID string) (bool, error) {
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
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
