package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"upagent/internal/decision"
)

// 中文说明：
// 决策审计日志：每条模型决策（无论是否通过风控）都落一行。
// "近期决策"查询只看当日，时间倒序，供下一轮提示词引用。

// Store 管理决策日志的 SQLite 存储。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string

	nowFn func() time.Time
}

// New 初始化 SQLite 存储（WAL，单连接）。
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, nowFn: time.Now}, nil
}

// Close 关闭底层 DB。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT,
			instrument_key TEXT NOT NULL,
			trading_symbol TEXT,
			action TEXT NOT NULL,
			confidence REAL,
			quantity INTEGER,
			current_price REAL,
			stop_loss REAL,
			take_profit REAL,
			reasoning TEXT,
			approved INTEGER NOT NULL,
			reject_reason TEXT,
			raw_output TEXT,
			decided_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_instrument ON decisions(instrument_key, decided_at);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(decided_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveDecision 落一条决策记录，返回行 id 供后续回写风控结论。
func (s *Store) SaveDecision(ctx context.Context, rec decision.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("decision log store 已关闭")
	}
	decidedAt := rec.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = s.nowFn()
	}
	approved := 0
	if rec.Approved {
		approved = 1
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO decisions
		(trace_id, instrument_key, trading_symbol, action, confidence, quantity,
		 current_price, stop_loss, take_profit, reasoning, approved, reject_reason, raw_output, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.InstrumentKey, rec.TradingSymbol, rec.Action, rec.Confidence, rec.Quantity,
		rec.CurrentPrice, rec.StopLoss, rec.TakeProfit, rec.Reasoning, approved, rec.RejectReason,
		rec.RawOutput, decidedAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetDecisionOutcome 回写风控结论。记录先于风控落库，结论事后补上。
func (s *Store) SetDecisionOutcome(ctx context.Context, id int64, approved bool, rejectReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("decision log store 已关闭")
	}
	if id <= 0 {
		return fmt.Errorf("非法决策记录 id: %d", id)
	}
	flag := 0
	if approved {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET approved = ?, reject_reason = ? WHERE id = ?`,
		flag, rejectReason, id)
	return err
}

// GetRecentDecisions 返回指定标的当日最近 limit 条决策，时间倒序。
func (s *Store) GetRecentDecisions(ctx context.Context, instrumentKey string, limit int) ([]decision.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision log store 已关闭")
	}
	if limit <= 0 {
		return nil, nil
	}
	now := s.nowFn()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	rows, err := s.db.QueryContext(ctx, `SELECT trace_id, instrument_key, trading_symbol, action,
		confidence, quantity, current_price, stop_loss, take_profit, reasoning, approved, reject_reason, raw_output, decided_at
		FROM decisions
		WHERE instrument_key = ? AND decided_at >= ?
		ORDER BY decided_at DESC LIMIT ?`,
		instrumentKey, dayStart.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListToday 返回当日全部决策（时间倒序），limit<=0 表示不限。
func (s *Store) ListToday(ctx context.Context, limit int) ([]decision.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision log store 已关闭")
	}
	now := s.nowFn()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	query := `SELECT trace_id, instrument_key, trading_symbol, action,
		confidence, quantity, current_price, stop_loss, take_profit, reasoning, approved, reject_reason, raw_output, decided_at
		FROM decisions WHERE decided_at >= ? ORDER BY decided_at DESC`
	args := []interface{}{dayStart.UnixMilli()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]decision.Record, error) {
	var out []decision.Record
	for rows.Next() {
		var rec decision.Record
		var approved int
		var decidedAt int64
		if err := rows.Scan(&rec.TraceID, &rec.InstrumentKey, &rec.TradingSymbol, &rec.Action,
			&rec.Confidence, &rec.Quantity, &rec.CurrentPrice, &rec.StopLoss, &rec.TakeProfit,
			&rec.Reasoning, &approved, &rec.RejectReason, &rec.RawOutput, &decidedAt); err != nil {
			return nil, err
		}
		rec.Approved = approved == 1
		rec.DecidedAt = time.UnixMilli(decidedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
