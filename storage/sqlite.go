package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"perpguard/utils"
)

// SQLiteStorage SQLite 审计存储
// 数值字段以 TEXT 保存，避免浮点误差
type SQLiteStorage struct {
	db     *sql.DB
	closed bool
}

// NewSQLiteStorage 创建 SQLite 存储
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	// 使用 WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// SQLite 并发限制
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// createTables 创建表
func createTables(db *sql.DB) error {
	ordersSQL := `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		symbol TEXT,
		client_order_id TEXT,
		order_id TEXT,
		side TEXT,
		intent TEXT,
		quantity TEXT,
		executed_qty TEXT,
		avg_price TEXT,
		reduce_only BOOLEAN,
		status TEXT,
		dry_run BOOLEAN,
		error TEXT,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);`

	closeAttemptsSQL := `
	CREATE TABLE IF NOT EXISTS close_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		symbol TEXT,
		reason TEXT,
		attempt_index INTEGER,
		slice_qty TEXT,
		remaining TEXT,
		in_band TEXT,
		client_order_id TEXT,
		error TEXT,
		elapsed_ms INTEGER,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_close_attempts_symbol ON close_attempts(symbol, created_at);`

	closeSequencesSQL := `
	CREATE TABLE IF NOT EXISTS close_sequences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		symbol TEXT,
		reason TEXT,
		outcome TEXT,
		attempts INTEGER,
		initial_qty TEXT,
		remaining TEXT,
		duration_ms INTEGER,
		dry_run BOOLEAN,
		created_at TIMESTAMP
	);`

	reconciliationSQL := `
	CREATE TABLE IF NOT EXISTS reconciliation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		symbol TEXT,
		status TEXT,
		policy TEXT,
		action TEXT,
		local_side TEXT,
		local_qty TEXT,
		remote_side TEXT,
		remote_qty TEXT,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_reconciliation_symbol ON reconciliation_history(symbol, created_at);`

	riskDecisionsSQL := `
	CREATE TABLE IF NOT EXISTS risk_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		symbol TEXT,
		kind TEXT,
		allowed BOOLEAN,
		code TEXT,
		detail TEXT,
		side TEXT,
		notional TEXT,
		quantity TEXT,
		reference_price TEXT,
		derived_min_notional TEXT,
		pnl_pct TEXT,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_risk_decisions_created_at ON risk_decisions(created_at);`

	cyclesSQL := `
	CREATE TABLE IF NOT EXISTS cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		symbol TEXT,
		candle_open_time INTEGER,
		result TEXT,
		detail TEXT,
		duration_ms INTEGER,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_created_at ON cycles(created_at);`

	logsSQL := `
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);`

	for _, stmt := range []string{ordersSQL, closeAttemptsSQL, closeSequencesSQL, reconciliationSQL, riskDecisionsSQL, cyclesSQL, logsSQL} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB 底层连接，供日志存储共用
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// SaveOrder 保存订单
func (s *SQLiteStorage) SaveOrder(o *OrderRecord) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = utils.NowUTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO orders (run_id, symbol, client_order_id, order_id, side, intent, quantity, executed_qty,
			avg_price, reduce_only, status, dry_run, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Symbol, o.ClientOrderID, o.OrderID, o.Side, o.Intent, o.Quantity, o.ExecutedQty,
		o.AvgPrice, o.ReduceOnly, o.Status, o.DryRun, o.Error, o.CreatedAt)
	if err != nil {
		return err
	}
	o.ID, _ = res.LastInsertId()
	return nil
}

// SaveCloseAttempt 保存平仓尝试
func (s *SQLiteStorage) SaveCloseAttempt(a *CloseAttemptRecord) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.NowUTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO close_attempts (run_id, symbol, reason, attempt_index, slice_qty, remaining, in_band,
			client_order_id, error, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Symbol, a.Reason, a.AttemptIndex, a.SliceQty, a.Remaining, a.InBand,
		a.ClientOrderID, a.Error, a.ElapsedMs, a.CreatedAt)
	if err != nil {
		return err
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// SaveCloseSequence 保存平仓序列结果
func (s *SQLiteStorage) SaveCloseSequence(c *CloseSequenceRecord) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.NowUTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO close_sequences (run_id, symbol, reason, outcome, attempts, initial_qty, remaining,
			duration_ms, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Symbol, c.Reason, c.Outcome, c.Attempts, c.InitialQty, c.Remaining,
		c.DurationMs, c.DryRun, c.CreatedAt)
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// SaveReconciliationHistory 保存对账记录
func (s *SQLiteStorage) SaveReconciliationHistory(h *ReconciliationHistory) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = utils.NowUTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO reconciliation_history (run_id, symbol, status, policy, action, local_side, local_qty,
			remote_side, remote_qty, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.RunID, h.Symbol, h.Status, h.Policy, h.Action, h.LocalSide, h.LocalQty,
		h.RemoteSide, h.RemoteQty, h.CreatedAt)
	if err != nil {
		return err
	}
	h.ID, _ = res.LastInsertId()
	return nil
}

// SaveRiskDecision 保存风控决策
func (s *SQLiteStorage) SaveRiskDecision(r *RiskDecisionRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = utils.NowUTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO risk_decisions (run_id, symbol, kind, allowed, code, detail, side, notional, quantity,
			reference_price, derived_min_notional, pnl_pct, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Symbol, r.Kind, r.Allowed, r.Code, r.Detail, r.Side, r.Notional, r.Quantity,
		r.ReferencePrice, r.DerivedMinNotional, r.PnLPct, r.CreatedAt)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// SaveCycle 保存调度周期
func (s *SQLiteStorage) SaveCycle(c *CycleRecord) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.NowUTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO cycles (run_id, symbol, candle_open_time, result, detail, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Symbol, c.CandleOpenTime, c.Result, c.Detail, c.DurationMs, c.CreatedAt)
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// QueryOrders 查询最近的订单
func (s *SQLiteStorage) QueryOrders(limit int) ([]*OrderRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, symbol, client_order_id, order_id, side, intent, quantity, executed_qty,
			avg_price, reduce_only, status, dry_run, error, created_at
		FROM orders ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	defer rows.Close()

	var out []*OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.ID, &o.RunID, &o.Symbol, &o.ClientOrderID, &o.OrderID, &o.Side, &o.Intent,
			&o.Quantity, &o.ExecutedQty, &o.AvgPrice, &o.ReduceOnly, &o.Status, &o.DryRun, &o.Error, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析订单失败: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// QueryCloseAttempts 查询某个交易对最近的平仓尝试
func (s *SQLiteStorage) QueryCloseAttempts(symbol string, limit int) ([]*CloseAttemptRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, symbol, reason, attempt_index, slice_qty, remaining, in_band,
			client_order_id, error, elapsed_ms, created_at
		FROM close_attempts WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询平仓尝试失败: %w", err)
	}
	defer rows.Close()

	var out []*CloseAttemptRecord
	for rows.Next() {
		var a CloseAttemptRecord
		if err := rows.Scan(&a.ID, &a.RunID, &a.Symbol, &a.Reason, &a.AttemptIndex, &a.SliceQty, &a.Remaining,
			&a.InBand, &a.ClientOrderID, &a.Error, &a.ElapsedMs, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析平仓尝试失败: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// QueryCloseSequences 查询最近的平仓序列
func (s *SQLiteStorage) QueryCloseSequences(limit int) ([]*CloseSequenceRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, symbol, reason, outcome, attempts, initial_qty, remaining, duration_ms, dry_run, created_at
		FROM close_sequences ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询平仓序列失败: %w", err)
	}
	defer rows.Close()

	var out []*CloseSequenceRecord
	for rows.Next() {
		var c CloseSequenceRecord
		if err := rows.Scan(&c.ID, &c.RunID, &c.Symbol, &c.Reason, &c.Outcome, &c.Attempts, &c.InitialQty,
			&c.Remaining, &c.DurationMs, &c.DryRun, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析平仓序列失败: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// QueryReconciliationHistory 查询对账历史
func (s *SQLiteStorage) QueryReconciliationHistory(symbol string, limit int) ([]*ReconciliationHistory, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, symbol, status, policy, action, local_side, local_qty, remote_side, remote_qty, created_at
		FROM reconciliation_history WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询对账历史失败: %w", err)
	}
	defer rows.Close()

	var out []*ReconciliationHistory
	for rows.Next() {
		var h ReconciliationHistory
		if err := rows.Scan(&h.ID, &h.RunID, &h.Symbol, &h.Status, &h.Policy, &h.Action, &h.LocalSide,
			&h.LocalQty, &h.RemoteSide, &h.RemoteQty, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析对账历史失败: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// QueryRiskDecisions 查询最近的风控决策
func (s *SQLiteStorage) QueryRiskDecisions(limit int) ([]*RiskDecisionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, symbol, kind, allowed, code, detail, side, notional, quantity,
			reference_price, derived_min_notional, pnl_pct, created_at
		FROM risk_decisions ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询风控决策失败: %w", err)
	}
	defer rows.Close()

	var out []*RiskDecisionRecord
	for rows.Next() {
		var r RiskDecisionRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.Symbol, &r.Kind, &r.Allowed, &r.Code, &r.Detail, &r.Side,
			&r.Notional, &r.Quantity, &r.ReferencePrice, &r.DerivedMinNotional, &r.PnLPct, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析风控决策失败: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// QueryCycles 查询最近的调度周期
func (s *SQLiteStorage) QueryCycles(limit int) ([]*CycleRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, symbol, candle_open_time, result, detail, duration_ms, created_at
		FROM cycles ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询调度周期失败: %w", err)
	}
	defer rows.Close()

	var out []*CycleRecord
	for rows.Next() {
		var c CycleRecord
		if err := rows.Scan(&c.ID, &c.RunID, &c.Symbol, &c.CandleOpenTime, &c.Result, &c.Detail,
			&c.DurationMs, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析调度周期失败: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Close 关闭数据库
func (s *SQLiteStorage) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
