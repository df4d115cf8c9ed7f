package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// RunRecord 表示一次雇佣运行的落库结构。
type RunRecord struct {
	ID         string  `json:"id"`
	Mode       string  `json:"mode"`
	Step       string  `json:"step"`
	TokenID    uint64  `json:"token_id"`
	Query      string  `json:"query"`
	CrossAgent bool    `json:"cross_agent"`
	TxHash     string  `json:"tx_hash"`
	ChainID    string  `json:"chain_id"`
	PaymentID  *uint64 `json:"payment_id,omitempty"`
	ResultText string  `json:"result_text"`
	ErrorCode  string  `json:"error_code"`
	LastError  string  `json:"last_error"`
	StartedAt  int64   `json:"started_at"`
	FinishedAt int64   `json:"finished_at"`
}

// RunRepository 抽象运行历史的持久化接口。
type RunRepository interface {
	Save(ctx context.Context, record RunRecord) error
	ListLatest(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// MemoryRunRepository 使用本地 JSON 文件模拟 MySQL 的效果，方便迭代开发。
type MemoryRunRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []RunRecord
}

// NewMemoryRunRepository 创建一个内存运行仓库。
func NewMemoryRunRepository(dataDir string) (*MemoryRunRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "runs.log")
	repo := &MemoryRunRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录运行结果。
func (m *MemoryRunRepository) Save(_ context.Context, record RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开运行日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化运行记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入运行日志失败: %w", err)
	}

	m.records = append([]RunRecord{record}, m.records...)
	if len(m.records) > 512 {
		m.records = m.records[:512]
	}
	return nil
}

// ListLatest 返回最近的运行记录，按时间倒序排列。
func (m *MemoryRunRepository) ListLatest(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}

	results := make([]RunRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 实现 RunRepository 接口。
func (m *MemoryRunRepository) Close() error { return nil }

func (m *MemoryRunRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取运行日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []RunRecord
	for scanner.Scan() {
		var record RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]RunRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析运行日志失败: %w", err)
	}

	if len(restored) > 512 {
		restored = restored[:512]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLRunRepository 使用真实的 MySQL 数据库存储运行历史。
type SQLRunRepository struct {
	db *sql.DB
}

// NewSQLRunRepository 创建连接池并执行 schema 迁移。
func NewSQLRunRepository(ctx context.Context, cfg Config) (*SQLRunRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLRunRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Save 将运行记录写入 MySQL。
func (s *SQLRunRepository) Save(ctx context.Context, record RunRecord) error {
	const stmt = `INSERT INTO agent_runs
        (id, mode, step, token_id, query, cross_agent, tx_hash, chain_id, payment_id, result_text, error_code, last_error, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        step = VALUES(step), tx_hash = VALUES(tx_hash), chain_id = VALUES(chain_id),
        payment_id = VALUES(payment_id), result_text = VALUES(result_text),
        error_code = VALUES(error_code), last_error = VALUES(last_error),
        finished_at = VALUES(finished_at)`

	var paymentID sql.NullInt64
	if record.PaymentID != nil {
		paymentID = sql.NullInt64{Int64: int64(*record.PaymentID), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Mode,
		record.Step,
		record.TokenID,
		record.Query,
		record.CrossAgent,
		record.TxHash,
		record.ChainID,
		paymentID,
		record.ResultText,
		record.ErrorCode,
		record.LastError,
		record.StartedAt,
		record.FinishedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条运行记录。
func (s *SQLRunRepository) ListLatest(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, mode, step, token_id, query, cross_agent, tx_hash, chain_id, payment_id, result_text, error_code, last_error, started_at, finished_at
        FROM agent_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		var paymentID sql.NullInt64
		if err := rows.Scan(&record.ID, &record.Mode, &record.Step, &record.TokenID, &record.Query, &record.CrossAgent, &record.TxHash, &record.ChainID, &paymentID, &record.ResultText, &record.ErrorCode, &record.LastError, &record.StartedAt, &record.FinishedAt); err != nil {
			return nil, fmt.Errorf("解析运行记录失败: %w", err)
		}
		if paymentID.Valid {
			value := uint64(paymentID.Int64)
			record.PaymentID = &value
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历运行记录失败: %w", err)
	}

	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRunRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
