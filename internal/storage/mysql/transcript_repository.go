package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// TranscriptRecord 表示一次用户与 Agent 的完整交换的落库结构。
type TranscriptRecord struct {
	ID             int64
	ConnID         string
	AccountID      string
	Message        string
	Reply          string
	Operation      string
	Step           string
	HasTransaction bool
	CreatedAt      int64
}

// TranscriptRepository 抽象会话记录的持久化接口。
type TranscriptRepository interface {
	Save(ctx context.Context, record *TranscriptRecord) error
	ListLatest(ctx context.Context, limit int) ([]TranscriptRecord, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]TranscriptRecord, error)
}

// MemoryTranscriptRepository 使用本地 JSONL 文件模拟 MySQL 的效果，方便
// 在没有数据库的环境下迭代开发。
type MemoryTranscriptRepository struct {
	mu       sync.RWMutex
	dataFile string
	nextID   int64
	records  []TranscriptRecord
}

// NewMemoryTranscriptRepository 创建一个内存会话记录仓库。
func NewMemoryTranscriptRepository(dataDir string) (*MemoryTranscriptRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "transcripts.log")
	repo := &MemoryTranscriptRepository{dataFile: path, nextID: 1}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录一次交换。
func (m *MemoryTranscriptRepository) Save(_ context.Context, record *TranscriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.ID = m.nextID
	m.nextID++

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开会话记录失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化会话记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入会话记录失败: %w", err)
	}

	m.records = append(m.records, *record)
	if len(m.records) > 512 {
		m.records = m.records[len(m.records)-512:]
	}
	return nil
}

// ListLatest 返回最近的交换记录，按时间倒序排列。
func (m *MemoryTranscriptRepository) ListLatest(_ context.Context, limit int) ([]TranscriptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(limit, func(TranscriptRecord) bool { return true }), nil
}

// ListByAccount 返回某账户最近的交换记录。
func (m *MemoryTranscriptRepository) ListByAccount(_ context.Context, accountID string, limit int) ([]TranscriptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(limit, func(r TranscriptRecord) bool { return r.AccountID == accountID }), nil
}

func (m *MemoryTranscriptRepository) filter(limit int, keep func(TranscriptRecord) bool) []TranscriptRecord {
	var results []TranscriptRecord
	for _, record := range m.records {
		if keep(record) {
			results = append(results, record)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

func (m *MemoryTranscriptRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取会话记录失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record TranscriptRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		m.records = append(m.records, record)
		if record.ID >= m.nextID {
			m.nextID = record.ID + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析会话记录失败: %w", err)
	}
	if len(m.records) > 512 {
		m.records = m.records[len(m.records)-512:]
	}
	return nil
}

// SQLTranscriptRepository 使用真实的 MySQL 数据库存储会话记录。
type SQLTranscriptRepository struct {
	db *sql.DB
}

// NewSQLTranscriptRepository 创建连接池并执行迁移。
func NewSQLTranscriptRepository(ctx context.Context, cfg Config) (*SQLTranscriptRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLTranscriptRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

const insertTranscriptSQL = `INSERT INTO transcripts
        (conn_id, account_id, message, reply, operation, step, has_transaction, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Save 将交换记录写入 MySQL。
func (s *SQLTranscriptRepository) Save(ctx context.Context, record *TranscriptRecord) error {
	result, err := s.db.ExecContext(ctx, insertTranscriptSQL,
		record.ConnID,
		record.AccountID,
		record.Message,
		record.Reply,
		record.Operation,
		record.Step,
		record.HasTransaction,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

const selectTranscriptColumns = `SELECT id, conn_id, account_id, message, reply, operation, step, has_transaction, created_at
        FROM transcripts`

// ListLatest 查询最近的若干条交换记录。
func (s *SQLTranscriptRepository) ListLatest(ctx context.Context, limit int) ([]TranscriptRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectTranscriptColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询会话记录失败: %w", err)
	}
	return scanTranscripts(rows)
}

// ListByAccount 查询某账户最近的若干条交换记录。
func (s *SQLTranscriptRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]TranscriptRecord, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("账户标识不能为空")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectTranscriptColumns+` WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询会话记录失败: %w", err)
	}
	return scanTranscripts(rows)
}

func scanTranscripts(rows *sql.Rows) ([]TranscriptRecord, error) {
	defer rows.Close()

	var records []TranscriptRecord
	for rows.Next() {
		var record TranscriptRecord
		if err := rows.Scan(
			&record.ID,
			&record.ConnID,
			&record.AccountID,
			&record.Message,
			&record.Reply,
			&record.Operation,
			&record.Step,
			&record.HasTransaction,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("解析会话记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历会话记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLTranscriptRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ TranscriptRepository = (*MemoryTranscriptRepository)(nil)
	_ TranscriptRepository = (*SQLTranscriptRepository)(nil)
)
