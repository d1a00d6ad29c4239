package session

import (
	"log/slog"
	"strings"
	"sync"

	"ChainFlow-Gateway/internal/agent"
	xerrors "ChainFlow-Gateway/internal/errors"
	"ChainFlow-Gateway/pkg/logger"
)

// Store 管理所有活跃连接的会话记录。不同连接各自运行在独立的读循环
// 协程上，map 本身由读写锁保护；单个 Connection 的字段只会被它自己的
// 读循环协程访问，依赖每连接消息串行化保证顺序。
type Store struct {
	mu          sync.RWMutex
	memoryDepth int
	sessions    map[string]*Connection
	log         *slog.Logger
}

// NewStore 创建会话存储。memoryDepth 控制每个连接会话记忆的窗口大小。
func NewStore(memoryDepth int) *Store {
	return &Store{
		memoryDepth: memoryDepth,
		sessions:    make(map[string]*Connection),
		log:         logger.Named("session"),
	}
}

// Create 为连接建立全新会话：崭新的会话记忆、无待执行步骤。若连接已有
// 会话则整体替换，旧记忆被丢弃，不做原地复用。
func (s *Store) Create(connID, accountID string) (*Connection, error) {
	connID = strings.TrimSpace(connID)
	if connID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "连接标识不能为空")
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "账户标识不能为空")
	}

	conn := &Connection{
		ID:        connID,
		AccountID: accountID,
		Memory:    agent.NewMemory(s.memoryDepth),
	}

	s.mu.Lock()
	if old, ok := s.sessions[connID]; ok {
		// 同一连接重复认证：先丢弃旧会话，绝不让状态跨身份泄漏。
		old.ClearPendingStep()
		old.Memory.Reset()
		s.log.Info("会话被重建", slog.String("conn_id", connID), slog.String("account_id", accountID))
	}
	s.sessions[connID] = conn
	s.mu.Unlock()

	logger.Audit().Info("会话创建",
		slog.String("conn_id", connID),
		slog.String("account_id", accountID),
	)
	return conn, nil
}

// Get 返回连接当前的会话记录。
func (s *Store) Get(connID string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.sessions[connID]
	return conn, ok
}

// Destroy 尽力清理会话记忆与待执行步骤，随后无条件移除记录。清理失败
// 只记录日志，不阻止移除。对不存在的连接调用是无害的空操作。
func (s *Store) Destroy(connID string) {
	s.mu.Lock()
	conn, ok := s.sessions[connID]
	delete(s.sessions, connID)
	s.mu.Unlock()

	if !ok {
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Warn("清理会话状态失败", slog.String("conn_id", connID), slog.Any("panic", r))
			}
		}()
		conn.ClearPendingStep()
		conn.Memory.Reset()
	}()

	logger.Audit().Info("会话销毁",
		slog.String("conn_id", connID),
		slog.String("account_id", conn.AccountID),
	)
}

// Len 返回活跃会话数量，供健康检查端点使用。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
