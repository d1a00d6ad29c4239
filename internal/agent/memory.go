package agent

import "sync"

// defaultMemoryDepth 是会话记忆保留的最大往返轮数默认值。
const defaultMemoryDepth = 10

// Exchange 记录一轮完整的问答。
type Exchange struct {
	Instruction string
	Reply       string
}

// Memory 保存单个连接的会话记忆。记忆从不跨账户共享，重新认证时由
// 会话层整体丢弃并重建，而不是原地清空后复用。
type Memory struct {
	mu        sync.Mutex
	depth     int
	exchanges []Exchange
}

// NewMemory 创建一份空白会话记忆。depth 小于等于零时使用默认深度。
func NewMemory(depth int) *Memory {
	if depth <= 0 {
		depth = defaultMemoryDepth
	}
	return &Memory{depth: depth}
}

// Append 追加一轮问答，超出深度时淘汰最旧的记录。
func (m *Memory) Append(instruction, reply string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, Exchange{Instruction: instruction, Reply: reply})
	if len(m.exchanges) > m.depth {
		m.exchanges = m.exchanges[len(m.exchanges)-m.depth:]
	}
}

// Window 返回当前记忆窗口的副本，按时间先后排序。
func (m *Memory) Window() []Exchange {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	window := make([]Exchange, len(m.exchanges))
	copy(window, m.exchanges)
	return window
}

// Len 返回记忆中的轮数。
func (m *Memory) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchanges)
}

// Reset 清空全部记忆。
func (m *Memory) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = nil
}
