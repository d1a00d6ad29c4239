package session

import (
	"ChainFlow-Gateway/internal/agent"
	xerrors "ChainFlow-Gateway/internal/errors"
)

// PendingStep 记录一笔待签名交易确认后要继续执行的下一步。它只存在于
// "签名载荷已下发" 与 "交易结果已回报或被失败/新请求取代" 之间。
type PendingStep struct {
	// Tool 标识产生该步骤的集成家族，例如 "defi" 或 "swap"。
	Tool string `json:"tool"`
	// Operation 是领域动作，例如 "associate_tokens"。
	Operation string `json:"operation"`
	// Step 是流程内的子步骤标签，例如 "approval"、"stake"。
	Step string `json:"step"`
	// OriginalParams 保存重新合成后续指令所需的原始参数。
	OriginalParams map[string]any `json:"original_params,omitempty"`
	// Instructions 是可选的人类可读提示，优先于默认模板。
	Instructions string `json:"instructions,omitempty"`
}

// Clone 返回步骤的深拷贝，参数包按浅拷贝处理。
func (p *PendingStep) Clone() *PendingStep {
	if p == nil {
		return nil
	}
	clone := *p
	if p.OriginalParams != nil {
		params := make(map[string]any, len(p.OriginalParams))
		for k, v := range p.OriginalParams {
			params[k] = v
		}
		clone.OriginalParams = params
	}
	return &clone
}

var (
	// ErrSessionNotFound 表示指定连接没有活跃会话。
	ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")
)

const (
	CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"
	CodeSessionConflict xerrors.Code = "SESSION_CONFLICT"
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:   "session not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSessionConflict, xerrors.Attributes{
		Message:   "session already exists",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Connection 是单个活跃连接的会话记录。
type Connection struct {
	// ID 是网关为底层 socket 分配的不透明句柄。
	ID string
	// AccountID 是认证通过的用户链上账户。
	AccountID string
	// Memory 是该连接独占的会话记忆，由 Agent 协作方消费。
	Memory *agent.Memory

	pendingStep *PendingStep
}

// PendingStep 返回当前待执行步骤的副本，不存在时返回 nil。
func (c *Connection) PendingStep() *PendingStep {
	if c == nil {
		return nil
	}
	return c.pendingStep.Clone()
}

// SetPendingStep 覆盖待执行步骤。同一连接同一时刻至多一个步骤，旧值
// 直接被取代。
func (c *Connection) SetPendingStep(step *PendingStep) {
	if c == nil {
		return
	}
	c.pendingStep = step.Clone()
}

// TakePendingStep 取出并清空待执行步骤，供步骤推进器在重新调用 Agent
// 之前消费。
func (c *Connection) TakePendingStep() *PendingStep {
	if c == nil {
		return nil
	}
	step := c.pendingStep
	c.pendingStep = nil
	return step
}

// ClearPendingStep 无条件清空待执行步骤。
func (c *Connection) ClearPendingStep() {
	if c == nil {
		return
	}
	c.pendingStep = nil
}
