package agent

import "context"

// Observation 是一次工具调用返回的原始结果。不同集成返回的字段没有统一
// 的模式，因此这里保留最宽松的表示，由响应解释器负责提取结构化信息。
type Observation map[string]any

// String 返回指定键的字符串值，键不存在或类型不符时返回空串。
func (o Observation) String(key string) string {
	if o == nil {
		return ""
	}
	if value, ok := o[key].(string); ok {
		return value
	}
	return ""
}

// Bool 返回指定键的布尔值。
func (o Observation) Bool(key string) bool {
	if o == nil {
		return false
	}
	if value, ok := o[key].(bool); ok {
		return value
	}
	return false
}

// Map 返回指定键的子对象，键不存在或类型不符时返回 nil。
func (o Observation) Map(key string) map[string]any {
	if o == nil {
		return nil
	}
	if value, ok := o[key].(map[string]any); ok {
		return value
	}
	return nil
}

// Round 汇总一次 Agent 回合的产出：自由文本回复与零个或多个工具观察。
type Round struct {
	Reply        string
	Observations []Observation
}

// Client 定义了调用推理/工具编排协作方的统一能力接口。实现方在给定指令
// 与会话记忆后完成一轮推理，期间可调用任意数量的领域工具。调用方假定
// Invoke 最终会返回或报错，不会无限挂起；实现方的异常原样向上传递。
type Client interface {
	Invoke(ctx context.Context, instruction string, mem *Memory) (*Round, error)
}
