// Package agent 定义网关与推理/工具编排协作方之间的能力契约。
//
// 网关把 Agent 回合当作黑盒：给定一条自然语言指令与会话记忆，协作方
// 返回自由文本回复以及本回合内所有工具调用产生的原始观察。观察的结构
// 因集成而异，解释工作由 internal/interpret 完成。internal/agent/openai
// 提供基于 Chat Completions 工具调用协议的默认实现。
package agent
