package toolkit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"ChainFlow-Gateway/internal/agent"
	xerrors "ChainFlow-Gateway/internal/errors"
	"ChainFlow-Gateway/pkg/logger"
)

// Tool 表示一个领域集成：执行一次领域操作并返回一条未定型的观察。
type Tool interface {
	// Name 返回工具的唯一名称，供大模型在工具调用中引用。
	Name() string
	// Description 面向大模型描述工具的用途与适用场景。
	Description() string
	// Parameters 返回 JSON Schema 形式的参数定义。
	Parameters() map[string]any
	// Invoke 执行一次领域操作。返回的观察结构因集成而异。
	Invoke(ctx context.Context, params map[string]any) (agent.Observation, error)
}

// Registry 维护已注册的工具集合。注册发生在启动阶段，之后只读。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   *slog.Logger
}

// NewRegistry 创建空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		log:   logger.Named("toolkit"),
	}
}

// Register 登记一个工具，名称冲突时报错。
func (r *Registry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具或工具名称不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name()]; ok {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("工具 %s 已注册", tool.Name()))
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get 按名称返回工具。
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List 返回全部工具，按名称排序，便于构造稳定的工具清单。
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Invoke 执行指定工具并兜底 panic。工具失败不是致命错误：返回一条带
// error 字段的观察，交由上层解释器按坏观察跳过。
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (obs agent.Observation, err error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("未知工具 %s", name))
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("工具执行 panic", slog.String("tool", name), slog.Any("panic", rec))
			obs = agent.Observation{"success": false, "error": fmt.Sprintf("tool panic: %v", rec)}
			err = nil
		}
	}()
	obs, err = tool.Invoke(ctx, params)
	if err != nil {
		r.log.Warn("工具执行失败", slog.String("tool", name), slog.Any("error", err))
		return agent.Observation{"success": false, "error": err.Error()}, nil
	}
	return obs, nil
}
