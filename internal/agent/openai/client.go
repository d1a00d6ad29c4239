package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ChainFlow-Gateway/internal/agent"
	"ChainFlow-Gateway/internal/toolkit"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	defaultMaxRounds = 6
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxToolRounds 限制单次 Invoke 内的工具调用轮数，防止模型循环。
	MaxToolRounds int
}

// Client 通过 HTTP 调用 OpenAI 的工具调用能力，驱动本地工具注册表完成
// 一轮推理。每次工具调用的观察都被原样收集，交给上层解释器处理。
type Client struct {
	apiKey        string
	baseURL       string
	model         string
	maxToolRounds int
	httpClient    *http.Client
	tools         *toolkit.Registry
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config, tools *toolkit.Registry) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}
	if tools == nil {
		return nil, errors.New("未提供工具注册表")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxToolRounds := cfg.MaxToolRounds
	if maxToolRounds <= 0 {
		maxToolRounds = defaultMaxRounds
	}

	return &Client{
		apiKey:        apiKey,
		baseURL:       baseURL,
		model:         model,
		maxToolRounds: maxToolRounds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tools: tools,
	}, nil
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Invoke 完成一轮推理：在工具调用轮数上限内反复与模型交互，执行模型
// 请求的工具并回填结果，直到模型给出最终文本回复。
func (c *Client) Invoke(ctx context.Context, instruction string, mem *agent.Memory) (*agent.Round, error) {
	messages := c.buildMessages(instruction, mem)
	var observations []agent.Observation

	for round := 0; round <= c.maxToolRounds; round++ {
		reply, calls, err := c.complete(ctx, messages)
		if err != nil {
			return nil, err
		}
		if len(calls) == 0 {
			return &agent.Round{Reply: reply, Observations: observations}, nil
		}

		messages = append(messages, chatMessage{Role: "assistant", Content: reply, ToolCalls: calls})
		for _, call := range calls {
			observation := c.runTool(ctx, call)
			observations = append(observations, observation)

			encoded, err := json.Marshal(observation)
			if err != nil {
				encoded = []byte(`{"success":false,"error":"observation marshal failed"}`)
			}
			messages = append(messages, chatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    string(encoded),
			})
		}
	}
	return nil, fmt.Errorf("工具调用轮数超过上限 %d", c.maxToolRounds)
}

func (c *Client) runTool(ctx context.Context, call toolCall) agent.Observation {
	params := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return agent.Observation{"success": false, "error": fmt.Sprintf("参数解析失败: %v", err)}
		}
	}
	observation, err := c.tools.Invoke(ctx, call.Function.Name, params)
	if err != nil {
		return agent.Observation{"success": false, "error": err.Error()}
	}
	return observation
}

// complete 调用一次 Chat Completions 并返回文本与待执行的工具调用。
func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, []toolCall, error) {
	payload, err := c.buildPayload(messages)
	if err != nil {
		return "", nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content   string     `json:"content"`
				ToolCalls []toolCall `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	message := decoded.Choices[0].Message
	return strings.TrimSpace(message.Content), message.ToolCalls, nil
}

func (c *Client) buildPayload(messages []chatMessage) ([]byte, error) {
	type toolSpec struct {
		Type     string `json:"type"`
		Function struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Parameters  map[string]any `json:"parameters"`
		} `json:"function"`
	}

	var tools []toolSpec
	for _, tool := range c.tools.List() {
		spec := toolSpec{Type: "function"}
		spec.Function.Name = tool.Name()
		spec.Function.Description = tool.Description()
		spec.Function.Parameters = tool.Parameters()
		tools = append(tools, spec)
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are ChainFlow's on-chain assistant. " +
	"You help users stake, approve and swap tokens by calling the provided tools. " +
	"Call at most one transaction-building tool per user request, " +
	"then summarise what you did in the user's language and tell them to sign the transaction in their wallet. " +
	"Never claim a transaction was submitted: the user signs and broadcasts on their side."

func (c *Client) buildMessages(instruction string, mem *agent.Memory) []chatMessage {
	messages := []chatMessage{{Role: "system", Content: systemPrompt}}
	for _, exchange := range mem.Window() {
		messages = append(messages,
			chatMessage{Role: "user", Content: exchange.Instruction},
			chatMessage{Role: "assistant", Content: exchange.Reply},
		)
	}
	return append(messages, chatMessage{Role: "user", Content: instruction})
}

var _ agent.Client = (*Client)(nil)
