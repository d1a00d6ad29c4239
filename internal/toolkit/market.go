package toolkit

import (
	"context"

	"ChainFlow-Gateway/internal/agent"
	"ChainFlow-Gateway/internal/marketdata"
)

// MarketFamily 标识行情工具族的观察。
const MarketFamily = "market"

// QuoteTool 向行情提供方询价，不产生任何签名载荷。
type QuoteTool struct {
	service *marketdata.Service
}

// NewQuoteTool 创建询价工具。
func NewQuoteTool(service *marketdata.Service) *QuoteTool {
	return &QuoteTool{service: service}
}

func (t *QuoteTool) Name() string { return "swap_quote" }

func (t *QuoteTool) Description() string {
	return "Fetch a swap quote between two tokens. Informational only, produces no transaction."
}

func (t *QuoteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input_token":  map[string]any{"type": "string"},
			"output_token": map[string]any{"type": "string"},
			"amount":       map[string]any{"type": "string", "description": "input amount in display units"},
			"network":      map[string]any{"type": "string"},
		},
		"required": []string{"input_token", "output_token", "amount"},
	}
}

// Invoke 执行询价并返回带 quote 子对象的观察，供解释器归一化。
func (t *QuoteTool) Invoke(ctx context.Context, params map[string]any) (agent.Observation, error) {
	quote, err := t.service.Quote(ctx, marketdata.Request{
		InputToken:  paramString(params, "input_token"),
		OutputToken: paramString(params, "output_token"),
		Amount:      paramString(params, "amount"),
		Network:     paramString(params, "network"),
	})
	if err != nil {
		return nil, err
	}

	path := make([]any, 0, len(quote.Path))
	for _, hop := range quote.Path {
		path = append(path, hop)
	}
	return agent.Observation{
		"success":   true,
		"tool_type": MarketFamily,
		"operation": quote.Operation,
		"quote": map[string]any{
			"operation":     quote.Operation,
			"network":       quote.Network,
			"input_token":   quote.InputToken,
			"input_amount":  quote.InputAmount,
			"output_token":  quote.OutputToken,
			"output_amount": quote.OutputAmount,
			"path":          path,
			"fees":          quote.Fees,
			"exchange_rate": quote.ExchangeRate,
			"gas_estimate":  quote.GasEstimate,
		},
	}, nil
}

var _ Tool = (*QuoteTool)(nil)
