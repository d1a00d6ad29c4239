package interpret

import (
	"fmt"
	"log/slog"

	"ChainFlow-Gateway/internal/agent"
)

// quoteOperations 是会被识别为完整询价的操作标签集合。
var quoteOperations = map[string]struct{}{
	"swap_quote":     {},
	"exchange_quote": {},
	"quote":          {},
}

// TokenLeg 描述询价的一侧。Token 是展示名称，TokenID 是原始标识。
type TokenLeg struct {
	Token     string `json:"token"`
	TokenID   string `json:"tokenId"`
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
}

// SwapQuote 是归一化后的兑换询价，字段命名与外发消息保持一致。
type SwapQuote struct {
	Operation    string   `json:"operation"`
	Network      string   `json:"network"`
	Input        TokenLeg `json:"input"`
	Output       TokenLeg `json:"output"`
	Path         []string `json:"path"`
	Fees         string   `json:"fees"`
	ExchangeRate string   `json:"exchangeRate"`
	GasEstimate  string   `json:"gasEstimate,omitempty"`
}

// detectQuote 扫描观察并把形如完整询价的那一条归一化。判定条件：显式
// 成功标记、存在 quote 子对象、操作标签属于固定集合。残缺的询价观察
// 按坏观察跳过。
func (i *Interpreter) detectQuote(observations []agent.Observation) *SwapQuote {
	for idx, obs := range observations {
		if !obs.Bool("success") {
			continue
		}
		raw := obs.Map("quote")
		if raw == nil {
			continue
		}
		operation := obs.String("operation")
		if operation == "" {
			operation = stringField(raw, "operation")
		}
		if _, ok := quoteOperations[operation]; !ok {
			continue
		}

		quote := i.normalizeQuote(operation, raw)
		if quote == nil {
			i.log.Warn("询价观察残缺，跳过", slog.Int("index", idx))
			continue
		}
		return quote
	}
	return nil
}

func (i *Interpreter) normalizeQuote(operation string, raw map[string]any) *SwapQuote {
	inputID := stringField(raw, "input_token")
	outputID := stringField(raw, "output_token")
	if inputID == "" || outputID == "" {
		return nil
	}

	quote := &SwapQuote{
		Operation:    operation,
		Network:      stringField(raw, "network"),
		Input:        i.tokenLeg(inputID, stringField(raw, "input_amount")),
		Output:       i.tokenLeg(outputID, stringField(raw, "output_amount")),
		Path:         stringSlice(raw["path"]),
		Fees:         stringField(raw, "fees"),
		ExchangeRate: stringField(raw, "exchange_rate"),
		GasEstimate:  stringField(raw, "gas_estimate"),
	}
	if len(quote.Path) == 0 {
		quote.Path = []string{quote.Input.Token, quote.Output.Token}
	}
	return quote
}

// tokenLeg 把代币标识映射为展示名称，未知标识原样保留。
func (i *Interpreter) tokenLeg(tokenID, amount string) TokenLeg {
	display := tokenID
	if i.registry != nil {
		display = i.registry.DisplayName(tokenID)
	}
	leg := TokenLeg{
		Token:   display,
		TokenID: tokenID,
		Amount:  amount,
	}
	if amount != "" {
		leg.Formatted = fmt.Sprintf("%s %s", amount, display)
	}
	return leg
}

func stringField(raw map[string]any, key string) string {
	if value, ok := raw[key].(string); ok {
		return value
	}
	return ""
}

func stringSlice(raw any) []string {
	switch value := raw.(type) {
	case []string:
		return value
	case []any:
		items := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok && s != "" {
				items = append(items, s)
			}
		}
		return items
	default:
		return nil
	}
}
