package toolkit

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"ChainFlow-Gateway/internal/agent"
	"ChainFlow-Gateway/internal/chain"
)

// defi 工具族把链上操作包装成可供大模型调用的工具。每个工具构造一笔
// 未签名交易并在观察中携带签名载荷与流程标签，签名本身由远端钱包完成。

// AssociateTool 构造代币关联交易。
type AssociateTool struct {
	builder *chain.Builder
}

// ApproveTool 构造 ERC-20 授权交易。
type ApproveTool struct {
	builder *chain.Builder
}

// StakeTool 构造质押入金交易。
type StakeTool struct {
	builder *chain.Builder
}

// NewDefiTools 返回 defi 工具族的全部工具。
func NewDefiTools(builder *chain.Builder) []Tool {
	return []Tool{
		&AssociateTool{builder: builder},
		&ApproveTool{builder: builder},
		&StakeTool{builder: builder},
	}
}

func (t *AssociateTool) Name() string { return "associate_tokens" }

func (t *AssociateTool) Description() string {
	return "Associate the user's account with one or more tokens. Must run before the account can hold or approve those tokens."
}

func (t *AssociateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account": map[string]any{"type": "string", "description": "user account address"},
			"tokens":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"amount":  map[string]any{"type": "number", "description": "amount for the overall flow, in smallest units"},
		},
		"required": []string{"account", "tokens"},
	}
}

// Invoke 构造关联交易。观察不携带显式 next_step：授权步骤由解释器的
// 前驱状态表推断。
func (t *AssociateTool) Invoke(ctx context.Context, params map[string]any) (agent.Observation, error) {
	account := paramString(params, "account")
	tokens := paramStrings(params, "tokens")
	payload, err := t.builder.AssociateTokens(ctx, account, tokens)
	if err != nil {
		return nil, err
	}
	return agent.Observation{
		"success":         true,
		"tool_type":       chain.IntegrationFamily,
		"operation":       chain.OpAssociateTokens,
		"step":            chain.StepTokenAssociation,
		"bytes":           "0x" + hex.EncodeToString(payload),
		"original_params": cloneParams(params),
		"message":         fmt.Sprintf("token association prepared for %s", account),
	}, nil
}

func (t *ApproveTool) Name() string { return "approve_allowance" }

func (t *ApproveTool) Description() string {
	return "Grant the staking contract an allowance over a token the account already holds. Runs after token association."
}

func (t *ApproveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account": map[string]any{"type": "string"},
			"token":   map[string]any{"type": "string"},
			"spender": map[string]any{"type": "string"},
			"amount":  map[string]any{"type": "number", "description": "allowance in smallest units"},
		},
		"required": []string{"account", "token", "spender", "amount"},
	}
}

// Invoke 构造授权交易。授权之后的步骤是确定的，观察里显式给出。
func (t *ApproveTool) Invoke(ctx context.Context, params map[string]any) (agent.Observation, error) {
	account := paramString(params, "account")
	amount, err := paramAmount(params, "amount")
	if err != nil {
		return nil, err
	}
	payload, err := t.builder.Approve(ctx, account, paramString(params, "token"), paramString(params, "spender"), amount)
	if err != nil {
		return nil, err
	}
	return agent.Observation{
		"success":         true,
		"tool_type":       chain.IntegrationFamily,
		"operation":       chain.OpApproveAllowance,
		"step":            chain.StepTokenApproval,
		"next_step":       chain.StepStake,
		"bytes":           "0x" + hex.EncodeToString(payload),
		"original_params": cloneParams(params),
		"message":         fmt.Sprintf("allowance approval prepared for %s", account),
	}, nil
}

func (t *StakeTool) Name() string { return "stake_deposit" }

func (t *StakeTool) Description() string {
	return "Deposit an approved amount into the staking contract. Final step of the staking flow."
}

func (t *StakeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account": map[string]any{"type": "string"},
			"amount":  map[string]any{"type": "number", "description": "deposit in smallest units"},
		},
		"required": []string{"account", "amount"},
	}
}

// Invoke 构造质押交易。质押是流程终点，观察不带任何后续步骤信息。
func (t *StakeTool) Invoke(ctx context.Context, params map[string]any) (agent.Observation, error) {
	account := paramString(params, "account")
	amount, err := paramAmount(params, "amount")
	if err != nil {
		return nil, err
	}
	payload, err := t.builder.Stake(ctx, account, amount)
	if err != nil {
		return nil, err
	}
	return agent.Observation{
		"success":         true,
		"tool_type":       chain.IntegrationFamily,
		"operation":       chain.OpStakeDeposit,
		"step":            chain.StepStake,
		"bytes":           "0x" + hex.EncodeToString(payload),
		"original_params": cloneParams(params),
		"message":         fmt.Sprintf("stake deposit prepared for %s", account),
	}, nil
}

func paramString(params map[string]any, key string) string {
	if value, ok := params[key].(string); ok {
		return value
	}
	return ""
}

func paramStrings(params map[string]any, key string) []string {
	switch raw := params[key].(type) {
	case []string:
		return raw
	case []any:
		values := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
		return values
	default:
		return nil
	}
}

func paramAmount(params map[string]any, key string) (*big.Int, error) {
	switch raw := params[key].(type) {
	case float64:
		if raw != float64(int64(raw)) {
			return nil, fmt.Errorf("amount %v 必须是整数最小单位", raw)
		}
		return big.NewInt(int64(raw)), nil
	case int:
		return big.NewInt(int64(raw)), nil
	case int64:
		return big.NewInt(raw), nil
	case string:
		value, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("无法解析数量 %q", raw)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("缺少数量参数 %s", key)
	}
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	clone := make(map[string]any, len(params))
	for k, v := range params {
		clone[k] = v
	}
	return clone
}
