package toolkit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ChainFlow-Gateway/internal/agent"
	"ChainFlow-Gateway/internal/chain"
)

type faultyTool struct {
	name     string
	err      error
	panicked any
}

func (t *faultyTool) Name() string               { return t.name }
func (t *faultyTool) Description() string        { return "test tool" }
func (t *faultyTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *faultyTool) Invoke(context.Context, map[string]any) (agent.Observation, error) {
	if t.panicked != nil {
		panic(t.panicked)
	}
	if t.err != nil {
		return nil, t.err
	}
	return agent.Observation{"success": true}, nil
}

func newTestBuilder(t *testing.T) *chain.Builder {
	t.Helper()
	builder, err := chain.NewBuilder(context.Background(), chain.Config{
		ChainID:             295,
		AssociationContract: "0x0000000000000000000000000000000000167b2b",
		StakingContract:     "0x00000000000000000000000000000000002e7a5d",
	}, nil)
	if err != nil {
		t.Fatalf("创建交易构造器失败: %v", err)
	}
	return builder
}

func TestRegistryRegisterAndList(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(nil); err == nil {
		t.Fatal("注册 nil 工具应报错")
	}
	for _, tool := range NewDefiTools(newTestBuilder(t)) {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("注册 %s 失败: %v", tool.Name(), err)
		}
	}
	if err := registry.Register(&faultyTool{name: "stake_deposit"}); err == nil {
		t.Fatal("重名注册应报错")
	}

	tools := registry.List()
	if len(tools) != 3 {
		t.Fatalf("工具数量不对: %d", len(tools))
	}
	// 清单按名称排序，保证发给大模型的工具列表稳定。
	for i := 1; i < len(tools); i++ {
		if tools[i-1].Name() >= tools[i].Name() {
			t.Fatalf("工具清单未排序: %s >= %s", tools[i-1].Name(), tools[i].Name())
		}
	}
}

func TestRegistryInvokeUnknownTool(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Invoke(context.Background(), "missing", nil); err == nil {
		t.Fatal("未知工具应报错")
	}
}

func TestRegistryInvokeErrorBecomesObservation(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&faultyTool{name: "broken", err: errors.New("boom")}); err != nil {
		t.Fatalf("注册失败: %v", err)
	}

	obs, err := registry.Invoke(context.Background(), "broken", nil)
	if err != nil {
		t.Fatalf("工具失败不应透传错误: %v", err)
	}
	if obs.Bool("success") || obs.String("error") != "boom" {
		t.Fatalf("失败观察形态不对: %+v", obs)
	}
}

func TestRegistryInvokeRecoversPanic(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&faultyTool{name: "panicky", panicked: "exploded"}); err != nil {
		t.Fatalf("注册失败: %v", err)
	}

	obs, err := registry.Invoke(context.Background(), "panicky", nil)
	if err != nil {
		t.Fatalf("工具 panic 不应透传: %v", err)
	}
	if obs.Bool("success") || !strings.Contains(obs.String("error"), "exploded") {
		t.Fatalf("panic 观察形态不对: %+v", obs)
	}
}

func TestAssociateToolObservation(t *testing.T) {
	tool := &AssociateTool{builder: newTestBuilder(t)}

	obs, err := tool.Invoke(context.Background(), map[string]any{
		"account": "0x1111111111111111111111111111111111111111",
		"tokens":  []any{"0x2222222222222222222222222222222222222222"},
		"amount":  50.0,
	})
	if err != nil {
		t.Fatalf("关联工具失败: %v", err)
	}
	if !obs.Bool("success") {
		t.Fatalf("观察应标记成功: %+v", obs)
	}
	if obs.String("tool_type") != chain.IntegrationFamily ||
		obs.String("operation") != chain.OpAssociateTokens ||
		obs.String("step") != chain.StepTokenAssociation {
		t.Fatalf("流程标签不对: %+v", obs)
	}
	// 关联的后续步骤靠前驱状态表推断，观察不携带显式 next_step。
	if obs.String("next_step") != "" {
		t.Fatalf("关联观察不应携带显式后续步骤: %+v", obs)
	}
	if payload := obs.String("bytes"); !strings.HasPrefix(payload, "0x") || len(payload) <= 2 {
		t.Fatalf("载荷格式不对: %q", payload)
	}
	if params := obs.Map("original_params"); params["amount"] != 50.0 {
		t.Fatalf("原始参数未保留: %+v", params)
	}
}

func TestApproveToolDeclaresNextStep(t *testing.T) {
	tool := &ApproveTool{builder: newTestBuilder(t)}

	obs, err := tool.Invoke(context.Background(), map[string]any{
		"account": "0x1111111111111111111111111111111111111111",
		"token":   "0x2222222222222222222222222222222222222222",
		"spender": "0x00000000000000000000000000000000002e7a5d",
		"amount":  "50",
	})
	if err != nil {
		t.Fatalf("授权工具失败: %v", err)
	}
	if obs.String("next_step") != chain.StepStake {
		t.Fatalf("授权观察应显式声明质押步骤: %+v", obs)
	}
}

func TestStakeToolIsTerminal(t *testing.T) {
	tool := &StakeTool{builder: newTestBuilder(t)}

	obs, err := tool.Invoke(context.Background(), map[string]any{
		"account": "0x1111111111111111111111111111111111111111",
		"amount":  50.0,
	})
	if err != nil {
		t.Fatalf("质押工具失败: %v", err)
	}
	if obs.String("next_step") != "" {
		t.Fatalf("质押是流程终点, 不应有后续步骤: %+v", obs)
	}
	if obs.String("step") != chain.StepStake {
		t.Fatalf("步骤标签不对: %+v", obs)
	}

	// 非整数数量拒绝构造。
	if _, err := tool.Invoke(context.Background(), map[string]any{
		"account": "0x1111111111111111111111111111111111111111",
		"amount":  1.5,
	}); err == nil {
		t.Fatal("小数数量应报错")
	}
}

func TestParamAmountVariants(t *testing.T) {
	for name, raw := range map[string]any{
		"float64": 50.0,
		"int":     50,
		"int64":   int64(50),
		"string":  "50",
	} {
		amount, err := paramAmount(map[string]any{"amount": raw}, "amount")
		if err != nil || amount.Int64() != 50 {
			t.Fatalf("%s: 解析结果不对: %v (err=%v)", name, amount, err)
		}
	}
	if _, err := paramAmount(map[string]any{}, "amount"); err == nil {
		t.Fatal("缺少数量应报错")
	}
	if _, err := paramAmount(map[string]any{"amount": "not-a-number"}, "amount"); err == nil {
		t.Fatal("坏字符串数量应报错")
	}
}
