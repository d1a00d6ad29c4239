package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ChainFlow-Gateway/internal/agent"
	"ChainFlow-Gateway/internal/chain"
	"ChainFlow-Gateway/internal/events"
	"ChainFlow-Gateway/internal/interpret"
	"ChainFlow-Gateway/internal/session"
)

type stubAgent struct {
	round        *agent.Round
	err          error
	panicMessage string
	instructions []string
}

func (s *stubAgent) Invoke(_ context.Context, instruction string, _ *agent.Memory) (*agent.Round, error) {
	s.instructions = append(s.instructions, instruction)
	if s.panicMessage != "" {
		panic(s.panicMessage)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.round, nil
}

type recordedNotice struct {
	level   string
	message string
}

type stubEmitter struct {
	notices   []recordedNotice
	responses []string
	hasTx     []bool
	payloads  [][]byte
	quotes    []*interpret.SwapQuote
}

func (e *stubEmitter) Notice(level, message string) {
	e.notices = append(e.notices, recordedNotice{level: level, message: message})
}

func (e *stubEmitter) AgentResponse(message string, hasTransaction bool) {
	e.responses = append(e.responses, message)
	e.hasTx = append(e.hasTx, hasTransaction)
}

func (e *stubEmitter) TransactionToSign(payload []byte, _ string) {
	e.payloads = append(e.payloads, payload)
}

func (e *stubEmitter) Quote(quote *interpret.SwapQuote, _ string) {
	e.quotes = append(e.quotes, quote)
}

func newTestConnection(t *testing.T) *session.Connection {
	t.Helper()
	store := session.NewStore(10)
	conn, err := store.Create("conn-1", "0.0.1234")
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	return conn
}

func approvalStep() *session.PendingStep {
	return &session.PendingStep{
		Tool:      chain.IntegrationFamily,
		Operation: chain.OpApproveAllowance,
		Step:      chain.StepTokenApproval,
		OriginalParams: map[string]any{
			"token_id": "0.0.456858",
			"amount":   100.0,
		},
	}
}

func TestHandleResultFailureClearsPendingStep(t *testing.T) {
	conn := newTestConnection(t)
	conn.SetPendingStep(approvalStep())

	client := &stubAgent{}
	publisher := events.NewMemoryPublisher()
	seq := NewSequencer(client, interpret.New(nil), publisher)
	emitter := &stubEmitter{}

	seq.HandleResult(context.Background(), conn, Result{Success: false, Error: "用户拒绝签名"}, emitter)

	if conn.PendingStep() != nil {
		t.Fatal("失败结果后待执行步骤应被清空")
	}
	if len(client.instructions) != 0 {
		t.Fatal("失败结果绝不触发自动重试")
	}
	if len(emitter.notices) != 1 || emitter.notices[0].level != "error" {
		t.Fatalf("期望一条 error 通知, 实际 %v", emitter.notices)
	}
	recorded := publisher.Events()
	if len(recorded) != 1 || recorded[0].Stage != events.StageFailed {
		t.Fatalf("期望一条 failed 事件, 实际 %v", recorded)
	}
}

func TestHandleResultSuccessWithoutPendingStep(t *testing.T) {
	conn := newTestConnection(t)
	client := &stubAgent{}
	seq := NewSequencer(client, interpret.New(nil), nil)
	emitter := &stubEmitter{}

	seq.HandleResult(context.Background(), conn, Result{Success: true, TransactionID: "0.0.1234@169"}, emitter)

	if len(client.instructions) != 0 {
		t.Fatal("无待执行步骤时不应触发 Agent 回合")
	}
	if len(emitter.notices) != 1 || emitter.notices[0].level != "info" {
		t.Fatalf("期望一条 info 确认通知, 实际 %v", emitter.notices)
	}
	if !strings.Contains(emitter.notices[0].message, "0.0.1234@169") {
		t.Fatalf("确认通知应包含交易标识: %s", emitter.notices[0].message)
	}
}

func TestHandleResultSuccessAdvancesFlow(t *testing.T) {
	conn := newTestConnection(t)
	conn.SetPendingStep(approvalStep())

	client := &stubAgent{
		round: &agent.Round{
			Reply: "已构造授权交易。",
			Observations: []agent.Observation{
				{
					"success":   true,
					"tool_type": chain.IntegrationFamily,
					"operation": chain.OpApproveAllowance,
					"step":      chain.StepTokenApproval,
					"bytes":     "0x0a1b2c",
					"next_step": chain.StepStake,
				},
			},
		},
	}
	publisher := events.NewMemoryPublisher()
	seq := NewSequencer(client, interpret.New(nil), publisher)
	emitter := &stubEmitter{}

	seq.HandleResult(context.Background(), conn, Result{Success: true, TransactionID: "tx-1"}, emitter)

	if len(client.instructions) != 1 {
		t.Fatalf("期望一次 Agent 回合, 实际 %d", len(client.instructions))
	}
	if !strings.Contains(client.instructions[0], conn.AccountID) {
		t.Fatalf("合成指令应包含账户标识: %s", client.instructions[0])
	}
	if !strings.Contains(client.instructions[0], "0.0.456858") {
		t.Fatalf("合成指令应携带原始参数: %s", client.instructions[0])
	}
	if len(emitter.payloads) != 1 {
		t.Fatalf("期望下发一个签名载荷, 实际 %d", len(emitter.payloads))
	}
	next := conn.PendingStep()
	if next == nil || next.Step != chain.StepStake {
		t.Fatalf("授权确认后应回到等待签名并指向 stake, 实际 %+v", next)
	}
	if conn.Memory.Len() != 1 {
		t.Fatalf("推进回合应写入会话记忆, 实际长度 %d", conn.Memory.Len())
	}

	recorded := publisher.Events()
	if len(recorded) != 2 {
		t.Fatalf("期望 confirmed 与 emitted 两条事件, 实际 %d", len(recorded))
	}
	if recorded[0].Stage != events.StageConfirmed || recorded[1].Stage != events.StageEmitted {
		t.Fatalf("事件阶段顺序不对: %v, %v", recorded[0].Stage, recorded[1].Stage)
	}
}

func TestHandleResultTerminalStepEndsFlow(t *testing.T) {
	conn := newTestConnection(t)
	conn.SetPendingStep(&session.PendingStep{
		Tool:      chain.IntegrationFamily,
		Operation: chain.OpStakeDeposit,
		Step:      chain.StepStake,
	})

	client := &stubAgent{
		round: &agent.Round{
			Reply: "质押交易已构造，这是流程的最后一步。",
			Observations: []agent.Observation{
				{
					"success":   true,
					"tool_type": chain.IntegrationFamily,
					"operation": chain.OpStakeDeposit,
					"step":      chain.StepStake,
					"bytes":     "0xdeadbeef",
				},
			},
		},
	}
	seq := NewSequencer(client, interpret.New(nil), nil)
	emitter := &stubEmitter{}

	seq.HandleResult(context.Background(), conn, Result{Success: true}, emitter)

	if len(emitter.payloads) != 1 {
		t.Fatalf("终点步骤仍应下发载荷, 实际 %d", len(emitter.payloads))
	}
	if conn.PendingStep() != nil {
		t.Fatal("流程终点不应再登记待执行步骤")
	}
}

func TestHandleResultAgentErrorClearsPendingStep(t *testing.T) {
	conn := newTestConnection(t)
	conn.SetPendingStep(approvalStep())

	client := &stubAgent{err: errors.New("模型超时")}
	seq := NewSequencer(client, interpret.New(nil), nil)
	emitter := &stubEmitter{}

	seq.HandleResult(context.Background(), conn, Result{Success: true}, emitter)

	if conn.PendingStep() != nil {
		t.Fatal("Agent 回合失败后待执行步骤应被清空")
	}
	if len(emitter.notices) != 1 || emitter.notices[0].level != "error" {
		t.Fatalf("期望一条 error 通知, 实际 %v", emitter.notices)
	}
}

func TestHandleResultAgentPanicIsRecovered(t *testing.T) {
	conn := newTestConnection(t)
	conn.SetPendingStep(approvalStep())

	client := &stubAgent{panicMessage: "观察结构损坏"}
	seq := NewSequencer(client, interpret.New(nil), nil)
	emitter := &stubEmitter{}

	seq.HandleResult(context.Background(), conn, Result{Success: true}, emitter)

	if conn.PendingStep() != nil {
		t.Fatal("panic 后待执行步骤应被清空")
	}
	if len(emitter.notices) != 1 || emitter.notices[0].level != "error" {
		t.Fatalf("期望一条 error 通知, 实际 %v", emitter.notices)
	}
}

func TestSynthesizePrefersStepInstructions(t *testing.T) {
	seq := NewSequencer(&stubAgent{}, interpret.New(nil), nil)
	step := approvalStep()
	step.Instructions = "请继续执行授权后的质押步骤。"

	instruction := seq.synthesize(step, "0.0.99")
	if !strings.HasPrefix(instruction, step.Instructions) {
		t.Fatalf("观察自带提示应优先于模板: %s", instruction)
	}
	if !strings.Contains(instruction, "0.0.99") {
		t.Fatalf("合成指令应包含账户标识: %s", instruction)
	}
}

func TestApplyEmitsQuoteBeforeResponse(t *testing.T) {
	conn := newTestConnection(t)
	seq := NewSequencer(&stubAgent{}, interpret.New(nil), nil)
	emitter := &stubEmitter{}

	outcome := interpret.Outcome{
		Quote: &interpret.SwapQuote{Operation: "swap_quote"},
	}
	seq.Apply(context.Background(), conn, outcome, "这是询价结果。", "帮我询个价", emitter)

	if len(emitter.quotes) != 1 {
		t.Fatalf("期望下发一条询价, 实际 %d", len(emitter.quotes))
	}
	if len(emitter.responses) != 1 || emitter.hasTx[0] {
		t.Fatalf("纯询价回合不应标记待签名交易: %v", emitter.hasTx)
	}
	if conn.PendingStep() != nil {
		t.Fatal("纯询价回合不应登记待执行步骤")
	}
}
