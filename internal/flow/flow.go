package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ChainFlow-Gateway/internal/agent"
	"ChainFlow-Gateway/internal/chain"
	"ChainFlow-Gateway/internal/events"
	"ChainFlow-Gateway/internal/interpret"
	"ChainFlow-Gateway/internal/session"
	"ChainFlow-Gateway/pkg/logger"
)

// Emitter 抽象向客户端下发消息的能力，由协议处理层实现。
type Emitter interface {
	// Notice 下发系统通知，level 为 info、warning 或 error。
	Notice(level, message string)
	// AgentResponse 下发文本回复，并标记本轮是否伴随待签名交易。
	AgentResponse(message string, hasTransaction bool)
	// TransactionToSign 下发签名载荷。
	TransactionToSign(payload []byte, originalQuery string)
	// Quote 下发归一化询价。
	Quote(quote *interpret.SwapQuote, originalMessage string)
}

// Result 是钱包回报的签名/广播结果。
type Result struct {
	Success       bool
	TransactionID string
	Status        string
	Error         string
}

// instructionTemplate 是按集成家族与步骤登记的指令合成模板。
type instructionTemplate struct {
	family string
	step   string
	format string
}

func defaultTemplates() []instructionTemplate {
	return []instructionTemplate{
		{
			family: chain.IntegrationFamily,
			step:   chain.StepTokenApproval,
			format: "The previous transaction for account %s was signed and confirmed. Continue the flow: approve the staking contract allowance. Original parameters: %s",
		},
		{
			family: chain.IntegrationFamily,
			step:   chain.StepStake,
			format: "The previous transaction for account %s was signed and confirmed. Continue the flow: execute the stake deposit. Original parameters: %s",
		},
	}
}

// Sequencer 驱动多步交易流程：消费待执行步骤、合成后续指令、再跑一轮
// Agent 并把解释结果重新下发。
type Sequencer struct {
	agent     agent.Client
	interp    *interpret.Interpreter
	publisher events.Publisher
	templates []instructionTemplate
	log       *slog.Logger
}

// NewSequencer 构造步骤推进器。publisher 可为 nil。
func NewSequencer(client agent.Client, interp *interpret.Interpreter, publisher events.Publisher) *Sequencer {
	return &Sequencer{
		agent:     client,
		interp:    interp,
		publisher: publisher,
		templates: defaultTemplates(),
		log:       logger.Named("flow"),
	}
}

// HandleResult 处理一条签名结果消息。失败时无条件清空待执行步骤且绝不
// 自动重试；成功且存在待执行步骤时同步推进一步。任何推进期间的异常都
// 被捕获、上报为错误通知，并保证待执行步骤已被清空。
func (s *Sequencer) HandleResult(ctx context.Context, conn *session.Connection, result Result, emitter Emitter) {
	if conn == nil {
		return
	}

	if !result.Success {
		step := conn.PendingStep()
		conn.ClearPendingStep()
		detail := strings.TrimSpace(result.Error)
		if detail == "" {
			detail = result.Status
		}
		s.publish(ctx, conn, step, events.StageFailed, result.TransactionID, detail)
		emitter.Notice("error", fmt.Sprintf("交易未完成：%s。流程已终止，请重新发起。", detail))
		return
	}

	step := conn.TakePendingStep()
	s.publish(ctx, conn, step, events.StageConfirmed, result.TransactionID, result.Status)
	if step == nil {
		message := "交易已确认。"
		if result.TransactionID != "" {
			message = fmt.Sprintf("交易 %s 已确认。", result.TransactionID)
		}
		emitter.Notice("info", message)
		return
	}

	s.executeNext(ctx, conn, step, emitter)
}

// executeNext 运行 EXECUTING_NEXT：合成指令、再跑一轮、重新应用解释器。
func (s *Sequencer) executeNext(ctx context.Context, conn *session.Connection, step *session.PendingStep, emitter Emitter) {
	defer func() {
		if rec := recover(); rec != nil {
			// 推进过程中的异常不允许遗留陈旧的待执行步骤。
			conn.ClearPendingStep()
			s.log.Error("推进后续步骤时发生 panic",
				slog.String("conn_id", conn.ID),
				slog.Any("panic", rec),
			)
			emitter.Notice("error", "继续执行流程时发生内部错误，流程已终止。")
		}
	}()

	instruction := s.synthesize(step, conn.AccountID)
	s.log.Info("推进后续步骤",
		slog.String("conn_id", conn.ID),
		slog.String("tool", step.Tool),
		slog.String("step", step.Step),
	)

	round, err := s.agent.Invoke(ctx, instruction, conn.Memory)
	if err != nil {
		conn.ClearPendingStep()
		s.log.Warn("后续步骤的 Agent 回合失败",
			slog.String("conn_id", conn.ID),
			slog.Any("error", err),
		)
		emitter.Notice("error", "继续执行流程失败，流程已终止。")
		return
	}
	conn.Memory.Append(instruction, round.Reply)

	outcome := s.interp.Interpret(round.Observations)
	s.Apply(ctx, conn, outcome, round.Reply, instruction, emitter)
}

// Apply 按固定顺序下发一轮解释结果：询价在前，随后是文本回复，最后是
// 签名载荷；若产生了载荷则把后续步骤写回会话，回到等待签名状态。
func (s *Sequencer) Apply(ctx context.Context, conn *session.Connection, outcome interpret.Outcome, reply, originalQuery string, emitter Emitter) {
	if outcome.Quote != nil {
		emitter.Quote(outcome.Quote, originalQuery)
	}
	if strings.TrimSpace(reply) == "" {
		reply = "(无文本回复)"
	}
	emitter.AgentResponse(reply, outcome.HasTransaction())

	if !outcome.HasTransaction() {
		conn.ClearPendingStep()
		return
	}

	emitter.TransactionToSign(outcome.Bytes, originalQuery)
	conn.SetPendingStep(outcome.NextStep)
	s.publish(ctx, conn, outcome.NextStep, events.StageEmitted, "", originalQuery)
}

// synthesize 依据模板表合成自然语言指令。观察自带的 instructions 提示
// 优先于默认模板。
func (s *Sequencer) synthesize(step *session.PendingStep, accountID string) string {
	params := "{}"
	if len(step.OriginalParams) > 0 {
		if encoded, err := json.Marshal(step.OriginalParams); err == nil {
			params = string(encoded)
		}
	}
	if strings.TrimSpace(step.Instructions) != "" {
		return fmt.Sprintf("%s Account: %s. Original parameters: %s", step.Instructions, accountID, params)
	}
	for _, tmpl := range s.templates {
		if tmpl.family != "" && step.Tool != "" && tmpl.family != step.Tool {
			continue
		}
		if tmpl.step == step.Step {
			return fmt.Sprintf(tmpl.format, accountID, params)
		}
	}
	return fmt.Sprintf("The previous transaction for account %s was signed and confirmed. Continue the %s flow at step %q. Original parameters: %s",
		accountID, step.Operation, step.Step, params)
}

func (s *Sequencer) publish(ctx context.Context, conn *session.Connection, step *session.PendingStep, stage events.Stage, txID, detail string) {
	if s.publisher == nil {
		return
	}
	event := events.Event{
		ID:            uuid.NewString(),
		ConnectionID:  conn.ID,
		AccountID:     conn.AccountID,
		Stage:         stage,
		TransactionID: txID,
		Detail:        detail,
		OccurredAt:    time.Now(),
	}
	if step != nil {
		event.Operation = step.Operation
		event.Step = step.Step
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("事件发布失败", slog.String("conn_id", conn.ID), slog.Any("error", err))
	}
}
