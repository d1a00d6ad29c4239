package interpret

import (
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"strings"

	"ChainFlow-Gateway/internal/agent"
	"ChainFlow-Gateway/internal/chain"
	"ChainFlow-Gateway/internal/session"
	"ChainFlow-Gateway/pkg/logger"
)

// Candidate 是从单条观察中提取出的可签名载荷，仅用于解释阶段。
type Candidate struct {
	Bytes     []byte
	Operation string
	Step      string
}

// Outcome 是对一轮 Agent 产出的解释结果。三个字段都可能为空：没有
// 待签名载荷、没有询价、没有后续步骤都是合法状态。
type Outcome struct {
	Bytes    []byte
	Quote    *SwapQuote
	NextStep *session.PendingStep
}

// HasTransaction 报告该轮是否产生了待签名载荷。
func (o Outcome) HasTransaction() bool {
	return len(o.Bytes) > 0
}

// 载荷优先级：同一轮内只允许一笔未签名交易在途，流程里逻辑更早的
// 步骤必须胜出，即使更晚的步骤在同一轮被预先构造了出来。
const (
	rankAssociation = iota
	rankApproval
	rankOther
)

// payloadClass 是按集成登记的载荷分类规则。operation 与 step 都是精确
// 匹配，规则之间互斥；多个集成同时命中时登记顺序靠前者优先。
type payloadClass struct {
	family    string
	operation string
	step      string
	rank      int
}

func defaultPayloadClasses() []payloadClass {
	return []payloadClass{
		{family: chain.IntegrationFamily, operation: chain.OpAssociateTokens, step: chain.StepTokenAssociation, rank: rankAssociation},
		{family: chain.IntegrationFamily, operation: chain.OpApproveAllowance, step: chain.StepTokenApproval, rank: rankApproval},
	}
}

// Interpreter 把一轮 Agent 回合产生的异构观察解释为统一结果。
type Interpreter struct {
	classes  []payloadClass
	steps    []stepRule
	registry *chain.TokenRegistry
	log      *slog.Logger
}

// New 创建解释器。registry 可为 nil，此时代币标识原样展示。
func New(registry *chain.TokenRegistry) *Interpreter {
	return &Interpreter{
		classes:  defaultPayloadClasses(),
		steps:    defaultStepRules(),
		registry: registry,
		log:      logger.Named("interpret"),
	}
}

// Interpret 解释一轮回合：提取至多一个签名载荷、至多一个询价、至多一个
// 后续步骤。坏观察一律跳过并记日志，绝不向调用方抛错。
func (i *Interpreter) Interpret(observations []agent.Observation) Outcome {
	outcome := Outcome{}

	if candidate := i.selectPayload(observations); candidate != nil {
		outcome.Bytes = candidate.Bytes
	}
	outcome.Quote = i.detectQuote(observations)
	outcome.NextStep = i.detectNextStep(observations)
	return outcome
}

// selectPayload 收集全部带非空载荷的候选并按固定优先级挑选。
func (i *Interpreter) selectPayload(observations []agent.Observation) *Candidate {
	var best *Candidate
	bestRank := rankOther + 1

	for idx, obs := range observations {
		payload, ok := decodePayload(obs["bytes"])
		if !ok {
			if _, present := obs["bytes"]; present {
				i.log.Warn("载荷无法解析，跳过该观察", slog.Int("index", idx))
			}
			continue
		}
		if len(payload) == 0 {
			continue
		}
		candidate := &Candidate{
			Bytes:     payload,
			Operation: obs.String("operation"),
			Step:      obs.String("step"),
		}
		rank := i.rankOf(obs.String("tool_type"), candidate)
		// 同级只保留最先出现的候选。
		if rank < bestRank {
			best = candidate
			bestRank = rank
		}
	}
	return best
}

func (i *Interpreter) rankOf(family string, candidate *Candidate) int {
	for _, class := range i.classes {
		if class.family != "" && family != "" && class.family != family {
			continue
		}
		if candidate.Operation == class.operation || candidate.Step == class.step {
			return class.rank
		}
	}
	return rankOther
}

// decodePayload 容忍集成之间的载荷表示差异：0x 十六进制、base64、原始
// 字节数组都可接受。
func decodePayload(raw any) ([]byte, bool) {
	switch value := raw.(type) {
	case nil:
		return nil, false
	case []byte:
		return value, true
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return nil, true
		}
		if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
			decoded, err := hex.DecodeString(trimmed[2:])
			if err != nil {
				return nil, false
			}
			return decoded, true
		}
		if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
			return decoded, true
		}
		return nil, false
	case []any:
		decoded := make([]byte, 0, len(value))
		for _, item := range value {
			number, ok := item.(float64)
			if !ok || number < 0 || number > 255 || number != float64(int(number)) {
				return nil, false
			}
			decoded = append(decoded, byte(number))
		}
		return decoded, true
	default:
		return nil, false
	}
}
