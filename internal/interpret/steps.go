package interpret

import (
	"log/slog"
	"strings"

	"ChainFlow-Gateway/internal/agent"
	"ChainFlow-Gateway/internal/chain"
	"ChainFlow-Gateway/internal/session"
)

// stepRule 描述某个集成家族内 "当前步骤/操作 → 下一步" 的前驱关系。
// 集成之间没有共享模式，新集成通过追加表行接入，而不是延长分支链。
type stepRule struct {
	family        string
	fromStep      string
	fromOperation string
	toStep        string
	instruction   string
}

func defaultStepRules() []stepRule {
	return []stepRule{
		{
			family:        chain.IntegrationFamily,
			fromStep:      chain.StepTokenAssociation,
			fromOperation: chain.OpAssociateTokens,
			toStep:        chain.StepTokenApproval,
			instruction:   "The token association transaction was signed and confirmed. Now approve the staking contract allowance using the original parameters.",
		},
		{
			family:        chain.IntegrationFamily,
			fromStep:      chain.StepTokenApproval,
			fromOperation: chain.OpApproveAllowance,
			toStep:        chain.StepStake,
			instruction:   "The allowance approval was signed and confirmed. Now execute the stake deposit using the original parameters.",
		},
	}
}

// detectNextStep 扫描全轮观察并提取至多一个后续步骤。两种检测模式：
// 显式（观察自带 next_step）与推断（步骤/操作命中前驱状态表）。多条
// 观察都给出后续步骤时，更晚、更具体的匹配胜出；显式比推断更具体。
func (i *Interpreter) detectNextStep(observations []agent.Observation) *session.PendingStep {
	var inferred *session.PendingStep
	var explicit *session.PendingStep

	for idx, obs := range observations {
		if obs == nil {
			continue
		}
		family := obs.String("tool_type")
		operation := obs.String("operation")
		step := obs.String("step")

		if next := strings.TrimSpace(firstString(obs, "next_step", "nextStep")); next != "" {
			explicit = &session.PendingStep{
				Tool:           family,
				Operation:      operation,
				Step:           next,
				OriginalParams: obs.Map("original_params"),
				Instructions:   obs.String("instructions"),
			}
			continue
		}

		rule, ok := i.matchStepRule(family, step, operation)
		if !ok {
			continue
		}
		instructions := obs.String("instructions")
		if instructions == "" {
			instructions = rule.instruction
		}
		inferred = &session.PendingStep{
			Tool:           family,
			Operation:      operation,
			Step:           rule.toStep,
			OriginalParams: obs.Map("original_params"),
			Instructions:   instructions,
		}
		i.log.Debug("按前驱状态表推断后续步骤",
			slog.Int("index", idx),
			slog.String("from_step", step),
			slog.String("to_step", rule.toStep),
		)
	}

	if explicit != nil {
		return explicit
	}
	return inferred
}

func (i *Interpreter) matchStepRule(family, step, operation string) (stepRule, bool) {
	for _, rule := range i.steps {
		if rule.family != "" && family != "" && rule.family != family {
			continue
		}
		if rule.fromStep == step && rule.fromOperation == operation {
			return rule, true
		}
	}
	return stepRule{}, false
}

func firstString(obs agent.Observation, keys ...string) string {
	for _, key := range keys {
		if value := obs.String(key); value != "" {
			return value
		}
	}
	return ""
}
