package events

import (
	"context"
	"errors"
	"time"

	xerrors "ChainFlow-Gateway/internal/errors"
)

// Stage 表示交易在生命周期中的阶段。
type Stage string

const (
	// StageEmitted 表示签名载荷已下发给钱包。
	StageEmitted Stage = "emitted"
	// StageConfirmed 表示钱包回报签名并广播成功。
	StageConfirmed Stage = "confirmed"
	// StageFailed 表示签名被拒绝或广播失败。
	StageFailed Stage = "failed"
)

// Event 描述一次交易生命周期事件，供审计与下游系统消费。
type Event struct {
	ID            string    `json:"id"`
	ConnectionID  string    `json:"connection_id"`
	AccountID     string    `json:"account_id"`
	Operation     string    `json:"operation,omitempty"`
	Step          string    `json:"step,omitempty"`
	Stage         Stage     `json:"stage"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher 负责对外发布事件。实现必须对并发调用安全。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Fanout 把事件广播给多个发布器，单个发布器失败不影响其余。
type Fanout struct {
	publishers []Publisher
}

// NewFanout 创建广播发布器，nil 成员会被忽略。
func NewFanout(publishers ...Publisher) *Fanout {
	kept := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Fanout{publishers: kept}
}

// Publish 广播事件并聚合所有错误。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, xerrors.Wrap(xerrors.CodePublishFailure, err, "发布事件失败"))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Close 关闭所有下游发布器。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Publisher = (*Fanout)(nil)
