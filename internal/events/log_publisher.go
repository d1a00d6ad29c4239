package events

import (
	"context"
	"log/slog"

	"ChainFlow-Gateway/pkg/logger"
)

// LogPublisher 把事件写入审计日志，是缺省的事件出口。
type LogPublisher struct{}

// NewLogPublisher 创建审计日志发布器。
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// Publish 以结构化字段落审计日志。
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	logger.Audit().Info("交易生命周期事件",
		slog.String("event_id", event.ID),
		slog.String("conn_id", event.ConnectionID),
		slog.String("account_id", event.AccountID),
		slog.String("operation", event.Operation),
		slog.String("step", event.Step),
		slog.String("stage", string(event.Stage)),
		slog.String("transaction_id", event.TransactionID),
		slog.String("detail", event.Detail),
		slog.Time("occurred_at", event.OccurredAt),
	)
	return nil
}

// Close 对日志发布器无需操作。
func (p *LogPublisher) Close() error { return nil }

var _ Publisher = (*LogPublisher)(nil)
