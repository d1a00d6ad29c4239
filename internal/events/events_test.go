package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingPublisher struct {
	err    error
	closed bool
}

func (p *failingPublisher) Publish(context.Context, Event) error { return p.err }
func (p *failingPublisher) Close() error {
	p.closed = true
	return p.err
}

func TestFanoutBroadcastsToAll(t *testing.T) {
	first := NewMemoryPublisher()
	second := NewMemoryPublisher()
	fanout := NewFanout(first, nil, second)

	event := Event{
		ID:           "evt-1",
		ConnectionID: "conn-1",
		AccountID:    "0.0.1001",
		Stage:        StageEmitted,
		OccurredAt:   time.Now(),
	}
	if err := fanout.Publish(context.Background(), event); err != nil {
		t.Fatalf("广播失败: %v", err)
	}
	if len(first.Events()) != 1 || len(second.Events()) != 1 {
		t.Fatal("事件未广播到全部发布器")
	}
	if first.Events()[0].Stage != StageEmitted {
		t.Fatalf("事件内容不对: %+v", first.Events()[0])
	}
}

func TestFanoutAggregatesErrors(t *testing.T) {
	sink := NewMemoryPublisher()
	broken := &failingPublisher{err: errors.New("amqp down")}
	fanout := NewFanout(broken, sink)

	err := fanout.Publish(context.Background(), Event{ID: "evt-1", Stage: StageFailed})
	if err == nil {
		t.Fatal("下游失败应向上汇报")
	}
	// 单个发布器失败不影响其余成员。
	if len(sink.Events()) != 1 {
		t.Fatal("健康的发布器仍应收到事件")
	}
}

func TestFanoutClose(t *testing.T) {
	broken := &failingPublisher{err: errors.New("close failed")}
	healthy := &failingPublisher{}
	fanout := NewFanout(broken, healthy)

	if err := fanout.Close(); err == nil {
		t.Fatal("关闭失败应向上汇报")
	}
	if !broken.closed || !healthy.closed {
		t.Fatal("所有发布器都应被关闭")
	}

	var nilFanout *Fanout
	if err := nilFanout.Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("nil 广播器应为空操作: %v", err)
	}
	if err := nilFanout.Close(); err != nil {
		t.Fatalf("nil 广播器关闭应为空操作: %v", err)
	}
}

func TestMemoryPublisherSnapshot(t *testing.T) {
	sink := NewMemoryPublisher()
	_ = sink.Publish(context.Background(), Event{ID: "evt-1"})

	snapshot := sink.Events()
	snapshot[0].ID = "被篡改"
	if sink.Events()[0].ID != "evt-1" {
		t.Fatal("Events 应返回副本")
	}
}
