package session

import (
	"testing"
)

func TestCreateValidation(t *testing.T) {
	store := NewStore(10)

	if _, err := store.Create("", "0.0.1001"); err == nil {
		t.Fatal("空连接标识应报错")
	}
	if _, err := store.Create("conn-1", "  "); err == nil {
		t.Fatal("空账户标识应报错")
	}

	conn, err := store.Create("conn-1", "0.0.1001")
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	if conn.AccountID != "0.0.1001" || conn.Memory == nil {
		t.Fatalf("会话字段不完整: %+v", conn)
	}
	if store.Len() != 1 {
		t.Fatalf("会话数量不对: %d", store.Len())
	}
}

func TestCreateReplacesExistingSession(t *testing.T) {
	store := NewStore(10)

	first, err := store.Create("conn-1", "0.0.1001")
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	first.SetPendingStep(&PendingStep{Tool: "defi", Step: "token_approval"})
	first.Memory.Append("质押 50", "好的")

	second, err := store.Create("conn-1", "0.0.2002")
	if err != nil {
		t.Fatalf("重建会话失败: %v", err)
	}
	if second == first {
		t.Fatal("重复认证必须整体替换会话记录")
	}
	if second.PendingStep() != nil {
		t.Fatal("新会话不应继承旧的待执行步骤")
	}
	if second.Memory.Len() != 0 {
		t.Fatalf("新会话记忆应为空, 实际 %d", second.Memory.Len())
	}
	// 旧记录同时被清理，避免状态跨身份泄漏。
	if first.PendingStep() != nil || first.Memory.Len() != 0 {
		t.Fatal("旧会话状态应被丢弃")
	}
	if store.Len() != 1 {
		t.Fatalf("会话数量不对: %d", store.Len())
	}
}

func TestDestroy(t *testing.T) {
	store := NewStore(10)

	// 对不存在的连接销毁是无害空操作。
	store.Destroy("missing")

	conn, err := store.Create("conn-1", "0.0.1001")
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	conn.SetPendingStep(&PendingStep{Tool: "defi", Step: "stake"})
	conn.Memory.Append("质押", "好的")

	store.Destroy("conn-1")
	if _, ok := store.Get("conn-1"); ok {
		t.Fatal("销毁后仍能查到会话")
	}
	if conn.PendingStep() != nil || conn.Memory.Len() != 0 {
		t.Fatal("销毁应清理待执行步骤与会话记忆")
	}
	if store.Len() != 0 {
		t.Fatalf("会话数量不对: %d", store.Len())
	}
}

func TestPendingStepAtMostOne(t *testing.T) {
	conn := &Connection{ID: "conn-1", AccountID: "0.0.1001"}

	conn.SetPendingStep(&PendingStep{Tool: "defi", Step: "token_approval"})
	conn.SetPendingStep(&PendingStep{Tool: "defi", Step: "stake"})

	step := conn.PendingStep()
	if step == nil || step.Step != "stake" {
		t.Fatalf("后写入的步骤应取代旧值, 实际 %+v", step)
	}

	taken := conn.TakePendingStep()
	if taken == nil || taken.Step != "stake" {
		t.Fatalf("取出的步骤不对: %+v", taken)
	}
	if conn.PendingStep() != nil {
		t.Fatal("取出后步骤应被清空")
	}
	if conn.TakePendingStep() != nil {
		t.Fatal("重复取出应得到 nil")
	}
}

func TestPendingStepCloneIsolation(t *testing.T) {
	original := &PendingStep{
		Tool:           "defi",
		Operation:      "approve_allowance",
		Step:           "token_approval",
		OriginalParams: map[string]any{"amount": 50.0},
	}
	conn := &Connection{ID: "conn-1"}
	conn.SetPendingStep(original)

	// 写入后修改原对象不应影响存储的副本。
	original.OriginalParams["amount"] = 999.0
	stored := conn.PendingStep()
	if stored.OriginalParams["amount"] != 50.0 {
		t.Fatalf("存储步骤被外部修改污染: %+v", stored.OriginalParams)
	}

	// 读出的副本同样与存储隔离。
	stored.OriginalParams["amount"] = 1.0
	if again := conn.PendingStep(); again.OriginalParams["amount"] != 50.0 {
		t.Fatalf("读出副本与存储未隔离: %+v", again.OriginalParams)
	}

	var nilStep *PendingStep
	if nilStep.Clone() != nil {
		t.Fatal("nil 步骤的拷贝应为 nil")
	}
}
