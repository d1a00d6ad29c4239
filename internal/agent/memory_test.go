package agent

import "testing"

func TestMemoryWindowEviction(t *testing.T) {
	mem := NewMemory(2)
	mem.Append("一", "回复一")
	mem.Append("二", "回复二")
	mem.Append("三", "回复三")

	window := mem.Window()
	if len(window) != 2 {
		t.Fatalf("窗口大小不对: %d", len(window))
	}
	if window[0].Instruction != "二" || window[1].Instruction != "三" {
		t.Fatalf("应淘汰最旧的记录: %+v", window)
	}
	if mem.Len() != 2 {
		t.Fatalf("轮数不对: %d", mem.Len())
	}
}

func TestMemoryDefaultDepth(t *testing.T) {
	mem := NewMemory(0)
	for i := 0; i < defaultMemoryDepth+5; i++ {
		mem.Append("指令", "回复")
	}
	if mem.Len() != defaultMemoryDepth {
		t.Fatalf("缺省深度不对: %d", mem.Len())
	}
}

func TestMemoryWindowIsCopy(t *testing.T) {
	mem := NewMemory(4)
	mem.Append("指令", "回复")

	window := mem.Window()
	window[0].Reply = "被篡改"
	if mem.Window()[0].Reply != "回复" {
		t.Fatal("窗口应返回副本")
	}
}

func TestMemoryResetAndNil(t *testing.T) {
	mem := NewMemory(4)
	mem.Append("指令", "回复")
	mem.Reset()
	if mem.Len() != 0 {
		t.Fatalf("清空后轮数不对: %d", mem.Len())
	}

	var nilMem *Memory
	nilMem.Append("指令", "回复")
	nilMem.Reset()
	if nilMem.Len() != 0 || nilMem.Window() != nil {
		t.Fatal("nil 记忆的操作应为空操作")
	}
}

func TestObservationAccessors(t *testing.T) {
	obs := Observation{
		"text":   "hello",
		"flag":   true,
		"nested": map[string]any{"k": "v"},
		"number": 42,
	}
	if obs.String("text") != "hello" || obs.String("number") != "" || obs.String("missing") != "" {
		t.Fatal("String 取值不对")
	}
	if !obs.Bool("flag") || obs.Bool("text") {
		t.Fatal("Bool 取值不对")
	}
	if obs.Map("nested")["k"] != "v" || obs.Map("text") != nil {
		t.Fatal("Map 取值不对")
	}

	var nilObs Observation
	if nilObs.String("k") != "" || nilObs.Bool("k") || nilObs.Map("k") != nil {
		t.Fatal("nil 观察的取值应为零值")
	}
}
