package control

import (
	"testing"
)

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("b", func() any { return "two" })
	dp.RegisterProbe("a", func() any { return 1 })
	dp.RegisterProbe("boom", func() any { panic("bad probe") })

	if names := dp.Names(); len(names) != 3 || names[0] != "a" || names[2] != "boom" {
		t.Errorf("names = %v", names)
	}
	state := dp.DumpState()
	if state["a"] != 1 || state["b"] != "two" {
		t.Errorf("state = %v", state)
	}
	if _, ok := state["boom"].(error); !ok {
		t.Errorf("panicking probe reported %v", state["boom"])
	}

	dp.UnregisterProbe("boom")
	if _, ok := dp.DumpState()["boom"]; ok {
		t.Error("probe still registered")
	}
}

func TestPlatformProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	state := dp.DumpState()
	if n, ok := state["platform.cpus"].(int); !ok || n < 1 {
		t.Errorf("platform.cpus = %v", state["platform.cpus"])
	}
	if n, ok := state["platform.goroutines"].(int); !ok || n < 1 {
		t.Errorf("platform.goroutines = %v", state["platform.goroutines"])
	}
}
