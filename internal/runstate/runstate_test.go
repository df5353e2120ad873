package runstate

import "testing"

func TestRegistryLifecycle(t *testing.T) {
	registry := NewRegistry()
	registry.Register("task_1")

	state, ok := registry.RunState("task_1")
	if !ok || state != Pending {
		t.Fatalf("expected pending, got %q ok=%v", state, ok)
	}
	if registry.IsStopInitiated("task_1") {
		t.Fatal("stop must not be set on registration")
	}

	registry.UpdateRunState("task_1", StreamingModel)
	if state, _ := registry.RunState("task_1"); state != StreamingModel {
		t.Fatalf("expected streaming_model, got %q", state)
	}

	if !registry.Cancel("task_1") {
		t.Fatal("cancel of known task should succeed")
	}
	if !registry.IsStopInitiated("task_1") {
		t.Fatal("stop flag missing after cancel")
	}

	registry.Delete("task_1")
	if _, ok := registry.RunState("task_1"); ok {
		t.Fatal("deleted task should be gone")
	}
}

func TestCancelUnknownTask(t *testing.T) {
	registry := NewRegistry()
	if registry.Cancel("missing") {
		t.Fatal("cancel of unknown task must return false")
	}
	if registry.IsStopInitiated("missing") {
		t.Fatal("unknown task is never stop-initiated")
	}
}
