package runctx

import (
	"sync"
	"testing"

	"scratchpad.local/agent-gateway/internal/model"
)

func TestParseCapabilitiesEmptyEnablesAll(t *testing.T) {
	if got := ParseCapabilities(nil); got != AllCapabilities() {
		t.Fatalf("empty list should enable everything, got %+v", got)
	}
}

func TestParseCapabilitiesIgnoresUnknownNames(t *testing.T) {
	got := ParseCapabilities([]string{"Views", " filters ", "telepathy"})
	want := Capabilities{Views: true, Filters: true}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAddUsageConcurrent(t *testing.T) {
	rc := &Context{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc.AddUsage(model.Usage{Requests: 1, RequestTokens: 10, ResponseTokens: 5, TotalTokens: 15})
		}()
	}
	wg.Wait()

	total := rc.Usage()
	if total.Requests != 20 || total.TotalTokens != 300 {
		t.Fatalf("unexpected total %+v", total)
	}
}
