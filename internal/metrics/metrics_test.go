package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncRateLimitDrop(t *testing.T) {
	// 重置全局状态
	rl = rateLimitStats{}

	tests := []struct {
		name   string
		prefix string
	}{
		{name: "increment with prefix", prefix: "test"},
		{name: "increment with empty prefix (defaults to global)", prefix: ""},
		{name: "increment global", prefix: "global"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initialTotal, _ := RateLimitSnapshot()

			IncRateLimitDrop(tt.prefix)

			newTotal, byPrefix := RateLimitSnapshot()
			if newTotal != initialTotal+1 {
				t.Errorf("total = %d, want %d", newTotal, initialTotal+1)
			}
			expectedPrefix := tt.prefix
			if expectedPrefix == "" {
				expectedPrefix = "global"
			}
			if byPrefix[expectedPrefix] == 0 {
				t.Errorf("prefix %s not incremented", expectedPrefix)
			}
		})
	}
}

func TestIncRateLimitDrop_Concurrent(t *testing.T) {
	rl = rateLimitStats{}

	const goroutines = 50
	const incrementsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < incrementsPerGoroutine; j++ {
				IncRateLimitDrop("concurrent")
			}
		}()
	}
	wg.Wait()

	total, byPrefix := RateLimitSnapshot()
	expectedTotal := uint64(goroutines * incrementsPerGoroutine)
	if total != expectedTotal {
		t.Errorf("total = %d, want %d", total, expectedTotal)
	}
	if byPrefix["concurrent"] != expectedTotal {
		t.Errorf("concurrent prefix = %d, want %d", byPrefix["concurrent"], expectedTotal)
	}
}

func TestRateLimitSnapshot_Isolation(t *testing.T) {
	rl = rateLimitStats{}

	IncRateLimitDrop("test")
	_, snap := RateLimitSnapshot()
	snap["test"] = 100

	_, again := RateLimitSnapshot()
	if again["test"] != 1 {
		t.Errorf("snapshot should be a copy, got %d", again["test"])
	}
}

func TestObserveTriggerRun(t *testing.T) {
	before := testutil.ToFloat64(triggerRuns.WithLabelValues("skipped"))
	ObserveTriggerRun("skipped", 5*time.Millisecond)
	after := testutil.ToFloat64(triggerRuns.WithLabelValues("skipped"))
	if after != before+1 {
		t.Errorf("skipped runs = %v, want %v", after, before+1)
	}
}

func TestIncActionResult(t *testing.T) {
	before := testutil.ToFloat64(actionResults.WithLabelValues("webhook", "false"))
	IncActionResult("webhook", false)
	if got := testutil.ToFloat64(actionResults.WithLabelValues("webhook", "false")); got != before+1 {
		t.Errorf("webhook failures = %v, want %v", got, before+1)
	}
}

func TestRegister_OnlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	// a second call must not panic on duplicate registration
	Register(reg)
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
