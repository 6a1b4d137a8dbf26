package jobtracker

import (
	"testing"

	"shuttle/internal/config"
	"shuttle/internal/wire"
)

func TestAccumulateCountersCapsDistinctNames(t *testing.T) {
	runtime := testRuntime()
	runtime.MaxCountersPerJob = 2
	jt, _, _, _ := newTestTracker(config.JobDescriptor{Name: "counters"}, runtime)

	jt.accumulateCounters([]wire.CounterKV{{Name: "a", Value: 1}, {Name: "b", Value: 2}})
	jt.accumulateCounters([]wire.CounterKV{{Name: "a", Value: 1}, {Name: "c", Value: 5}})

	got := map[string]int64{}
	for _, kv := range jt.Counters() {
		got[kv.Name] = kv.Value
	}
	if len(got) != 2 {
		t.Fatalf("expected the distinct-name cap to hold at 2, got %v", got)
	}
	if got["a"] != 2 {
		t.Fatalf("counter 'a' already tracked should keep accumulating, got %d", got["a"])
	}
	if _, ok := got["c"]; ok {
		t.Fatal("a new counter name past the cap should be dropped")
	}
	if !jt.countersOverflowed {
		t.Fatal("countersOverflowed should be set once the cap is hit")
	}
}
