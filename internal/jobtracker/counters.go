package jobtracker

import "shuttle/internal/wire"

// accumulateCounters folds one attempt's reported counters into the job
// total, capped at runtime.MaxCountersPerJob distinct names. Once the
// cap is hit, new counter names are dropped and a single warning is logged
// for the job; counters already tracked keep accumulating. Caller holds mu.
func (jt *JobTracker) accumulateCounters(counters []wire.CounterKV) {
	for _, kv := range counters {
		if _, tracked := jt.counters[kv.Name]; !tracked {
			if len(jt.counters) >= jt.runtime.MaxCountersPerJob {
				if !jt.countersOverflowed {
					jt.countersOverflowed = true
					jt.logger.Warnf("job counters exceed the %d distinct-name cap, dropping %q and further new names", jt.runtime.MaxCountersPerJob, kv.Name)
				}
				continue
			}
		}
		jt.counters[kv.Name] += kv.Value
	}
}

// Counters returns a snapshot of the job's accumulated counters.
func (jt *JobTracker) Counters() []wire.CounterKV {
	jt.mu.Lock()
	defer jt.mu.Unlock()
	out := make([]wire.CounterKV, 0, len(jt.counters))
	for name, value := range jt.counters {
		out = append(out, wire.CounterKV{Name: name, Value: value})
	}
	return out
}
