package jobtracker

import (
	"container/heap"
	"context"
	"math/rand"
	"sort"
	"time"

	"shuttle/internal/wire"
)

// maxPeriodSamples bounds the completed-duration history the monitor
// medians over; old samples age out FIFO once a phase has run long enough
// to have collected this many.
const maxPeriodSamples = 256

// staleQueryRoll is the "need_random_query" 30% roll judgeStaleAttempt uses
// to occasionally confirm liveness even when nothing else demands it.
// Replaced in tests that need to pin the roll one way or the other.
var staleQueryRoll = func() bool { return rand.Intn(10) < 3 }

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	samples = append(samples, d)
	if len(samples) > maxPeriodSamples {
		samples = samples[len(samples)-maxPeriodSamples:]
	}
	return samples
}

func median(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	cp := make([]time.Duration, len(samples))
	copy(cp, samples)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	return cp[len(cp)/2]
}

// runMonitor is the per-phase timeout watchdog started lazily once a phase
// enters its end game (§4.4 KeepMonitoring). It wakes on a schedule derived
// from the observed median attempt duration, occasionally confirms a
// sampled still-running attempt with a Query RPC, and reallocates any
// attempt that has run far past the job's own historical median. It exits
// once the job leaves StateRunning or its context is canceled.
func (jt *JobTracker) runMonitor(isMap bool) {
	jt.logger.Infof("monitor started (map=%v)", isMap)
	for {
		jt.mu.Lock()
		running := jt.state == StateRunning
		jt.mu.Unlock()
		if !running {
			jt.logger.Infof("monitor exiting, job no longer running (map=%v)", isMap)
			return
		}

		timeout := jt.phaseTimeout(isMap)
		sleep := jt.runtime.TimeTolerance
		if timeout > 0 && timeout < sleep {
			sleep = timeout
		}
		if timeout <= 0 || sleep <= 0 {
			sleep = jt.runtime.FirstSleepTime
		}

		timer := time.NewTimer(sleep)
		select {
		case <-jt.ctx.Done():
			timer.Stop()
			jt.logger.Infof("monitor canceled (map=%v)", isMap)
			return
		case <-timer.C:
		}

		jt.sweepStale(isMap, sleep, timeout)
	}
}

// phaseTimeout is 1.2x the median duration of attempts already completed in
// this phase, or 0 if no sample exists yet (the caller then falls back to
// FirstSleepTime).
func (jt *JobTracker) phaseTimeout(isMap bool) time.Duration {
	jt.allocMu.Lock()
	var samples []time.Duration
	if isMap {
		samples = jt.mapPeriods
	} else {
		samples = jt.reducePeriods
	}
	m := median(samples)
	jt.allocMu.Unlock()
	if m == 0 {
		return 0
	}
	return time.Duration(float64(m) * 1.2)
}

// sweepStale drains up to 10 entries off the front of the phase's time
// heap (the oldest-allocated attempts). sleepTime is the conservative bound
// used to decide whether an entry is worth looking at at all (popping stops
// as soon as an entry hasn't even reached it); timeout, the stricter
// median-based bound, is forwarded to judgeStaleAttempt to decide whether an
// entry that cleared sleepTime but not yet timeout needs to be confirmed
// alive before being declared dead.
func (jt *JobTracker) sweepStale(isMap bool, sleepTime, timeout time.Duration) {
	const drainBudget = 10
	var candidates []*AllocateItem

	jt.allocMu.Lock()
	for i := 0; i < drainBudget && jt.timeHeap.Len() > 0; i++ {
		top := jt.timeHeap[0]
		if top.IsMap != isMap {
			// Root belongs to the other phase; stop rather than pop past it,
			// since popping would lose it from that phase's own monitor.
			break
		}
		if top.State != wire.TaskRunning {
			heap.Pop(&jt.timeHeap)
			continue
		}
		if sleepTime > 0 && time.Since(top.AllocTime) < sleepTime {
			break
		}
		heap.Pop(&jt.timeHeap)
		candidates = append(candidates, top)
	}
	jt.allocMu.Unlock()

	for _, alloc := range candidates {
		jt.judgeStaleAttempt(alloc, isMap, timeout)
	}
}

// judgeStaleAttempt decides whether one overdue attempt is still alive, and
// if not, cancels and reallocates it (§4.4).
//
// A Query is sent to confirm liveness whenever any of: duplicates are
// disallowed for this phase (there is no speculative copy to fall back on,
// so a wrong kill is irreversible), the attempt hasn't yet cleared the full
// median-based timeout (only the conservative sleep bound), or a random 30%
// roll asks for one anyway. A reply only vouches for the attempt if it
// names this exact (job, resource, attempt) triple; a reply about some
// other task the worker happens to be busy with does not count.
func (jt *JobTracker) judgeStaleAttempt(alloc *AllocateItem, isMap bool, timeout time.Duration) {
	allowDuplicates := jt.descriptor.MapAllowDuplicates
	if !isMap {
		allowDuplicates = jt.descriptor.ReduceAllowDuplicates
	}
	notAllowDuplicates := !allowDuplicates
	needRandomQuery := staleQueryRoll()
	elapsed := time.Since(alloc.AllocTime)

	killed := false
	if notAllowDuplicates || elapsed < timeout || needRandomQuery {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		reply, err := jt.client.Query(ctx, alloc.Endpoint, wire.QueryArgs{Detail: false})
		cancel()
		if err == nil && !reply.Empty && reply.JobID == jt.jobID &&
			reply.TaskID == alloc.ResourceNo && reply.AttemptID == alloc.Attempt {
			jt.allocMu.Lock()
			alloc.AllocTime = time.Now()
			jt.pushHeap(alloc)
			jt.allocMu.Unlock()
			return
		}
		if err != nil {
			jt.logger.Warnf("query %s at %s failed: %v", jt.describeAttempt(alloc.ResourceNo, alloc.Attempt), alloc.Endpoint, err)
		}

		jt.allocMu.Lock()
		if alloc.State == wire.TaskRunning {
			alloc.State = wire.TaskKilled
			alloc.Period = time.Since(alloc.AllocTime)
			if isMap {
				jt.mapKilled++
			} else {
				jt.reduceKilled++
			}
			killed = true
		}
		jt.allocMu.Unlock()
	}

	mgr, index := jt.mapManager, jt.mapIndex
	slug := &jt.mapSlug
	if !isMap {
		mgr, index = jt.reduceManager, jt.reduceIndex
		slug = &jt.reduceSlug
	}

	jt.allocMu.Lock()
	attempts := len(index[alloc.ResourceNo])
	stillRunning := alloc.State == wire.TaskRunning
	slugLen := len(*slug)
	jt.allocMu.Unlock()

	// Escalation: near the retry cap, an attempt that's still reported
	// running is always re-queued onto the time heap for another
	// monitoring cycle. Whether it's *also* pushed onto the slug queue for
	// reallocation depends on the backlog: once the slug queue has already
	// outgrown the number of distinct items ever allocated, skip the push
	// and let the still-running attempt ride alone rather than grow the
	// backlog further; otherwise fall through and push it anyway, giving
	// this resource a speculative second copy (§4.4).
	if attempts >= jt.runtime.ParallelAttempts-1 && stillRunning {
		jt.allocMu.Lock()
		jt.pushHeap(alloc)
		jt.allocMu.Unlock()
		if slugLen > len(index) {
			jt.logger.Warnf("%s near parallel_attempts cap, backlog already oversized, deferring reallocation", jt.describeAttempt(alloc.ResourceNo, alloc.Attempt))
			return
		}
	}

	jt.logger.Warnf("attempt %s on %s timed out, reallocating", jt.describeAttempt(alloc.ResourceNo, alloc.Attempt), alloc.Endpoint)

	if killed && !mgr.IsDone(alloc.ResourceNo) {
		mgr.ReturnBackItem(alloc.ResourceNo)
	}

	jt.allocMu.Lock()
	*slug = append(*slug, alloc.ResourceNo)
	jt.allocMu.Unlock()
}
