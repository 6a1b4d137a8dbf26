package jobtracker

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"shuttle/internal/collab"
	"shuttle/internal/config"
	"shuttle/internal/wire"
)

const pendingFinish wire.TaskState = "pending_finish"

// FinishMap reports the outcome of one map attempt (§4.3).
//
// A duplicate/retried FinishMap for the same (no, attempt) is rejected as
// soon as it's looked up, by flipping the ledger entry out of "running"
// before releasing allocMu the first time. This resolves spec §9's open
// question about the reduce-spawn race by construction: the report that
// observes completed == reduce_begin and triggers the reduce spawn can
// never have its own ledger entry retroactively coerced to canceled by a
// late duplicate of itself, because that duplicate is turned away up
// front. The spawn side effect is still never undone once triggered, even
// on later code paths that coerce *other* outcomes to canceled (see the
// redundant-completion case below).
func (jt *JobTracker) FinishMap(no, attempt int, state wire.TaskState, errMsg string, counters []wire.CounterKV) wire.Status {
	jt.allocMu.Lock()
	cur := jt.lookupRunning(jt.mapIndex, no, attempt)
	if cur == nil {
		jt.allocMu.Unlock()
		jt.logger.Warnf("finish map for unknown or non-running attempt %s", jt.describeAttempt(no, attempt))
		return wire.StatusNoMore
	}
	cur.State = pendingFinish
	jt.allocMu.Unlock()

	jt.logger.Infof("finish map %s state=%s", jt.describeAttempt(no, attempt), state)

	if state == wire.TaskMoveOutputFailed {
		if jt.mapManager.IsDone(no) {
			state = wire.TaskCanceled
		} else {
			state = wire.TaskFailed
		}
	}

	node := hostOf(cur.Endpoint)

	jt.mu.Lock()
	if state == wire.TaskFailed {
		if _, ignored := jt.ignoreFailureMappers[no]; ignored {
			jt.logger.Warnf("masking map %d as completed under the ignore budget", no)
			state = wire.TaskCompleted
			if jt.descriptor.JobType != config.MapOnlyJob {
				jt.mu.Unlock()
				ok := jt.fabricateEmptyShuffleFile(no)
				jt.mu.Lock()
				if !ok {
					state = wire.TaskFailed
				}
			}
		}
	}

	switch state {
	case wire.TaskCompleted:
		if !jt.mapManager.FinishItem(no) {
			jt.logger.Warnf("ignoring redundant completion of map %d", no)
			state = wire.TaskCanceled
			break
		}
		jt.accumulateCounters(counters)
		completed := jt.mapManager.Done()
		jt.logger.Infof("map progress %d/%d", completed, jt.mapManager.SumOfItem())

		if completed == jt.reduceBegin && jt.descriptor.JobType != config.MapOnlyJob && !jt.reduceSpawned {
			jt.reduceSpawned = true
			jt.mu.Unlock()
			if err := jt.spawnReduce(); err != nil {
				jt.logger.Warnf("reduce spawn failed: %v", err)
				jt.mu.Lock()
				jt.errorMsg = "failed to submit reduce worker group"
				jt.state = StateFailed
				jt.mu.Unlock()
				jt.master.RetractJob(jt.jobID, StateFailed)
			}
			jt.mu.Lock()
		}

		if completed == jt.mapManager.SumOfItem() {
			if jt.descriptor.JobType == config.MapOnlyJob {
				jt.logger.Info("map-only job finished")
				jt.state = StateCompleted
				jt.mu.Unlock()
				_ = jt.fs.Remove(jt.descriptor.Output + "/_temporary")
				jt.master.RetractJob(jt.jobID, StateCompleted)
				jt.mu.Lock()
			} else {
				jt.logger.Info("map phase ends, map workers torn down")
				jt.pruneMapFromHeap()
				// failedCount/failedNodes are keyed by "no" and shared across
				// both phases; reduce task numbers restart from 0 just like map
				// task numbers did, so the reduce phase must not inherit a map
				// task's failure history for the same no.
				jt.allocMu.Lock()
				jt.failedCount = make(map[int]int)
				jt.failedNodes = make(map[int]map[string]struct{})
				jt.allocMu.Unlock()
				if jt.mapHandle != "" {
					handle := jt.mapHandle
					jt.mapHandle = ""
					jt.mu.Unlock()
					_ = jt.cluster.Destroy(handle)
					jt.mu.Lock()
				}
			}
		}
	case wire.TaskFailed:
		jt.allocMu.Lock()
		jt.mapManager.ReturnBackItem(no)
		if jt.failedNodes[no] == nil {
			jt.failedNodes[no] = make(map[string]struct{})
		}
		if _, seen := jt.failedNodes[no][node]; !seen {
			jt.failedCount[no]++
			jt.failedNodes[no][node] = struct{}{}
		}
		jt.mapFailed++
		jt.allocMu.Unlock()
		if jt.failedCount[no] >= jt.descriptor.MapRetry {
			if jt.ignoredMapFailures < jt.descriptor.IgnoreMapFailures {
				jt.ignoreFailureMappers[no] = struct{}{}
				jt.ignoredMapFailures++
				jt.logger.Warnf("ignoring exhausted-retry failure of map %d", no)
			} else {
				jt.logger.Errorf("map %d exhausted retries, killing job: %s", no, errMsg)
				jt.errorMsg = errMsg
				jt.state = StateFailed
				jt.mu.Unlock()
				jt.master.RetractJob(jt.jobID, StateFailed)
				jt.mu.Lock()
			}
		}
	case wire.TaskKilled:
		jt.allocMu.Lock()
		jt.mapManager.ReturnBackItem(no)
		jt.mapKilled++
		jt.allocMu.Unlock()
	case wire.TaskCanceled:
		if !jt.mapManager.IsDone(no) {
			jt.mapManager.ReturnBackItem(no)
		}
	default:
		jt.mu.Unlock()
		jt.logger.Warnf("unfamiliar finish state for map %d: %s", no, state)
		return wire.StatusNoMore
	}
	jt.mu.Unlock()

	jt.allocMu.Lock()
	cur.State = state
	cur.Period = time.Since(cur.AllocTime)
	if state == wire.TaskCompleted {
		jt.mapPeriods = appendSample(jt.mapPeriods, cur.Period)
	}
	if jt.descriptor.MapAllowDuplicates && (state == wire.TaskKilled || state == wire.TaskFailed) {
		jt.mapSlug = append(jt.mapSlug, no)
	}
	jt.allocMu.Unlock()

	if state == wire.TaskCompleted && jt.descriptor.MapAllowDuplicates {
		jt.cancelOtherAttempts(jt.mapIndex, no, attempt, true)
	}
	return wire.StatusOK
}

// lookupRunning returns the ledger entry for (no, attempt) if it exists and
// is currently running. Caller holds allocMu.
func (jt *JobTracker) lookupRunning(index map[int]map[int]*AllocateItem, no, attempt int) *AllocateItem {
	attempts, ok := index[no]
	if !ok {
		return nil
	}
	cur, ok := attempts[attempt]
	if !ok || cur.State != wire.TaskRunning {
		return nil
	}
	return cur
}

// cancelOtherAttempts marks every other attempt of no canceled and fires an
// asynchronous, best-effort CancelTask RPC at its worker (§4.3 step 6, §5
// "fire-and-forget"). No result is joined; errors are logged only.
func (jt *JobTracker) cancelOtherAttempts(index map[int]map[int]*AllocateItem, no, attempt int, isMap bool) {
	jt.allocMu.Lock()
	attempts, ok := index[no]
	if !ok {
		jt.allocMu.Unlock()
		return
	}
	var toCancel []*AllocateItem
	for id, candidate := range attempts {
		if id == attempt {
			continue
		}
		candidate.State = wire.TaskCanceled
		candidate.Period = time.Since(candidate.AllocTime)
		toCancel = append(toCancel, candidate)
	}
	jt.allocMu.Unlock()

	for _, candidate := range toCancel {
		candidate := candidate
		go func() {
			kind := "reduce"
			if isMap {
				kind = "map"
			}
			args := wire.CancelTaskArgs{JobID: jt.jobID, TaskID: no, AttemptID: candidate.Attempt}
			jt.logger.Infof("cancel %s task %s on %s", kind, jt.describeAttempt(no, candidate.Attempt), candidate.Endpoint)

			var err error
			for attempt := 0; attempt < 2; attempt++ {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_, err = jt.client.CancelTask(ctx, candidate.Endpoint, args)
				cancel()
				if err == nil {
					return
				}
			}
			jt.logger.Warnf("cancel %s task %s failed (best-effort): %v", kind, jt.describeAttempt(no, candidate.Attempt), err)
		}()
	}
}

// pruneMapFromHeap removes every map-phase entry from the time heap once
// all maps are done, leaving only reduce entries for the monitor to watch.
// Caller holds mu; acquires allocMu internally.
func (jt *JobTracker) pruneMapFromHeap() {
	jt.allocMu.Lock()
	defer jt.allocMu.Unlock()
	kept := jt.timeHeap[:0]
	for _, item := range jt.timeHeap {
		if !item.IsMap {
			kept = append(kept, item)
		}
	}
	jt.timeHeap = kept
	heap.Init(&jt.timeHeap)
}

func (jt *JobTracker) fabricateEmptyShuffleFile(no int) bool {
	w := jt.sortFile()
	path := fmt.Sprintf("%s/_temporary/shuffle/map_%d/0.sort", jt.descriptor.Output, no)
	if err := w.Open(path); err != nil {
		jt.logger.Warnf("fabricating empty shuffle file %s failed: %v", path, err)
		return false
	}
	if err := w.Close(); err != nil {
		jt.logger.Warnf("closing fabricated shuffle file %s failed: %v", path, err)
		return false
	}
	return true
}

// spawnReduce submits the reduce worker group through the cluster backend.
// Caller must not hold mu.
func (jt *JobTracker) spawnReduce() error {
	jt.mu.Lock()
	priority := jt.descriptor.Priority
	capacity := jt.descriptor.ReduceCapacity
	step := jt.runtime.GalaxyDeployStep
	jt.mu.Unlock()

	handle, err := jt.cluster.Submit(collab.WorkerGroupSpec{
		JobID:      jt.jobID,
		Name:       jt.descriptor.Name,
		IsMap:      false,
		Capacity:   capacity,
		Priority:   collab.ParsePriority(priority),
		DeployStep: step,
	})
	if err != nil {
		return err
	}
	jt.mu.Lock()
	jt.reduceHandle = handle
	jt.mu.Unlock()
	return nil
}
