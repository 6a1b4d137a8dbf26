package jobtracker

import (
	"time"

	"shuttle/internal/wire"
)

// FinishReduce is FinishMap's counterpart for reduce attempts (§4.3). There
// is no reduce-side equivalent of the map's end-of-phase worker teardown
// gate: the job itself ends here instead of handing off to a second phase.
func (jt *JobTracker) FinishReduce(no, attempt int, state wire.TaskState, errMsg string, counters []wire.CounterKV) wire.Status {
	if jt.mapManager.Done() < jt.mapManager.SumOfItem() && state != wire.TaskKilled {
		return wire.StatusSuspend
	}

	jt.allocMu.Lock()
	cur := jt.lookupRunning(jt.reduceIndex, no, attempt)
	if cur == nil {
		jt.allocMu.Unlock()
		jt.logger.Warnf("finish reduce for unknown or non-running attempt %s", jt.describeAttempt(no, attempt))
		return wire.StatusNoMore
	}
	cur.State = pendingFinish
	jt.allocMu.Unlock()

	jt.logger.Infof("finish reduce %s state=%s", jt.describeAttempt(no, attempt), state)

	if state == wire.TaskMoveOutputFailed {
		if jt.reduceManager.IsDone(no) {
			state = wire.TaskCanceled
		} else {
			state = wire.TaskFailed
		}
	}

	node := hostOf(cur.Endpoint)

	jt.mu.Lock()
	if state == wire.TaskFailed {
		if _, ignored := jt.ignoreFailureReducers[no]; ignored {
			jt.logger.Warnf("masking reduce %d as completed under the ignore budget", no)
			state = wire.TaskCompleted
		}
	}

	switch state {
	case wire.TaskCompleted:
		if !jt.reduceManager.FinishItem(no) {
			jt.logger.Warnf("ignoring redundant completion of reduce %d", no)
			state = wire.TaskCanceled
			break
		}
		jt.accumulateCounters(counters)
		completed := jt.reduceManager.Done()
		jt.logger.Infof("reduce progress %d/%d", completed, jt.reduceManager.SumOfItem())

		if completed == jt.reduceManager.SumOfItem() {
			jt.logger.Info("reduce phase ends, job completed")
			jt.state = StateCompleted
			jt.finishTime = time.Now()
			handle := jt.reduceHandle
			jt.reduceHandle = ""
			jt.mu.Unlock()
			if handle != "" {
				_ = jt.cluster.Destroy(handle)
			}
			_ = jt.fs.Remove(jt.descriptor.Output + "/_temporary")
			jt.master.RetractJob(jt.jobID, StateCompleted)
			jt.mu.Lock()
		}
	case wire.TaskFailed:
		jt.allocMu.Lock()
		jt.reduceManager.ReturnBackItem(no)
		if jt.failedNodes[no] == nil {
			jt.failedNodes[no] = make(map[string]struct{})
		}
		if _, seen := jt.failedNodes[no][node]; !seen {
			jt.failedCount[no]++
			jt.failedNodes[no][node] = struct{}{}
		}
		jt.reduceFailed++
		jt.allocMu.Unlock()
		if jt.failedCount[no] >= jt.descriptor.ReduceRetry {
			if jt.ignoredReduceFailures < jt.descriptor.IgnoreReduceFailures {
				jt.ignoreFailureReducers[no] = struct{}{}
				jt.ignoredReduceFailures++
				jt.logger.Warnf("ignoring exhausted-retry failure of reduce %d", no)
			} else {
				jt.logger.Errorf("reduce %d exhausted retries, killing job: %s", no, errMsg)
				jt.errorMsg = errMsg
				jt.state = StateFailed
				jt.mu.Unlock()
				jt.master.RetractJob(jt.jobID, StateFailed)
				jt.mu.Lock()
			}
		}
	case wire.TaskKilled:
		jt.allocMu.Lock()
		jt.reduceManager.ReturnBackItem(no)
		jt.reduceKilled++
		jt.allocMu.Unlock()
	case wire.TaskCanceled:
		if !jt.reduceManager.IsDone(no) {
			jt.reduceManager.ReturnBackItem(no)
		}
	default:
		jt.mu.Unlock()
		jt.logger.Warnf("unfamiliar finish state for reduce %d: %s", no, state)
		return wire.StatusNoMore
	}
	jt.mu.Unlock()

	jt.allocMu.Lock()
	cur.State = state
	cur.Period = time.Since(cur.AllocTime)
	if state == wire.TaskCompleted {
		jt.reducePeriods = appendSample(jt.reducePeriods, cur.Period)
	}
	if jt.descriptor.ReduceAllowDuplicates && (state == wire.TaskKilled || state == wire.TaskFailed) {
		jt.reduceSlug = append(jt.reduceSlug, no)
	}
	jt.allocMu.Unlock()

	if state == wire.TaskCompleted && jt.descriptor.ReduceAllowDuplicates {
		jt.cancelOtherAttempts(jt.reduceIndex, no, attempt, false)
	}
	return wire.StatusOK
}
