package jobtracker

import (
	"container/heap"
	"math"
	"time"

	"shuttle/internal/resource"
	"shuttle/internal/wire"
)

// AssignMap hands out the next map task to endpoint, or a status explaining
// why none is available (§4.2).
func (jt *JobTracker) AssignMap(endpoint string) (*resource.Item, wire.Status) {
	jt.mu.Lock()
	if jt.state == StatePending {
		jt.state = StateRunning
	}
	jt.mu.Unlock()

	cur, ok := jt.mapManager.GetItem(false, 0)
	if !ok {
		jt.allocMu.Lock()
		jt.drainStaleSlug(&jt.mapSlug, jt.mapManager)
		if len(jt.mapSlug) == 0 {
			jt.allocMu.Unlock()
			return nil, jt.canDismiss(true, endpoint)
		}
		no := jt.mapSlug[0]
		jt.mapSlug = jt.mapSlug[1:]
		jt.allocMu.Unlock()

		item, ok := jt.mapManager.GetCertainItem(no)
		if !ok {
			return nil, jt.canDismiss(true, endpoint)
		}
		cur = item
	} else if jt.descriptor.MapAllowDuplicates && cur.No >= jt.mapEndGameBegin {
		jt.allocMu.Lock()
		for i := 0; i < jt.runtime.ReplicaNum; i++ {
			jt.mapSlug = append(jt.mapSlug, cur.No)
		}
		jt.allocMu.Unlock()
	}

	jt.mu.Lock()
	if cur.No >= jt.mapEndGameBegin && !jt.mapMonitoring {
		jt.mapMonitoring = true
		go jt.runMonitor(true)
	}
	jt.mu.Unlock()

	alloc := &AllocateItem{
		Endpoint:   endpoint,
		ResourceNo: cur.No,
		Attempt:    cur.Attempt,
		IsMap:      true,
		AllocTime:  time.Now(),
		Period:     -1,
		State:      wire.TaskRunning,
	}
	jt.allocMu.Lock()
	jt.allocationTable = append(jt.allocationTable, alloc)
	if jt.mapIndex[alloc.ResourceNo] == nil {
		jt.mapIndex[alloc.ResourceNo] = make(map[int]*AllocateItem)
	}
	jt.mapIndex[alloc.ResourceNo][alloc.Attempt] = alloc
	jt.pushHeap(alloc)
	jt.allocMu.Unlock()

	jt.logger.Infof("assign map %s to %s", jt.describeAttempt(alloc.ResourceNo, alloc.Attempt), endpoint)
	item := cur
	return &item, wire.StatusOK
}

// AssignReduce is the symmetric counterpart for reduce tasks, gated by map
// progress: reduce is only assignable once map_manager.Done() >=
// reduce_begin (§4.2, P5).
func (jt *JobTracker) AssignReduce(endpoint string) (*resource.Item, wire.Status) {
	jt.mu.Lock()
	if jt.reduceManager == nil || jt.mapManager.Done() < jt.reduceBegin {
		jt.mu.Unlock()
		return nil, wire.StatusSuspend
	}
	if jt.state == StatePending {
		jt.state = StateRunning
	}
	jt.mu.Unlock()

	cur, ok := jt.reduceManager.GetItem(false, 0)
	if !ok {
		jt.allocMu.Lock()
		jt.drainStaleSlug(&jt.reduceSlug, jt.reduceManager)
		if len(jt.reduceSlug) == 0 {
			jt.allocMu.Unlock()
			return nil, jt.canDismiss(false, endpoint)
		}
		no := jt.reduceSlug[0]
		jt.reduceSlug = jt.reduceSlug[1:]
		jt.allocMu.Unlock()

		item, ok := jt.reduceManager.GetCertainItem(no)
		if !ok {
			return nil, jt.canDismiss(false, endpoint)
		}
		cur = item
	} else if jt.descriptor.ReduceAllowDuplicates && cur.No >= jt.reduceEndGameBegin {
		jt.allocMu.Lock()
		for i := 0; i < jt.runtime.ReplicaNum; i++ {
			jt.reduceSlug = append(jt.reduceSlug, cur.No)
		}
		jt.allocMu.Unlock()
	}

	jt.mu.Lock()
	if cur.No >= jt.reduceEndGameBegin && !jt.reduceMonitoring {
		jt.reduceMonitoring = true
		go jt.runMonitor(false)
	}
	jt.mu.Unlock()

	alloc := &AllocateItem{
		Endpoint:   endpoint,
		ResourceNo: cur.No,
		Attempt:    cur.Attempt,
		IsMap:      false,
		AllocTime:  time.Now(),
		Period:     -1,
		State:      wire.TaskRunning,
	}
	jt.allocMu.Lock()
	jt.allocationTable = append(jt.allocationTable, alloc)
	if jt.reduceIndex[alloc.ResourceNo] == nil {
		jt.reduceIndex[alloc.ResourceNo] = make(map[int]*AllocateItem)
	}
	jt.reduceIndex[alloc.ResourceNo][alloc.Attempt] = alloc
	jt.pushHeap(alloc)
	jt.allocMu.Unlock()

	jt.logger.Infof("assign reduce %s to %s", jt.describeAttempt(alloc.ResourceNo, alloc.Attempt), endpoint)
	item := cur
	return &item, wire.StatusOK
}

// drainStaleSlug pops entries off the front of *slug whose item is no
// longer allocated (already done), leaving the front entry (if any) fresh.
// Caller holds allocMu.
func (jt *JobTracker) drainStaleSlug(slug *[]int, mgr resource.Manager) {
	s := *slug
	for len(s) > 0 && !mgr.IsAllocated(s[0]) {
		s = s[1:]
	}
	*slug = s
}

// canDismiss implements CanMapDismiss/CanReduceDismiss (§4.2): a worker is
// told no_more only once dismissing it wouldn't starve the phase of
// configured capacity, and only if the phase doesn't still need every
// worker it has.
func (jt *JobTracker) canDismiss(isMap bool, endpoint string) wire.Status {
	jt.mu.Lock()
	defer jt.mu.Unlock()

	var completed, total, capacity int
	var dismissed map[string]struct{}
	if isMap {
		completed = jt.mapManager.Done()
		total = jt.descriptor.MapTotal
		capacity = jt.descriptor.MapCapacity
		dismissed = jt.mapDismissed
	} else {
		completed = jt.reduceManager.Done()
		total = jt.descriptor.ReduceTotal
		capacity = jt.descriptor.ReduceCapacity
		dismissed = jt.reduceDismissed
	}
	notDone := total - completed
	if capacity <= notDone {
		return wire.StatusSuspend
	}
	threshold := capacity - int(math.Ceil(float64(max(notDone, 5))*float64(jt.runtime.LeftPercent)/100.0))
	if len(dismissed) >= threshold {
		return wire.StatusSuspend
	}
	dismissed[endpoint] = struct{}{}
	return wire.StatusNoMore
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// pushHeap pushes alloc onto the time heap. Caller holds allocMu.
func (jt *JobTracker) pushHeap(alloc *AllocateItem) {
	heap.Push(&jt.timeHeap, alloc)
}
