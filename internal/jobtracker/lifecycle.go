package jobtracker

import (
	"time"

	"github.com/pkg/errors"

	"shuttle/internal/collab"
	"shuttle/internal/config"
	"shuttle/internal/resource"
	"shuttle/internal/wire"
)

// Start validates output absence and spawns the map workers through the
// cluster backend (§3 Lifecycle). mapSplits are the pre-computed map input
// ranges (an input-splitting concern, out of scope per §1); reduceTotal is
// 0 for a map-only job.
func (jt *JobTracker) Start(mapSplits []resource.Item, reduceTotal int) (wire.Status, error) {
	exists, err := jt.fs.Exist(jt.descriptor.Output)
	if err != nil {
		return wire.StatusWriteFileFail, errors.Wrap(err, "checking output existence")
	}
	if exists {
		jt.mu.Lock()
		jt.descriptor.MapTotal = 0
		jt.descriptor.ReduceTotal = 0
		jt.state = StateFailed
		jt.mu.Unlock()
		jt.logger.Warnf("output already exists, refusing to start: %s", jt.descriptor.Output)
		return wire.StatusWriteFileFail, errors.New("output path already exists")
	}

	jt.mu.Lock()
	jt.mapManager = resource.NewMapManager(mapSplits, jt.runtime.ParallelAttempts)
	jt.descriptor.MapTotal = jt.mapManager.SumOfItem()
	if jt.descriptor.MapTotal < 1 {
		jt.descriptor.MapTotal = 0
		jt.descriptor.ReduceTotal = 0
		jt.mu.Unlock()
		return wire.StatusNoMore, errors.New("no map input to run")
	}
	if jt.descriptor.JobType == config.MapReduceJob && reduceTotal > 0 {
		jt.reduceManager = resource.NewIdManager(reduceTotal, jt.runtime.ParallelAttempts)
		jt.descriptor.ReduceTotal = reduceTotal
		jt.descriptor.ReduceCapacity = collab.ClampReduceCapacity(jt.descriptor.ReduceCapacity, reduceTotal)
	}
	jt.buildEndGameCounters()
	jt.mu.Unlock()

	priority := collab.ParsePriority(jt.descriptor.Priority)
	handle, err := jt.cluster.Submit(collab.WorkerGroupSpec{
		JobID:      jt.jobID,
		Name:       jt.descriptor.Name,
		IsMap:      true,
		Capacity:   jt.descriptor.MapCapacity,
		Priority:   priority,
		DeployStep: jt.runtime.GalaxyDeployStep,
	})
	if err != nil {
		jt.logger.Warnf("cluster backend rejected map worker submission: %v", err)
		return wire.StatusGalaxyError, errors.Wrap(err, "submitting map worker group")
	}
	jt.mu.Lock()
	jt.mapHandle = handle
	jt.startTime = time.Now()
	jt.mu.Unlock()
	jt.logger.Infof("started job %s -> %s", jt.descriptor.Name, jt.jobID)
	return wire.StatusOK, nil
}

// Update applies a runtime priority/capacity change to the running worker
// groups (§3 job_descriptor). priority == "" leaves priority unchanged;
// mapCapacity/reduceCapacity == -1 leaves that capacity unchanged.
func (jt *JobTracker) Update(priority string, mapCapacity, reduceCapacity int) (wire.Status, error) {
	jt.mu.Lock()
	mapHandle, reduceHandle := jt.mapHandle, jt.reduceHandle
	effectivePriority := priority
	if effectivePriority == "" {
		effectivePriority = jt.descriptor.Priority
	}
	if mapCapacity == -1 {
		mapCapacity = jt.descriptor.MapCapacity
	}
	if reduceCapacity == -1 {
		reduceCapacity = jt.descriptor.ReduceCapacity
	} else if jt.descriptor.ReduceTotal > 0 {
		reduceCapacity = collab.ClampReduceCapacity(reduceCapacity, jt.descriptor.ReduceTotal)
	}
	jt.mu.Unlock()

	prio := collab.ParsePriority(effectivePriority)
	if mapHandle != "" {
		if err := jt.cluster.Update(mapHandle, prio, mapCapacity); err != nil {
			return wire.StatusGalaxyError, errors.Wrap(err, "updating map worker group")
		}
	}
	if reduceHandle != "" {
		if err := jt.cluster.Update(reduceHandle, prio, reduceCapacity); err != nil {
			return wire.StatusGalaxyError, errors.Wrap(err, "updating reduce worker group")
		}
	}

	jt.mu.Lock()
	jt.descriptor.MapCapacity = mapCapacity
	jt.descriptor.ReduceCapacity = reduceCapacity
	if priority != "" {
		jt.descriptor.Priority = priority
	}
	jt.mu.Unlock()
	return wire.StatusOK, nil
}

// Kill terminates the job: destroys worker-control handles, marks every
// still-running attempt killed, and stamps finish_time (§3 Lifecycle).
func (jt *JobTracker) Kill(endState State) wire.Status {
	jt.mu.Lock()
	if jt.mapHandle != "" {
		jt.logger.Info("destroying map worker group")
		_ = jt.cluster.Destroy(jt.mapHandle)
		jt.mapHandle = ""
	}
	if jt.reduceHandle != "" {
		jt.logger.Info("destroying reduce worker group")
		_ = jt.cluster.Destroy(jt.reduceHandle)
		jt.reduceHandle = ""
	}
	jt.cancel()
	jt.state = endState
	jt.mu.Unlock()

	jt.allocMu.Lock()
	now := time.Now()
	for _, item := range jt.allocationTable {
		if item.State == wire.TaskRunning {
			item.State = wire.TaskKilled
			item.Period = now.Sub(item.AllocTime)
			if item.IsMap {
				jt.mapKilled++
			} else {
				jt.reduceKilled++
			}
		}
	}
	jt.allocMu.Unlock()

	jt.mu.Lock()
	jt.finishTime = now
	jt.mu.Unlock()
	return wire.StatusOK
}
