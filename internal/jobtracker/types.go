// Package jobtracker implements the per-job scheduler, replication and
// timeout-monitor engine of spec §3-§4: the master-side brain that hands
// map/reduce tasks to minions, tolerates their failures, and decides when a
// job is done.
package jobtracker

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"shuttle/internal/collab"
	"shuttle/internal/config"
	"shuttle/internal/resource"
	"shuttle/internal/wire"
)

// State is JobTracker's own lifecycle, distinct from an individual item's
// resource.Status (§3).
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateKilled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// AllocateItem is one entry in the allocation ledger: a single hand-out of
// a resource item to a worker (§3).
type AllocateItem struct {
	Endpoint   string
	ResourceNo int
	Attempt    int
	IsMap      bool
	AllocTime  time.Time
	Period     time.Duration // -1 until the attempt terminates
	State      wire.TaskState

	heapIndex int // maintained by container/heap, ignore elsewhere
}

// Retractor lets a JobTracker hand itself back to its owning MasterService
// when it reaches a terminal state, without JobTracker importing the
// master package (which would be a cycle).
type Retractor interface {
	RetractJob(jobID string, endState State)
}

// JobTracker owns one map ResourceManager and optionally one reduce
// resource.Manager, the allocation ledger, replication queues, the timeout
// monitor, and an RPC client to workers (§3).
type JobTracker struct {
	jobID      string
	descriptor config.JobDescriptor
	runtime    *config.JobRuntimeConfig
	logger     *logrus.Entry

	cluster  collab.ClusterBackend
	fs       collab.FileSystem
	sortFile func() collab.SortFileWriter
	client   collab.WorkerClient
	master   Retractor

	// mu guards job-wide state: state_, counters, ignore sets, dismissed
	// sets, failure accounting. alloc_mu guards the allocation table, its
	// indexes, the time heap and the slug queues. allocMu may be acquired
	// while mu is held (the finish paths and pruneMapFromHeap do this); mu
	// is never acquired while allocMu is held.
	mu      sync.Mutex
	allocMu sync.Mutex

	state      State
	startTime  time.Time
	finishTime time.Time
	errorMsg   string

	mapManager    resource.Manager
	reduceManager resource.Manager // nil for a map-only job

	allocationTable []*AllocateItem
	mapIndex        map[int]map[int]*AllocateItem
	reduceIndex     map[int]map[int]*AllocateItem
	timeHeap        allocHeap

	mapSlug    []int
	reduceSlug []int

	// mapFailed/mapKilled/reduceFailed/reduceKilled are counted alongside
	// ledger transitions and so are guarded by allocMu, not mu.
	mapFailed, mapKilled       int
	reduceFailed, reduceKilled int

	failedCount map[int]int
	failedNodes map[int]map[string]struct{}

	ignoreFailureMappers  map[int]struct{}
	ignoreFailureReducers map[int]struct{}
	ignoredMapFailures    int
	ignoredReduceFailures int

	mapDismissed    map[string]struct{}
	reduceDismissed map[string]struct{}

	mapEndGameBegin   int
	reduceBegin       int
	reduceEndGameBegin int

	mapMonitoring    bool
	reduceMonitoring bool
	reduceSpawned    bool

	// mapPeriods/reducePeriods sample completed attempt durations, used by
	// the monitor to estimate a running median timeout. allocMu-guarded.
	mapPeriods    []time.Duration
	reducePeriods []time.Duration

	counters           map[string]int64
	countersOverflowed bool

	mapHandle    string
	reduceHandle string

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a JobTracker in state pending. Start must be called before any
// AssignMap/AssignReduce will succeed.
func New(jobID string, descriptor config.JobDescriptor, runtime *config.JobRuntimeConfig,
	cluster collab.ClusterBackend, fs collab.FileSystem, sortFile func() collab.SortFileWriter,
	client collab.WorkerClient, master Retractor, logger *logrus.Entry) *JobTracker {

	if descriptor.MapRetry == 0 {
		descriptor.MapRetry = runtime.RetryBound
	}
	if descriptor.ReduceRetry == 0 {
		descriptor.ReduceRetry = runtime.RetryBound
	}
	if descriptor.ReduceTotal > 0 {
		descriptor.ReduceCapacity = collab.ClampReduceCapacity(descriptor.ReduceCapacity, descriptor.ReduceTotal)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobTracker{
		jobID:                 jobID,
		descriptor:            descriptor,
		runtime:               runtime,
		logger:                logger.WithField("job_id", jobID),
		cluster:               cluster,
		fs:                    fs,
		sortFile:              sortFile,
		client:                client,
		master:                master,
		state:                 StatePending,
		mapIndex:              make(map[int]map[int]*AllocateItem),
		reduceIndex:           make(map[int]map[int]*AllocateItem),
		failedCount:           make(map[int]int),
		failedNodes:           make(map[int]map[string]struct{}),
		ignoreFailureMappers:  make(map[int]struct{}),
		ignoreFailureReducers: make(map[int]struct{}),
		mapDismissed:          make(map[string]struct{}),
		reduceDismissed:       make(map[string]struct{}),
		counters:              make(map[string]int64),
		ctx:                   ctx,
		cancel:                cancel,
	}
}

// State returns JobTracker's current lifecycle state.
func (jt *JobTracker) State() State {
	jt.mu.Lock()
	defer jt.mu.Unlock()
	return jt.state
}

// ErrorMsg returns the error recorded when a job was poisoned to failed.
func (jt *JobTracker) ErrorMsg() string {
	jt.mu.Lock()
	defer jt.mu.Unlock()
	return jt.errorMsg
}

// buildEndGameCounters computes the three completion thresholds once the
// resource managers exist (§4.2).
func (jt *JobTracker) buildEndGameCounters() {
	sumMap := jt.mapManager.SumOfItem()
	jt.mapEndGameBegin = sumMap - jt.runtime.ReplicaBegin
	if pct := sumMap - sumMap*jt.runtime.ReplicaBeginPercent/100; jt.mapEndGameBegin > pct {
		jt.mapEndGameBegin = pct
	}
	if jt.reduceManager == nil {
		return
	}
	jt.reduceBegin = sumMap - sumMap*jt.runtime.ReplicaBeginPercent/100
	sumReduce := jt.reduceManager.SumOfItem()
	jt.reduceEndGameBegin = sumReduce - jt.runtime.ReplicaBegin
	if pct := sumReduce * jt.runtime.ReplicaBeginPercent / 100; jt.reduceEndGameBegin < pct {
		jt.reduceEndGameBegin = pct
	}
}

func hostOf(endpoint string) string {
	for i := len(endpoint) - 1; i >= 0; i-- {
		if endpoint[i] == ':' {
			return endpoint[:i]
		}
	}
	return endpoint
}

// allocHeap is a min-heap of running AllocateItems keyed by AllocTime
// (§3's time_heap), used by the timeout monitor to find stale attempts.
type allocHeap []*AllocateItem

func (h allocHeap) Len() int            { return len(h) }
func (h allocHeap) Less(i, j int) bool  { return h[i].AllocTime.Before(h[j].AllocTime) }
func (h allocHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex, h[j].heapIndex = i, j
}
func (h *allocHeap) Push(x interface{}) {
	item := x.(*AllocateItem)
	item.heapIndex = len(*h)
	*h = append(*h, item)
}
func (h *allocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*allocHeap)(nil)

func (jt *JobTracker) describeAttempt(no, attempt int) string {
	return fmt.Sprintf("<no=%d, attempt=%d>", no, attempt)
}
