package jobtracker

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"shuttle/internal/collab"
	"shuttle/internal/config"
	"shuttle/internal/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// testRuntime keeps the monitor's sleep intervals far longer than any test
// takes to run, so the lazily-started runMonitor goroutine a low
// end-game threshold can trigger never wakes and races the test's own
// direct calls to FinishMap/sweepStale.
func testRuntime() *config.JobRuntimeConfig {
	return &config.JobRuntimeConfig{
		ParallelAttempts:    5,
		ReplicaBegin:        100,
		ReplicaBeginPercent: 10,
		ReplicaNum:          3,
		LeftPercent:         120,
		RetryBound:          3,
		MaxCountersPerJob:   1000,
		FirstSleepTime:      time.Hour,
		TimeTolerance:       time.Hour,
		GCInterval:          time.Hour,
		BackupInterval:      time.Hour,
	}
}

type fakeCluster struct {
	mu        sync.Mutex
	submitted []collab.WorkerGroupSpec
	destroyed []string
	seq       int
}

func (c *fakeCluster) Submit(spec collab.WorkerGroupSpec) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.submitted = append(c.submitted, spec)
	return spec.Name, nil
}

func (c *fakeCluster) Update(handle string, priority collab.JobPriority, capacity int) error {
	return nil
}

func (c *fakeCluster) Destroy(handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = append(c.destroyed, handle)
	return nil
}

func (c *fakeCluster) submitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.submitted)
}

type fakeFS struct {
	exists map[string]bool
}

func (f fakeFS) Exist(path string) (bool, error) { return f.exists[path], nil }
func (f fakeFS) Remove(path string) error        { return nil }

type fakeSortFile struct{}

func (fakeSortFile) Open(path string) error { return nil }
func (fakeSortFile) Close() error           { return nil }

type fakeWorkerClient struct {
	mu         sync.Mutex
	canceled   []wire.CancelTaskArgs
	queryReply *wire.QueryReply
	queryErr   error
}

func (c *fakeWorkerClient) Query(ctx context.Context, endpoint string, args wire.QueryArgs) (wire.QueryReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queryErr != nil {
		return wire.QueryReply{}, c.queryErr
	}
	if c.queryReply != nil {
		return *c.queryReply, nil
	}
	return wire.QueryReply{Empty: true}, nil
}

func (c *fakeWorkerClient) CancelTask(ctx context.Context, endpoint string, args wire.CancelTaskArgs) (wire.CancelTaskReply, error) {
	c.mu.Lock()
	c.canceled = append(c.canceled, args)
	c.mu.Unlock()
	return wire.CancelTaskReply{Status: wire.StatusOK}, nil
}

type fakeRetractor struct {
	mu        sync.Mutex
	retracted map[string]State
}

func newFakeRetractor() *fakeRetractor {
	return &fakeRetractor{retracted: make(map[string]State)}
}

func (r *fakeRetractor) RetractJob(jobID string, endState State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retracted[jobID] = endState
}

func (r *fakeRetractor) stateOf(jobID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.retracted[jobID]
	return s, ok
}

func newTestTracker(descriptor config.JobDescriptor, runtime *config.JobRuntimeConfig) (*JobTracker, *fakeCluster, *fakeWorkerClient, *fakeRetractor) {
	cluster := &fakeCluster{}
	client := &fakeWorkerClient{}
	retractor := newFakeRetractor()
	jt := New("job-"+descriptor.Name, descriptor, runtime, cluster, fakeFS{exists: map[string]bool{}},
		func() collab.SortFileWriter { return fakeSortFile{} }, client, retractor, testLogger())
	return jt, cluster, client, retractor
}
