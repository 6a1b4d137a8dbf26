// Package master implements the MasterService dispatcher of spec §2: the
// thin RPC front end minions talk to, which does nothing but route
// AssignTask/FinishTask calls to the right JobTracker and retire JobTrackers
// once they reach a terminal state.
package master

import (
	"net"
	"net/http"
	"net/rpc"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"shuttle/internal/collab"
	"shuttle/internal/config"
	"shuttle/internal/jobtracker"
	"shuttle/internal/resource"
	"shuttle/internal/wire"
)

// MasterService owns every running JobTracker and is the sole thing a
// Minion's RPC client ever dials (§2). It never touches scheduling,
// replication or timeout logic itself -- that is entirely JobTracker's job.
type MasterService struct {
	runtime      *config.JobRuntimeConfig
	cluster      collab.ClusterBackend
	fs           collab.FileSystem
	sortFile     func() collab.SortFileWriter
	client       collab.WorkerClient
	checkpointer collab.Checkpointer
	logger       *logrus.Entry

	mu      sync.RWMutex
	jobs    map[string]*jobtracker.JobTracker
	retired map[string]jobtracker.State

	housekeepStop chan struct{}
}

// New builds a MasterService. The collaborators are all out-of-scope
// interfaces (§6); callers supply concrete implementations or, in tests,
// fakes.
func New(runtime *config.JobRuntimeConfig, cluster collab.ClusterBackend, fs collab.FileSystem,
	sortFile func() collab.SortFileWriter, client collab.WorkerClient, checkpointer collab.Checkpointer,
	logger *logrus.Entry) *MasterService {
	return &MasterService{
		runtime:       runtime,
		cluster:       cluster,
		fs:            fs,
		sortFile:      sortFile,
		client:        client,
		checkpointer:  checkpointer,
		logger:        logger,
		jobs:          make(map[string]*jobtracker.JobTracker),
		retired:       make(map[string]jobtracker.State),
		housekeepStop: make(chan struct{}),
	}
}

// SubmitJob creates and starts a new JobTracker, returning the job id a
// Minion will later pass back in every AssignTask/FinishTask call.
func (m *MasterService) SubmitJob(descriptor config.JobDescriptor, mapSplits []resource.Item, reduceTotal int) (string, error) {
	jobID := uuid.NewString()
	jt := jobtracker.New(jobID, descriptor, m.runtime, m.cluster, m.fs, m.sortFile, m.client, m, m.logger)

	if status, err := jt.Start(mapSplits, reduceTotal); err != nil {
		return "", errors.Wrapf(err, "starting job %s (status %s)", jobID, status)
	}

	m.mu.Lock()
	m.jobs[jobID] = jt
	m.mu.Unlock()
	m.logger.Infof("submitted job %s (%s)", jobID, descriptor.Name)
	return jobID, nil
}

// KillJob terminates a running job on operator request (§3 Lifecycle).
func (m *MasterService) KillJob(jobID string) wire.Status {
	m.mu.RLock()
	jt := m.jobs[jobID]
	m.mu.RUnlock()
	if jt == nil {
		return wire.StatusNoSuchJob
	}
	status := jt.Kill(jobtracker.StateKilled)
	m.RetractJob(jobID, jobtracker.StateKilled)
	return status
}

// UpdateJob applies a runtime priority/capacity change (§3).
func (m *MasterService) UpdateJob(jobID, priority string, mapCapacity, reduceCapacity int) (wire.Status, error) {
	m.mu.RLock()
	jt := m.jobs[jobID]
	m.mu.RUnlock()
	if jt == nil {
		return wire.StatusNoSuchJob, errors.Errorf("no such job %s", jobID)
	}
	return jt.Update(priority, mapCapacity, reduceCapacity)
}

// RetractJob implements jobtracker.Retractor: once a job reaches a terminal
// state it stops receiving AssignTask/FinishTask traffic and is moved out
// of the active set. Its record is kept in retired[] until the next
// gc_interval sweep (§6, SUPPLEMENTED FEATURES housekeeping).
func (m *MasterService) RetractJob(jobID string, endState jobtracker.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return
	}
	delete(m.jobs, jobID)
	m.retired[jobID] = endState
	m.logger.Infof("retired job %s -> %s", jobID, endState)
}

// AssignTask is the RPC handler a Minion calls to request work (§6).
func (m *MasterService) AssignTask(args *wire.AssignTaskArgs, reply *wire.AssignTaskReply) error {
	m.mu.RLock()
	jt := m.jobs[args.JobID]
	m.mu.RUnlock()
	if jt == nil {
		reply.Status = wire.StatusNoSuchJob
		return nil
	}

	var item *resource.Item
	var status wire.Status
	switch args.WorkMode {
	case wire.WorkModeMap, wire.WorkModeMapOnly:
		item, status = jt.AssignMap(args.Endpoint)
	case wire.WorkModeReduce:
		item, status = jt.AssignReduce(args.Endpoint)
	default:
		reply.Status = wire.StatusNoSuchTask
		return nil
	}

	reply.Status = status
	if status != wire.StatusOK || item == nil {
		return nil
	}
	reply.Task = itemToTaskInfo(args.JobID, args.WorkMode, *item)
	return nil
}

// FinishTask is the RPC handler a Minion calls to report an attempt's
// outcome (§6).
func (m *MasterService) FinishTask(args *wire.FinishTaskArgs, reply *wire.FinishTaskReply) error {
	m.mu.RLock()
	jt := m.jobs[args.JobID]
	m.mu.RUnlock()
	if jt == nil {
		reply.Status = wire.StatusNoSuchJob
		return nil
	}

	switch args.WorkMode {
	case wire.WorkModeMap, wire.WorkModeMapOnly:
		reply.Status = jt.FinishMap(args.TaskID, args.AttemptID, args.State, args.ErrorMsg, args.Counters)
	case wire.WorkModeReduce:
		reply.Status = jt.FinishReduce(args.TaskID, args.AttemptID, args.State, args.ErrorMsg, args.Counters)
	default:
		reply.Status = wire.StatusNoSuchTask
	}
	return nil
}

func itemToTaskInfo(jobID string, mode wire.WorkMode, item resource.Item) *wire.TaskInfo {
	return &wire.TaskInfo{
		JobID:      jobID,
		TaskID:     item.No,
		AttemptID:  item.Attempt,
		WorkMode:   mode,
		InputFile:  item.InputFile,
		Offset:     item.Offset,
		Length:     item.Length,
		StartLine:  item.StartLine,
		LineCount:  item.LineCount,
	}
}

// Serve registers the RPC server and listens on a Unix domain socket:
// rpc.NewServer + RegisterName, mounted at rpc.DefaultRPCPath on its own
// http.ServeMux, and http.Serve over the listener.
func (m *MasterService) Serve(sockPath string) error {
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing stale socket %s", sockPath)
	}
	server := rpc.NewServer()
	if err := server.RegisterName("MasterService", m); err != nil {
		return errors.Wrap(err, "registering MasterService RPC methods")
	}
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, server)

	l, err := net.Listen("unix", sockPath)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", sockPath)
	}
	m.logger.Infof("master listening on %s", sockPath)
	return http.Serve(l, mux)
}

// StartHousekeeping runs the gc_interval/backup_interval sweep goroutine
// described in SPEC_FULL.md. It exits once StopHousekeeping is called.
func (m *MasterService) StartHousekeeping(gcInterval, backupInterval time.Duration) {
	go m.runHousekeeping(gcInterval, backupInterval)
}

func (m *MasterService) runHousekeeping(gcInterval, backupInterval time.Duration) {
	gcTicker := time.NewTicker(gcInterval)
	backupTicker := time.NewTicker(backupInterval)
	defer gcTicker.Stop()
	defer backupTicker.Stop()

	for {
		select {
		case <-m.housekeepStop:
			return
		case <-backupTicker.C:
			m.checkpointActiveJobs()
		case <-gcTicker.C:
			m.collectRetiredJobs()
		}
	}
}

func (m *MasterService) checkpointActiveJobs() {
	m.mu.RLock()
	jobIDs := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		jobIDs = append(jobIDs, id)
	}
	m.mu.RUnlock()

	for _, id := range jobIDs {
		record := collab.JobRecord{JobID: id, State: int(jobtracker.StateRunning), UpdatedAt: time.Now()}
		if err := m.checkpointer.Save(record); err != nil {
			m.logger.Warnf("checkpoint of job %s failed: %v", id, err)
		}
	}
}

func (m *MasterService) collectRetiredJobs() {
	m.mu.Lock()
	jobIDs := make([]string, 0, len(m.retired))
	for id := range m.retired {
		jobIDs = append(jobIDs, id)
	}
	for _, id := range jobIDs {
		delete(m.retired, id)
	}
	m.mu.Unlock()

	for _, id := range jobIDs {
		if err := m.checkpointer.Delete(id); err != nil {
			m.logger.Warnf("releasing persisted state for job %s failed: %v", id, err)
		}
	}
}

// StopHousekeeping stops the background sweep goroutine.
func (m *MasterService) StopHousekeeping() {
	close(m.housekeepStop)
}
