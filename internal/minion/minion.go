// Package minion implements the worker loop described in spec §4.5: ask
// the master for a task, run it through an Executor, report the outcome,
// repeat -- with breakpoint-file crash recovery and randomized backoff on
// transient failures, plus the Query/CancelTask RPC server side a
// JobTracker's timeout monitor and end-game replication drive.
package minion

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"shuttle/internal/config"
	"shuttle/internal/wire"
)

// finishReportRetries bounds how many times reportFinish will re-send a
// FinishTask report before giving up and treating the failure as fatal
// (§4.5 step g).
const finishReportRetries = 3

// masterRPC is the subset of masterClient's calls Run/runTask depend on,
// broken out so tests can substitute a fake instead of dialing a real
// socket.
type masterRPC interface {
	assignTask(args wire.AssignTaskArgs) (wire.AssignTaskReply, error)
	finishTask(args wire.FinishTaskArgs) (wire.FinishTaskReply, error)
}

// Minion is one worker process: it holds at most one running task at a
// time (§4.5).
type Minion struct {
	cfg      *config.WorkerConfig
	endpoint string
	mode     wire.WorkMode
	jobID    string
	executor Executor
	master   masterRPC
	logger   *logrus.Entry

	mu            sync.Mutex
	current       *wire.TaskInfo
	taskStartedAt time.Time
	cancelCurrent context.CancelFunc
	overloaded    bool
}

// New builds a Minion bound to a specific master socket path and work
// mode; cfg carries the randomized backoff bound and NIC flow limits the
// WatchDog reads (§6).
func New(cfg *config.WorkerConfig, endpoint, masterSockPath string, executor Executor, logger *logrus.Entry) *Minion {
	mode := wire.WorkMode(cfg.WorkMode)
	return &Minion{
		cfg:      cfg,
		endpoint: endpoint,
		mode:     mode,
		jobID:    cfg.JobID,
		executor: executor,
		master:   newMasterClient(masterSockPath),
		logger:   logger.WithField("endpoint", endpoint),
	}
}

// SetOverloaded is called by the WatchDog (§4.6), which passes true from
// its CPU-load branch and false on thaw; a freeze for network pressure
// alone passes false. While true, Query/CancelTask answer with an empty
// reply instead of engaging, and Run pauses between tasks rather than
// asking for new work.
func (mn *Minion) SetOverloaded(overloaded bool) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.overloaded = overloaded
}

// Run drives the worker loop until ctx is canceled or the master reports
// no_more (the job has nothing further for this endpoint). It first
// recovers any task a previous crashed run left behind; a recovery report
// that cannot be delivered is fatal (§4.5 step 2, §7), since the breakpoint
// file is the only evidence the master would otherwise ever see of the
// crashed attempt.
func (mn *Minion) Run(ctx context.Context) error {
	if err := mn.CheckUnfinishedTask(); err != nil {
		return errors.Wrap(err, "startup recovery check")
	}

	if mn.cfg.KillTask {
		return mn.reportKillAndExit()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if mn.isOverloaded() {
			time.Sleep(time.Second)
			continue
		}

		reply, err := mn.master.assignTask(wire.AssignTaskArgs{
			Endpoint: mn.endpoint,
			JobID:    mn.jobID,
			WorkMode: mn.mode,
		})
		if err != nil {
			mn.logger.Warnf("assign task failed, backing off: %v", err)
			mn.backoff()
			continue
		}

		switch reply.Status {
		case wire.StatusOK:
			if err := mn.runTask(ctx, *reply.Task); err != nil {
				return err
			}
		case wire.StatusSuspend:
			mn.backoff()
		case wire.StatusNoMore, wire.StatusNoSuchJob:
			mn.logger.Infof("master reports no further work: %s", reply.Status)
			return nil
		default:
			return errors.Errorf("assign task returned unexpected status %s", reply.Status)
		}
	}
}

func (mn *Minion) isOverloaded() bool {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	return mn.overloaded
}

// backoffSleep is the actual sleep backoff performs, broken out so tests
// exercising retry paths (reportFinish in particular) don't have to wait
// out real wall-clock backoffs.
var backoffSleep = time.Sleep

// backoff sleeps 5 + uniform(0, suspend_time) seconds (§5), spreading
// retries across minions instead of having them all hammer the master in
// lockstep.
func (mn *Minion) backoff() {
	bound := mn.cfg.SuspendTime
	if bound <= 0 {
		bound = time.Second
	}
	backoffSleep(5*time.Second + time.Duration(rand.Int63n(int64(bound))))
}

func (mn *Minion) runTask(ctx context.Context, task wire.TaskInfo) error {
	mn.logger.Infof("running task %d attempt %d (%s)", task.TaskID, task.AttemptID, task.WorkMode)

	if err := writeBreakpoint(task); err != nil {
		mn.logger.Warnf("writing breakpoint failed, continuing anyway: %v", err)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	mn.mu.Lock()
	mn.current = &task
	mn.taskStartedAt = time.Now()
	mn.cancelCurrent = cancel
	mn.mu.Unlock()

	var (
		counters []wire.CounterKV
		runErr   error
	)
	if task.WorkMode == wire.WorkModeReduce {
		counters, runErr = mn.executor.RunReduce(taskCtx, task)
	} else {
		counters, runErr = mn.executor.RunMap(taskCtx, task)
	}

	mn.mu.Lock()
	mn.current = nil
	mn.cancelCurrent = nil
	mn.mu.Unlock()

	state := wire.TaskCompleted
	errMsg := ""
	if runErr != nil {
		if taskCtx.Err() != nil {
			state = wire.TaskKilled
		} else {
			state = wire.TaskFailed
			errMsg = runErr.Error()
		}
		mn.logger.Warnf("task %d attempt %d ended in %s: %v", task.TaskID, task.AttemptID, state, runErr)
	}

	if !mn.cfg.CheckCounters {
		counters = nil
	}

	if err := mn.reportFinish(wire.FinishTaskArgs{
		JobID:     task.JobID,
		TaskID:    task.TaskID,
		AttemptID: task.AttemptID,
		State:     state,
		Endpoint:  mn.endpoint,
		WorkMode:  task.WorkMode,
		ErrorMsg:  errMsg,
		Counters:  counters,
	}); err != nil {
		return errors.Wrapf(err, "reporting finish of task %d attempt %d", task.TaskID, task.AttemptID)
	}

	if err := clearBreakpoint(); err != nil {
		mn.logger.Warnf("clearing breakpoint failed: %v", err)
	}
	return nil
}

// reportFinish sends a FinishTask report, retrying on RPC failure and on a
// suspend reply (with the worker's usual randomized backoff between
// attempts) up to finishReportRetries times before giving up (§4.5 step g).
// A report that never lands is fatal to the caller: the breakpoint file is
// the only record of the attempt, and must not be cleared until the master
// has actually been told.
func (mn *Minion) reportFinish(args wire.FinishTaskArgs) error {
	var lastErr error
	for attempt := 0; attempt < finishReportRetries; attempt++ {
		reply, err := mn.master.finishTask(args)
		if err != nil {
			lastErr = err
			mn.logger.Warnf("reporting finish of task %d attempt %d failed: %v", args.TaskID, args.AttemptID, err)
			mn.backoff()
			continue
		}
		if reply.Status == wire.StatusSuspend {
			lastErr = errors.Errorf("master suspended finish report for task %d attempt %d", args.TaskID, args.AttemptID)
			mn.backoff()
			continue
		}
		return nil
	}
	return errors.Wrap(lastErr, "exhausted finish report retries")
}

// reportKillAndExit implements --kill_task: report the task this process
// was holding as killed and exit, without running anything (§6).
func (mn *Minion) reportKillAndExit() error {
	taskID, attemptID, ok, err := readBreakpoint()
	if err != nil || !ok {
		return err
	}
	if err := mn.reportFinish(wire.FinishTaskArgs{
		JobID:     mn.jobID,
		TaskID:    taskID,
		AttemptID: attemptID,
		State:     wire.TaskKilled,
		Endpoint:  mn.endpoint,
		WorkMode:  mn.mode,
	}); err != nil {
		return errors.Wrap(err, "reporting --kill_task outcome")
	}
	return clearBreakpoint()
}
