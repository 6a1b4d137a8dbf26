package minion

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"shuttle/internal/wire"
)

const breakpointFile = "./task_running"

// writeBreakpoint persists the task a minion is about to start: two
// whitespace-separated ints, task_id and attempt_id (§6). job id and work
// mode aren't stored because a minion process is itself bound to exactly
// one of each via its own flags; a crash mid-task can be recognized and
// reported on the next startup instead of silently vanishing from the
// job's bookkeeping.
func writeBreakpoint(task wire.TaskInfo) error {
	line := fmt.Sprintf("%d %d", task.TaskID, task.AttemptID)
	if err := os.WriteFile(breakpointFile, []byte(line), 0o644); err != nil {
		return errors.Wrap(err, "writing breakpoint file")
	}
	return nil
}

func clearBreakpoint() error {
	err := os.Remove(breakpointFile)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing breakpoint file")
	}
	return nil
}

// readBreakpoint returns the (task_id, attempt_id) left behind by a
// previous process that exited without clearing the file (ok=false if
// absent).
func readBreakpoint() (taskID, attemptID int, ok bool, err error) {
	data, err := os.ReadFile(breakpointFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, errors.Wrap(err, "reading breakpoint file")
	}
	if _, scanErr := fmt.Sscanf(string(data), "%d %d", &taskID, &attemptID); scanErr != nil {
		return 0, 0, false, errors.Wrap(scanErr, "parsing breakpoint file")
	}
	return taskID, attemptID, true, nil
}

// CheckUnfinishedTask implements the startup side of breakpoint recovery
// (§6): presence of the breakpoint file means a previous process died
// mid-task, so it is reported killed and the file is cleared before this
// process asks for any new work. The report must succeed or this call is
// fatal (§4.5 step 2, §7): the breakpoint file is the only evidence the
// master would ever see of the crashed attempt, so it is never cleared
// ahead of a confirmed report.
func (mn *Minion) CheckUnfinishedTask() error {
	taskID, attemptID, ok, err := readBreakpoint()
	if err != nil {
		mn.logger.Warnf("breakpoint file unreadable, discarding: %v", err)
		return clearBreakpoint()
	}
	if !ok {
		return nil
	}

	mn.logger.Warnf("recovered unfinished task %d/%d from a previous run, reporting killed", taskID, attemptID)

	if err := mn.reportFinish(wire.FinishTaskArgs{
		JobID:     mn.jobID,
		TaskID:    taskID,
		AttemptID: attemptID,
		State:     wire.TaskKilled,
		Endpoint:  mn.endpoint,
		WorkMode:  mn.mode,
	}); err != nil {
		return errors.Wrapf(err, "reporting recovered task %d/%d", taskID, attemptID)
	}
	return clearBreakpoint()
}
