package minion

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"shuttle/internal/config"
	"shuttle/internal/wire"
)

func testMinion() *Minion {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Minion{
		cfg:      &config.WorkerConfig{},
		endpoint: "minion-1:9918",
		mode:     wire.WorkModeMap,
		jobID:    "job-1",
		master:   newMasterClient("/nonexistent"),
		logger:   logrus.NewEntry(l),
	}
}

func TestQueryEmptyWhenOverloaded(t *testing.T) {
	mn := testMinion()
	mn.overloaded = true
	mn.current = &wire.TaskInfo{JobID: "job-1", TaskID: 1, AttemptID: 1}
	mn.taskStartedAt = time.Now()

	var reply wire.QueryReply
	if err := mn.Query(&wire.QueryArgs{}, &reply); err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if !reply.Empty {
		t.Fatal("Query should answer empty while overloaded")
	}
}

func TestQueryEmptyWhenNoCurrentTask(t *testing.T) {
	mn := testMinion()

	var reply wire.QueryReply
	if err := mn.Query(&wire.QueryArgs{}, &reply); err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if !reply.Empty {
		t.Fatal("Query should answer empty with no task running")
	}
}

func TestQueryReturnsRunningTask(t *testing.T) {
	mn := testMinion()
	mn.current = &wire.TaskInfo{JobID: "job-1", TaskID: 3, AttemptID: 1}
	mn.taskStartedAt = time.Now()

	var reply wire.QueryReply
	if err := mn.Query(&wire.QueryArgs{}, &reply); err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if reply.Empty {
		t.Fatal("Query should vouch for a freshly started task")
	}
	if reply.TaskID != 3 || reply.State != wire.TaskRunning {
		t.Fatalf("Query reply = %+v, want task 3 running", reply)
	}
}

func TestQueryEmptyWhenStale(t *testing.T) {
	mn := testMinion()
	mn.current = &wire.TaskInfo{JobID: "job-1", TaskID: 3, AttemptID: 1}
	mn.taskStartedAt = time.Now().Add(-staleQueryThreshold - time.Second)

	var reply wire.QueryReply
	if err := mn.Query(&wire.QueryArgs{}, &reply); err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if !reply.Empty {
		t.Fatal("Query should deliberately answer empty past the stale threshold")
	}
}

func TestCancelTaskRejectsMismatch(t *testing.T) {
	mn := testMinion()
	mn.current = &wire.TaskInfo{JobID: "job-1", TaskID: 3, AttemptID: 1}
	canceled := false
	_, cancel := context.WithCancel(context.Background())
	mn.cancelCurrent = func() { canceled = true; cancel() }

	var reply wire.CancelTaskReply
	if err := mn.CancelTask(&wire.CancelTaskArgs{JobID: "job-1", TaskID: 3, AttemptID: 2}, &reply); err != nil {
		t.Fatalf("CancelTask() = %v", err)
	}
	if reply.Status != wire.StatusNoSuchTask {
		t.Fatalf("CancelTask for a mismatched attempt = %v, want no_such_task", reply.Status)
	}
	if canceled {
		t.Fatal("a mismatched CancelTask must not cancel the running attempt")
	}
}

func TestCancelTaskCancelsMatchingAttempt(t *testing.T) {
	mn := testMinion()
	mn.current = &wire.TaskInfo{JobID: "job-1", TaskID: 3, AttemptID: 1}
	canceled := false
	mn.cancelCurrent = func() { canceled = true }

	var reply wire.CancelTaskReply
	if err := mn.CancelTask(&wire.CancelTaskArgs{JobID: "job-1", TaskID: 3, AttemptID: 1}, &reply); err != nil {
		t.Fatalf("CancelTask() = %v", err)
	}
	if reply.Status != wire.StatusOK {
		t.Fatalf("CancelTask for a matching attempt = %v, want ok", reply.Status)
	}
	if !canceled {
		t.Fatal("a matching CancelTask should invoke the attempt's cancel func")
	}
}
