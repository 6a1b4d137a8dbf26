// Package wire holds the RPC argument and reply types exchanged between a
// Minion and the MasterService, plus the small set of status codes the core
// uses to signal retry/terminal conditions across that boundary (§6, §7).
//
// Remember to capitalize all exported field names: net/rpc only marshals
// exported fields.
package wire

// Status is the result code returned by every master-facing RPC.
type Status string

// The status vocabulary of §7. ok and suspend are the only two that ask
// the caller to keep working; everything else is terminal for the call.
const (
	StatusOK            Status = "ok"
	StatusSuspend       Status = "suspend"
	StatusNoMore        Status = "no_more"
	StatusNoSuchJob     Status = "no_such_job"
	StatusNoSuchTask    Status = "no_such_task"
	StatusOpenFileFail  Status = "open_file_fail"
	StatusWriteFileFail Status = "write_file_fail"
	StatusGalaxyError   Status = "galaxy_error"
)

// WorkMode selects which half of a job a Minion is willing to run.
type WorkMode string

const (
	WorkModeMap      WorkMode = "map"
	WorkModeReduce   WorkMode = "reduce"
	WorkModeMapOnly  WorkMode = "map-only"
)

// TaskState mirrors an AllocateItem's terminal/non-terminal state.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskKilled    TaskState = "killed"
	TaskCanceled  TaskState = "canceled"
	// TaskMoveOutputFailed is re-interpreted by FinishMap/FinishReduce into
	// TaskFailed or TaskCanceled before any accounting happens (§4.3 step 2).
	TaskMoveOutputFailed TaskState = "move_output_failed"
)

// TaskInfo is everything a Minion needs to run one attempt.
type TaskInfo struct {
	JobID      string
	TaskID     int // resource no
	AttemptID  int
	WorkMode   WorkMode
	InputFile  string
	Offset     int64
	Length     int64
	StartLine  int64
	LineCount  int64
	ReduceNum  int
	OutputPath string
}

// CounterKV is one accumulated job counter.
type CounterKV struct {
	Name  string
	Value int64
}

// AssignTaskArgs/AssignTaskReply implement §6's AssignTask RPC.
type AssignTaskArgs struct {
	Endpoint string
	JobID    string
	WorkMode WorkMode
}

type AssignTaskReply struct {
	Status Status
	Task   *TaskInfo
}

// FinishTaskArgs/FinishTaskReply implement §6's FinishTask RPC.
type FinishTaskArgs struct {
	JobID     string
	TaskID    int
	AttemptID int
	State     TaskState
	Endpoint  string
	WorkMode  WorkMode
	ErrorMsg  string
	Counters  []CounterKV
}

type FinishTaskReply struct {
	Status Status
}

// QueryArgs/QueryReply implement §6's Query RPC and §4.5's server side of
// it: an empty reply (Empty=true) means the worker is overloaded, has no
// task running, or its task has outlived the stale-query threshold; the
// JobTracker monitor treats it like any other non-vouching reply and
// marks the queried attempt killed.
type QueryArgs struct {
	Detail bool
}

type QueryReply struct {
	Empty     bool
	JobID     string
	TaskID    int
	AttemptID int
	State     TaskState
	LogMsg    string
}

// CancelTaskArgs/CancelTaskReply implement §6's CancelTask RPC.
type CancelTaskArgs struct {
	JobID     string
	TaskID    int
	AttemptID int
}

type CancelTaskReply struct {
	Status Status
}
