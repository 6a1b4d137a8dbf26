// Package collab declares the external collaborators spec.md §1 puts out of
// scope: the cluster-container backend, the distributed filesystem, the
// naming/lock service, the sort-file writer, and on-disk job persistence.
// JobTracker and Minion are written against these interfaces; nothing in
// this repo implements a production backend for any of them.
package collab

import (
	"context"
	"time"

	"shuttle/internal/wire"
)

// JobPriority is the priority level a ClusterBackend submission carries
// (§6's kMonitor/kOnline/kOffline/kBestEffort mapping).
type JobPriority int

const (
	PriorityVeryHigh JobPriority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// ParsePriority maps the priority names §6 recognizes onto JobPriority,
// defaulting to PriorityNormal exactly like the original's ParsePriority.
func ParsePriority(name string) JobPriority {
	switch name {
	case "kMonitor":
		return PriorityVeryHigh
	case "kOnline":
		return PriorityHigh
	case "kBestEffort":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// WorkerGroupSpec describes one Submit call to the cluster backend.
type WorkerGroupSpec struct {
	JobID     string
	Name      string
	IsMap     bool
	Capacity  int
	Priority  JobPriority
	DeployStep int
}

// ClusterBackend is the "galaxy" cluster-container launcher (§6). It starts
// and tears down the worker process groups that actually run map/reduce
// tasks; the JobTracker only ever talks to this interface, never to a
// container runtime directly.
type ClusterBackend interface {
	Submit(spec WorkerGroupSpec) (handle string, err error)
	Update(handle string, priority JobPriority, capacity int) error
	Destroy(handle string) error
}

// ClampReduceCapacity enforces §6's clamp: reduce_capacity <= max(2 *
// reduce_total, 60).
func ClampReduceCapacity(requested, reduceTotal int) int {
	limit := 2 * reduceTotal
	if limit < 60 {
		limit = 60
	}
	if requested > limit {
		return limit
	}
	return requested
}

// FileSystem is the distributed filesystem collaborator (§6): existence
// checks and removal rooted at a job's output path, plus the temporary
// directory convention JobTracker relies on.
type FileSystem interface {
	Exist(path string) (bool, error)
	Remove(path string) error
}

// SortFileWriter is the shuffle-side sort file writer (§6); JobTracker only
// uses it to fabricate the empty 0.sort file an ignored map failure needs.
type SortFileWriter interface {
	Open(path string) error
	Close() error
}

// NamingService is the naming/lock service a Minion uses to discover the
// current master (§6).
type NamingService interface {
	Get(ctx context.Context, path string) (endpoint string, err error)
}

// JobRecord is the persisted snapshot a checkpoint store keeps per job; the
// on-disk format itself is out of scope (§1), only the call contract is.
type JobRecord struct {
	JobID     string
	State     int
	Payload   []byte
	UpdatedAt time.Time
}

// Checkpointer is the on-disk job persistence collaborator (§6) the
// housekeeping sweep in internal/master calls on backup_interval/gc_interval.
type Checkpointer interface {
	Save(record JobRecord) error
	Delete(jobID string) error
}

// WorkerClient is how a JobTracker talks back to the Minion that holds a
// given attempt: the synchronous Query used by the timeout monitor (§4.4)
// and the fire-and-forget CancelTask used to kill redundant end-game
// replicas (§4.3 step 6). Concrete implementation lives in internal/master,
// over net/rpc.
type WorkerClient interface {
	Query(ctx context.Context, endpoint string, args wire.QueryArgs) (wire.QueryReply, error)
	CancelTask(ctx context.Context, endpoint string, args wire.CancelTaskArgs) (wire.CancelTaskReply, error)
}
