package minion

import (
	"context"

	"shuttle/internal/wire"
)

// Executor runs the user's map or reduce function body for one task. Its
// implementation (process fork, in-process call, container exec, ...) is
// out of this core's scope (spec §1); Minion only needs something
// satisfying this interface to drive.
type Executor interface {
	RunMap(ctx context.Context, task wire.TaskInfo) ([]wire.CounterKV, error)
	RunReduce(ctx context.Context, task wire.TaskInfo) ([]wire.CounterKV, error)
}
