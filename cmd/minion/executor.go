package main

import (
	"context"
	"time"

	"shuttle/internal/wire"
)

// passthroughExecutor is a placeholder minion.Executor: the actual map/reduce
// function body a deployment runs is supplied by the job submitter (spec §1
// scopes executor invocation as "out of scope"), so this binary has nothing
// concrete to call. It exists only so `minion` links and can exercise the
// rest of the worker loop end to end.
type passthroughExecutor struct{}

func (passthroughExecutor) RunMap(ctx context.Context, task wire.TaskInfo) ([]wire.CounterKV, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	return []wire.CounterKV{{Name: "map_records", Value: 0}}, nil
}

func (passthroughExecutor) RunReduce(ctx context.Context, task wire.TaskInfo) ([]wire.CounterKV, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	return []wire.CounterKV{{Name: "reduce_records", Value: 0}}, nil
}
