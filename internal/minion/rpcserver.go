package minion

import (
	"net"
	"net/http"
	"net/rpc"
	"time"

	"github.com/pkg/errors"

	"shuttle/internal/wire"
)

// staleQueryThreshold is how long a task can run before Query starts
// deliberately returning an empty reply instead of vouching for it,
// forcing the caller's timeout monitor to judge it by elapsed time rather
// than trust a self-report that might itself be stuck (§4.5).
const staleQueryThreshold = 300 * time.Second

// Query answers a JobTracker's timeout-monitor liveness check (§6). It
// replies empty -- rather than with an error -- while overloaded, with no
// task running, or once the current task has run past
// staleQueryThreshold; the monitor does not count an empty reply as
// vouching for the attempt it is judging.
func (mn *Minion) Query(args *wire.QueryArgs, reply *wire.QueryReply) error {
	mn.mu.Lock()
	defer mn.mu.Unlock()

	if mn.overloaded || mn.current == nil {
		reply.Empty = true
		return nil
	}
	if time.Since(mn.taskStartedAt) > staleQueryThreshold {
		reply.Empty = true
		return nil
	}

	reply.JobID = mn.current.JobID
	reply.TaskID = mn.current.TaskID
	reply.AttemptID = mn.current.AttemptID
	reply.State = wire.TaskRunning
	return nil
}

// CancelTask implements the server side of a JobTracker's end-game
// duplicate-attempt cancellation (§6): it only cancels if the args
// identify the attempt currently running here.
func (mn *Minion) CancelTask(args *wire.CancelTaskArgs, reply *wire.CancelTaskReply) error {
	mn.mu.Lock()
	if mn.overloaded || mn.current == nil ||
		mn.current.JobID != args.JobID || mn.current.TaskID != args.TaskID || mn.current.AttemptID != args.AttemptID {
		mn.mu.Unlock()
		reply.Status = wire.StatusNoSuchTask
		return nil
	}
	cancel := mn.cancelCurrent
	mn.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	reply.Status = wire.StatusOK
	return nil
}

// Serve registers Minion's RPC methods and listens on a TCP socket at
// addr (rpc.NewServer + RegisterName on its own http.ServeMux +
// http.Serve), using TCP rather
// than Unix since a Minion's endpoint must be dialable from across the
// cluster, unlike the master's local control socket.
func (mn *Minion) Serve(addr string) error {
	server := rpc.NewServer()
	if err := server.RegisterName("Minion", mn); err != nil {
		return errors.Wrap(err, "registering Minion RPC methods")
	}
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, server)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	mn.logger.Infof("minion listening on %s", addr)
	return http.Serve(l, mux)
}
