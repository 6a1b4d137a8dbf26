package minion

import (
	"net/rpc"
	"time"

	"github.com/pkg/errors"

	"shuttle/internal/wire"
)

// masterCallTimeout is the 5s x 1 try bound on AssignTask/FinishTask (§5);
// retrying is the caller's job, via Minion.Run's own loop.
const masterCallTimeout = 5 * time.Second

// masterClient dials the MasterService over the Unix socket it listens on,
// a one-connection-per-call pattern (call -> rpc.DialHTTP -> Call -> Close).
type masterClient struct {
	sockPath string
}

func newMasterClient(sockPath string) *masterClient {
	return &masterClient{sockPath: sockPath}
}

func (c *masterClient) assignTask(args wire.AssignTaskArgs) (wire.AssignTaskReply, error) {
	var reply wire.AssignTaskReply
	err := c.call("MasterService.AssignTask", &args, &reply)
	return reply, err
}

func (c *masterClient) finishTask(args wire.FinishTaskArgs) (wire.FinishTaskReply, error) {
	var reply wire.FinishTaskReply
	err := c.call("MasterService.FinishTask", &args, &reply)
	return reply, err
}

func (c *masterClient) call(method string, args, reply interface{}) error {
	client, err := rpc.DialHTTP("unix", c.sockPath)
	if err != nil {
		return errors.Wrapf(err, "dialing master at %s", c.sockPath)
	}
	defer client.Close()

	call := client.Go(method, args, reply, nil)
	select {
	case <-call.Done:
		if call.Error != nil {
			return errors.Wrapf(call.Error, "calling %s", method)
		}
		return nil
	case <-time.After(masterCallTimeout):
		return errors.Errorf("%s to master timed out after %s", method, masterCallTimeout)
	}
}
