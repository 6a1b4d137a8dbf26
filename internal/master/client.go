package master

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/rpc"
	"time"

	"github.com/pkg/errors"

	"shuttle/internal/wire"
)

// RPCWorkerClient is the concrete collab.WorkerClient the JobTracker timeout
// monitor and CancelTask path use to talk back to a Minion, dialing fresh
// over HTTP-over-TCP each call rather than holding a long-lived
// connection (§6).
type RPCWorkerClient struct{}

// NewRPCWorkerClient builds the default collab.WorkerClient implementation.
func NewRPCWorkerClient() *RPCWorkerClient {
	return &RPCWorkerClient{}
}

func (c *RPCWorkerClient) Query(ctx context.Context, endpoint string, args wire.QueryArgs) (wire.QueryReply, error) {
	var reply wire.QueryReply
	err := c.call(ctx, endpoint, "Minion.Query", &args, &reply)
	return reply, err
}

func (c *RPCWorkerClient) CancelTask(ctx context.Context, endpoint string, args wire.CancelTaskArgs) (wire.CancelTaskReply, error) {
	var reply wire.CancelTaskReply
	err := c.call(ctx, endpoint, "Minion.CancelTask", &args, &reply)
	return reply, err
}

// call dials endpoint, issues one RPC, and respects ctx's deadline even
// though net/rpc's Client.Call itself does not take a context: the dial is
// bounded by the ctx deadline and the call result races against ctx.Done.
func (c *RPCWorkerClient) call(ctx context.Context, endpoint, method string, args, reply interface{}) error {
	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	dialCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	client, err := dialHTTPContext(dialCtx, endpoint)
	if err != nil {
		return errors.Wrapf(err, "dialing minion at %s", endpoint)
	}
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- client.Call(method, args, reply) }()

	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s to %s", method, endpoint)
	case err := <-done:
		if err != nil {
			return errors.Wrapf(err, "%s to %s", method, endpoint)
		}
		return nil
	}
}

// dialHTTPContext is net/rpc's DialHTTPPath, adapted to take a context for
// the dial step (the stdlib helper only accepts a bare address).
func dialHTTPContext(ctx context.Context, endpoint string) (*rpc.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	io.WriteString(conn, "CONNECT "+rpc.DefaultRPCPath+" HTTP/1.0\n\n")

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: "CONNECT"})
	if err == nil && resp.Status == "200 Connected to Go RPC" {
		return rpc.NewClient(conn), nil
	}
	if err == nil {
		err = errors.Errorf("unexpected HTTP response connecting to RPC: %s", resp.Status)
	}
	conn.Close()
	return nil, err
}
