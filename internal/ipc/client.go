package ipc

import (
	"fmt"
	"net"
	"time"

	"github.com/oddjobs/oj/internal/event"
)

// Client connects to the daemon's control socket to send requests.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the given daemon socket path.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

// SetTimeout sets the connect and round-trip deadline.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Send opens a connection, writes one request frame, reads one response
// frame, and closes the connection. The control protocol is request-reply
// per connection; callers that need many requests should call Send
// repeatedly rather than trying to reuse a socket across calls.
func (c *Client) Send(req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &resp, nil
}

// SendEvent submits an event for the daemon to append and dispatch.
func (c *Client) SendEvent(evt event.Event) (*Response, error) {
	return c.Send(&Request{Kind: ReqEvent, Event: &EventRequest{Event: evt}})
}

// Query asks the daemon for a materialized record.
func (c *Client) Query(q QueryRequest) (*QueryResultPayload, error) {
	resp, err := c.Send(&Request{Kind: ReqQuery, Query: &q})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.AsError()
	}
	if resp.QueryResult == nil {
		return nil, fmt.Errorf("daemon returned %s response to a query", resp.Kind)
	}
	return resp.QueryResult, nil
}

// PeekSession captures the tail of a live session pane.
func (c *Client) PeekSession(sessionID string, lines int) ([]string, error) {
	resp, err := c.Send(&Request{Kind: ReqPeekSession, PeekSession: &PeekSessionRequest{SessionId: sessionID, Lines: lines}})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.AsError()
	}
	if resp.SessionPeek == nil {
		return nil, fmt.Errorf("daemon returned %s response to peek_session", resp.Kind)
	}
	return resp.SessionPeek.Lines, nil
}

// Shutdown asks the daemon to stop, optionally killing live sessions.
func (c *Client) Shutdown(kill bool) error {
	resp, err := c.Send(&Request{Kind: ReqShutdown, Shutdown: &ShutdownRequest{Kill: kill}})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return resp.AsError()
	}
	return nil
}

// simple issues a request built from kind and payload and unwraps a plain
// ok/error reply into the events it produced.
func (c *Client) simple(req *Request) ([]event.Event, error) {
	resp, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.AsError()
	}
	if resp.Ok == nil {
		return nil, nil
	}
	return resp.Ok.Events, nil
}

func (c *Client) CronStart(namespace, name string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqCronStart, CronStart: &CronStartRequest{Namespace: namespace, Name: name}})
}

func (c *Client) CronStop(namespace, name string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqCronStop, CronStop: &CronStopRequest{Namespace: namespace, Name: name}})
}

func (c *Client) CronOnce(namespace, name string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqCronOnce, CronOnce: &CronOnceRequest{Namespace: namespace, Name: name}})
}

func (c *Client) CronRestart(namespace, name string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqCronRestart, CronRestart: &CronRestartRequest{Namespace: namespace, Name: name}})
}

func (c *Client) WorkerStart(namespace, name string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqWorkerStart, WorkerStart: &WorkerStartRequest{Namespace: namespace, Name: name}})
}

func (c *Client) WorkerStop(namespace, name string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqWorkerStop, WorkerStop: &WorkerStopRequest{Namespace: namespace, Name: name}})
}

func (c *Client) WorkerResize(namespace, name string, concurrency int) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqWorkerResize, WorkerResize: &WorkerResizeRequest{Namespace: namespace, Name: name, Concurrency: concurrency}})
}

func (c *Client) WorkerRestart(namespace, name string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqWorkerRestart, WorkerRestart: &WorkerRestartRequest{Namespace: namespace, Name: name}})
}

func (c *Client) WorkerPrune(namespace string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqWorkerPrune, WorkerPrune: &WorkerPruneRequest{Namespace: namespace}})
}

func (c *Client) QueuePush(namespace, queue string, data []byte) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqQueuePush, QueuePush: &QueuePushRequest{Namespace: namespace, Queue: queue, Data: data}})
}

func (c *Client) QueueDrop(namespace, queue, itemID string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqQueueDrop, QueueDrop: &QueueDropRequest{Namespace: namespace, Queue: queue, ItemId: itemID}})
}

func (c *Client) QueueRetry(namespace, queue, itemID string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqQueueRetry, QueueRetry: &QueueRetryRequest{Namespace: namespace, Queue: queue, ItemId: itemID}})
}

func (c *Client) QueueDrain(namespace, queue string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqQueueDrain, QueueDrain: &QueueDrainRequest{Namespace: namespace, Queue: queue}})
}

func (c *Client) QueuePrune(namespace string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqQueuePrune, QueuePrune: &QueuePruneRequest{Namespace: namespace}})
}

func (c *Client) AgentSend(agentID, text string, pressEnter bool) error {
	_, err := c.simple(&Request{Kind: ReqAgentSend, AgentSend: &AgentSendRequest{AgentId: agentID, Text: text, PressEnter: pressEnter}})
	return err
}

func (c *Client) AgentPrune(namespace string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqAgentPrune, AgentPrune: &AgentPruneRequest{Namespace: namespace}})
}

func (c *Client) PipelinePrune(namespace string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqPipelinePrune, PipelinePrune: &PipelinePruneRequest{Namespace: namespace}})
}

func (c *Client) WorkspacePrune(namespace string) ([]event.Event, error) {
	return c.simple(&Request{Kind: ReqWorkspacePrune, WorkspacePrune: &WorkspacePruneRequest{Namespace: namespace}})
}
