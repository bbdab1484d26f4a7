// Package ipc implements the daemon's control protocol: a length-prefixed
// JSON request/response exchange over a Unix domain socket at
// {state_dir}/daemon.sock. Every frame is a 4-byte big-endian length prefix
// followed by that many bytes of JSON. There is no line-oriented framing —
// a JSON payload is free to contain newlines (an embedded event, a shell
// command's stdout) without corrupting the stream.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/oddjobs/oj/internal/event"
)

// RequestKind identifies the verb carried by a Request.
type RequestKind string

const (
	ReqEvent          RequestKind = "event"
	ReqQuery          RequestKind = "query"
	ReqCronStart      RequestKind = "cron_start"
	ReqCronStop       RequestKind = "cron_stop"
	ReqCronOnce       RequestKind = "cron_once"
	ReqCronRestart    RequestKind = "cron_restart"
	ReqWorkerStart    RequestKind = "worker_start"
	ReqWorkerStop     RequestKind = "worker_stop"
	ReqWorkerResize   RequestKind = "worker_resize"
	ReqWorkerRestart  RequestKind = "worker_restart"
	ReqWorkerPrune    RequestKind = "worker_prune"
	ReqQueuePush      RequestKind = "queue_push"
	ReqQueueDrop      RequestKind = "queue_drop"
	ReqQueueRetry     RequestKind = "queue_retry"
	ReqQueueDrain     RequestKind = "queue_drain"
	ReqQueuePrune     RequestKind = "queue_prune"
	ReqAgentSend      RequestKind = "agent_send"
	ReqAgentPrune     RequestKind = "agent_prune"
	ReqPipelinePrune  RequestKind = "pipeline_prune"
	ReqWorkspacePrune RequestKind = "workspace_prune"
	ReqPeekSession    RequestKind = "peek_session"
	ReqShutdown       RequestKind = "shutdown"
)

// QueryKind selects what a ReqQuery request asks the daemon to read back.
type QueryKind string

const (
	QueryJob    QueryKind = "job"
	QueryWorker QueryKind = "worker"
	QueryCron   QueryKind = "cron"
	QueryAgent  QueryKind = "agent"
	QueryState  QueryKind = "state"
)

// EventRequest submits a single external-origin event for the daemon to
// append to the WAL and dispatch. This is the client's only way to inject
// domain events; the CLI's "oj run" and "oj cancel" verbs build one of these.
type EventRequest struct {
	Event event.Event `json:"event"`
}

// QueryRequest reads back a materialized view of daemon state. JobId,
// Namespace and Name are interpreted according to Kind; unused fields are
// left zero.
type QueryRequest struct {
	Kind      QueryKind `json:"kind"`
	JobId     string    `json:"job_id,omitempty"`
	Namespace string    `json:"namespace,omitempty"`
	Name      string    `json:"name,omitempty"`
}

type CronStartRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type CronStopRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type CronOnceRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type CronRestartRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type WorkerStartRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type WorkerStopRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type WorkerResizeRequest struct {
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
}

type WorkerRestartRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// WorkerPruneRequest removes finished worker records for a namespace.
// Namespace empty means every namespace.
type WorkerPruneRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

type QueuePushRequest struct {
	Namespace string          `json:"namespace"`
	Queue     string          `json:"queue"`
	Data      json.RawMessage `json:"data"`
}

type QueueDropRequest struct {
	Namespace string `json:"namespace"`
	Queue     string `json:"queue"`
	ItemId    string `json:"item_id"`
}

type QueueRetryRequest struct {
	Namespace string `json:"namespace"`
	Queue     string `json:"queue"`
	ItemId    string `json:"item_id"`
}

type QueueDrainRequest struct {
	Namespace string `json:"namespace"`
	Queue     string `json:"queue"`
}

type QueuePruneRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

type AgentSendRequest struct {
	AgentId    string `json:"agent_id"`
	Text       string `json:"text"`
	PressEnter bool   `json:"press_enter"`
}

type AgentPruneRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

type PipelinePruneRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

type WorkspacePruneRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

// PeekSessionRequest captures the tail of a live tmux pane without
// attaching to it.
type PeekSessionRequest struct {
	SessionId string `json:"session_id"`
	Lines     int    `json:"lines,omitempty"`
}

type ShutdownRequest struct {
	Kill bool `json:"kill"`
}

// Request is the single wire type sent client → daemon. Kind selects which
// of the pointer fields below is populated; all others are nil/omitted.
type Request struct {
	Kind RequestKind `json:"kind"`

	Event          *EventRequest          `json:"event,omitempty"`
	Query          *QueryRequest          `json:"query,omitempty"`
	CronStart      *CronStartRequest      `json:"cron_start,omitempty"`
	CronStop       *CronStopRequest       `json:"cron_stop,omitempty"`
	CronOnce       *CronOnceRequest       `json:"cron_once,omitempty"`
	CronRestart    *CronRestartRequest    `json:"cron_restart,omitempty"`
	WorkerStart    *WorkerStartRequest    `json:"worker_start,omitempty"`
	WorkerStop     *WorkerStopRequest     `json:"worker_stop,omitempty"`
	WorkerResize   *WorkerResizeRequest   `json:"worker_resize,omitempty"`
	WorkerRestart  *WorkerRestartRequest  `json:"worker_restart,omitempty"`
	WorkerPrune    *WorkerPruneRequest    `json:"worker_prune,omitempty"`
	QueuePush      *QueuePushRequest      `json:"queue_push,omitempty"`
	QueueDrop      *QueueDropRequest      `json:"queue_drop,omitempty"`
	QueueRetry     *QueueRetryRequest     `json:"queue_retry,omitempty"`
	QueueDrain     *QueueDrainRequest     `json:"queue_drain,omitempty"`
	QueuePrune     *QueuePruneRequest     `json:"queue_prune,omitempty"`
	AgentSend      *AgentSendRequest      `json:"agent_send,omitempty"`
	AgentPrune     *AgentPruneRequest     `json:"agent_prune,omitempty"`
	PipelinePrune  *PipelinePruneRequest  `json:"pipeline_prune,omitempty"`
	WorkspacePrune *WorkspacePruneRequest `json:"workspace_prune,omitempty"`
	PeekSession    *PeekSessionRequest    `json:"peek_session,omitempty"`
	Shutdown       *ShutdownRequest       `json:"shutdown,omitempty"`
}

// Validate checks that Kind matches exactly the populated payload field.
func (r *Request) Validate() error {
	present := map[RequestKind]bool{}
	mark := func(k RequestKind, set bool) {
		if set {
			present[k] = true
		}
	}
	mark(ReqEvent, r.Event != nil)
	mark(ReqQuery, r.Query != nil)
	mark(ReqCronStart, r.CronStart != nil)
	mark(ReqCronStop, r.CronStop != nil)
	mark(ReqCronOnce, r.CronOnce != nil)
	mark(ReqCronRestart, r.CronRestart != nil)
	mark(ReqWorkerStart, r.WorkerStart != nil)
	mark(ReqWorkerStop, r.WorkerStop != nil)
	mark(ReqWorkerResize, r.WorkerResize != nil)
	mark(ReqWorkerRestart, r.WorkerRestart != nil)
	mark(ReqWorkerPrune, r.WorkerPrune != nil)
	mark(ReqQueuePush, r.QueuePush != nil)
	mark(ReqQueueDrop, r.QueueDrop != nil)
	mark(ReqQueueRetry, r.QueueRetry != nil)
	mark(ReqQueueDrain, r.QueueDrain != nil)
	mark(ReqQueuePrune, r.QueuePrune != nil)
	mark(ReqAgentSend, r.AgentSend != nil)
	mark(ReqAgentPrune, r.AgentPrune != nil)
	mark(ReqPipelinePrune, r.PipelinePrune != nil)
	mark(ReqWorkspacePrune, r.WorkspacePrune != nil)
	mark(ReqPeekSession, r.PeekSession != nil)
	mark(ReqShutdown, r.Shutdown != nil)

	if len(present) == 0 {
		return fmt.Errorf("request carries no payload")
	}
	if len(present) > 1 {
		return fmt.Errorf("request carries more than one payload")
	}
	if !present[r.Kind] {
		return fmt.Errorf("request kind %q does not match its payload", r.Kind)
	}
	return nil
}

// ResponseKind identifies the variant carried by a Response.
type ResponseKind string

const (
	RespOk          ResponseKind = "ok"
	RespError       ResponseKind = "error"
	RespQueryResult ResponseKind = "query_result"
	RespSessionPeek ResponseKind = "session_peek"
)

// OkPayload is the generic success reply for requests that do not return
// data, carrying the event(s) the request produced, if any.
type OkPayload struct {
	Events []event.Event `json:"events,omitempty"`
}

// ErrorPayload reports a failed request.
type ErrorPayload struct {
	Message string `json:"message"`
}

// QueryResultPayload answers a QueryRequest. Data is the raw JSON encoding
// of whatever materialized record(s) matched; callers that know Kind can
// unmarshal it into the concrete type (types.Job, types.WorkerRecord, ...).
type QueryResultPayload struct {
	Found bool            `json:"found"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionPeekPayload answers a PeekSessionRequest with the captured pane
// text, most recent line last.
type SessionPeekPayload struct {
	Lines []string `json:"lines"`
}

// Response is the single wire type sent daemon → client.
type Response struct {
	Kind ResponseKind `json:"kind"`

	Ok          *OkPayload          `json:"ok,omitempty"`
	Error       *ErrorPayload       `json:"error,omitempty"`
	QueryResult *QueryResultPayload `json:"query_result,omitempty"`
	SessionPeek *SessionPeekPayload `json:"session_peek,omitempty"`
}

// NewOkResponse builds a success response carrying the events a handled
// request produced.
func NewOkResponse(events ...event.Event) *Response {
	return &Response{Kind: RespOk, Ok: &OkPayload{Events: events}}
}

// NewErrorResponse builds an error response from err.
func NewErrorResponse(err error) *Response {
	return &Response{Kind: RespError, Error: &ErrorPayload{Message: err.Error()}}
}

// IsError reports whether r carries an error.
func (r *Response) IsError() bool {
	return r != nil && r.Kind == RespError
}

// AsError returns the error carried by an error response, or nil.
func (r *Response) AsError() error {
	if !r.IsError() || r.Error == nil {
		return nil
	}
	return fmt.Errorf("%s", r.Error.Message)
}
