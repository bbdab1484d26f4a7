package ipc

import (
	"bytes"
	"testing"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/types"
)

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{
			name: "matching kind and payload",
			req:  Request{Kind: ReqShutdown, Shutdown: &ShutdownRequest{Kill: true}},
		},
		{
			name:    "no payload",
			req:     Request{Kind: ReqShutdown},
			wantErr: true,
		},
		{
			name:    "kind does not match payload",
			req:     Request{Kind: ReqCronStart, Shutdown: &ShutdownRequest{}},
			wantErr: true,
		},
		{
			name:    "two payloads set",
			req:     Request{Kind: ReqShutdown, Shutdown: &ShutdownRequest{}, CronStop: &CronStopRequest{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequest_RoundTrip(t *testing.T) {
	jobID := types.NewJobId()
	req := &Request{
		Kind: ReqEvent,
		Event: &EventRequest{
			Event: event.Event{
				Type:       event.TypeJobCreated,
				JobCreated: &event.JobCreated{JobId: jobID, Name: "deploy"},
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var decoded Request
	if err := ReadFrame(&buf, &decoded); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if err := decoded.Validate(); err != nil {
		t.Fatalf("decoded request invalid: %v", err)
	}
	if decoded.Kind != ReqEvent {
		t.Errorf("Kind = %q, want %q", decoded.Kind, ReqEvent)
	}
	if decoded.Event.Event.Type != event.TypeJobCreated {
		t.Errorf("Event.Type = %q, want %q", decoded.Event.Event.Type, event.TypeJobCreated)
	}
	if decoded.Event.Event.JobCreated.JobId != jobID {
		t.Errorf("JobId = %s, want %s", decoded.Event.Event.JobCreated.JobId, jobID)
	}
}

func TestResponse_OkAndError(t *testing.T) {
	ok := NewOkResponse(event.Event{Type: event.TypeCronFired})
	if ok.IsError() {
		t.Error("ok response reported as error")
	}
	if len(ok.Ok.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(ok.Ok.Events))
	}

	errResp := NewErrorResponse(errBoom)
	if !errResp.IsError() {
		t.Error("error response not reported as error")
	}
	if got := errResp.AsError(); got == nil || got.Error() != errBoom.Error() {
		t.Errorf("AsError() = %v, want %v", got, errBoom)
	}
}

func TestResponse_RoundTrip(t *testing.T) {
	resp := &Response{
		Kind:        RespQueryResult,
		QueryResult: &QueryResultPayload{Found: true, Data: []byte(`{"job_id":"j-1"}`)},
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, resp); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var decoded Response
	if err := ReadFrame(&buf, &decoded); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if decoded.Kind != RespQueryResult {
		t.Errorf("Kind = %q, want %q", decoded.Kind, RespQueryResult)
	}
	if !decoded.QueryResult.Found {
		t.Error("Found = false, want true")
	}
}

type stubError string

func (e stubError) Error() string { return string(e) }

const errBoom = stubError("boom")
