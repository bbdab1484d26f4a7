// Package ojerr provides the structured error type used across the oddjobs
// daemon: a code, a message, free-form details, and an optional wrapped
// cause.
package ojerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes, grouped by component.
const (
	CodeWALWrite      = "WAL_001" // append/flush failure
	CodeWALCorrupt     = "WAL_002" // malformed record during replay
	CodeSnapshotWrite  = "WAL_003" // checkpoint write failure
	CodeSnapshotRead   = "WAL_004" // snapshot read/decode failure

	CodeJobNotFound     = "JOB_001"
	CodeJobCircuitBreak = "JOB_002" // step visit budget exceeded
	CodeStepInvalid     = "JOB_003" // nested job ref at step level, etc.

	CodeAgentSpawnFailed = "AGENT_001"
	CodeAgentNotFound    = "AGENT_002"
	CodeAgentSendFailed  = "AGENT_003"
	CodeAgentKillFailed  = "AGENT_004"

	CodeWorkerNotFound  = "WORKER_001"
	CodeWorkerSlotsFull = "WORKER_002"

	CodeQueueNotFound    = "QUEUE_001"
	CodeQueueBadStatus   = "QUEUE_002" // illegal status-lattice transition

	CodeCronNotFound = "CRON_001"
	CodeCronBadInterval = "CRON_002"

	CodeIORead  = "IO_001"
	CodeIOWrite = "IO_002"
	CodeIOLock  = "IO_003" // daemon already running / lock loss

	CodeProtoParse   = "PROTO_001"
	CodeProtoUnknown = "PROTO_002"

	CodeRunbookParse    = "RUNBOOK_001"
	CodeRunbookNotFound = "RUNBOOK_002"

	CodeShellTimeout = "SHELL_001"
)

// OjError is the structured error type for oddjobs operations.
type OjError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *OjError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *OjError) Unwrap() error { return e.Cause }

// WithDetail attaches a context key/value and returns the receiver.
func (e *OjError) WithDetail(key string, value any) *OjError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// MarshalJSON renders the cause as a plain message, since errors do not
// round-trip through JSON.
func (e *OjError) MarshalJSON() ([]byte, error) {
	type alias OjError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New builds an OjError with no wrapped cause.
func New(code, message string) *OjError {
	return &OjError{Code: code, Message: message}
}

// Newf builds an OjError with a formatted message.
func Newf(code, format string, args ...any) *OjError {
	return &OjError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an OjError around an existing error.
func Wrap(code, message string, err error) *OjError {
	return &OjError{Code: code, Message: message, Cause: err}
}

// Wrapf builds an OjError around an existing error with a formatted message.
func Wrapf(code string, err error, format string, args ...any) *OjError {
	return &OjError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// HasCode reports whether err is (or wraps) an OjError with the given code.
func HasCode(err error, code string) bool {
	var oe *OjError
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// Code returns the OjError code in err, or "" if err is not an OjError.
func Code(err error) string {
	var oe *OjError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}
