package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the engine can report. The kind is part
// of the wire contract: callers match on it, not on error strings.
type ErrorKind string

const (
	KindSelectorMissing      ErrorKind = "selector_missing"
	KindResponseTimeout      ErrorKind = "response_timeout"
	KindProviderBusy         ErrorKind = "provider_busy"
	KindProviderUnavailable  ErrorKind = "provider_unavailable"
	KindTransportUnreachable ErrorKind = "transport_unreachable"
	KindTransportNotAttached ErrorKind = "transport_not_attached"
	KindBrowserLaunchFailed  ErrorKind = "browser_launch_failed"
	KindStopFailed           ErrorKind = "stop_failed"
	KindAdapterIncomplete    ErrorKind = "adapter_incomplete"
)

// Stage names used in errors and stage logs.
const (
	StageEnsureReady = "ensure_ready"
	StageSend        = "send"
	StageWait        = "wait"
	StageExtract     = "extract"
	StageLease       = "lease"
	StageLaunch      = "launch"
	StageStop        = "stop"
	StageNavigate    = "navigate"
	StageConfig      = "config"
)

// Error is the structured error returned across the provider boundary.
// It is never thrown as an unstructured fault: every failing operation wraps
// its cause into one of these and hands it back inside the result.
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Stage  string    `json:"stage,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Detail)
}

// NewError builds a structured Error with a formatted detail message.
func NewError(kind ErrorKind, stage string, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   kind,
		Stage:  stage,
		Detail: fmt.Sprintf(format, args...),
	}
}

// AsError unwraps err into a structured *Error. Unclassified errors are
// reported as transport_unreachable, the catch-all for control-channel
// faults, so callers always see a kind.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Kind: KindTransportUnreachable, Detail: err.Error()}
}

// KindOf returns the kind of err, or "" if err is nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}
