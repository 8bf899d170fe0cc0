// Package ecode provides the structured error taxonomy used across
// the data-grid core (spec §7): a stable code, a category, and enough
// context to diagnose a failure without a second round trip.
package ecode

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Code is a stable, sortable error code.
type Code string

const (
	// USER_INPUT
	CodeNullInput       Code = "NULL_INPUT"
	CodeBadPath         Code = "BAD_PATH"
	CodeBadDescriptor   Code = "BAD_DESCRIPTOR"
	CodeMutuallyExcl    Code = "MUTUALLY_EXCLUSIVE_OPTIONS"
	CodeInvalidOption   Code = "INVALID_OPTION_VALUE"

	// CATALOG
	CodeCatNoRowsFound   Code = "CAT_NO_ROWS_FOUND"
	CodeCatDuplicate     Code = "CAT_DUPLICATE"
	CodeCatInvalidAuth   Code = "CAT_INVALID_AUTHENTICATION"
	CodeCatSQLErr        Code = "CAT_SQL_ERR"

	// DRIVER
	CodeOpenFail   Code = "OPEN_FAIL"
	CodeReadFail   Code = "READ_FAIL"
	CodeWriteFail  Code = "WRITE_FAIL"
	CodeSeekFail   Code = "SEEK_FAIL"
	CodeUnlinkFail Code = "UNLINK_FAIL"
	CodeStageFail  Code = "STAGE_FAIL"
	CodeSyncFail   Code = "SYNC_FAIL"

	// RESOURCE
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	CodeHierarchyError    Code = "HIERARCHY_ERROR"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
	CodeDriverUnsupported Code = "DRIVER_UNSUPPORTED"
	CodeReplicaDegraded   Code = "RESOURCE_REPLICA_DEGRADED"

	// FEDERATION
	CodeRemoteConnFail         Code = "REMOTE_CONN_FAIL"
	CodeRemoteProtocolMismatch Code = "REMOTE_PROTOCOL_MISMATCH"

	// INTERNAL
	CodeInvariantViolated Code = "INVARIANT_VIOLATED"
	CodeInternalError     Code = "INTERNAL_ERROR"

	// LOCK/concurrency (replication engine, §4.8)
	CodeLockContention Code = "LOCK_CONTENTION"

	// overflow (lseek, §8)
	CodeOffsetOverflow Code = "OFFSET_OVERFLOW"
)

// Category groups codes per spec §7.
type Category string

const (
	CategoryUserInput  Category = "user_input"
	CategoryCatalog    Category = "catalog"
	CategoryDriver     Category = "driver"
	CategoryResource   Category = "resource"
	CategoryFederation Category = "federation"
	CategoryInternal   Category = "internal"
)

// GridError is the structured error type returned by every core
// component. It is always non-nil when returned as an error;
// construct with New.
type GridError struct {
	Code     Code                   `json:"code"`
	Category Category               `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Context  map[string]string      `json:"context,omitempty"`

	// DriverKind tags driver-layer errors with the offending driver
	// kind, per spec §4.3/§7 ("driver errors... tagged with the
	// driver kind").
	DriverKind string `json:"driver_kind,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`

	Retryable bool   `json:"retryable"`
	Stack     string `json:"stack,omitempty"`
}

func (e *GridError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GridError) Unwrap() error { return e.Cause }

// Is lets errors.Is match GridErrors by code.
func (e *GridError) Is(target error) bool {
	if other, ok := target.(*GridError); ok {
		return e.Code == other.Code
	}
	return false
}

func (e *GridError) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Code=%s", e.Code), fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message))
	if e.DriverKind != "" {
		parts = append(parts, fmt.Sprintf("DriverKind=%s", e.DriverKind))
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("GridError{%s}", strings.Join(parts, ", "))
}

// JSON renders the error as a JSON document for log sinks.
func (e *GridError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New creates a GridError with its category and default retryability
// derived from code.
func New(code Code, message string) *GridError {
	return &GridError{
		Code:      code,
		Category:  CategoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: isRetryableByDefault(code),
	}
}

// CategoryOf maps a code to its taxonomy category.
func CategoryOf(code Code) Category {
	switch {
	case strings.HasPrefix(string(code), "NULL_INPUT"), strings.HasPrefix(string(code), "BAD_"),
		strings.HasPrefix(string(code), "MUTUALLY_"), strings.HasPrefix(string(code), "INVALID_OPTION"):
		return CategoryUserInput
	case strings.HasPrefix(string(code), "CAT_"):
		return CategoryCatalog
	case strings.HasPrefix(string(code), "REMOTE_"):
		return CategoryFederation
	case strings.HasSuffix(string(code), "_FAIL"):
		return CategoryDriver
	case strings.HasPrefix(string(code), "RESOURCE_"), code == CodeHierarchyError,
		code == CodeQuotaExceeded, code == CodeDriverUnsupported, code == CodeLockContention:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

func isRetryableByDefault(code Code) bool {
	retryable := map[Code]bool{
		CodeRemoteConnFail:    true,
		CodeLockContention:    true,
		CodeResourceExhausted: true,
		CodeInternalError:     true,
	}
	return retryable[code]
}

// CaptureStack captures the caller's stack, skipping this package's
// own frames.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "ecode.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

func (e *GridError) WithContext(key, value string) *GridError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *GridError) WithDetail(key string, value interface{}) *GridError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *GridError) WithComponent(component string) *GridError {
	e.Component = component
	return e
}

func (e *GridError) WithOperation(operation string) *GridError {
	e.Operation = operation
	return e
}

func (e *GridError) WithDriverKind(kind string) *GridError {
	e.DriverKind = kind
	return e
}

func (e *GridError) WithCause(cause error) *GridError {
	e.Cause = cause
	return e
}

func (e *GridError) WithStack() *GridError {
	e.Stack = CaptureStack(2)
	return e
}

// IsCode reports whether err is a *GridError with the given code.
func IsCode(err error, code Code) bool {
	ge, ok := err.(*GridError)
	if !ok {
		return false
	}
	return ge.Code == code
}
