package ecode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryCatalog, CategoryOf(CodeCatNoRowsFound))
	assert.Equal(t, CategoryDriver, CategoryOf(CodeReadFail))
	assert.Equal(t, CategoryResource, CategoryOf(CodeResourceExhausted))
	assert.Equal(t, CategoryFederation, CategoryOf(CodeRemoteConnFail))
	assert.Equal(t, CategoryUserInput, CategoryOf(CodeBadDescriptor))
	assert.Equal(t, CategoryInternal, CategoryOf(CodeInvariantViolated))
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	e1 := New(CodeCatNoRowsFound, "no rows")
	e2 := New(CodeCatNoRowsFound, "different message, same code")
	assert.True(t, errors.Is(e1, e2))

	e3 := New(CodeCatDuplicate, "dup")
	assert.False(t, errors.Is(e1, e3))
}

func TestWithChain(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	e := New(CodeRemoteConnFail, "forward failed").
		WithComponent("forwarder").
		WithOperation("Dispatch").
		WithDriverKind("s3").
		WithContext("zone", "zoneB").
		WithCause(cause)

	assert.Equal(t, "[forwarder:Dispatch] REMOTE_CONN_FAIL: forward failed", e.Error())
	assert.Equal(t, cause, e.Unwrap())
	assert.Contains(t, e.String(), "DriverKind=s3")
	assert.True(t, e.Retryable)
}

func TestIsCode(t *testing.T) {
	e := New(CodeHierarchyError, "conflict")
	assert.True(t, IsCode(e, CodeHierarchyError))
	assert.False(t, IsCode(e, CodeCatDuplicate))
	assert.False(t, IsCode(errors.New("plain"), CodeHierarchyError))
}
