package health

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/gridcore/server/pkg/ecode"
)

func TestCatalogCheckWrapsBareErrorAsGridError(t *testing.T) {
	checkFn := CatalogCheck(func(ctx context.Context) error {
		return stderr.New("bolt: database not open")
	})

	err := checkFn(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var gerr *ecode.GridError
	if !stderr.As(err, &gerr) {
		t.Fatalf("expected *ecode.GridError, got %T", err)
	}
	if gerr.Code != ecode.CodeCatSQLErr {
		t.Errorf("Code = %v, want %v", gerr.Code, ecode.CodeCatSQLErr)
	}
}

func TestCatalogCheckPassesThroughExistingGridError(t *testing.T) {
	original := ecode.New(ecode.CodeCatNoRowsFound, "no such resource")
	checkFn := CatalogCheck(func(ctx context.Context) error {
		return original
	})

	err := checkFn(context.Background())
	var gerr *ecode.GridError
	if !stderr.As(err, &gerr) {
		t.Fatalf("expected *ecode.GridError, got %T", err)
	}
	if gerr.Code != ecode.CodeCatNoRowsFound {
		t.Errorf("Code = %v, want %v, original code should not be overwritten", gerr.Code, ecode.CodeCatNoRowsFound)
	}
}

func TestCatalogCheckSuccess(t *testing.T) {
	checkFn := CatalogCheck(func(ctx context.Context) error {
		return nil
	})
	if err := checkFn(context.Background()); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestExecuteCheckSurfacesGridErrorCode(t *testing.T) {
	checker, err := NewChecker(&Config{Enabled: true, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}

	err = checker.RegisterCheck("catalog", "catalog reachable", CategoryStorage, PriorityCritical,
		CatalogCheck(func(ctx context.Context) error {
			return stderr.New("connection refused")
		}))
	if err != nil {
		t.Fatalf("RegisterCheck: %v", err)
	}

	result, err := checker.RunCheck(context.Background(), "catalog")
	if err != nil {
		t.Fatalf("RunCheck: %v", err)
	}
	if result.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", result.Status)
	}
	if result.Code != string(ecode.CodeCatSQLErr) {
		t.Errorf("Code = %q, want %q", result.Code, ecode.CodeCatSQLErr)
	}
}
