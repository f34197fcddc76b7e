// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"database", ErrDatabase},
		{"migration", ErrMigration},
		{"storage", ErrStorage},
		{"unknown table", ErrUnknownTable},
		{"queue item not found", ErrQueueItemNotFound},
		{"sync failed", ErrSyncFailed},
		{"sync in progress", ErrSyncInProgress},
		{"sync offline", ErrSyncOffline},
		{"reconcile", ErrReconcile},
		{"remote", ErrRemote},
		{"remote rejected", ErrRemoteRejected},
		{"config invalid", ErrConfigInvalid},
	}

	seen := make(map[ErrorCode]string)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
			if other, dup := seen[tt.code]; dup {
				t.Errorf("ErrorCode %q duplicates %q", tt.name, other)
			}
			seen[tt.code] = tt.name
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrRemote, Message: "upsert partidos", Err: errors.New("connection refused")},
			want:     "[REMOTE_ERROR] upsert partidos: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAppError_Unwrap verifies the underlying error is reachable.
func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := Wrap(ErrStorage, "write table", inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is() should find wrapped error")
	}
	if err.Unwrap() != inner {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), inner)
	}
}

// TestIs verifies code matching through wrapping layers.
func TestIs(t *testing.T) {
	base := New(ErrUnknownTable, "unknown table \"foo\"")
	wrapped := fmt.Errorf("enqueue: %w", base)
	nested := Wrap(ErrSyncFailed, "drain", wrapped)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct match", base, ErrUnknownTable, true},
		{"fmt wrapped", wrapped, ErrUnknownTable, true},
		{"outer code", nested, ErrSyncFailed, true},
		{"inner code through outer", nested, ErrUnknownTable, true},
		{"different code", base, ErrRemote, false},
		{"plain error", errors.New("x"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCode verifies the outermost code is reported.
func TestCode(t *testing.T) {
	if got := Code(Wrap(ErrSyncOffline, "drain", nil)); got != ErrSyncOffline {
		t.Errorf("Code() = %v, want %v", got, ErrSyncOffline)
	}
	if got := Code(errors.New("plain")); got != ErrInternal {
		t.Errorf("Code() = %v, want %v", got, ErrInternal)
	}
}

// TestErrorCode_format verifies codes are upper snake case.
func TestErrorCode_format(t *testing.T) {
	for _, code := range []ErrorCode{ErrInternal, ErrSyncInProgress, ErrRemoteRejected} {
		if strings.ToUpper(string(code)) != string(code) {
			t.Errorf("code %q should be upper case", code)
		}
		if strings.Contains(string(code), " ") {
			t.Errorf("code %q should not contain spaces", code)
		}
	}
}
