package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeNotFound, "test case not found")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}
	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNotFound)
	}
	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}
	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}
	if !strings.Contains(err.Stack[0].Function, "TestNew") {
		t.Errorf("first frame = %q, want the caller", err.Stack[0].Function)
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("disk full")
	err := Wrap(underlying, ErrCodeStorageWrite, "create test case")

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should see the wrapped error")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Error("Error string should include underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Error("Wrap of nil should return nil")
	}
}

func TestWithContextIsDeterministic(t *testing.T) {
	err := New(ErrCodeFileCopy, "copy failed").
		WithContext("src", "/a/b.png").
		WithContext("dest", "/c/d.png")

	want := "[FILE_COPY_FAILURE] copy failed {dest: /c/d.png, src: /a/b.png}"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestPublic(t *testing.T) {
	err := New(ErrCodeInternal, "sql: connection reset")
	if err.Public() != "sql: connection reset" {
		t.Errorf("Public() = %q", err.Public())
	}
	err.WithUserMessage("Failed to clone test case")
	if err.Public() != "Failed to clone test case" {
		t.Errorf("Public() = %q", err.Public())
	}
}

func TestCodeThroughFmtWrapping(t *testing.T) {
	inner := New(ErrCodeForbidden, "not owner")
	outer := fmt.Errorf("clone: %w", inner)

	if !IsCode(outer, ErrCodeForbidden) {
		t.Error("IsCode should look through fmt wrapping")
	}
	if GetCode(outer) != ErrCodeForbidden {
		t.Errorf("GetCode = %v", GetCode(outer))
	}
	if GetCode(errors.New("plain")) != ErrCodeInternal {
		t.Error("foreign errors should map to INTERNAL")
	}
	if GetCode(nil) != "" {
		t.Error("nil should have no code")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeUnauthorized: http.StatusUnauthorized,
		ErrCodeForbidden:    http.StatusForbidden,
		ErrCodeNotFound:     http.StatusNotFound,
		ErrCodeInvalidInput: http.StatusBadRequest,
		ErrCodeRateLimited:  http.StatusTooManyRequests,
		ErrCodeExecution:    http.StatusBadGateway,
		ErrCodeStorageWrite: http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
}
