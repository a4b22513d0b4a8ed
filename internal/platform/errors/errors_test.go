package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(CodeNotFound, "record not found")
	if err.Error() != "record not found" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "record not found")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeConflict, "insert raced")
	other := New(CodeConflict, "different message, same code")
	if !errors.Is(base, other) {
		t.Fatal("expected errors with matching codes to satisfy Is")
	}
	if errors.Is(base, New(CodeNotFound, "record not found")) {
		t.Fatal("expected mismatched codes to fail Is")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeUnknown, "persist identity", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be found in chain")
	}
}

func TestWithMetadata(t *testing.T) {
	err := WithMetadata(CodeRateLimited, "too many attempts", map[string]string{"retry_after": "15m"})
	if err.Metadata["retry_after"] != "15m" {
		t.Fatalf("metadata = %v", err.Metadata)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeIdentityInvalidEmail, http.StatusUnprocessableEntity},
		{CodeMagicLinkInvalidPurpose, http.StatusUnprocessableEntity},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
