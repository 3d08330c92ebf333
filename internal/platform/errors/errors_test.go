package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeNotFound, "message missing")
	wrapped := fmt.Errorf("delete: %w", err)

	if !errors.Is(wrapped, New(CodeNotFound, "")) {
		t.Fatal("expected wrapped error to match by code")
	}
	if errors.Is(wrapped, New(CodeAuthFailure, "")) {
		t.Fatal("expected code mismatch not to match")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeStorageFailure, "persist message", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeAuthFailure, http.StatusUnauthorized},
		{CodeAuthorizationDenied, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeInvalidArgument, http.StatusBadRequest},
		{CodeStorageFailure, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := New(tc.code, "").HTTPStatus(); got != tc.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
