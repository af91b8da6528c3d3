package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{BadRequest("x"), http.StatusBadRequest},
		{MethodNotAllowed("x"), http.StatusMethodNotAllowed},
		{Unauthorized("x"), http.StatusUnauthorized},
		{Forbidden("x"), http.StatusForbidden},
		{NotFound("x"), http.StatusNotFound},
		{Conflict("x"), http.StatusConflict},
		{Unavailable("x"), http.StatusServiceUnavailable},
		{Internal("x", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.status {
			t.Fatalf("%s: status %d, want %d", tc.err.Code, got, tc.status)
		}
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeInternal, "persist order", cause)

	if !stderrors.Is(err, cause) {
		t.Fatalf("cause not reachable through errors.Is")
	}
	if err.Error() != "persist order: disk full" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(NotFound("missing")) != CodeNotFound {
		t.Fatalf("expected not_found")
	}
	wrapped := fmt.Errorf("outer: %w", Conflict("dup"))
	if CodeOf(wrapped) != CodeConflict {
		t.Fatalf("code should survive wrapping")
	}
	if CodeOf(stderrors.New("plain")) != CodeInternal {
		t.Fatalf("uncoded errors default to internal")
	}

	if !IsInternal(Internal("bug", nil)) {
		t.Fatalf("IsInternal should report internal errors")
	}
	if IsInternal(BadRequest("nope")) {
		t.Fatalf("IsInternal must not report business errors")
	}
}
