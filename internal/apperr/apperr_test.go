package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", BadRequest("bad"), http.StatusBadRequest},
		{"not found", NotFound("missing"), http.StatusNotFound},
		{"conflict", Conflict("state"), http.StatusConflict},
		{"forbidden", Forbidden("nope"), http.StatusForbidden},
		{"internal", Internal("boom"), http.StatusInternalServerError},
		{"plain error", errors.New("plain"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("GetJob: %w", NotFound("job x")), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindInternal, cause, "saving job %s", "j1")

	if !errors.Is(err, cause) {
		t.Error("Expected wrapped error to match cause")
	}
	if err.Error() != "saving job j1: disk full" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestPublicMessage(t *testing.T) {
	if got := PublicMessage(Conflict("Job is not pending")); got != "Job is not pending" {
		t.Errorf("PublicMessage() = %q", got)
	}
	if got := PublicMessage(errors.New("pq: connection refused")); got != "Internal server error" {
		t.Errorf("PublicMessage() leaked internal detail: %q", got)
	}
}

func TestIs(t *testing.T) {
	if !Is(fmt.Errorf("x: %w", Forbidden("f")), KindForbidden) {
		t.Error("Expected forbidden kind")
	}
	if Is(nil, KindInternal) {
		t.Error("nil error must not match any kind")
	}
}
