package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation is terminal", Validation("missing phone"), false},
		{"bad request is terminal", BadRequest("malformed payload"), false},
		{"unauthorized is terminal", Unauthorized("bad key"), false},
		{"configuration is terminal", Configuration("no api key"), false},
		{"not found is terminal", NotFound("gone"), false},
		{"capacity re-runs selection, not the operation", Capacity("day full"), false},
		{"transient retries", Transient("gateway timeout"), true},
		{"internal retries", Internal("boom"), true},
		{"conflict retries", Conflict("already claimed"), true},
		{"unclassified defaults to retryable", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Validation("x"), http.StatusBadRequest},
		{BadRequest("x"), http.StatusBadRequest},
		{Unauthorized("x"), http.StatusUnauthorized},
		{Conflict("x"), http.StatusConflict},
		{Capacity("x"), http.StatusConflict},
		{Transient("x"), http.StatusBadGateway},
		{Configuration("x"), http.StatusInternalServerError},
		{Internal("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.want {
			t.Errorf("kind %d: HTTPStatus() = %d, want %d", tt.err.Kind, got, tt.want)
		}
	}
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := Wrap(KindTransient, "erp call failed", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
	if !Is(err, KindTransient) {
		t.Errorf("kind = %d, want KindTransient", GetKind(err))
	}
	// fmt.Errorf wrapping hides the Kind: classification reads the outermost
	// error only, so unknown wrappers fall back to retryable.
	rewrapped := fmt.Errorf("pipeline: %w", Validation("bad"))
	if !Retryable(rewrapped) {
		t.Error("plain-wrapped error should classify as unknown/retryable")
	}
}

func TestErrorMessageIncludesOp(t *testing.T) {
	err := NotFound("transaction not found").WithOp("transaction.Get")
	if got := err.Error(); got != "transaction.Get: transaction not found" {
		t.Errorf("Error() = %q", got)
	}
}
