package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(KindLimitExceeded, "quota exhausted")
	want := "LIMIT_EXCEEDED: quota exhausted"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(KindStoreUnavailable, "ping failed", stderrors.New("connection refused"))
	want = "STORE_UNAVAILABLE: ping failed: connection refused"
	if wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: i/o timeout")
	err := Wrap(KindStoreUnavailable, "get failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if New(KindInternal, "x").Unwrap() != nil {
		t.Error("Unwrap should return nil when there is no cause")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"kinded", New(KindBlocked, "blocked"), KindBlocked},
		{"wrapped kinded", fmt.Errorf("outer: %w", New(KindInvalidCredential, "bad key")), KindInvalidCredential},
		{"plain", stderrors.New("plain"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidCredential, http.StatusUnauthorized},
		{KindBlocked, http.StatusTooManyRequests},
		{KindLimitExceeded, http.StatusTooManyRequests},
		{KindStoreUnavailable, http.StatusServiceUnavailable},
		{KindConfigInvalid, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := New(tt.kind, "x").HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestPredicates(t *testing.T) {
	if !IsStoreUnavailable(Wrap(KindStoreUnavailable, "open circuit", nil)) {
		t.Error("IsStoreUnavailable should match")
	}
	if IsStoreUnavailable(New(KindBlocked, "blocked")) {
		t.Error("IsStoreUnavailable should not match KindBlocked")
	}
	if !IsInvalidCredential(fmt.Errorf("wrap: %w", New(KindInvalidCredential, "bad"))) {
		t.Error("IsInvalidCredential should match through wrapping")
	}
	if IsBlocked(nil) {
		t.Error("IsBlocked(nil) should be false")
	}
}
