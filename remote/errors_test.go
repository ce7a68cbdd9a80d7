package remote

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "unauthorized", err: nil, statusCode: http.StatusUnauthorized, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "bad gateway", err: nil, statusCode: http.StatusBadGateway, expected: "server"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Label(Classify(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("Classify(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestUnavailableWrapsCause(t *testing.T) {
	err := Unavailable("fetch dataset", context.DeadlineExceeded, 0)
	if !IsUnavailable(err) {
		t.Fatalf("expected UnavailableError, got %T", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cause should stay reachable through Unwrap")
	}
	if Label(err) != "timeout" {
		t.Fatalf("label = %q, want timeout", Label(err))
	}
	if Unavailable("noop", nil, 0) != nil {
		t.Fatalf("nil error with zero status should stay nil")
	}
}
