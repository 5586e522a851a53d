package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKind(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"device", fmt.Errorf("mic: %w", ErrDeviceUnavailable), "device_unavailable"},
		{"service", fmt.Errorf("dialogue: %w", ErrServiceUnavailable), "service_unavailable"},
		{"timeout", fmt.Errorf("dialogue: %w", ErrTimeout), "timeout"},
		{"malformed", fmt.Errorf("dialogue: %w", ErrMalformedResponse), "malformed_response"},
		{"other", errors.New("boom"), "internal"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromTransport(t *testing.T) {
	if FromTransport(nil) != nil {
		t.Fatal("nil error should stay nil")
	}
	if err := FromTransport(context.DeadlineExceeded); !errors.Is(err, ErrTimeout) {
		t.Errorf("deadline: got %v, want ErrTimeout", err)
	}
	if err := FromTransport(fmt.Errorf("dial: %w", timeoutErr{})); !errors.Is(err, ErrTimeout) {
		t.Errorf("net timeout: got %v, want ErrTimeout", err)
	}
	err := FromTransport(errors.New("connection refused"))
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("refused: got %v, want ErrServiceUnavailable", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("refused should not be a timeout")
	}
}
