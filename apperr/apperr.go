// Package apperr holds the failure kinds shared by the recorder and the
// network clients. Callers wrap these with context and match with errors.Is.
package apperr

import (
	"context"
	"errors"
	"net"
)

var (
	ErrDeviceUnavailable  = errors.New("device unavailable")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrMalformedResponse  = errors.New("malformed response")
)

// Kind returns a short label for logs. Unknown errors report "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	default:
		return "internal"
	}
}

// FromTransport classifies an error returned by an HTTP round trip.
// Deadline expiry becomes ErrTimeout, everything else ErrServiceUnavailable.
func FromTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	return errors.Join(ErrServiceUnavailable, err)
}
