package obs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ConnectErrorKind classifies why Connect failed.
type ConnectErrorKind string

const (
	ConnectInvalidInput ConnectErrorKind = "invalid_input"
	ConnectTimeout      ConnectErrorKind = "timeout"
	ConnectAuthRejected ConnectErrorKind = "auth_rejected"
	ConnectUnreachable  ConnectErrorKind = "unreachable"
)

// ConnectError is returned by Connect. The controller is left disconnected.
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("obs connect: %s: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SwitchErrorKind classifies why SwitchScene failed.
type SwitchErrorKind string

const (
	SwitchNotConnected SwitchErrorKind = "not_connected"
	SwitchRejected     SwitchErrorKind = "rejected"
	SwitchTimeout      SwitchErrorKind = "timeout"
)

// SwitchError is returned by SwitchScene.
type SwitchError struct {
	Kind  SwitchErrorKind
	Scene string
	Err   error
}

func (e *SwitchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("switch to %q: %s", e.Scene, e.Kind)
	}
	return fmt.Sprintf("switch to %q: %s: %v", e.Scene, e.Kind, e.Err)
}

func (e *SwitchError) Unwrap() error { return e.Err }

// Retryable reports whether the switch was never attempted and may be issued
// again once a session exists. A timeout is not retryable: the request may
// have reached OBS, and a switch that keeps timing out would block the
// schedule behind it.
func (e *SwitchError) Retryable() bool {
	return e.Kind == SwitchNotConnected
}

// IsSwitchKind reports whether err is a SwitchError of the given kind.
func IsSwitchKind(err error, kind SwitchErrorKind) bool {
	var se *SwitchError
	return errors.As(err, &se) && se.Kind == kind
}

// RequestError is a failed request status reported by OBS itself.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("%s failed with code %d", e.RequestType, e.Code)
	}
	return fmt.Sprintf("%s failed with code %d: %s", e.RequestType, e.Code, e.Comment)
}

// Request status codes from the obs-websocket protocol that callers care about.
const (
	CodeResourceNotFound = 600
)

var (
	// ErrAuthFailed is returned by a Dialer when OBS refuses the password.
	ErrAuthFailed = errors.New("authentication rejected")
	// ErrSessionClosed is returned by Session.Call once the transport is gone.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotConnected is wrapped by SwitchError when there is no session.
	ErrNotConnected = errors.New("not connected")
)

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func classifyConnect(err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, ErrAuthFailed):
		return &ConnectError{Kind: ConnectAuthRejected, Err: err}
	case isTimeout(err):
		return &ConnectError{Kind: ConnectTimeout, Err: err}
	default:
		return &ConnectError{Kind: ConnectUnreachable, Err: err}
	}
}
