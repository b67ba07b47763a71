package proxy

import "fmt"

// UpstreamError distinguishes a transport-level failure reaching the
// upstream backend (UpstreamUnavailable, mapped to 502) from a malformed
// or short upstream response (UpstreamProtocol, also 502 but with a
// diagnostic body).
type UpstreamError struct {
	Protocol bool // true for UpstreamProtocol, false for UpstreamUnavailable
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func unavailable(msg string, err error) *UpstreamError {
	return &UpstreamError{Message: msg, Err: err}
}

func protocolError(msg string, err error) *UpstreamError {
	return &UpstreamError{Protocol: true, Message: msg, Err: err}
}
