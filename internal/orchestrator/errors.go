package orchestrator

import (
	"errors"
	"fmt"
)

// RoundLimitNotice is appended to the answer when the round cap is hit.
const RoundLimitNotice = "\n\n[Maximum iterations reached]"

// ErrStreamTimeout means the upstream sent nothing before the watchdog fired.
var ErrStreamTimeout = errors.New("stream timeout: no response from upstream API")

// UpstreamError is a non-2xx upstream reply. Body is the response body.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream API error (%d): %s", e.Status, e.Body)
}

// TransportError is a failure after the round started: a broken read, an
// undecodable body or an error event sent inside the stream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream stream error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies how a run terminated.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorUpstream
	ErrorTimeout
	ErrorTransport
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorUpstream:
		return "upstream_error"
	case ErrorTimeout:
		return "stream_timeout"
	case ErrorTransport:
		return "transport_error"
	default:
		return "none"
	}
}

// KindOf maps a terminating error onto its kind.
func KindOf(err error) ErrorKind {
	var (
		upstream  *UpstreamError
		transport *TransportError
	)

	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrStreamTimeout):
		return ErrorTimeout
	case errors.As(err, &upstream):
		return ErrorUpstream
	case errors.As(err, &transport):
		return ErrorTransport
	default:
		return ErrorTransport
	}
}

// Notice renders a terminating error as the in-band text the client sees.
func Notice(err error) string {
	var (
		upstream  *UpstreamError
		transport *TransportError
	)

	switch {
	case errors.Is(err, ErrStreamTimeout):
		return "[Error: Stream timeout - no response from upstream API]"
	case errors.As(err, &upstream):
		return fmt.Sprintf("[Error: Upstream API error (%d): %s]", upstream.Status, upstream.Body)
	case errors.As(err, &transport):
		return fmt.Sprintf("[Error: Upstream stream error: %v]", transport.Err)
	default:
		return fmt.Sprintf("[Error: Upstream stream error: %v]", err)
	}
}
