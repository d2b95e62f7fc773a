package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failure modes this proxy can surface,
// unchanged from the specification's error taxonomy.
type ErrorKind int

const (
	ConfigInvalid ErrorKind = iota
	NoAvailableProxy
	UpstreamConnectFailure
	UpstreamOverloaded
	UpstreamProtocolError
	ClientDisconnect
	TlsHandshakeFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigInvalid:
		return "config_invalid"
	case NoAvailableProxy:
		return "no_available_proxy"
	case UpstreamConnectFailure:
		return "upstream_connect_failure"
	case UpstreamOverloaded:
		return "upstream_overloaded"
	case UpstreamProtocolError:
		return "upstream_protocol_error"
	case ClientDisconnect:
		return "client_disconnect"
	case TlsHandshakeFailure:
		return "tls_handshake_failure"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with an ErrorKind so callers can branch
// on failure class without string matching, mirroring the teacher's
// EndpointError/ProxyError constructor-function pattern.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewConfigInvalidError(message string, cause error) *Error {
	return &Error{Kind: ConfigInvalid, Message: message, Cause: cause}
}

func NewNoAvailableProxyError(message string) *Error {
	return &Error{Kind: NoAvailableProxy, Message: message}
}

func NewUpstreamConnectFailureError(message string, cause error) *Error {
	return &Error{Kind: UpstreamConnectFailure, Message: message, Cause: cause}
}

func NewUpstreamOverloadedError(message string) *Error {
	return &Error{Kind: UpstreamOverloaded, Message: message}
}

func NewUpstreamProtocolError(message string, cause error) *Error {
	return &Error{Kind: UpstreamProtocolError, Message: message, Cause: cause}
}

func NewClientDisconnectError(message string, cause error) *Error {
	return &Error{Kind: ClientDisconnect, Message: message, Cause: cause}
}

func NewTlsHandshakeFailureError(message string, cause error) *Error {
	return &Error{Kind: TlsHandshakeFailure, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps)
// is a *Error, returning ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}
