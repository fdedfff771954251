// Package wireerr defines the error taxonomy shared by every transport
// component: configuration errors raised at construction, recoverable
// transport errors, wire protocol errors, and request timeouts.
package wireerr

import "fmt"

// ConfigError is fatal at construction time: a missing endpoint, a
// mutually-exclusive host+path pair, or a missing master address.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewConfigError builds a ConfigError for the named field.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// TransportError wraps a recoverable underlying socket error. In the
// Request Client it triggers a single close+reconnect+retry; in the
// Subscriber it terminates only the current consumer loop.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err, or returns nil if err is nil.
func NewTransportError(op string, err error) *TransportError {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// ProtocolError reports an unexpected publish frame count or other
// wire-format violation. Raised to the caller, never swallowed.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// NewProtocolError formats a ProtocolError message.
func NewProtocolError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// DeserializationError is raised when a payload cannot be decoded. In the
// broker worker it is replied to the caller as {"msg": "bad load"} without
// closing the socket; elsewhere it propagates to the caller.
type DeserializationError struct {
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialization error: %v", e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// RequestTimeout reports that a Request Client's deadline elapsed before a
// reply arrived. The socket is closed as a side effect before this error
// is returned to the caller.
type RequestTimeout struct {
	Elapsed string
}

func (e *RequestTimeout) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Elapsed)
}
