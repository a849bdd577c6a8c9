package httpgateway

import (
	"fmt"
	"time"
)

// ServiceNotFoundError indicates that the method registry has no service by
// the requested name.
type ServiceNotFoundError struct {
	Service string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service not found: %s", e.Service)
}

// MethodResolutionError indicates that no method descriptor matched the
// requested method name and parameter arity.
type MethodResolutionError struct {
	Service string
	Method  string
	Arity   int
}

func (e *MethodResolutionError) Error() string {
	return fmt.Sprintf("no method %q on service %q accepts %d parameter(s)", e.Method, e.Service, e.Arity)
}

// ParameterDecodeError indicates that a positional body part could not be
// coerced to its declared parameter schema.
type ParameterDecodeError struct {
	Index int
	Type  string
	Err   error
}

func (e *ParameterDecodeError) Error() string {
	return fmt.Sprintf("cannot decode parameter %d as %s: %v", e.Index, e.Type, e.Err)
}

func (e *ParameterDecodeError) Unwrap() error { return e.Err }

// ResponseDecodeError indicates that a binary reply could not be decoded
// against the method's response schema.
type ResponseDecodeError struct {
	Type string
	Err  error
}

func (e *ResponseDecodeError) Error() string {
	return fmt.Sprintf("cannot decode response as %s: %v", e.Type, e.Err)
}

func (e *ResponseDecodeError) Unwrap() error { return e.Err }

// TimeoutError indicates that a reply was not received within the route's
// configured timeout. The request may still have been delivered.
type TimeoutError struct {
	Service string
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no reply from %s/%s within %v", e.Service, e.Method, e.Timeout)
}

// TransportError wraps a failure of the underlying channel. The cause is
// opaque to the translation pipeline.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
