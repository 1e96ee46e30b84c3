package client

import (
	"uprpc/status"
)

// InvocationError is the error returned by InvokeMethod. It is either an
// *InternalError or an *RpcError; use errors.As to tell them apart.
type InvocationError interface {
	error
	invocationError()
}

// InternalError reports a local failure before anything was sent, such as
// request attributes the codec could not encode.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Message
}

func (*InternalError) invocationError() {}

// RpcError reports a failure while sending the query or receiving its reply.
type RpcError struct {
	Status status.Status
	cause  error
}

func newRpcError(code status.Code, msg string, cause error) *RpcError {
	return &RpcError{Status: status.New(code, msg), cause: cause}
}

func (e *RpcError) Error() string {
	return "rpc error: " + e.Status.String()
}

// Code returns the status code.
func (e *RpcError) Code() status.Code {
	return e.Status.Code
}

// Unwrap returns the transport error behind e, if any.
func (e *RpcError) Unwrap() error {
	return e.cause
}

func (*RpcError) invocationError() {}
