// Copyright (c) OpenMMLab. All rights reserved.

// Package errors defines the failure kinds surfaced by the polling engine and
// the sink pool.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport is a network or connection failure talking to the API.
	KindTransport
	// KindSchema means a response violated the expected shape.
	KindSchema
	// KindRateLimited is a 429 response. The tailer absorbs it.
	KindRateLimited
	// KindAuth covers every other non-success status.
	KindAuth
	// KindPartitionKey means no usable partition key could be derived.
	KindPartitionKey
	// KindSink is an output actor failure.
	KindSink
	// KindConfig is an invalid option combination.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindSchema:
		return "SchemaError"
	case KindRateLimited:
		return "RateLimited"
	case KindAuth:
		return "AuthOrServerError"
	case KindPartitionKey:
		return "PartitionKeyTypeError"
	case KindSink:
		return "SinkError"
	case KindConfig:
		return "ConfigError"
	default:
		return "UnknownError"
	}
}

// Error is a classified failure with an optional HTTP status and cause
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Transport(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransport, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Schema(format string, args ...interface{}) *Error {
	return &Error{Kind: KindSchema, Message: fmt.Sprintf(format, args...)}
}

func SchemaCause(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindSchema, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func RateLimited(status int) *Error {
	return &Error{Kind: KindRateLimited, Status: status, Message: "too many requests"}
}

// Auth carries the response body text so operators see what the API said.
func Auth(status int, body string) *Error {
	return &Error{Kind: KindAuth, Status: status, Message: body}
}

func PartitionKey(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPartitionKey, Message: fmt.Sprintf(format, args...)}
}

func Sink(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindSink, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Config(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}
