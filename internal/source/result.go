// Package source defines the structured outcome types shared by every
// adapter. No error and no panic crosses an adapter boundary: each fetch
// resolves to a Result carrying either a value with provenance or a
// classified Failure.
package source

import (
	"fmt"
	"time"
)

// Code classifies why a source produced no usable value.
type Code string

const (
	CodeNoData           Code = "NO_DATA"
	CodeFetchError       Code = "FETCH_ERROR"
	CodeParseError       Code = "PARSE_ERROR"
	CodeValidationError  Code = "VALIDATION_ERROR"
	CodeDependencyFailed Code = "DEPENDENCY_FAILED"
)

// Failure is a structured, non-panicking description of a failed fetch.
type Failure struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Fail builds a Failure with a formatted message.
func Fail(code Code, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Status tells the consumer how fresh a resolved value is.
type Status string

const (
	StatusLive        Status = "live"
	StatusStale       Status = "stale"
	StatusUnavailable Status = "unavailable"
)

// Result is the outcome of one adapter invocation for one market date.
type Result[T any] struct {
	Status  Status
	Value   T
	AsOf    time.Time
	Source  string
	Failure *Failure
}

// OK reports whether the result carries a usable value (live or stale).
func (r Result[T]) OK() bool {
	return r.Status == StatusLive || r.Status == StatusStale
}

// Live builds a fresh result.
func Live[T any](src string, value T, asOf time.Time) Result[T] {
	return Result[T]{Status: StatusLive, Value: value, AsOf: asOf, Source: src}
}

// Stale builds a fallback result reusing a previously stored value.
func Stale[T any](src string, value T, asOf time.Time, f *Failure) Result[T] {
	return Result[T]{Status: StatusStale, Value: value, AsOf: asOf, Source: src, Failure: f}
}

// Unavailable builds a result with no value.
func Unavailable[T any](src string, f *Failure) Result[T] {
	return Result[T]{Status: StatusUnavailable, Source: src, Failure: f}
}
