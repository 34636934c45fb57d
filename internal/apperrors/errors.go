// Package apperrors carries the router's error taxonomy as a typed error
// rather than strings, so the HTTP layer can map a failure to a status code
// without re-deriving what the core components already determined.
package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a business error: a stable code, a human message, the HTTP
// status it maps to, and an optional wrapped cause.
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) WithDetails(details map[string]string) *Error {
	newErr := e.Copy()
	if newErr.Details == nil {
		newErr.Details = make(map[string]string)
	}
	for k, v := range details {
		newErr.Details[k] = v
	}
	return newErr
}

func (e *Error) WithDetail(key, value string) *Error {
	return e.WithDetails(map[string]string{key: value})
}

func (e *Error) WithMessage(message string) *Error {
	newErr := e.Copy()
	newErr.Message = message
	return newErr
}

func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

func (e *Error) Copy() *Error {
	newErr := &Error{
		Code:       e.Code,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		Cause:      e.Cause,
	}
	if e.Details != nil {
		newErr.Details = make(map[string]string)
		for k, v := range e.Details {
			newErr.Details[k] = v
		}
	}
	return newErr
}

func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		*Alias
		Error string `json:"error,omitempty"`
	}{
		Alias: (*Alias)(e),
		Error: e.Error(),
	})
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: http.StatusInternalServerError}
}

func NewWithStatus(code, message string, httpStatus int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err *Error, cause error) *Error {
	newErr := err.Copy()
	newErr.Cause = cause
	return newErr
}

func Wrapf(err *Error, cause error, format string, args ...interface{}) *Error {
	newErr := err.Copy()
	newErr.Message = fmt.Sprintf("%s: %s", err.Message, fmt.Sprintf(format, args...))
	newErr.Cause = cause
	return newErr
}

// FromError converts an arbitrary error into an *Error, wrapping unknown
// errors as Internal rather than leaking their shape to callers.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}
	return Wrap(ErrInternal, err)
}

// Error taxonomy (spec §7). Each constant is a template; call WithDetails /
// WithMessage / Wrap to attach request-specific context before returning it.
var (
	ErrChainNotFound  = NewWithStatus("CHAIN_NOT_FOUND", "chain is not registered", http.StatusNotFound)
	ErrNoHealthyRPC   = NewWithStatus("NO_HEALTHY_RPC", "no healthy rpc endpoint for chain", http.StatusInternalServerError)
	ErrInvalidConfig  = NewWithStatus("INVALID_CONFIG", "chain configuration file is malformed", http.StatusInternalServerError)
	ErrInvalidRequest = NewWithStatus("INVALID_REQUEST", "request body is not a well-formed json-rpc request", http.StatusBadRequest)
	ErrInvalidSession = NewWithStatus("INVALID_SESSION", "session id is unknown or expired", http.StatusInternalServerError)
	ErrUpstreamError  = NewWithStatus("UPSTREAM_ERROR", "upstream rpc endpoint returned an error", http.StatusBadGateway)
	ErrInternal       = NewWithStatus("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var bizErr *Error
	if errors.As(err, &bizErr) && bizErr.HTTPStatus != 0 {
		return bizErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Code
	}
	return "UNKNOWN"
}
