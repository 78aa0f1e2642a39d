package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a stable error identifier attached to failed jobs.
type ErrorCode string

const (
	ErrorCodeTransferEngineMissing      ErrorCode = "transfer_engine_missing"
	ErrorCodeTransferEngineIncompatible ErrorCode = "transfer_engine_incompatible"
	ErrorCodeInvalidCredentials         ErrorCode = "invalid_credentials"
	ErrorCodeAccessDenied               ErrorCode = "access_denied"
	ErrorCodeSignatureMismatch          ErrorCode = "signature_mismatch"
	ErrorCodeRequestTimeSkewed          ErrorCode = "request_time_skewed"
	ErrorCodeEndpointUnreachable        ErrorCode = "endpoint_unreachable"
	ErrorCodeUpstreamTimeout            ErrorCode = "upstream_timeout"
	ErrorCodeNetworkError               ErrorCode = "network_error"
	ErrorCodeNotFound                   ErrorCode = "not_found"
	ErrorCodeConflict                   ErrorCode = "conflict"
	ErrorCodeRateLimited                ErrorCode = "rate_limited"
	ErrorCodeInvalidConfig              ErrorCode = "invalid_config"
	ErrorCodeCanceled                   ErrorCode = "canceled"
	ErrorCodeServerRestarted            ErrorCode = "server_restarted"
	ErrorCodeValidation                 ErrorCode = "validation_error"
	ErrorCodeUnknown                    ErrorCode = "unknown"
)

// JobError is an error with a classification code.
type JobError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// NewJobError returns a new job error, the message is prefixed with the code.
func NewJobError(code ErrorCode, msg string, cause error) *JobError {
	return &JobError{
		Code:    code,
		Message: FormatErrorMessage(msg, code),
		Cause:   cause,
	}
}

func (e *JobError) Error() string { return e.Message }
func (e *JobError) Unwrap() error { return e.Cause }

// NewValidationError returns a job validation error.
func NewValidationError(format string, args ...any) *JobError {
	return NewJobError(ErrorCodeValidation, fmt.Sprintf(format, args...), ErrNotValid)
}

// ErrorCodeOf returns the classification code of an error if it has one.
func ErrorCodeOf(err error) (ErrorCode, bool) {
	var je *JobError
	if errors.As(err, &je) {
		return je.Code, true
	}
	return "", false
}

// FormatErrorMessage prefixes the message with the code unless the message
// already mentions it.
func FormatErrorMessage(msg string, code ErrorCode) string {
	msg = strings.TrimSpace(msg)
	c := strings.TrimSpace(string(code))
	if msg == "" || c == "" {
		return msg
	}
	if strings.Contains(msg, c) {
		return msg
	}
	return fmt.Sprintf("[%s] %s", c, msg)
}
