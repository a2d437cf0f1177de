package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies failures that can occur during a batch run
type Kind string

const (
	KindDataValidation    Kind = "data_validation"
	KindFolderCreation    Kind = "folder_creation"
	KindTransientDownload Kind = "transient_download"
	KindPermanentDownload Kind = "permanent_download"
	KindWrite             Kind = "write"
	KindRecordStore       Kind = "record_store"
	KindUnknown           Kind = "unknown"
)

// Error carries a failure kind alongside the underlying cause
type Error struct {
	Kind     Kind
	Message  string
	Code     int // HTTP status, 0 when not applicable
	Attempts int // download attempts consumed, 0 when not applicable
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with an
// empty kind matches any *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf extracts the kind of err, or KindUnknown when err is not classified
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AttemptsOf returns the attempt count recorded on err, if any
func AttemptsOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Attempts
	}
	return 0
}

// IsRetryable checks if an error kind should be retried
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindTransientDownload:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a transient failure
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return false
	default:
		return statusCode >= 500
	}
}
