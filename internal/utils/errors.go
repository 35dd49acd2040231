package utils

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig     = errors.New("invalid engine configuration")
	ErrInvalidDescriptor = errors.New("invalid transfer descriptor")
	ErrBodyTooLong       = errors.New("response body longer than declared content length")
)

// ErrorKind classifies why a transfer failed.
type ErrorKind string

const (
	KindDirectoryCreationFailed ErrorKind = "DirectoryCreationFailed"
	KindProbeFailed             ErrorKind = "ProbeFailed"
	KindRequestFailed           ErrorKind = "RequestFailed"
	KindStreamReadFailed        ErrorKind = "StreamReadFailed"
	KindFileWriteFailed         ErrorKind = "FileWriteFailed"
	KindCanceled                ErrorKind = "Canceled"
)

// TransferError is the error attached to every failed Outcome.
type TransferError struct {
	Kind ErrorKind
	// StatusCode is the HTTP status that caused the failure, or StatusNone.
	StatusCode int
	Err        error
}

func NewTransferError(kind ErrorKind, statusCode int, err error) *TransferError {
	return &TransferError{Kind: kind, StatusCode: statusCode, Err: err}
}

func (e *TransferError) Error() string {
	if e.StatusCode != StatusNone {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is matches another *TransferError by kind so callers can write
// errors.Is(err, &TransferError{Kind: KindRequestFailed}).
func (e *TransferError) Is(target error) bool {
	t, ok := target.(*TransferError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the ErrorKind carried by err, or "" if err is not a TransferError.
func KindOf(err error) ErrorKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("unexpected status: %s", e.Status)
	}
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}
