package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindProvider   ErrorKind = "provider"
	KindStorage    ErrorKind = "storage"
)

var (
	ErrUnsupportedMediaType  = errors.New("unsupported media type")
	ErrExtractionFailed      = errors.New("extraction failed")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrStoreNotFound         = errors.New("store not found")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrStorage               = errors.New("storage failure")
)

// Error is the structured error surfaced to callers of the engine.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, sentinel, cause error, format string, args ...interface{}) *Error {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(sentinel, cause error, format string, args ...interface{}) *Error {
	return newError(KindValidation, sentinel, cause, format, args...)
}

func NotFound(sentinel error, format string, args ...interface{}) *Error {
	return newError(KindNotFound, sentinel, nil, format, args...)
}

func Provider(sentinel, cause error, format string, args ...interface{}) *Error {
	return newError(KindProvider, sentinel, cause, format, args...)
}

func Storage(cause error, format string, args ...interface{}) *Error {
	return newError(KindStorage, ErrStorage, cause, format, args...)
}

// KindOf reports the kind of a structured error anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
