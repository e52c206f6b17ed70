package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mattjoyce/sonargate/internal/archive"
	"github.com/mattjoyce/sonargate/internal/poller"
	"github.com/mattjoyce/sonargate/internal/scanner"
	"github.com/mattjoyce/sonargate/internal/sonar"
)

// Kind classifies a pipeline failure for the HTTP error envelope.
type Kind int

const (
	KindInternal Kind = iota
	KindArchive
	KindScanner
	KindAPI
	KindMissingField
)

// String returns the category name recorded in job history and metrics.
func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "ArchiveError"
	case KindScanner:
		return "ScannerError"
	case KindAPI:
		return "ApiError"
	case KindMissingField:
		return "MissingFieldError"
	default:
		return "InternalError"
	}
}

// Status is the HTTP status returned for the kind.
func (k Kind) Status() int {
	switch k {
	case KindArchive, KindMissingField:
		return http.StatusBadRequest
	case KindAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Prefix is prepended to the message in the error envelope.
func (k Kind) Prefix() string {
	switch k {
	case KindArchive:
		return "Zip Error: "
	case KindScanner:
		return "Scanner Error: "
	case KindAPI:
		return "SonarQube API Error: "
	case KindMissingField:
		return "Missing Field: "
	default:
		return "Internal Error: "
	}
}

// Error is a classified pipeline failure.
type Error struct {
	Kind  Kind
	JobID string
	Err   error
}

// Error renders the caller-facing message: category prefix plus detail.
func (e *Error) Error() string {
	return e.Kind.Prefix() + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// MissingField reports an absent upload field.
func MissingField(name string) *Error {
	return &Error{Kind: KindMissingField, Err: errors.New(name)}
}

// KindOf returns the classification of err. Unclassified errors are
// internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// classify maps a stage failure to its kind. Cancellation is always internal
// so a disconnected caller is never reported as an engine fault.
func classify(stage string, err error) *Error {
	var already *Error
	if errors.As(err, &already) {
		return already
	}
	if errors.Is(err, context.Canceled) {
		return NewError(KindInternal, fmt.Errorf("request cancelled during %s: %w", stage, err))
	}

	var (
		scanErr *scanner.Error
		apiErr  *sonar.APIError
		termErr *poller.TerminalError
	)
	switch {
	case errors.Is(err, archive.ErrCorrupt), errors.Is(err, archive.ErrUnsafePath), errors.Is(err, archive.ErrTooLarge):
		return NewError(KindArchive, err)
	case errors.As(err, &scanErr):
		return NewError(KindScanner, err)
	case errors.As(err, &apiErr), errors.As(err, &termErr), errors.Is(err, poller.ErrTimeout):
		return NewError(KindAPI, err)
	}

	switch stage {
	case stageExtract, stageUpload:
		return NewError(KindArchive, err)
	case stageScan:
		return NewError(KindScanner, err)
	case stagePoll, stageFetch:
		return NewError(KindAPI, err)
	default:
		return NewError(KindInternal, err)
	}
}
