package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
)

// Classification buckets every failure a worker can produce. The
// presentation layer switches on these, never on error strings.
type Classification string

const (
	ErrInvalidInput       Classification = "invalid-input"
	ErrUnresolvableSource Classification = "unresolvable-source"
	ErrNetwork            Classification = "network"
	ErrMediaProcessing    Classification = "media-processing"
	ErrFilesystem         Classification = "filesystem"
	ErrWorkerCrashed      Classification = "worker-crashed"
	ErrCancelled          Classification = "cancelled"
)

// ClassifiedError attaches a Classification to an underlying error.
type ClassifiedError struct {
	Kind Classification
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewError classifies err. An error that already carries a
// classification keeps the inner one, and context cancellation always
// classifies as cancelled no matter what the caller asked for.
func NewError(kind Classification, err error) error {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Kind: ErrCancelled, Err: err}
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// ClassificationOf extracts the classification carried by err. Bare
// errors fold by shape: path errors are filesystem trouble, transport
// and url errors plus truncated streams are network trouble, anything
// else counts as an abnormal worker termination.
func ClassificationOf(err error) Classification {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ErrFilesystem
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrNetwork
	}
	return ErrWorkerCrashed
}

func IsClassification(err error, kind Classification) bool {
	return ClassificationOf(err) == kind
}

// IsCancelled reports whether err stems from a cancellation, either
// ours or a context one.
func IsCancelled(err error) bool {
	return ClassificationOf(err) == ErrCancelled
}
