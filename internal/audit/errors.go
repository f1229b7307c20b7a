package audit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Sentinel errors shared by stores and the API.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnsupportedVersion = errors.New("unsupported result version")
)

// ErrorKind classifies failures for retry decisions.
type ErrorKind int

// Error kinds. Transient failures go back to the queue; permanent ones fail the run.
const (
	KindPermanent ErrorKind = iota
	KindTransient
)

func (k ErrorKind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "permanent"
}

// FetchError is returned by fetchers with the classification decided at the point of failure.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError builds a FetchError and classifies it from the status code and cause.
func NewFetchError(url string, status int, err error) *FetchError {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	kind := KindForStatus(status)
	if status == 0 {
		kind = Classify(err)
	}
	return &FetchError{Kind: kind, URL: url, StatusCode: status, Err: err}
}

// PermanentError marks err as non-retryable.
func PermanentError(url string, err error) *FetchError {
	return &FetchError{Kind: KindPermanent, URL: url, Err: err}
}

// KindForStatus maps an HTTP status to an error kind: 429 and 5xx are transient.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// Classify decides whether err should be retried by the queue.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindPermanent
}

// IsTransient is shorthand for Classify(err) == KindTransient.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}
